package solana

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known program IDs.
const (
	SystemProgramID          = "11111111111111111111111111111111"
	TokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	ComputeBudgetProgramID   = "ComputeBudget111111111111111111111111111111"

	// WSOLMint is the wrapped SOL mint address.
	WSOLMint = "So11111111111111111111111111111111111111112"
)

// FindProgramAddress derives a Program Derived Address for the given seeds,
// returning the address and the bump seed that pushed it off the ed25519
// curve.
func FindProgramAddress(seeds [][]byte, programID string) (string, byte, error) {
	programBytes, err := base58.Decode(programID)
	if err != nil {
		return "", 0, fmt.Errorf("decode program id: %w", err)
	}
	if len(programBytes) != 32 {
		return "", 0, fmt.Errorf("program id must be 32 bytes, got %d", len(programBytes))
	}

	// sha256(seeds || bump || programID || "ProgramDerivedAddress"), first
	// bump from 255 down whose hash is off-curve wins.
	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, bump)
		data = append(data, programBytes...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)

		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:]), bump, nil
		}
	}

	return "", 0, fmt.Errorf("no off-curve address found for seeds")
}

// DeriveAssociatedTokenAccount derives the canonical SPL associated token
// account for an owner and mint.
func DeriveAssociatedTokenAccount(owner, mint string) (string, error) {
	ownerBytes, err := base58.Decode(owner)
	if err != nil {
		return "", fmt.Errorf("decode owner: %w", err)
	}
	tokenProgBytes, err := base58.Decode(TokenProgramID)
	if err != nil {
		return "", fmt.Errorf("decode token program: %w", err)
	}
	mintBytes, err := base58.Decode(mint)
	if err != nil {
		return "", fmt.Errorf("decode mint: %w", err)
	}
	if len(ownerBytes) != 32 || len(mintBytes) != 32 {
		return "", fmt.Errorf("owner and mint must be 32 bytes")
	}

	seeds := [][]byte{ownerBytes, tokenProgBytes, mintBytes}
	addr, _, err := FindProgramAddress(seeds, AssociatedTokenProgramID)
	if err != nil {
		return "", err
	}
	return addr, nil
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
