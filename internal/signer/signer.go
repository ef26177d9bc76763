// Package signer loads and holds the engine's signing identity. The wallet
// key never leaves this package; callers get a signer map scoped to one
// transaction assembly.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mr-tron/base58"
)

// Keypair is an ed25519 signing identity with its base58 public key.
type Keypair struct {
	PublicKey  string
	PrivateKey ed25519.PrivateKey
}

// Generate creates a fresh keypair.
func Generate() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{
		PublicKey:  base58.Encode(pub),
		PrivateKey: priv,
	}, nil
}

// FromBase58 parses a base58-encoded secret key. Accepts the 64-byte
// seed||pubkey form wallets export, or a bare 32-byte seed.
func FromBase58(secret string) (*Keypair, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	return fromRaw(raw)
}

// FromFile reads a keypair from the JSON byte-array format solana-keygen
// writes.
func FromFile(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair file: %w", err)
	}

	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("parse keypair file: %w", err)
	}

	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("keypair file byte %d out of range: %d", i, v)
		}
		raw[i] = byte(v)
	}
	return fromRaw(raw)
}

func fromRaw(raw []byte) (*Keypair, error) {
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("secret key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}

	pub := priv.Public().(ed25519.PublicKey)
	return &Keypair{
		PublicKey:  base58.Encode(pub),
		PrivateKey: priv,
	}, nil
}

// SignerMap returns the single-entry signer table transaction assembly
// consumes.
func (k *Keypair) SignerMap() map[string]ed25519.PrivateKey {
	return map[string]ed25519.PrivateKey{k.PublicKey: k.PrivateKey}
}

// WriteFile persists the keypair in solana-keygen's JSON byte-array format
// with owner-only permissions.
func (k *Keypair) WriteFile(path string) error {
	ints := make([]int, len(k.PrivateKey))
	for i, b := range k.PrivateKey {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return fmt.Errorf("marshal keypair: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write keypair file: %w", err)
	}
	return nil
}
