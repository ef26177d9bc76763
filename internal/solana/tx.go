package solana

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/mr-tron/base58"
)

// AccountMeta describes one account an instruction touches.
type AccountMeta struct {
	Pubkey     string
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID string
	Accounts  []AccountMeta
	Data      []byte
}

// SignedTx is an assembled, signed legacy transaction ready for submission.
type SignedTx struct {
	Signature string // base58 fee payer signature, doubles as the tx id
	Wire      []byte
}

// Base64 returns the wire transaction base64-encoded for sendTransaction.
func (t *SignedTx) Base64() string {
	return base64.StdEncoding.EncodeToString(t.Wire)
}

// Base58 returns the wire transaction base58-encoded for bundle relays.
func (t *SignedTx) Base58() string {
	return base58.Encode(t.Wire)
}

// compiledAccount is an account with merged flags across all instructions.
type compiledAccount struct {
	pubkey     string
	isSigner   bool
	isWritable bool
}

// BuildSignedTransaction compiles instructions into a signed legacy
// transaction. The fee payer is always the first account and must have a
// private key in signers, keyed by base58 pubkey.
func BuildSignedTransaction(instructions []Instruction, feePayer, recentBlockhash string, signers map[string]ed25519.PrivateKey) (*SignedTx, error) {
	if len(instructions) == 0 {
		return nil, fmt.Errorf("no instructions")
	}

	accounts, index, err := compileAccounts(instructions, feePayer)
	if err != nil {
		return nil, err
	}

	msg, numRequired, err := serializeMessage(accounts, index, instructions, recentBlockhash)
	if err != nil {
		return nil, err
	}

	// Signatures in account order, one per required signer.
	sigs := make([][]byte, 0, numRequired)
	for i := 0; i < numRequired; i++ {
		key, ok := signers[accounts[i].pubkey]
		if !ok {
			return nil, fmt.Errorf("missing private key for signer %s", accounts[i].pubkey)
		}
		sigs = append(sigs, ed25519.Sign(key, msg))
	}

	wire := appendCompactU16(nil, len(sigs))
	for _, sig := range sigs {
		wire = append(wire, sig...)
	}
	wire = append(wire, msg...)

	return &SignedTx{
		Signature: base58.Encode(sigs[0]),
		Wire:      wire,
	}, nil
}

// compileAccounts merges account flags across instructions and orders them
// the way the runtime requires: writable signers, readonly signers, writable
// non-signers, readonly non-signers. First-seen order is kept within each
// class so assembly is deterministic.
func compileAccounts(instructions []Instruction, feePayer string) ([]compiledAccount, map[string]int, error) {
	merged := make(map[string]*compiledAccount)
	order := make([]string, 0)

	touch := func(pubkey string, signer, writable bool) {
		acc, ok := merged[pubkey]
		if !ok {
			acc = &compiledAccount{pubkey: pubkey}
			merged[pubkey] = acc
			order = append(order, pubkey)
		}
		acc.isSigner = acc.isSigner || signer
		acc.isWritable = acc.isWritable || writable
	}

	touch(feePayer, true, true)
	for _, ins := range instructions {
		for _, meta := range ins.Accounts {
			touch(meta.Pubkey, meta.IsSigner, meta.IsWritable)
		}
		touch(ins.ProgramID, false, false)
	}

	var writableSigners, roSigners, writableOther, roOther []compiledAccount
	for _, pubkey := range order {
		acc := *merged[pubkey]
		switch {
		case acc.isSigner && acc.isWritable:
			writableSigners = append(writableSigners, acc)
		case acc.isSigner:
			roSigners = append(roSigners, acc)
		case acc.isWritable:
			writableOther = append(writableOther, acc)
		default:
			roOther = append(roOther, acc)
		}
	}

	accounts := make([]compiledAccount, 0, len(order))
	accounts = append(accounts, writableSigners...)
	accounts = append(accounts, roSigners...)
	accounts = append(accounts, writableOther...)
	accounts = append(accounts, roOther...)

	index := make(map[string]int, len(accounts))
	for i, acc := range accounts {
		index[acc.pubkey] = i
	}
	return accounts, index, nil
}

// serializeMessage renders the legacy message: header, account keys,
// blockhash, instructions. Returns the bytes and the required signer count.
func serializeMessage(accounts []compiledAccount, index map[string]int, instructions []Instruction, recentBlockhash string) ([]byte, int, error) {
	var numRequired, numReadonlySigned, numReadonlyUnsigned int
	for _, acc := range accounts {
		if acc.isSigner {
			numRequired++
			if !acc.isWritable {
				numReadonlySigned++
			}
		} else if !acc.isWritable {
			numReadonlyUnsigned++
		}
	}

	blockhashBytes, err := base58.Decode(recentBlockhash)
	if err != nil {
		return nil, 0, fmt.Errorf("decode blockhash: %w", err)
	}
	if len(blockhashBytes) != 32 {
		return nil, 0, fmt.Errorf("blockhash must be 32 bytes, got %d", len(blockhashBytes))
	}

	msg := []byte{byte(numRequired), byte(numReadonlySigned), byte(numReadonlyUnsigned)}

	msg = appendCompactU16(msg, len(accounts))
	for _, acc := range accounts {
		keyBytes, err := base58.Decode(acc.pubkey)
		if err != nil {
			return nil, 0, fmt.Errorf("decode account %s: %w", acc.pubkey, err)
		}
		if len(keyBytes) != 32 {
			return nil, 0, fmt.Errorf("account %s is not 32 bytes", acc.pubkey)
		}
		msg = append(msg, keyBytes...)
	}

	msg = append(msg, blockhashBytes...)

	msg = appendCompactU16(msg, len(instructions))
	for _, ins := range instructions {
		progIdx, ok := index[ins.ProgramID]
		if !ok {
			return nil, 0, fmt.Errorf("program %s not in account table", ins.ProgramID)
		}
		msg = append(msg, byte(progIdx))

		msg = appendCompactU16(msg, len(ins.Accounts))
		for _, meta := range ins.Accounts {
			accIdx, ok := index[meta.Pubkey]
			if !ok {
				return nil, 0, fmt.Errorf("account %s not in account table", meta.Pubkey)
			}
			msg = append(msg, byte(accIdx))
		}

		msg = appendCompactU16(msg, len(ins.Data))
		msg = append(msg, ins.Data...)
	}

	return msg, numRequired, nil
}

// appendCompactU16 appends v in the compact-u16 varint encoding the wire
// format uses for array lengths.
func appendCompactU16(b []byte, v int) []byte {
	for {
		if v < 0x80 {
			return append(b, byte(v))
		}
		b = append(b, byte(v&0x7f)|0x80)
		v >>= 7
	}
}
