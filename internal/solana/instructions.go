package solana

import "encoding/binary"

// NewSystemTransfer moves lamports between system accounts.
func NewSystemTransfer(from, to string, lamports uint64) Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2) // Transfer
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	return Instruction{
		ProgramID: SystemProgramID,
		Accounts: []AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsWritable: true},
		},
		Data: data,
	}
}

// NewComputeUnitLimit caps the compute units a transaction may consume.
func NewComputeUnitLimit(units uint32) Instruction {
	data := make([]byte, 5)
	data[0] = 2 // SetComputeUnitLimit
	binary.LittleEndian.PutUint32(data[1:5], units)

	return Instruction{
		ProgramID: ComputeBudgetProgramID,
		Data:      data,
	}
}

// NewComputeUnitPrice sets the priority fee in micro-lamports per compute unit.
func NewComputeUnitPrice(microLamports uint64) Instruction {
	data := make([]byte, 9)
	data[0] = 3 // SetComputeUnitPrice
	binary.LittleEndian.PutUint64(data[1:9], microLamports)

	return Instruction{
		ProgramID: ComputeBudgetProgramID,
		Data:      data,
	}
}

// NewCreateIdempotentATA creates the associated token account for owner and
// mint, succeeding silently when it already exists.
func NewCreateIdempotentATA(payer, ata, owner, mint string) Instruction {
	return Instruction{
		ProgramID: AssociatedTokenProgramID,
		Accounts: []AccountMeta{
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: ata, IsWritable: true},
			{Pubkey: owner},
			{Pubkey: mint},
			{Pubkey: SystemProgramID},
			{Pubkey: TokenProgramID},
		},
		Data: []byte{1}, // CreateIdempotent
	}
}

// NewTokenSyncNative reconciles a wrapped SOL account's token balance with
// the lamports sent to it.
func NewTokenSyncNative(account string) Instruction {
	return Instruction{
		ProgramID: TokenProgramID,
		Accounts: []AccountMeta{
			{Pubkey: account, IsWritable: true},
		},
		Data: []byte{17}, // SyncNative
	}
}

// NewTokenCloseAccount closes a token account, returning its lamports to the
// destination. Used to unwrap WSOL after a swap.
func NewTokenCloseAccount(account, destination, owner string) Instruction {
	return Instruction{
		ProgramID: TokenProgramID,
		Accounts: []AccountMeta{
			{Pubkey: account, IsWritable: true},
			{Pubkey: destination, IsWritable: true},
			{Pubkey: owner, IsSigner: true},
		},
		Data: []byte{9}, // CloseAccount
	}
}
