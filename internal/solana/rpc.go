package solana

import "context"

// RPCClient defines the Solana RPC HTTP surface the engine consumes.
type RPCClient interface {
	// GetTransaction retrieves a confirmed transaction by signature.
	// Returns nil when the signature is unknown to the node.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetLatestBlockhash fetches a recent blockhash for transaction assembly.
	GetLatestBlockhash(ctx context.Context) (*Blockhash, error)

	// SendTransaction submits a signed, base64-encoded transaction and
	// returns its signature.
	SendTransaction(ctx context.Context, signedTxBase64 string) (string, error)

	// GetBalance retrieves the lamport balance of an account.
	GetBalance(ctx context.Context, pubkey string) (uint64, error)

	// GetTokenAccountBalance retrieves the SPL token balance of a token
	// account.
	GetTokenAccountBalance(ctx context.Context, account string) (*TokenAmount, error)

	// GetSlot retrieves the current slot.
	GetSlot(ctx context.Context) (int64, error)

	// GetSignaturesForAddress retrieves signatures for an address with pagination.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetHealth reports node health; nil means the node considers itself healthy.
	GetHealth(ctx context.Context) error
}

// Transaction represents a Solana transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata. Balance arrays are indexed
// by account position in Message.AccountKeys.
type TransactionMeta struct {
	Err               interface{}
	Fee               uint64
	LogMessages       []string
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// TokenBalance is an SPL token balance snapshot around a transaction.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       string // raw amount in base units
	Decimals     int
}

// TransactionMessage contains parsed transaction message.
type TransactionMessage struct {
	AccountKeys []string
}

// LamportDelta returns the balance change of the account at index idx, or 0
// when the meta carries no balance arrays for it.
func (m *TransactionMeta) LamportDelta(idx int) int64 {
	if m == nil || idx < 0 || idx >= len(m.PreBalances) || idx >= len(m.PostBalances) {
		return 0
	}
	return int64(m.PostBalances[idx]) - int64(m.PreBalances[idx])
}
