package stub

import (
	"context"
	"fmt"
	"sync"

	"solana-mirror-engine/internal/solana"
)

// RPCClient implements solana.RPCClient for testing. Not-found follows the
// real client: nil transaction, nil error. Forced errors simulate node
// failures and indeterminate queries.
type RPCClient struct {
	mu sync.Mutex

	Transactions   map[string]*solana.Transaction
	TransactionErr error

	// DefaultTransaction is returned for any signature not in Transactions,
	// letting tests confirm transactions whose signatures are not known up
	// front. Nil keeps the not-found behavior.
	DefaultTransaction *solana.Transaction

	BlockhashValue string
	BlockhashErr   error

	SendSignature string
	SendErr       error
	Sent          []string // base64 payloads accepted by SendTransaction

	Balances        map[string]uint64
	TokenBalances   map[string]uint64
	TokenBalanceErr error
	HealthErr       error
	Slot            int64

	Signatures map[string][]solana.SignatureInfo
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Transactions:   make(map[string]*solana.Transaction),
		Balances:       make(map[string]uint64),
		TokenBalances:  make(map[string]uint64),
		Signatures:     make(map[string][]solana.SignatureInfo),
		BlockhashValue: "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N",
	}
}

// GetTransaction retrieves a transaction by signature from the stub store.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.TransactionErr != nil {
		return nil, c.TransactionErr
	}
	if tx, ok := c.Transactions[signature]; ok {
		return tx, nil
	}
	return c.DefaultTransaction, nil
}

// GetLatestBlockhash returns the configured blockhash.
func (c *RPCClient) GetLatestBlockhash(_ context.Context) (*solana.Blockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.BlockhashErr != nil {
		return nil, c.BlockhashErr
	}
	return &solana.Blockhash{Blockhash: c.BlockhashValue, LastValidBlockHeight: 1000}, nil
}

// SendTransaction records the payload and returns the configured signature.
func (c *RPCClient) SendTransaction(_ context.Context, signedTxBase64 string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return "", c.SendErr
	}
	c.Sent = append(c.Sent, signedTxBase64)
	if c.SendSignature != "" {
		return c.SendSignature, nil
	}
	return fmt.Sprintf("stub-sig-%d", len(c.Sent)), nil
}

// GetBalance returns the configured lamport balance for the account.
func (c *RPCClient) GetBalance(_ context.Context, pubkey string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Balances[pubkey], nil
}

// GetTokenAccountBalance returns the configured token balance for the account.
func (c *RPCClient) GetTokenAccountBalance(_ context.Context, account string) (*solana.TokenAmount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.TokenBalanceErr != nil {
		return nil, c.TokenBalanceErr
	}
	if amt, ok := c.TokenBalances[account]; ok {
		return &solana.TokenAmount{Amount: amt, Decimals: 9}, nil
	}
	return &solana.TokenAmount{}, nil
}

// GetSlot returns the configured slot.
func (c *RPCClient) GetSlot(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Slot, nil
}

// GetSignaturesForAddress retrieves signatures for an address from the stub store.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sigs, ok := c.Signatures[address]
	if !ok {
		return nil, nil
	}

	// Apply limit if specified
	if opts != nil && opts.Limit > 0 && opts.Limit < len(sigs) {
		return sigs[:opts.Limit], nil
	}

	return sigs, nil
}

// GetHealth returns the configured health error.
func (c *RPCClient) GetHealth(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.HealthErr
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// SentCount returns how many transactions the stub accepted.
func (c *RPCClient) SentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sent)
}

// SetTransactionErr forces GetTransaction to fail, simulating an
// indeterminate query.
func (c *RPCClient) SetTransactionErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TransactionErr = err
}

// SetSendErr forces SendTransaction to fail.
func (c *RPCClient) SetSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SendErr = err
}

// SetHealthErr forces GetHealth to fail.
func (c *RPCClient) SetHealthErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.HealthErr = err
}

// SetDefaultTransaction sets the catch-all GetTransaction result.
func (c *RPCClient) SetDefaultTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DefaultTransaction = tx
}

var _ solana.RPCClient = (*RPCClient)(nil)
