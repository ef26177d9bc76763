package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTipAccounts are the canonical block-engine tip accounts. Bundles
// must pay at least the relay's minimum tip to one of them.
var DefaultTipAccounts = []string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

// RelayClient submits transactions through a block-engine relay. Relays
// enforce per-IP request quotas, so every call first waits on the limiter.
type RelayClient struct {
	endpoint    string
	client      *http.Client
	limiter     *rate.Limiter
	tipAccounts []string
	requestID   atomic.Uint64
}

// RelayOption configures RelayClient.
type RelayOption func(*RelayClient)

// WithRelayRateLimit sets the request rate and burst allowed against the relay.
func WithRelayRateLimit(rps float64, burst int) RelayOption {
	return func(c *RelayClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRelayTimeout sets the HTTP timeout for relay calls.
func WithRelayTimeout(d time.Duration) RelayOption {
	return func(c *RelayClient) {
		c.client.Timeout = d
	}
}

// WithTipAccounts overrides the tip account set.
func WithTipAccounts(accounts []string) RelayOption {
	return func(c *RelayClient) {
		if len(accounts) > 0 {
			c.tipAccounts = accounts
		}
	}
}

// NewRelayClient creates a relay client for the given block-engine endpoint.
func NewRelayClient(endpoint string, opts ...RelayOption) *RelayClient {
	c := &RelayClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: 10 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(5), 5),
		tipAccounts: DefaultTipAccounts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the relay endpoint this client targets.
func (c *RelayClient) Endpoint() string {
	return c.endpoint
}

// TipAccount returns a randomly chosen tip account. Spreading tips across
// accounts avoids write-lock contention between bundles in the same slot.
func (c *RelayClient) TipAccount() string {
	return c.tipAccounts[rand.Intn(len(c.tipAccounts))]
}

// SendBundle submits base58-encoded signed transactions as an atomic bundle
// and returns the bundle id.
func (c *RelayClient) SendBundle(ctx context.Context, txsBase58 []string) (string, error) {
	if len(txsBase58) == 0 {
		return "", fmt.Errorf("empty bundle")
	}
	var bundleID string
	if err := c.call(ctx, "sendBundle", []interface{}{txsBase58}, &bundleID); err != nil {
		return "", err
	}
	if bundleID == "" {
		return "", fmt.Errorf("empty bundle id in response")
	}
	return bundleID, nil
}

// SendTransaction submits a single base58-encoded signed transaction through
// the relay's transaction endpoint and returns its signature.
func (c *RelayClient) SendTransaction(ctx context.Context, txBase58 string) (string, error) {
	var signature string
	if err := c.call(ctx, "sendTransaction", []interface{}{txBase58}, &signature); err != nil {
		return "", err
	}
	if signature == "" {
		return "", fmt.Errorf("empty signature in response")
	}
	return signature, nil
}

func (c *RelayClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("relay rate limited (429)")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}
