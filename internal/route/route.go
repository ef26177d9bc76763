// Package route builds the venue instructions that realize a trade. The
// executor stays venue-agnostic: it hands a swap request to a Provider and
// signs whatever comes back.
package route

import (
	"context"
	"errors"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/solana"
)

// ErrNoRoute is returned when no pool is configured for the requested token.
var ErrNoRoute = errors.New("no route for token")

// SwapRequest describes one side of a swap against SOL.
type SwapRequest struct {
	// Owner is the engine wallet that signs and pays.
	Owner string

	// TokenMint is the token being bought or sold.
	TokenMint string

	Action domain.Action

	// AmountIn is lamports for buys, raw token units for sells.
	AmountIn uint64

	// SlippageBps widens the minimum-out floor below the quoted output.
	SlippageBps int
}

// Provider builds swap instructions for a request.
type Provider interface {
	BuildSwap(ctx context.Context, req SwapRequest) ([]solana.Instruction, error)
}
