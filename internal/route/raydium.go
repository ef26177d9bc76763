package route

import (
	"context"
	"encoding/binary"
	"fmt"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/solana"
)

// RaydiumAMMV4 is the Raydium AMM v4 program ID.
const RaydiumAMMV4 = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"

const swapBaseInDiscriminator = 9

// PoolKeys is the full account set an AMM v4 swap instruction requires,
// taken from the pool's on-chain market metadata.
type PoolKeys struct {
	AmmID            string `yaml:"amm_id"`
	AmmAuthority     string `yaml:"amm_authority"`
	AmmOpenOrders    string `yaml:"amm_open_orders"`
	AmmTargetOrders  string `yaml:"amm_target_orders"`
	BaseVault        string `yaml:"base_vault"`  // token side
	QuoteVault       string `yaml:"quote_vault"` // WSOL side
	MarketProgram    string `yaml:"market_program"`
	MarketID         string `yaml:"market_id"`
	MarketBids       string `yaml:"market_bids"`
	MarketAsks       string `yaml:"market_asks"`
	MarketEventQ     string `yaml:"market_event_queue"`
	MarketBaseVault  string `yaml:"market_base_vault"`
	MarketQuoteVault string `yaml:"market_quote_vault"`
	MarketAuthority  string `yaml:"market_authority"`
}

// RaydiumProvider builds AMM v4 swaps over a configured token → pool table.
// The minimum-out floor comes from a constant-product quote against live
// vault reserves.
type RaydiumProvider struct {
	rpc   solana.RPCClient
	pools map[string]PoolKeys
}

// NewRaydiumProvider creates a provider over the given pool table.
func NewRaydiumProvider(rpc solana.RPCClient, pools map[string]PoolKeys) *RaydiumProvider {
	return &RaydiumProvider{rpc: rpc, pools: pools}
}

// HasRoute reports whether a pool is configured for the token.
func (p *RaydiumProvider) HasRoute(token string) bool {
	_, ok := p.pools[token]
	return ok
}

// BuildSwap assembles the instruction sequence for one swap leg. Buys wrap
// SOL into a temporary WSOL account; both directions close it afterwards so
// the wallet never strands wrapped balance.
func (p *RaydiumProvider) BuildSwap(ctx context.Context, req SwapRequest) ([]solana.Instruction, error) {
	pool, ok := p.pools[req.TokenMint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, req.TokenMint)
	}
	if req.AmountIn == 0 {
		return nil, fmt.Errorf("zero amount in")
	}

	wsolATA, err := solana.DeriveAssociatedTokenAccount(req.Owner, solana.WSOLMint)
	if err != nil {
		return nil, fmt.Errorf("derive wsol ata: %w", err)
	}
	tokenATA, err := solana.DeriveAssociatedTokenAccount(req.Owner, req.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("derive token ata: %w", err)
	}

	minOut, err := p.quoteMinOut(ctx, pool, req)
	if err != nil {
		return nil, err
	}

	var ins []solana.Instruction
	switch req.Action {
	case domain.ActionBuy:
		ins = append(ins,
			solana.NewCreateIdempotentATA(req.Owner, wsolATA, req.Owner, solana.WSOLMint),
			solana.NewSystemTransfer(req.Owner, wsolATA, req.AmountIn),
			solana.NewTokenSyncNative(wsolATA),
			solana.NewCreateIdempotentATA(req.Owner, tokenATA, req.Owner, req.TokenMint),
			p.swapInstruction(pool, wsolATA, tokenATA, req.Owner, req.AmountIn, minOut),
			solana.NewTokenCloseAccount(wsolATA, req.Owner, req.Owner),
		)
	case domain.ActionSell:
		ins = append(ins,
			solana.NewCreateIdempotentATA(req.Owner, wsolATA, req.Owner, solana.WSOLMint),
			p.swapInstruction(pool, tokenATA, wsolATA, req.Owner, req.AmountIn, minOut),
			solana.NewTokenCloseAccount(wsolATA, req.Owner, req.Owner),
		)
	default:
		return nil, fmt.Errorf("unknown action %q", req.Action)
	}

	return ins, nil
}

// quoteMinOut estimates swap output from vault reserves with the 0.25% AMM
// fee applied, then widens by the slippage allowance.
func (p *RaydiumProvider) quoteMinOut(ctx context.Context, pool PoolKeys, req SwapRequest) (uint64, error) {
	base, err := p.rpc.GetTokenAccountBalance(ctx, pool.BaseVault)
	if err != nil {
		return 0, fmt.Errorf("base vault reserve: %w", err)
	}
	quote, err := p.rpc.GetTokenAccountBalance(ctx, pool.QuoteVault)
	if err != nil {
		return 0, fmt.Errorf("quote vault reserve: %w", err)
	}

	var reserveIn, reserveOut uint64
	if req.Action == domain.ActionBuy {
		reserveIn, reserveOut = quote.Amount, base.Amount
	} else {
		reserveIn, reserveOut = base.Amount, quote.Amount
	}

	out := constantProductOut(req.AmountIn, reserveIn, reserveOut)
	if out == 0 {
		return 0, fmt.Errorf("quote collapsed to zero: reserves %d/%d", reserveIn, reserveOut)
	}

	slippage := req.SlippageBps
	if slippage < 0 {
		slippage = 0
	}
	if slippage >= 10_000 {
		return 1, nil
	}
	minOut := out * uint64(10_000-slippage) / 10_000
	if minOut == 0 {
		minOut = 1
	}
	return minOut, nil
}

// constantProductOut computes x*y=k output after the 25 bps swap fee using
// big-number-free integer math safe for realistic reserve sizes.
func constantProductOut(amountIn, reserveIn, reserveOut uint64) uint64 {
	if reserveIn == 0 || reserveOut == 0 {
		return 0
	}
	// fee-adjusted input, 9975/10000
	inWithFee := uint64(float64(amountIn) * 0.9975)
	if inWithFee == 0 {
		return 0
	}
	num := float64(inWithFee) * float64(reserveOut)
	den := float64(reserveIn) + float64(inWithFee)
	return uint64(num / den)
}

// swapInstruction encodes swapBaseIn against the pool's account set.
func (p *RaydiumProvider) swapInstruction(pool PoolKeys, source, dest, owner string, amountIn, minOut uint64) solana.Instruction {
	data := make([]byte, 17)
	data[0] = swapBaseInDiscriminator
	binary.LittleEndian.PutUint64(data[1:9], amountIn)
	binary.LittleEndian.PutUint64(data[9:17], minOut)

	return solana.Instruction{
		ProgramID: RaydiumAMMV4,
		Accounts: []solana.AccountMeta{
			{Pubkey: solana.TokenProgramID},
			{Pubkey: pool.AmmID, IsWritable: true},
			{Pubkey: pool.AmmAuthority},
			{Pubkey: pool.AmmOpenOrders, IsWritable: true},
			{Pubkey: pool.AmmTargetOrders, IsWritable: true},
			{Pubkey: pool.BaseVault, IsWritable: true},
			{Pubkey: pool.QuoteVault, IsWritable: true},
			{Pubkey: pool.MarketProgram},
			{Pubkey: pool.MarketID, IsWritable: true},
			{Pubkey: pool.MarketBids, IsWritable: true},
			{Pubkey: pool.MarketAsks, IsWritable: true},
			{Pubkey: pool.MarketEventQ, IsWritable: true},
			{Pubkey: pool.MarketBaseVault, IsWritable: true},
			{Pubkey: pool.MarketQuoteVault, IsWritable: true},
			{Pubkey: pool.MarketAuthority},
			{Pubkey: source, IsWritable: true},
			{Pubkey: dest, IsWritable: true},
			{Pubkey: owner, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}
}

var _ Provider = (*RaydiumProvider)(nil)
