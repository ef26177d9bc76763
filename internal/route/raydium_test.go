package route

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/solana"
	"solana-mirror-engine/internal/solana/stub"
)

const (
	testOwner = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
	testMint  = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func testPool() PoolKeys {
	return PoolKeys{
		AmmID:            "58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2",
		AmmAuthority:     "5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1",
		AmmOpenOrders:    "HRk9CMrpq7Jn9sh7mzxE8CChHG8dneX9p475QKz4Fsfu",
		AmmTargetOrders:  "CZza3Ej4Mc58MnxWA385itCC9jCo3L1D7zc3LKy1bZMR",
		BaseVault:        "DQyrAcCrDXQ7NeoqGgDCZwBvWDcYmFCjSb9JtteuvPpz",
		QuoteVault:       "HLmqeL62xR1QoZ1HKKbXRrdN1p3phKpxRMb2VVopvBBz",
		MarketProgram:    "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		MarketID:         "9wFFyRfZBsuAha4YcuxcXLKwMxJR43S7fPfQLusDBzvT",
		MarketBids:       "14ivtgssEBoBjuZJtSAPKYgpUK7DmnSwuPMqJoVTSgKJ",
		MarketAsks:       "CEQdAFKdycHugujQg9k2wbmxjcpdYZyVLfV9WerTnafJ",
		MarketEventQ:     "5KKsLVU6TcbVDK4BS6K1DGDxnh4Q9xjYJ8XaDCG5t8ht",
		MarketBaseVault:  "36c6YqAwyGKQG66XEp2dJc5JqjaBNv7sVghEtJv4c7u6",
		MarketQuoteVault: "8CFo8bL8mZQK8abbFyypFMwEDd8tVJjHTTojMLgQTUSZ",
		MarketAuthority:  "F8Vyqk3unwxkXukZFQeYyGmFfTG3CAX4v24iyrjEYBJV",
	}
}

func newTestProvider() (*RaydiumProvider, *stub.RPCClient) {
	rpc := stub.NewRPCClient()
	pool := testPool()
	// 1000 tokens against 100 SOL of reserves.
	rpc.TokenBalances[pool.BaseVault] = 1_000_000_000_000
	rpc.TokenBalances[pool.QuoteVault] = 100_000_000_000
	return NewRaydiumProvider(rpc, map[string]PoolKeys{testMint: testPool()}), rpc
}

func TestConstantProductOut(t *testing.T) {
	// 10 in against 100/1000 reserves: ~90.66 out with the fee applied.
	out := constantProductOut(10, 100, 1000)
	if out == 0 || out > 91 {
		t.Fatalf("unexpected quote: %d", out)
	}

	if constantProductOut(10, 0, 1000) != 0 {
		t.Error("zero input reserve must quote zero")
	}
	if constantProductOut(0, 100, 1000) != 0 {
		t.Error("zero amount must quote zero")
	}

	// Larger input moves the price: output grows sublinearly.
	small := constantProductOut(1_000_000, 1_000_000_000, 1_000_000_000)
	large := constantProductOut(100_000_000, 1_000_000_000, 1_000_000_000)
	if large >= small*100 {
		t.Errorf("price impact missing: small=%d large=%d", small, large)
	}
}

func TestBuildSwap_Buy(t *testing.T) {
	p, _ := newTestProvider()

	ins, err := p.BuildSwap(context.Background(), SwapRequest{
		Owner:       testOwner,
		TokenMint:   testMint,
		Action:      domain.ActionBuy,
		AmountIn:    1_000_000_000, // 1 SOL
		SlippageBps: 100,
	})
	if err != nil {
		t.Fatalf("BuildSwap: %v", err)
	}

	// create wsol ata, fund, sync, create token ata, swap, close wsol.
	if len(ins) != 6 {
		t.Fatalf("expected 6 instructions for buy, got %d", len(ins))
	}

	swap := ins[4]
	if swap.ProgramID != RaydiumAMMV4 {
		t.Errorf("swap targets %s, want Raydium AMM v4", swap.ProgramID)
	}
	if len(swap.Accounts) != 18 {
		t.Errorf("expected 18 swap accounts, got %d", len(swap.Accounts))
	}
	if swap.Data[0] != swapBaseInDiscriminator {
		t.Errorf("wrong discriminator %d", swap.Data[0])
	}
	if got := binary.LittleEndian.Uint64(swap.Data[1:9]); got != 1_000_000_000 {
		t.Errorf("amountIn = %d, want 1000000000", got)
	}
	minOut := binary.LittleEndian.Uint64(swap.Data[9:17])
	if minOut == 0 {
		t.Error("minOut must be quoted, not zero")
	}

	// Owner signs the swap.
	ownerMeta := swap.Accounts[len(swap.Accounts)-1]
	if ownerMeta.Pubkey != testOwner || !ownerMeta.IsSigner {
		t.Errorf("last swap account must be the signing owner, got %+v", ownerMeta)
	}

	// SOL is wrapped before the swap and the WSOL account closed after.
	if ins[1].ProgramID != solana.SystemProgramID {
		t.Error("buy must fund the WSOL account via system transfer")
	}
	if ins[5].Data[0] != 9 {
		t.Error("buy must close the WSOL account after the swap")
	}
}

func TestBuildSwap_Sell(t *testing.T) {
	p, _ := newTestProvider()

	ins, err := p.BuildSwap(context.Background(), SwapRequest{
		Owner:       testOwner,
		TokenMint:   testMint,
		Action:      domain.ActionSell,
		AmountIn:    500_000_000,
		SlippageBps: 100,
	})
	if err != nil {
		t.Fatalf("BuildSwap: %v", err)
	}

	// create wsol ata, swap, close wsol.
	if len(ins) != 3 {
		t.Fatalf("expected 3 instructions for sell, got %d", len(ins))
	}
	if ins[1].ProgramID != RaydiumAMMV4 {
		t.Errorf("swap targets %s, want Raydium AMM v4", ins[1].ProgramID)
	}
}

func TestBuildSwap_NoRoute(t *testing.T) {
	p, _ := newTestProvider()

	_, err := p.BuildSwap(context.Background(), SwapRequest{
		Owner:     testOwner,
		TokenMint: "UnknownMint11111111111111111111111111111111",
		Action:    domain.ActionBuy,
		AmountIn:  1,
	})
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestBuildSwap_ReserveQueryFailure(t *testing.T) {
	p, rpc := newTestProvider()
	rpc.TokenBalanceErr = errors.New("rpc down")

	_, err := p.BuildSwap(context.Background(), SwapRequest{
		Owner:     testOwner,
		TokenMint: testMint,
		Action:    domain.ActionBuy,
		AmountIn:  1_000_000,
	})
	if err == nil {
		t.Fatal("expected error when reserves cannot be read")
	}
}

func TestHasRoute(t *testing.T) {
	p, _ := newTestProvider()
	if !p.HasRoute(testMint) {
		t.Error("expected route for configured mint")
	}
	if p.HasRoute("missing") {
		t.Error("unexpected route for unknown mint")
	}
}
