package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/idhash"
	"solana-mirror-engine/internal/solana"
	"solana-mirror-engine/internal/solana/stub"
	"solana-mirror-engine/internal/storage"
	"solana-mirror-engine/internal/storage/memory"
)

type fakeWS struct {
	mu    sync.Mutex
	chans map[string]chan solana.LogNotification
}

func newFakeWS(wallets ...string) *fakeWS {
	f := &fakeWS{chans: make(map[string]chan solana.LogNotification)}
	for _, w := range wallets {
		f.chans[w] = make(chan solana.LogNotification, 16)
	}
	return f
}

func (f *fakeWS) SubscribeLogs(_ context.Context, filter solana.LogsFilter) (<-chan solana.LogNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.chans[filter.Mentions[0]]
	if !ok {
		ch = make(chan solana.LogNotification, 16)
		f.chans[filter.Mentions[0]] = ch
	}
	return ch, nil
}

func (f *fakeWS) Close() error { return nil }

func (f *fakeWS) push(wallet string, notif solana.LogNotification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chans[wallet] <- notif
}

type fakeAdmitter struct {
	err     error
	signals chan *domain.Signal
}

func (a *fakeAdmitter) Admit(_ context.Context, sig *domain.Signal) error {
	a.signals <- sig
	return a.err
}

type watcherHarness struct {
	w        *Watcher
	ws       *fakeWS
	rpc      *stub.RPCClient
	admitter *fakeAdmitter
	trades   *memory.TradeStore
}

func newWatcherHarness(t *testing.T, walletCfg WalletConfig) *watcherHarness {
	t.Helper()
	h := &watcherHarness{
		ws:       newFakeWS(walletCfg.Address),
		rpc:      stub.NewRPCClient(),
		admitter: &fakeAdmitter{signals: make(chan *domain.Signal, 16)},
		trades:   memory.NewTradeStore(),
	}
	h.w = New(Options{
		Config:   Config{FetchRetries: 1, FetchRetryDelay: time.Millisecond},
		Wallets:  []WalletConfig{walletCfg},
		WS:       h.ws,
		RPC:      h.rpc,
		Admitter: h.admitter,
		Trades:   h.trades,
		Logger:   zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.w.Run(ctx)
	return h
}

func (h *watcherHarness) waitSignal(t *testing.T) *domain.Signal {
	t.Helper()
	select {
	case sig := <-h.admitter.signals:
		return sig
	case <-time.After(time.Second):
		t.Fatal("no signal emitted")
		return nil
	}
}

func aggressiveWallet() WalletConfig {
	return WalletConfig{
		Address:    testWallet,
		Strategy:   domain.StrategyAggressive,
		Multiplier: decimal.NewFromInt(2),
		MinCopySol: decimal.NewFromFloat(0.05),
		MaxCopySol: decimal.NewFromFloat(1.5),
	}
}

func TestWatcherMirrorsBuy(t *testing.T) {
	h := newWatcherHarness(t, aggressiveWallet())
	h.rpc.AddTransaction(swapTx(nil))

	h.ws.push(testWallet, solana.LogNotification{Signature: "source-sig-1"})

	sig := h.waitSignal(t)
	if sig.Action != domain.ActionBuy || sig.Token != testMint {
		t.Fatalf("signal = %+v", sig)
	}
	if sig.Strategy != domain.StrategyAggressive {
		t.Fatalf("strategy = %s", sig.Strategy)
	}
	if !sig.Amount.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("amount = %s, want 0.5 x 2 = 1", sig.Amount)
	}
	if sig.SourceSignature != "source-sig-1" {
		t.Fatalf("source signature = %s", sig.SourceSignature)
	}
	if sig.Timestamp != 1_700_000_000_000 {
		t.Fatalf("timestamp = %d, want block time in ms", sig.Timestamp)
	}
	want := idhash.ComputeTradeUUID(sig.Timestamp, sig.Token, string(sig.Action), sig.Amount.String(), sig.WalletAddress)
	if sig.TradeUUID != want {
		t.Fatalf("trade_uuid = %s, want deterministic %s", sig.TradeUUID, want)
	}
}

func TestWatcherCorrelatesExit(t *testing.T) {
	h := newWatcherHarness(t, aggressiveWallet())
	seedActivePosition(t, h.trades, "open-1", testMint)

	sellTx := swapTx(func(tx *solana.Transaction) {
		tx.Signature = "source-sig-2"
		tx.Meta.PreBalances = []uint64{1_000_000_000, 0}
		tx.Meta.PostBalances = []uint64{1_799_995_000, 0}
		tx.Meta.PreTokenBalances = []solana.TokenBalance{
			{AccountIndex: 1, Mint: testMint, Owner: testWallet, Amount: "1000000", Decimals: 6},
		}
		tx.Meta.PostTokenBalances = []solana.TokenBalance{
			{AccountIndex: 1, Mint: testMint, Owner: testWallet, Amount: "0", Decimals: 6},
		}
	})
	h.rpc.AddTransaction(sellTx)

	h.ws.push(testWallet, solana.LogNotification{Signature: "source-sig-2"})

	sig := h.waitSignal(t)
	if sig.Strategy != domain.StrategyExit || sig.Action != domain.ActionSell {
		t.Fatalf("signal = %+v, want exit sell", sig)
	}
	// Proceeds 0.8 SOL x multiplier 2, clamped to max_copy_sol 1.5.
	if !sig.Amount.Equal(decimal.NewFromFloat(1.5)) {
		t.Fatalf("amount = %s, want the sized proceeds", sig.Amount)
	}
}

func TestWatcherIgnoresUncorrelatedSell(t *testing.T) {
	h := newWatcherHarness(t, aggressiveWallet())

	sellTx := swapTx(func(tx *solana.Transaction) {
		tx.Signature = "uncorrelated-sell"
		tx.Meta.PreBalances = []uint64{1_000_000_000, 0}
		tx.Meta.PostBalances = []uint64{1_799_995_000, 0}
		tx.Meta.PreTokenBalances = []solana.TokenBalance{
			{AccountIndex: 1, Mint: testMint, Owner: testWallet, Amount: "1000000", Decimals: 6},
		}
		tx.Meta.PostTokenBalances = []solana.TokenBalance{
			{AccountIndex: 1, Mint: testMint, Owner: testWallet, Amount: "0", Decimals: 6},
		}
	})
	h.rpc.AddTransaction(sellTx)
	buyTx := swapTx(func(tx *solana.Transaction) { tx.Signature = "later-buy" })
	h.rpc.AddTransaction(buyTx)

	h.ws.push(testWallet, solana.LogNotification{Signature: "uncorrelated-sell"})
	h.ws.push(testWallet, solana.LogNotification{Signature: "later-buy"})

	// Per-wallet notifications are processed in order: if the first signal
	// out is the buy, the sell produced nothing.
	sig := h.waitSignal(t)
	if sig.SourceSignature != "later-buy" {
		t.Fatalf("first signal from %s, want the sell skipped", sig.SourceSignature)
	}
}

func TestWatcherSkipsFailedSourceTransactions(t *testing.T) {
	h := newWatcherHarness(t, aggressiveWallet())
	h.rpc.AddTransaction(swapTx(nil))

	h.ws.push(testWallet, solana.LogNotification{Signature: "failed-source", Err: map[string]interface{}{"InstructionError": nil}})
	h.ws.push(testWallet, solana.LogNotification{Signature: "source-sig-1"})

	sig := h.waitSignal(t)
	if sig.SourceSignature != "source-sig-1" {
		t.Fatalf("first signal from %s, want the failed source skipped", sig.SourceSignature)
	}
}

func TestWatcherKeepsRunningAfterRejection(t *testing.T) {
	h := newWatcherHarness(t, aggressiveWallet())
	h.admitter.err = &domain.Rejection{Code: domain.ReasonDuplicate}
	h.rpc.AddTransaction(swapTx(nil))
	h.rpc.AddTransaction(swapTx(func(tx *solana.Transaction) { tx.Signature = "second-buy" }))

	h.ws.push(testWallet, solana.LogNotification{Signature: "source-sig-1"})
	h.ws.push(testWallet, solana.LogNotification{Signature: "second-buy"})

	first := h.waitSignal(t)
	second := h.waitSignal(t)
	if first.SourceSignature != "source-sig-1" || second.SourceSignature != "second-buy" {
		t.Fatalf("signals = %s, %s", first.SourceSignature, second.SourceSignature)
	}
}

func TestWatcherRequiresWallets(t *testing.T) {
	w := New(Options{WS: newFakeWS(), Logger: zerolog.Nop()})
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected an error with no wallets configured")
	}
}

func seedActivePosition(t *testing.T, trades *memory.TradeStore, uuid, token string) {
	t.Helper()
	ctx := context.Background()
	if err := trades.Insert(ctx, &domain.Trade{
		TradeUUID:     uuid,
		WalletAddress: testWallet,
		Token:         token,
		Strategy:      domain.StrategyConservative,
		Action:        domain.ActionBuy,
		Amount:        decimal.NewFromFloat(0.5),
		Status:        domain.StatusPending,
		CreatedAt:     time.Now().UnixMilli(),
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	for _, st := range []domain.TradeStatus{domain.StatusQueued, domain.StatusExecuting, domain.StatusActive} {
		if _, err := trades.UpdateStatus(ctx, uuid, st, storage.StatusUpdate{}); err != nil {
			t.Fatalf("UpdateStatus(%s): %v", st, err)
		}
	}
}
