package recovery

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/events"
	"solana-mirror-engine/internal/solana"
	"solana-mirror-engine/internal/solana/stub"
	"solana-mirror-engine/internal/storage/memory"
)

type harness struct {
	mgr      *Manager
	trades   *memory.TradeStore
	audit    *memory.AuditStore
	outcomes *memory.OutcomeStore
	rpc      *stub.RPCClient
	bus      *events.Bus
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		trades:   memory.NewTradeStore(),
		audit:    memory.NewAuditStore(),
		outcomes: memory.NewOutcomeStore(),
		rpc:      stub.NewRPCClient(),
		bus:      events.NewBus(),
		now:      time.Now(),
	}
	h.mgr = New(Options{
		Config:   DefaultConfig(),
		Trades:   h.trades,
		Audit:    h.audit,
		Outcomes: h.outcomes,
		RPC:      h.rpc,
		Bus:      h.bus,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return h.now },
	})
	return h
}

// seedExiting inserts an Exiting trade last updated age ago.
func (h *harness) seedExiting(t *testing.T, tradeUUID, entrySig, exitSig string, age time.Duration) {
	t.Helper()
	stamp := h.now.Add(-age).UnixMilli()
	err := h.trades.Insert(context.Background(), &domain.Trade{
		TradeUUID:      tradeUUID,
		WalletAddress:  "wallet-1",
		Token:          "token-1",
		Strategy:       domain.StrategyConservative,
		Action:         domain.ActionBuy,
		Amount:         decimal.NewFromInt(1),
		Status:         domain.StatusExiting,
		EntrySignature: entrySig,
		ExitSignature:  exitSig,
		CreatedAt:      stamp,
		UpdatedAt:      stamp,
	})
	if err != nil {
		t.Fatalf("seed trade: %v", err)
	}
}

func (h *harness) get(t *testing.T, tradeUUID string) *domain.Trade {
	t.Helper()
	trade, err := h.trades.GetByUUID(context.Background(), tradeUUID)
	if err != nil {
		t.Fatalf("GetByUUID: %v", err)
	}
	return trade
}

func confirmedMeta(pre, post uint64) *solana.TransactionMeta {
	return &solana.TransactionMeta{
		PreBalances:  []uint64{pre},
		PostBalances: []uint64{post},
	}
}

func TestSweep_IgnoresFreshExiting(t *testing.T) {
	h := newHarness(t)
	h.seedExiting(t, "fresh", "entry-1", "exit-1", 30*time.Second)
	h.rpc.AddTransaction(&solana.Transaction{Signature: "exit-1", Slot: 100, Meta: confirmedMeta(1, 2)})

	h.mgr.Sweep(context.Background())

	if got := h.get(t, "fresh").Status; got != domain.StatusExiting {
		t.Errorf("status = %s, want exiting untouched below the stuck threshold", got)
	}
}

func TestSweep_ConfirmedClosesWithPnL(t *testing.T) {
	h := newHarness(t)
	h.seedExiting(t, "stuck-1", "entry-1", "exit-1", 90*time.Second)

	// entry spent 1 SOL, exit recovered 1.5 SOL: +0.5 SOL * $150 = +$75
	h.rpc.AddTransaction(&solana.Transaction{
		Signature: "entry-1",
		Slot:      90,
		Meta:      confirmedMeta(5_000_000_000, 4_000_000_000),
	})
	h.rpc.AddTransaction(&solana.Transaction{
		Signature: "exit-1",
		Slot:      100,
		Meta:      confirmedMeta(4_000_000_000, 5_500_000_000),
	})

	recoveredCh := make(chan events.Event, 1)
	h.bus.Subscribe(events.TypeTradeRecovered, func(e events.Event) { recoveredCh <- e })

	h.mgr.Sweep(context.Background())

	trade := h.get(t, "stuck-1")
	if trade.Status != domain.StatusClosed {
		t.Fatalf("status = %s, want closed", trade.Status)
	}
	if trade.RealizedPnLUSD == nil {
		t.Fatal("realized pnl not set")
	}
	if math.Abs(*trade.RealizedPnLUSD-75) > 1e-6 {
		t.Errorf("pnl = %f, want 75", *trade.RealizedPnLUSD)
	}

	outcomes, err := h.outcomes.RecentOutcomes(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].TradeUUID != "stuck-1" {
		t.Fatalf("outcomes = %v, want the recovered trade appended", outcomes)
	}

	entries, err := h.audit.ListByKey(context.Background(), domain.AuditKeyRecovery, 10)
	if err != nil {
		t.Fatalf("ListByKey: %v", err)
	}
	if len(entries) != 1 || entries[0].NewValue != string(domain.StatusClosed) {
		t.Errorf("audit entries = %+v, want one exiting -> closed", entries)
	}

	select {
	case e := <-recoveredCh:
		if e.Data["trade_uuid"] != "stuck-1" || e.Data["resolution"] != string(domain.StatusClosed) {
			t.Errorf("event data = %v", e.Data)
		}
	case <-time.After(time.Second):
		t.Error("trade recovered event not published")
	}
}

func TestSweep_NotFoundReopens(t *testing.T) {
	h := newHarness(t)
	h.seedExiting(t, "stuck-2", "entry-1", "exit-gone", 90*time.Second)
	// exit-gone is unknown to the node

	h.mgr.Sweep(context.Background())

	trade := h.get(t, "stuck-2")
	if trade.Status != domain.StatusActive {
		t.Fatalf("status = %s, want active (reopened)", trade.Status)
	}
	if trade.ExitSignature != "" {
		t.Error("dead exit signature should be cleared")
	}
	if trade.ErrorMessage == "" {
		t.Error("reopen reason should be recorded")
	}

	entries, _ := h.audit.ListByKey(context.Background(), domain.AuditKeyRecovery, 10)
	if len(entries) != 1 || entries[0].NewValue != string(domain.StatusActive) {
		t.Errorf("audit entries = %+v, want one exiting -> active", entries)
	}
}

func TestSweep_FailedOnChainReopens(t *testing.T) {
	h := newHarness(t)
	h.seedExiting(t, "stuck-3", "entry-1", "exit-failed", 90*time.Second)
	h.rpc.AddTransaction(&solana.Transaction{
		Signature: "exit-failed",
		Slot:      100,
		Meta: &solana.TransactionMeta{
			Err: map[string]interface{}{"InstructionError": []interface{}{2, "Custom"}},
		},
	})

	h.mgr.Sweep(context.Background())

	trade := h.get(t, "stuck-3")
	if trade.Status != domain.StatusActive {
		t.Errorf("status = %s, want active: a reverted exit leaves the position open", trade.Status)
	}
}

func TestSweep_IndeterminateUntouched(t *testing.T) {
	h := newHarness(t)
	h.seedExiting(t, "stuck-4", "entry-1", "exit-1", 90*time.Second)
	h.rpc.SetTransactionErr(errors.New("node timeout"))

	h.mgr.Sweep(context.Background())

	trade := h.get(t, "stuck-4")
	if trade.Status != domain.StatusExiting {
		t.Errorf("status = %s, want exiting: indeterminate is never guessed", trade.Status)
	}
	if trade.ExitSignature != "exit-1" {
		t.Error("signature must stay on record for the next pass")
	}

	entries, _ := h.audit.ListByKey(context.Background(), domain.AuditKeyRecovery, 10)
	if len(entries) != 0 {
		t.Errorf("audit entries = %d, want none for an indeterminate pass", len(entries))
	}
}

func TestSweep_EntrySignatureFallback(t *testing.T) {
	h := newHarness(t)
	h.seedExiting(t, "stuck-5", "entry-only", "", 90*time.Second)
	h.rpc.AddTransaction(&solana.Transaction{
		Signature: "entry-only",
		Slot:      90,
		Meta:      confirmedMeta(5_000_000_000, 4_000_000_000),
	})

	h.mgr.Sweep(context.Background())

	trade := h.get(t, "stuck-5")
	if trade.Status != domain.StatusClosed {
		t.Fatalf("status = %s, want closed via entry signature fallback", trade.Status)
	}
	if trade.RealizedPnLUSD != nil {
		t.Error("pnl cannot be derived without an exit leg")
	}

	outcomes, _ := h.outcomes.RecentOutcomes(context.Background(), 10)
	if len(outcomes) != 0 {
		t.Error("a close without pnl must not be fed into breaker analytics")
	}
}

func TestSweep_NoSignatureSkipped(t *testing.T) {
	h := newHarness(t)
	h.seedExiting(t, "stuck-6", "", "", 90*time.Second)

	h.mgr.Sweep(context.Background())

	if got := h.get(t, "stuck-6").Status; got != domain.StatusExiting {
		t.Errorf("status = %s, want exiting untouched without a signature", got)
	}
}

func TestSweep_SecondPassResolvesAfterIndeterminate(t *testing.T) {
	h := newHarness(t)
	h.seedExiting(t, "stuck-7", "entry-1", "exit-7", 90*time.Second)

	h.rpc.SetTransactionErr(errors.New("node timeout"))
	h.mgr.Sweep(context.Background())
	if got := h.get(t, "stuck-7").Status; got != domain.StatusExiting {
		t.Fatalf("status after indeterminate pass = %s, want exiting", got)
	}

	// Next pass re-checks ground truth instead of reusing the stale answer.
	h.rpc.SetTransactionErr(nil)
	h.now = h.now.Add(time.Minute)
	h.mgr.Sweep(context.Background())

	if got := h.get(t, "stuck-7").Status; got != domain.StatusActive {
		t.Errorf("status = %s, want active once the node answers not-found", got)
	}
}
