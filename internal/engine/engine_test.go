package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/events"
	"solana-mirror-engine/internal/queue"
	"solana-mirror-engine/internal/storage"
	"solana-mirror-engine/internal/storage/memory"
)

type stubGate struct {
	mu        sync.Mutex
	allowed   bool
	verdict   domain.BreakerState
	evals     int
	cooldowns int
}

func (g *stubGate) IsTradingAllowed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allowed
}

func (g *stubGate) Evaluate(context.Context) (domain.BreakerState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.evals++
	if g.verdict == "" {
		return domain.BreakerActive, nil
	}
	return g.verdict, nil
}

func (g *stubGate) EnterCooldown(context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldowns++
	g.verdict = domain.BreakerCooldown
}

func (g *stubGate) counts() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.evals, g.cooldowns
}

// scriptedExecutor walks the store the way the real executor does and
// fails every attempt, recording execution order.
type scriptedExecutor struct {
	mu     sync.Mutex
	trades storage.TradeStore
	fail   bool
	order  []string
}

func (x *scriptedExecutor) Execute(ctx context.Context, sig *domain.Signal) (*domain.Trade, error) {
	x.mu.Lock()
	x.order = append(x.order, sig.TradeUUID)
	x.mu.Unlock()

	if sig.Action == domain.ActionSell {
		if !x.fail {
			return nil, nil
		}
		return nil, errors.New("exit confirmation pending")
	}

	trade, err := x.trades.UpdateStatus(ctx, sig.TradeUUID, domain.StatusExecuting, storage.StatusUpdate{})
	if err != nil {
		return nil, err
	}
	if !x.fail {
		return x.trades.UpdateStatus(ctx, sig.TradeUUID, domain.StatusActive, storage.StatusUpdate{})
	}
	msg := "rpc submit timeout"
	failed, err := x.trades.UpdateStatus(ctx, trade.TradeUUID, domain.StatusFailed, storage.StatusUpdate{
		ErrorMessage: &msg,
	})
	if err != nil {
		return nil, err
	}
	return failed, errors.New(msg)
}

func (x *scriptedExecutor) executed() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]string, len(x.order))
	copy(out, x.order)
	return out
}

func newSignal(uuid string, strategy domain.Strategy, action domain.Action) *domain.Signal {
	return &domain.Signal{
		TradeUUID:       uuid,
		Strategy:        strategy,
		Action:          action,
		Token:           "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Amount:          decimal.RequireFromString("0.5"),
		WalletAddress:   "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		SourceSignature: "source-" + uuid,
		Timestamp:       time.Now().UnixMilli(),
	}
}

// seedQueued walks a fresh trade to Queued, mirroring admission.
func seedQueued(t *testing.T, trades storage.TradeStore, sig *domain.Signal) {
	t.Helper()
	ctx := context.Background()
	err := trades.Insert(ctx, &domain.Trade{
		TradeUUID:       sig.TradeUUID,
		WalletAddress:   sig.WalletAddress,
		Token:           sig.Token,
		Strategy:        sig.Strategy,
		Action:          sig.Action,
		Amount:          sig.Amount,
		Status:          domain.StatusPending,
		SourceSignature: sig.SourceSignature,
	})
	if err != nil {
		t.Fatalf("insert %s: %v", sig.TradeUUID, err)
	}
	if _, err := trades.UpdateStatus(ctx, sig.TradeUUID, domain.StatusQueued, storage.StatusUpdate{}); err != nil {
		t.Fatalf("queue %s: %v", sig.TradeUUID, err)
	}
}

type fixture struct {
	engine *Engine
	queue  *queue.PriorityQueue
	gate   *stubGate
	exec   *scriptedExecutor
	trades *memory.TradeStore
	audit  *memory.AuditStore
	bus    *events.Bus
}

func newFixture(cfg Config) *fixture {
	q := queue.New(10, 80)
	gate := &stubGate{allowed: true}
	trades := memory.NewTradeStore()
	audit := memory.NewAuditStore()
	bus := events.NewBus()
	exec := &scriptedExecutor{trades: trades}

	eng := New(Options{
		Config:   cfg,
		Queue:    q,
		Breaker:  gate,
		Executor: exec,
		Trades:   trades,
		Audit:    audit,
		Bus:      bus,
		Logger:   zerolog.Nop(),
	})
	return &fixture{engine: eng, queue: q, gate: gate, exec: exec, trades: trades, audit: audit, bus: bus}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestConsumePriorityOrder(t *testing.T) {
	f := newFixture(Config{PollInterval: 5 * time.Millisecond, BreakerTick: time.Hour})

	sigs := []*domain.Signal{
		newSignal("trade-aggr", domain.StrategyAggressive, domain.ActionBuy),
		newSignal("trade-cons", domain.StrategyConservative, domain.ActionBuy),
		newSignal("trade-exit", domain.StrategyExit, domain.ActionSell),
	}
	for _, sig := range sigs {
		if sig.Action == domain.ActionBuy {
			seedQueued(t, f.trades, sig)
		}
		if err := f.queue.Push(sig); err != nil {
			t.Fatalf("push %s: %v", sig.TradeUUID, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.engine.Run(ctx)
	}()

	waitFor(t, func() bool { return len(f.exec.executed()) == 3 }, "3 executions")
	cancel()
	<-done

	got := f.exec.executed()
	want := []string{"trade-exit", "trade-cons", "trade-aggr"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", got, want)
		}
	}
}

func TestHaltedBreakerParksQueue(t *testing.T) {
	f := newFixture(Config{PollInterval: 5 * time.Millisecond, BreakerTick: time.Hour})
	f.gate.allowed = false

	sig := newSignal("trade-a", domain.StrategyConservative, domain.ActionBuy)
	seedQueued(t, f.trades, sig)
	if err := f.queue.Push(sig); err != nil {
		t.Fatalf("push: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.engine.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	if n := len(f.exec.executed()); n != 0 {
		t.Errorf("executed %d signals while halted, want 0", n)
	}
	if got := f.queue.Depths().Total; got != 1 {
		t.Errorf("queue depth = %d, want 1 (signal parked)", got)
	}
	cancel()
	<-done

	// The shutdown drain dead-letters the parked entry.
	trade, err := f.trades.GetByUUID(context.Background(), "trade-a")
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if trade.Status != domain.StatusDeadLetter {
		t.Errorf("status after drain = %s, want dead_letter", trade.Status)
	}
}

func TestRetryThenDeadLetter(t *testing.T) {
	f := newFixture(Config{MaxRetries: 2})
	f.exec.fail = true

	var mu sync.Mutex
	var deadLetters []events.Event
	f.bus.Subscribe(events.TypeTradeDeadLetter, func(e events.Event) {
		mu.Lock()
		deadLetters = append(deadLetters, e)
		mu.Unlock()
	})

	sig := newSignal("trade-a", domain.StrategyConservative, domain.ActionBuy)
	seedQueued(t, f.trades, sig)
	if err := f.queue.Push(sig); err != nil {
		t.Fatalf("push: %v", err)
	}

	ctx := context.Background()

	// Attempt 1 fails: back to the lane with retry_count=1.
	f.engine.handle(ctx, f.queue.Pop())
	trade, err := f.trades.GetByUUID(ctx, "trade-a")
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if trade.Status != domain.StatusRetry || trade.RetryCount != 1 {
		t.Fatalf("after attempt 1: status=%s retry_count=%d, want retry/1", trade.Status, trade.RetryCount)
	}
	if f.queue.Depths().Total != 1 {
		t.Fatalf("signal not requeued after attempt 1")
	}

	// Attempt 2 fails: retry_count=2.
	f.engine.handle(ctx, f.queue.Pop())
	trade, _ = f.trades.GetByUUID(ctx, "trade-a")
	if trade.Status != domain.StatusRetry || trade.RetryCount != 2 {
		t.Fatalf("after attempt 2: status=%s retry_count=%d, want retry/2", trade.Status, trade.RetryCount)
	}

	// Attempt 3 fails with the budget spent: Failed→Retry→DeadLetter.
	f.engine.handle(ctx, f.queue.Pop())
	trade, _ = f.trades.GetByUUID(ctx, "trade-a")
	if trade.Status != domain.StatusDeadLetter {
		t.Fatalf("after attempt 3: status=%s, want dead_letter", trade.Status)
	}
	if trade.RetryCount != 2 {
		t.Errorf("final retry_count = %d, want 2", trade.RetryCount)
	}
	if f.queue.Depths().Total != 0 {
		t.Errorf("queue not empty after dead-letter")
	}

	entries, err := f.audit.ListByKey(ctx, domain.AuditKeyDeadLetter, 0)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dead-letter audit entries = %d, want 1", len(entries))
	}
	if entries[0].OldValue != string(domain.StatusRetry) || entries[0].Actor != domain.ActorSystem {
		t.Errorf("audit entry = %+v, want retry→dead_letter by system", entries[0])
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(deadLetters) == 1
	}, "dead-letter event")
	mu.Lock()
	if got := deadLetters[0].Data["trade_uuid"]; got != "trade-a" {
		t.Errorf("event trade_uuid = %v, want trade-a", got)
	}
	mu.Unlock()
}

func TestExitFailureNotRequeued(t *testing.T) {
	f := newFixture(Config{MaxRetries: 2})
	f.exec.fail = true

	sig := newSignal("trade-exit", domain.StrategyExit, domain.ActionSell)
	if err := f.queue.Push(sig); err != nil {
		t.Fatalf("push: %v", err)
	}

	f.engine.handle(context.Background(), f.queue.Pop())

	if got := f.queue.Depths().Total; got != 0 {
		t.Errorf("queue depth = %d, want 0 (exits never retry)", got)
	}
}

func TestDrainDeadLettersEntriesOnly(t *testing.T) {
	f := newFixture(Config{})

	buyA := newSignal("trade-a", domain.StrategyConservative, domain.ActionBuy)
	buyB := newSignal("trade-b", domain.StrategyAggressive, domain.ActionBuy)
	sell := newSignal("trade-exit", domain.StrategyExit, domain.ActionSell)
	seedQueued(t, f.trades, buyA)
	seedQueued(t, f.trades, buyB)
	for _, sig := range []*domain.Signal{buyA, buyB, sell} {
		if err := f.queue.Push(sig); err != nil {
			t.Fatalf("push %s: %v", sig.TradeUUID, err)
		}
	}

	ctx := context.Background()
	f.engine.drain(ctx)

	if got := f.queue.Depths().Total; got != 0 {
		t.Fatalf("queue depth after drain = %d, want 0", got)
	}
	for _, uuid := range []string{"trade-a", "trade-b"} {
		trade, err := f.trades.GetByUUID(ctx, uuid)
		if err != nil {
			t.Fatalf("get %s: %v", uuid, err)
		}
		if trade.Status != domain.StatusDeadLetter {
			t.Errorf("%s status = %s, want dead_letter", uuid, trade.Status)
		}
	}

	entries, err := f.audit.ListByKey(ctx, domain.AuditKeyDeadLetter, 0)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("audit entries = %d, want 2 (sell has no record)", len(entries))
	}
}

func TestEvaluateLoopEntersCooldown(t *testing.T) {
	f := newFixture(Config{PollInterval: 5 * time.Millisecond, BreakerTick: 5 * time.Millisecond})
	f.gate.verdict = domain.BreakerTripped
	f.gate.allowed = false

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.engine.Run(ctx)
	}()

	waitFor(t, func() bool {
		evals, cooldowns := f.gate.counts()
		return evals >= 1 && cooldowns >= 1
	}, "evaluation and cooldown")
	cancel()
	<-done
}

func TestSuccessfulEntryNotRetried(t *testing.T) {
	f := newFixture(Config{MaxRetries: 2})

	sig := newSignal("trade-a", domain.StrategyConservative, domain.ActionBuy)
	seedQueued(t, f.trades, sig)
	if err := f.queue.Push(sig); err != nil {
		t.Fatalf("push: %v", err)
	}

	ctx := context.Background()
	f.engine.handle(ctx, f.queue.Pop())

	trade, err := f.trades.GetByUUID(ctx, "trade-a")
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if trade.Status != domain.StatusActive {
		t.Errorf("status = %s, want active", trade.Status)
	}
	if f.queue.Depths().Total != 0 {
		t.Errorf("queue not empty after success")
	}
}
