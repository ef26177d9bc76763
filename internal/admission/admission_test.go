package admission

import (
	"context"
	"errors"
	"fmt"
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

const (
	testMint   = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	testWallet = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
)

type allowAll struct{}

func (allowAll) IsTradingAllowed() bool { return true }

type denyAll struct{}

func (denyAll) IsTradingAllowed() bool { return false }

// brokenRegistry fails every call, forcing admission onto the durable store
// for duplicate detection.
type brokenRegistry struct{}

func (brokenRegistry) MarkIfNew(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("registry down")
}

type harness struct {
	svc    *Service
	queue  *queue.PriorityQueue
	trades *memory.TradeStore
	audit  *memory.AuditStore
	bus    *events.Bus
	now    time.Time
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		queue:  queue.New(4, 50),
		trades: memory.NewTradeStore(),
		audit:  memory.NewAuditStore(),
		bus:    events.NewBus(),
		now:    time.UnixMilli(1_700_000_000_000),
	}
	opts := Options{
		Config:   DefaultConfig(),
		Queue:    h.queue,
		Trades:   h.trades,
		Registry: memory.NewSignalRegistry(),
		Audit:    h.audit,
		Breaker:  allowAll{},
		Bus:      h.bus,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return h.now },
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.svc = New(opts)
	return h
}

func buySignal(uuid string) *domain.Signal {
	return &domain.Signal{
		TradeUUID:     uuid,
		Strategy:      domain.StrategyConservative,
		Action:        domain.ActionBuy,
		Token:         testMint,
		Amount:        decimal.NewFromFloat(0.5),
		WalletAddress: testWallet,
		Timestamp:     1_700_000_000_000,
	}
}

func exitSignal(uuid string) *domain.Signal {
	sig := buySignal(uuid)
	sig.Strategy = domain.StrategyExit
	sig.Action = domain.ActionSell
	return sig
}

func wantRejection(t *testing.T, err error, code domain.ReasonCode) *domain.Rejection {
	t.Helper()
	var rej *domain.Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rej.Code != code {
		t.Fatalf("rejection code = %s, want %s", rej.Code, code)
	}
	return rej
}

func TestAdmitBuyCreatesQueuedTrade(t *testing.T) {
	h := newHarness(t, nil)
	sig := buySignal("buy-1")

	if err := h.svc.Admit(context.Background(), sig); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	trade, err := h.trades.GetByUUID(context.Background(), "buy-1")
	if err != nil {
		t.Fatalf("GetByUUID: %v", err)
	}
	if trade.Status != domain.StatusQueued {
		t.Fatalf("status = %s, want %s", trade.Status, domain.StatusQueued)
	}
	if trade.Token != testMint || trade.Action != domain.ActionBuy {
		t.Fatalf("trade fields not copied from signal: %+v", trade)
	}
	if got := h.queue.Pop(); got == nil || got.TradeUUID != "buy-1" {
		t.Fatalf("queue did not hold the admitted signal, got %+v", got)
	}
}

func TestAdmitRejectsInvalidSignals(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.Signal)
	}{
		{"missing uuid", func(s *domain.Signal) { s.TradeUUID = "" }},
		{"unknown strategy", func(s *domain.Signal) { s.Strategy = "yolo" }},
		{"unknown action", func(s *domain.Signal) { s.Action = "hold" }},
		{"missing token", func(s *domain.Signal) { s.Token = "" }},
		{"missing wallet", func(s *domain.Signal) { s.WalletAddress = "" }},
		{"zero amount", func(s *domain.Signal) { s.Amount = decimal.Zero }},
		{"negative amount", func(s *domain.Signal) { s.Amount = decimal.NewFromInt(-1) }},
		{"exit strategy buying", func(s *domain.Signal) {
			s.Strategy = domain.StrategyExit
			s.Action = domain.ActionBuy
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			sig := buySignal("invalid-1")
			tc.mutate(sig)

			err := h.svc.Admit(context.Background(), sig)
			wantRejection(t, err, domain.ReasonInvalidSignal)

			if _, err := h.trades.GetByUUID(context.Background(), "invalid-1"); !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("invalid signal must not create a trade record, got %v", err)
			}
			if got := h.queue.Pop(); got != nil {
				t.Fatalf("invalid signal reached the queue: %+v", got)
			}
		})
	}
}

func TestAdmitRejectsNilSignal(t *testing.T) {
	h := newHarness(t, nil)
	err := h.svc.Admit(context.Background(), nil)
	wantRejection(t, err, domain.ReasonInvalidSignal)
}

func TestAdmitRejectsExpiredSignal(t *testing.T) {
	h := newHarness(t, nil)
	sig := buySignal("stale-1")
	sig.Timestamp = h.now.Add(-time.Minute).UnixMilli()

	err := h.svc.Admit(context.Background(), sig)
	wantRejection(t, err, domain.ReasonSignalExpired)

	fresh := buySignal("fresh-1")
	fresh.Timestamp = h.now.Add(-time.Second).UnixMilli()
	if err := h.svc.Admit(context.Background(), fresh); err != nil {
		t.Fatalf("signal within ttl rejected: %v", err)
	}
}

func TestAdmitRejectsWhenTradingHalted(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Breaker = denyAll{} })

	err := h.svc.Admit(context.Background(), buySignal("halted-1"))
	wantRejection(t, err, domain.ReasonTradingHalted)

	if _, err := h.trades.GetByUUID(context.Background(), "halted-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("halted admission must not write a trade record")
	}
}

func TestAdmitRejectsDuplicateViaRegistry(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.svc.Admit(context.Background(), buySignal("dup-1")); err != nil {
		t.Fatalf("first Admit: %v", err)
	}
	err := h.svc.Admit(context.Background(), buySignal("dup-1"))
	wantRejection(t, err, domain.ReasonDuplicate)
}

func TestRegistryOutageFallsThroughToStore(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Registry = brokenRegistry{} })

	if err := h.svc.Admit(context.Background(), buySignal("dup-2")); err != nil {
		t.Fatalf("registry outage must not block admission: %v", err)
	}
	err := h.svc.Admit(context.Background(), buySignal("dup-2"))
	rej := wantRejection(t, err, domain.ReasonDuplicate)
	if !errors.Is(rej, storage.ErrDuplicateKey) {
		t.Fatalf("store duplicate should wrap ErrDuplicateKey, got %v", rej.Err)
	}
}

func TestQueueFullDeadLettersTheTrade(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Queue = queue.New(1, 100) })
	h.queue = h.svc.queue

	deadLettered := make(chan events.Event, 1)
	h.bus.Subscribe(events.TypeTradeDeadLetter, func(e events.Event) { deadLettered <- e })

	if err := h.svc.Admit(context.Background(), buySignal("fill-1")); err != nil {
		t.Fatalf("Admit fill: %v", err)
	}
	err := h.svc.Admit(context.Background(), buySignal("over-1"))
	rej := wantRejection(t, err, domain.ReasonQueueFull)
	if !errors.Is(rej, queue.ErrQueueFull) {
		t.Fatalf("rejection should wrap ErrQueueFull, got %v", rej.Err)
	}

	trade, getErr := h.trades.GetByUUID(context.Background(), "over-1")
	if getErr != nil {
		t.Fatalf("GetByUUID: %v", getErr)
	}
	if trade.Status != domain.StatusDeadLetter {
		t.Fatalf("status = %s, want %s", trade.Status, domain.StatusDeadLetter)
	}
	if trade.ErrorMessage == "" {
		t.Fatal("dead-lettered trade should record the queue error")
	}

	entries, _ := h.audit.ListByKey(context.Background(), domain.AuditKeyDeadLetter, 10)
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}

	select {
	case e := <-deadLettered:
		if e.Data["trade_uuid"] != "over-1" {
			t.Fatalf("event trade_uuid = %v", e.Data["trade_uuid"])
		}
	case <-time.After(time.Second):
		t.Fatal("no dead-letter event published")
	}
}

func TestAggressiveShedWhileConservativeAdmitted(t *testing.T) {
	h := newHarness(t, nil) // capacity 4, shed at depth 2

	for i := 0; i < 2; i++ {
		if err := h.svc.Admit(context.Background(), buySignal(fmt.Sprintf("fill-%d", i))); err != nil {
			t.Fatalf("Admit fill-%d: %v", i, err)
		}
	}

	shed := buySignal("shed-1")
	shed.Strategy = domain.StrategyAggressive
	err := h.svc.Admit(context.Background(), shed)
	rej := wantRejection(t, err, domain.ReasonLoadShed)
	if !errors.Is(rej, queue.ErrLoadShedding) {
		t.Fatalf("rejection should wrap ErrLoadShedding, got %v", rej.Err)
	}

	trade, getErr := h.trades.GetByUUID(context.Background(), "shed-1")
	if getErr != nil {
		t.Fatalf("GetByUUID: %v", getErr)
	}
	if trade.Status != domain.StatusDeadLetter {
		t.Fatalf("shed trade status = %s, want %s", trade.Status, domain.StatusDeadLetter)
	}

	if err := h.svc.Admit(context.Background(), buySignal("keep-1")); err != nil {
		t.Fatalf("conservative rejected below capacity: %v", err)
	}
}

func TestExitRequiresOpenPosition(t *testing.T) {
	h := newHarness(t, nil)

	err := h.svc.Admit(context.Background(), exitSignal("exit-1"))
	wantRejection(t, err, domain.ReasonNoOpenPosition)

	if got := h.queue.Pop(); got != nil {
		t.Fatalf("positionless exit reached the queue: %+v", got)
	}
}

func TestExitAdmittedAgainstOpenPosition(t *testing.T) {
	h := newHarness(t, nil)
	seedActive(t, h, "pos-1")

	if err := h.svc.Admit(context.Background(), exitSignal("exit-2")); err != nil {
		t.Fatalf("Admit exit: %v", err)
	}

	// The exit rides the existing position's record; it gets none of its own.
	if _, err := h.trades.GetByUUID(context.Background(), "exit-2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("exit must not create a trade record, got %v", err)
	}
	got := h.queue.Pop()
	if got == nil || got.TradeUUID != "exit-2" {
		t.Fatalf("queue did not hold the exit, got %+v", got)
	}
	if got.Strategy != domain.StrategyExit {
		t.Fatalf("exit lane = %s", got.Strategy)
	}
}

func TestExitOutranksEarlierBuys(t *testing.T) {
	h := newHarness(t, nil)
	seedActive(t, h, "pos-2")

	if err := h.svc.Admit(context.Background(), buySignal("buy-first")); err != nil {
		t.Fatalf("Admit buy: %v", err)
	}
	if err := h.svc.Admit(context.Background(), exitSignal("exit-later")); err != nil {
		t.Fatalf("Admit exit: %v", err)
	}

	if got := h.queue.Pop(); got == nil || got.TradeUUID != "exit-later" {
		t.Fatalf("first pop = %+v, want the exit", got)
	}
	if got := h.queue.Pop(); got == nil || got.TradeUUID != "buy-first" {
		t.Fatalf("second pop = %+v, want the buy", got)
	}
}

func seedActive(t *testing.T, h *harness, uuid string) {
	t.Helper()
	ctx := context.Background()
	if err := h.trades.Insert(ctx, &domain.Trade{
		TradeUUID:     uuid,
		WalletAddress: testWallet,
		Token:         testMint,
		Strategy:      domain.StrategyConservative,
		Action:        domain.ActionBuy,
		Amount:        decimal.NewFromFloat(0.5),
		Status:        domain.StatusPending,
		CreatedAt:     h.now.UnixMilli(),
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	for _, st := range []domain.TradeStatus{domain.StatusQueued, domain.StatusExecuting, domain.StatusActive} {
		if _, err := h.trades.UpdateStatus(ctx, uuid, st, storage.StatusUpdate{}); err != nil {
			t.Fatalf("UpdateStatus(%s): %v", st, err)
		}
	}
}
