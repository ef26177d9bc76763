// Package engine runs the execution side of the mirror: a single consumer
// popping admitted signals in priority order, the circuit-breaker evaluation
// ticker, the retry lane for failed entries, and the shutdown drain that
// dead-letters whatever never got executed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/events"
	"solana-mirror-engine/internal/observability"
	"solana-mirror-engine/internal/queue"
	"solana-mirror-engine/internal/storage"
)

// Gate is the circuit-breaker surface the engine drives.
type Gate interface {
	IsTradingAllowed() bool
	Evaluate(ctx context.Context) (domain.BreakerState, error)
	EnterCooldown(ctx context.Context)
}

// TradeExecutor runs one admitted signal to an outcome.
type TradeExecutor interface {
	Execute(ctx context.Context, sig *domain.Signal) (*domain.Trade, error)
}

// Config tunes the consumer and the evaluation cadence.
type Config struct {
	// MaxRetries bounds how many times a failed entry re-enters its lane
	// before Retry→DeadLetter.
	MaxRetries int

	// PollInterval paces the consumer when the queue is empty or trading
	// is halted.
	PollInterval time.Duration

	// BreakerTick is the evaluation cadence. The breaker rate-limits
	// itself, so ticking faster than its check interval is harmless.
	BreakerTick time.Duration
}

// DefaultConfig returns the tuning used in production.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		PollInterval: 100 * time.Millisecond,
		BreakerTick:  30 * time.Second,
	}
}

// Options wires the engine's collaborators.
type Options struct {
	Config   Config
	Queue    *queue.PriorityQueue
	Breaker  Gate
	Executor TradeExecutor
	Trades   storage.TradeStore
	Audit    storage.AuditStore
	Bus      *events.Bus
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Engine owns the consumer and evaluation goroutines. There is exactly one
// consumer: signals execute one at a time so failover bookkeeping in the
// executor never races.
type Engine struct {
	cfg      Config
	queue    *queue.PriorityQueue
	breaker  Gate
	executor TradeExecutor
	trades   storage.TradeStore
	audit    storage.AuditStore
	bus      *events.Bus
	log      zerolog.Logger
	now      func() time.Time
}

// drainTimeout bounds the dead-letter writes after the loops have stopped;
// the parent context is already cancelled by then.
const drainTimeout = 10 * time.Second

// New builds an Engine. Zero config fields fall back to defaults.
func New(opts Options) *Engine {
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BreakerTick <= 0 {
		cfg.BreakerTick = def.BreakerTick
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:      cfg,
		queue:    opts.Queue,
		breaker:  opts.Breaker,
		executor: opts.Executor,
		trades:   opts.Trades,
		audit:    opts.Audit,
		bus:      opts.Bus,
		log:      opts.Logger.With().Str("component", "engine").Logger(),
		now:      now,
	}
}

// Run blocks until ctx is cancelled, then drains the queue so nothing stays
// silently parked in a lane.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info().
		Int("max_retries", e.cfg.MaxRetries).
		Dur("poll_interval", e.cfg.PollInterval).
		Dur("breaker_tick", e.cfg.BreakerTick).
		Msg("engine started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.evaluateLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		e.consumeLoop(ctx)
	}()
	wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	e.drain(drainCtx)

	e.log.Info().Msg("engine stopped")
	return nil
}

// evaluateLoop ticks the breaker. A Tripped verdict is immediately moved to
// Cooldown so the cooldown clock (anchored at tripped_at) is the only wait.
func (e *Engine) evaluateLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.BreakerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, err := e.breaker.Evaluate(ctx)
			if err != nil {
				e.log.Error().Err(err).Msg("breaker evaluation failed")
				continue
			}
			if state == domain.BreakerTripped {
				e.breaker.EnterCooldown(ctx)
			}
		}
	}
}

// consumeLoop is the single consumer. Pop is non-blocking; pacing lives
// here. A halted breaker parks the whole queue rather than burning trades.
func (e *Engine) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !e.breaker.IsTradingAllowed() {
			e.pause(ctx)
			continue
		}

		sig := e.queue.Pop()
		if sig == nil {
			e.pause(ctx)
			continue
		}
		observability.RecordQueuePop(string(sig.Strategy), e.queue.Depths().Total)
		e.handle(ctx, sig)
	}
}

func (e *Engine) pause(ctx context.Context) {
	t := time.NewTimer(e.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// handle runs one signal and routes its failure. Exits resolve through the
// executor (reopen) or the recovery manager (stuck Exiting); only failed
// entries enter the retry lane.
func (e *Engine) handle(ctx context.Context, sig *domain.Signal) {
	trade, err := e.executor.Execute(ctx, sig)
	if err == nil {
		return
	}

	var rej *domain.Rejection
	rejected := errors.As(err, &rej)

	if sig.Action == domain.ActionSell {
		evt := e.log.Warn().Str("trade_uuid", sig.TradeUUID).Str("token", sig.Token).Err(err)
		if trade != nil {
			evt = evt.Str("status", string(trade.Status))
		}
		evt.Msg("exit did not close")
		return
	}

	if trade == nil || trade.Status != domain.StatusFailed {
		e.log.Error().
			Str("trade_uuid", sig.TradeUUID).
			Bool("rejected", rejected).
			Err(err).
			Msg("entry failed outside the retry lane")
		return
	}

	e.retryOrBury(ctx, sig, trade)
}

// retryOrBury re-queues a failed entry with its retry count bumped, or
// walks it Failed→Retry→DeadLetter once the budget is spent.
func (e *Engine) retryOrBury(ctx context.Context, sig *domain.Signal, trade *domain.Trade) {
	if trade.RetryCount < e.cfg.MaxRetries {
		attempt := trade.RetryCount + 1
		retried, err := e.trades.UpdateStatus(ctx, trade.TradeUUID, domain.StatusRetry, storage.StatusUpdate{
			RetryCount: &attempt,
		})
		if err != nil {
			e.log.Error().Err(err).Str("trade_uuid", trade.TradeUUID).Msg("failed to mark trade for retry")
			return
		}
		if err := e.queue.Push(sig); err != nil {
			e.bury(ctx, retried, fmt.Sprintf("requeue failed: %v", err))
			return
		}
		e.log.Info().
			Str("trade_uuid", trade.TradeUUID).
			Str("token", trade.Token).
			Int("attempt", attempt).
			Int("max_retries", e.cfg.MaxRetries).
			Msg("entry scheduled for retry")
		return
	}

	retried, err := e.trades.UpdateStatus(ctx, trade.TradeUUID, domain.StatusRetry, storage.StatusUpdate{})
	if err != nil {
		e.log.Error().Err(err).Str("trade_uuid", trade.TradeUUID).Msg("failed to move exhausted trade to retry")
		return
	}
	e.bury(ctx, retried, fmt.Sprintf("retries exhausted after %d attempts", trade.RetryCount+1))
}

// drain empties every lane and dead-letters the entry trades that never
// executed. Exit signals carry no record of their own; the open position
// stays Active for a later exit.
func (e *Engine) drain(ctx context.Context) {
	drained := e.queue.Drain()
	if len(drained) == 0 {
		return
	}

	e.log.Warn().Int("count", len(drained)).Msg("draining queue at shutdown")
	for _, sig := range drained {
		if sig.Action == domain.ActionSell {
			e.log.Warn().
				Str("trade_uuid", sig.TradeUUID).
				Str("token", sig.Token).
				Msg("exit signal dropped at shutdown, position stays open")
			continue
		}
		trade, err := e.trades.GetByUUID(ctx, sig.TradeUUID)
		if err != nil {
			e.log.Error().Err(err).Str("trade_uuid", sig.TradeUUID).Msg("drained trade not found")
			continue
		}
		e.bury(ctx, trade, "engine shutdown before execution")
	}
}

// bury dead-letters a trade with an audit entry and a broadcast. The caller
// has already walked the record to a status with a DeadLetter edge.
func (e *Engine) bury(ctx context.Context, trade *domain.Trade, reason string) {
	from := trade.Status
	if _, err := e.trades.UpdateStatus(ctx, trade.TradeUUID, domain.StatusDeadLetter, storage.StatusUpdate{
		ErrorMessage: &reason,
	}); err != nil {
		e.log.Error().Err(err).Str("trade_uuid", trade.TradeUUID).Msg("failed to dead-letter trade")
		return
	}

	e.log.Warn().
		Str("trade_uuid", trade.TradeUUID).
		Str("token", trade.Token).
		Str("from", string(from)).
		Str("reason", reason).
		Msg("trade dead-lettered")

	if e.audit != nil {
		err := e.audit.Append(ctx, &domain.AuditEntry{
			ID:        uuid.NewString(),
			Key:       domain.AuditKeyDeadLetter,
			OldValue:  string(from),
			NewValue:  string(domain.StatusDeadLetter),
			Actor:     domain.ActorSystem,
			Reason:    reason + ": " + trade.TradeUUID,
			CreatedAt: e.now().UnixMilli(),
		})
		if err != nil {
			e.log.Error().Err(err).Msg("failed to append dead-letter audit entry")
		}
	}
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type:      events.TypeTradeDeadLetter,
			Timestamp: e.now(),
			Data: map[string]interface{}{
				"trade_uuid": trade.TradeUUID,
				"token":      trade.Token,
				"reason":     reason,
			},
		})
	}
}
