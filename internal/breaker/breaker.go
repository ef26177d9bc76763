// Package breaker implements the process-wide trading circuit breaker.
// State is Active ⇄ Tripped → Cooldown → Active. Every admission and
// execution decision reads IsTradingAllowed; the evaluator writes state on
// a rate-limited tick. The breaker compares aggregates, it never computes
// them: the MetricsProvider owns aggregation.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/events"
	"solana-mirror-engine/internal/observability"
	"solana-mirror-engine/internal/storage"
)

// MetricsProvider supplies the three read-only aggregate queries the
// evaluator consumes.
type MetricsProvider interface {
	// PnL24h returns realized PnL in USD over the trailing 24 hours.
	PnL24h(ctx context.Context) (float64, error)

	// ConsecutiveLosses returns the most-recent-first losing streak.
	ConsecutiveLosses(ctx context.Context) (int, error)

	// MaxDrawdownPercent returns the percentage decline from the highest
	// observed equity peak.
	MaxDrawdownPercent(ctx context.Context) (float64, error)
}

// Config holds the breaker thresholds and timers.
type Config struct {
	MaxLoss24hUSD        float64       // trip when 24h loss magnitude reaches this
	MaxConsecutiveLosses int           // trip when the losing streak reaches this
	MaxDrawdownPercent   float64       // trip when drawdown from peak reaches this
	Cooldown             time.Duration // measured from tripped_at
	CheckInterval        time.Duration // minimum spacing between evaluations
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MaxLoss24hUSD:        500,
		MaxConsecutiveLosses: 5,
		MaxDrawdownPercent:   25,
		Cooldown:             30 * time.Minute,
		CheckInterval:        30 * time.Second,
	}
}

// Options configures a CircuitBreaker.
type Options struct {
	Config  Config
	Metrics MetricsProvider
	Audit   storage.AuditStore
	Bus     *events.Bus
	Logger  zerolog.Logger
	Now     func() time.Time // defaults to time.Now
}

// CircuitBreaker is the shared safety interlock. Construct once and share by
// reference; reads are cheap RLock snapshots.
type CircuitBreaker struct {
	cfg     Config
	metrics MetricsProvider
	audit   storage.AuditStore
	bus     *events.Bus
	log     zerolog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	state     domain.BreakerState
	trippedAt *int64 // ms; set iff state != Active
	reason    domain.TripReason
	lastCheck int64 // ms
}

// New creates a CircuitBreaker in the Active state.
func New(opts Options) *CircuitBreaker {
	b := &CircuitBreaker{
		cfg:     opts.Config,
		metrics: opts.Metrics,
		audit:   opts.Audit,
		bus:     opts.Bus,
		log:     opts.Logger.With().Str("component", "breaker").Logger(),
		now:     opts.Now,
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.cfg.CheckInterval <= 0 {
		b.cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	if b.cfg.Cooldown <= 0 {
		b.cfg.Cooldown = DefaultConfig().Cooldown
	}
	b.state = domain.BreakerActive
	return b
}

// IsTradingAllowed reports whether the breaker currently permits execution.
// Non-blocking read; never cached by callers beyond the current decision.
func (b *CircuitBreaker) IsTradingAllowed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == domain.BreakerActive
}

// Snapshot returns a point-in-time copy of breaker state.
func (b *CircuitBreaker) Snapshot() domain.BreakerSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := domain.BreakerSnapshot{
		State:     b.state,
		Reason:    b.reason,
		LastCheck: b.lastCheck,
	}
	if b.trippedAt != nil {
		ts := *b.trippedAt
		snap.TrippedAt = &ts
	}
	return snap
}

// RemainingCooldown returns how long until a Cooldown breaker re-activates,
// measured from tripped_at. Zero when not cooling down.
func (b *CircuitBreaker) RemainingCooldown() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.state != domain.BreakerCooldown || b.trippedAt == nil {
		return 0
	}
	elapsed := time.Duration(b.now().UnixMilli()-*b.trippedAt) * time.Millisecond
	if elapsed >= b.cfg.Cooldown {
		return 0
	}
	return b.cfg.Cooldown - elapsed
}

// Evaluate runs one rate-limited evaluation pass and returns the resulting
// state. Calls inside the check interval return the current state untouched.
// Evaluation order, first match wins: cooldown exit, non-Active
// short-circuit, 24h loss, consecutive losses, drawdown. A metrics query
// failure leaves state unchanged and surfaces the error; the tick still
// counts against the rate limit.
func (b *CircuitBreaker) Evaluate(ctx context.Context) (domain.BreakerState, error) {
	b.mu.Lock()
	nowMs := b.now().UnixMilli()
	if b.lastCheck != 0 && nowMs-b.lastCheck < b.cfg.CheckInterval.Milliseconds() {
		state := b.state
		b.mu.Unlock()
		return state, nil
	}
	b.lastCheck = nowMs
	observability.RecordBreakerEvaluation()

	if b.state == domain.BreakerCooldown {
		if b.trippedAt != nil && nowMs-*b.trippedAt >= b.cfg.Cooldown.Milliseconds() {
			prev := b.state
			b.state = domain.BreakerActive
			b.trippedAt = nil
			b.reason = nil
			b.mu.Unlock()
			observability.UpdateBreakerState(0)
			b.log.Info().Str("previous", string(prev)).Msg("circuit breaker cooldown complete, trading re-enabled")
			b.recordChange(ctx, prev, domain.BreakerActive, domain.ActorSystem, "cooldown complete", events.TypeBreakerReset)
			return domain.BreakerActive, nil
		}
		state := b.state
		b.mu.Unlock()
		return state, nil
	}

	if b.state != domain.BreakerActive {
		state := b.state
		b.mu.Unlock()
		return state, nil
	}
	b.mu.Unlock()

	loss, err := b.metrics.PnL24h(ctx)
	if err != nil {
		return b.Snapshot().State, fmt.Errorf("pnl24h query: %w", err)
	}
	if loss < 0 && -loss >= b.cfg.MaxLoss24hUSD {
		b.trip(ctx, domain.MaxLoss24hReason{LossUSD: loss, ThresholdUSD: b.cfg.MaxLoss24hUSD})
		return domain.BreakerTripped, nil
	}

	streak, err := b.metrics.ConsecutiveLosses(ctx)
	if err != nil {
		return b.Snapshot().State, fmt.Errorf("consecutive losses query: %w", err)
	}
	if streak >= b.cfg.MaxConsecutiveLosses {
		b.trip(ctx, domain.ConsecutiveLossesReason{Count: streak, Threshold: b.cfg.MaxConsecutiveLosses})
		return domain.BreakerTripped, nil
	}

	dd, err := b.metrics.MaxDrawdownPercent(ctx)
	if err != nil {
		return b.Snapshot().State, fmt.Errorf("drawdown query: %w", err)
	}
	if dd >= b.cfg.MaxDrawdownPercent {
		b.trip(ctx, domain.MaxDrawdownReason{DrawdownPct: dd, ThresholdPct: b.cfg.MaxDrawdownPercent})
		return domain.BreakerTripped, nil
	}

	return domain.BreakerActive, nil
}

// EnterCooldown moves a Tripped breaker into Cooldown. Idempotent: a breaker
// already cooling down or active is left untouched. The cooldown clock runs
// from tripped_at, not from this call.
func (b *CircuitBreaker) EnterCooldown(ctx context.Context) {
	b.mu.Lock()
	if b.state != domain.BreakerTripped {
		b.mu.Unlock()
		return
	}
	prev := b.state
	b.state = domain.BreakerCooldown
	b.mu.Unlock()

	observability.UpdateBreakerState(2)
	b.log.Info().Dur("cooldown", b.cfg.Cooldown).Msg("circuit breaker entering cooldown")
	b.recordChange(ctx, prev, domain.BreakerCooldown, domain.ActorSystem, "post-trip cooldown", events.TypeBreakerCooldown)
}

// ForceTrip trips the breaker regardless of the evaluation timer, recording
// the acting principal.
func (b *CircuitBreaker) ForceTrip(ctx context.Context, actor, reason string) {
	b.mu.Lock()
	prev := b.state
	b.state = domain.BreakerTripped
	ts := b.now().UnixMilli()
	b.trippedAt = &ts
	b.reason = domain.ManualTripReason{Reason: reason}
	b.mu.Unlock()

	observability.RecordBreakerTrip(string(domain.TripCauseManual))
	b.log.Warn().Str("actor", actor).Str("reason", reason).Msg("circuit breaker force-tripped")
	b.recordChange(ctx, prev, domain.BreakerTripped, actor, "manual trip: "+reason, events.TypeBreakerTripped)
}

// ForceReset re-activates the breaker regardless of cooldown, recording the
// acting principal. No-op when already Active.
func (b *CircuitBreaker) ForceReset(ctx context.Context, actor, reason string) {
	b.mu.Lock()
	if b.state == domain.BreakerActive {
		b.mu.Unlock()
		return
	}
	prev := b.state
	b.state = domain.BreakerActive
	b.trippedAt = nil
	b.reason = nil
	b.mu.Unlock()

	observability.UpdateBreakerState(0)
	b.log.Warn().Str("actor", actor).Str("reason", reason).Msg("circuit breaker force-reset")
	b.recordChange(ctx, prev, domain.BreakerActive, actor, "manual reset: "+reason, events.TypeBreakerReset)
}

// trip flips to Tripped and records reason and timestamp. The transition to
// Cooldown happens separately through EnterCooldown.
func (b *CircuitBreaker) trip(ctx context.Context, reason domain.TripReason) {
	b.mu.Lock()
	prev := b.state
	b.state = domain.BreakerTripped
	ts := b.now().UnixMilli()
	b.trippedAt = &ts
	b.reason = reason
	b.mu.Unlock()

	observability.RecordBreakerTrip(string(reason.Cause()))
	b.log.Error().
		Str("cause", string(reason.Cause())).
		Str("reason", reason.String()).
		Msg("circuit breaker tripped, trading halted")
	b.recordChange(ctx, prev, domain.BreakerTripped, domain.ActorSystem, reason.String(), events.TypeBreakerTripped)
}

// recordChange writes the audit entry and publishes the event. Neither may
// affect trading control flow, so failures are logged and dropped.
func (b *CircuitBreaker) recordChange(ctx context.Context, from, to domain.BreakerState, actor, reason string, eventType events.Type) {
	if b.audit != nil {
		entry := &domain.AuditEntry{
			ID:       uuid.NewString(),
			Key:      domain.AuditKeyCircuitBreaker,
			OldValue: string(from),
			NewValue: string(to),
			Actor:    actor,
			Reason:   reason,
		}
		if err := b.audit.Append(ctx, entry); err != nil {
			b.log.Error().Err(err).Msg("circuit breaker audit write failed")
		}
	}
	if b.bus != nil {
		b.bus.Publish(events.Event{
			Type: eventType,
			Data: map[string]interface{}{
				"from":   string(from),
				"to":     string(to),
				"actor":  actor,
				"reason": reason,
			},
		})
	}
}
