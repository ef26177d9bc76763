// Package admission validates inbound signals and admits them into the
// priority queue. Every rejection is explicit and machine-readable; nothing
// is silently dropped. Admission is the only writer of Pending records and
// the only caller of queue.Push.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/events"
	"solana-mirror-engine/internal/observability"
	"solana-mirror-engine/internal/queue"
	"solana-mirror-engine/internal/storage"
)

// Gate is the breaker surface admission consults. A tripped gate refuses
// every signal before any durable write happens.
type Gate interface {
	IsTradingAllowed() bool
}

// Config holds admission tuning parameters.
type Config struct {
	// SignalTTL rejects signals older than this at arrival. Zero disables
	// the check.
	SignalTTL time.Duration

	// RegistryTTL is how long a trade uuid stays marked in the fast-path
	// duplicate registry.
	RegistryTTL time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SignalTTL:   30 * time.Second,
		RegistryTTL: 24 * time.Hour,
	}
}

// Options wires a Service's collaborators.
type Options struct {
	Config   Config
	Queue    *queue.PriorityQueue
	Trades   storage.TradeStore
	Registry storage.SignalRegistry
	Audit    storage.AuditStore
	Breaker  Gate
	Bus      *events.Bus
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Service admits signals into the engine.
type Service struct {
	cfg      Config
	queue    *queue.PriorityQueue
	trades   storage.TradeStore
	registry storage.SignalRegistry
	audit    storage.AuditStore
	breaker  Gate
	bus      *events.Bus
	log      zerolog.Logger
	now      func() time.Time
}

// New creates an admission Service.
func New(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:      opts.Config,
		queue:    opts.Queue,
		trades:   opts.Trades,
		registry: opts.Registry,
		audit:    opts.Audit,
		breaker:  opts.Breaker,
		bus:      opts.Bus,
		log:      opts.Logger.With().Str("component", "admission").Logger(),
		now:      now,
	}
}

// Admit validates one signal and, if it passes every gate, hands it to its
// queue lane. Buys get a durable Pending record first and move to Queued on
// success; a queue rejection dead-letters the record. Exits reference the
// open position and carry no record of their own. A returned error is
// always a *domain.Rejection unless storage itself failed.
func (s *Service) Admit(ctx context.Context, sig *domain.Signal) error {
	observability.RecordSignalReceived(actionLabel(sig), strategyLabel(sig))

	if rej := validate(sig); rej != nil {
		return s.reject(sig, rej)
	}
	if s.cfg.SignalTTL > 0 && sig.Timestamp > 0 {
		age := s.now().UnixMilli() - sig.Timestamp
		if age > s.cfg.SignalTTL.Milliseconds() {
			return s.reject(sig, &domain.Rejection{
				Code:   domain.ReasonSignalExpired,
				Detail: fmt.Sprintf("signal is %dms old, ttl %s", age, s.cfg.SignalTTL),
			})
		}
	}
	if !s.breaker.IsTradingAllowed() {
		return s.reject(sig, &domain.Rejection{
			Code:   domain.ReasonTradingHalted,
			Detail: "circuit breaker is not active",
		})
	}

	if s.registry != nil {
		fresh, err := s.registry.MarkIfNew(ctx, sig.TradeUUID, s.cfg.RegistryTTL)
		if err != nil {
			// The durable store below stays authoritative for duplicates.
			s.log.Warn().Err(err).Str("trade_uuid", sig.TradeUUID).Msg("signal registry unavailable")
		} else if !fresh {
			return s.reject(sig, &domain.Rejection{
				Code:   domain.ReasonDuplicate,
				Detail: sig.TradeUUID,
			})
		}
	}

	if sig.Action == domain.ActionSell {
		return s.admitExit(ctx, sig)
	}
	return s.admitEntry(ctx, sig)
}

// admitEntry creates the durable Pending record, then enqueues.
func (s *Service) admitEntry(ctx context.Context, sig *domain.Signal) error {
	trade := &domain.Trade{
		TradeUUID:       sig.TradeUUID,
		WalletAddress:   sig.WalletAddress,
		Token:           sig.Token,
		Strategy:        sig.Strategy,
		Action:          sig.Action,
		Amount:          sig.Amount,
		Status:          domain.StatusPending,
		SourceSignature: sig.SourceSignature,
		CreatedAt:       s.now().UnixMilli(),
	}
	if err := s.trades.Insert(ctx, trade); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return s.reject(sig, &domain.Rejection{
				Code:   domain.ReasonDuplicate,
				Detail: sig.TradeUUID,
				Err:    err,
			})
		}
		return fmt.Errorf("insert trade: %w", err)
	}

	if err := s.queue.Push(sig); err != nil {
		s.deadLetter(ctx, trade, err)
		return s.reject(sig, queueRejection(err))
	}

	if _, err := s.trades.UpdateStatus(ctx, sig.TradeUUID, domain.StatusQueued, storage.StatusUpdate{}); err != nil {
		s.log.Error().Err(err).Str("trade_uuid", sig.TradeUUID).Msg("failed to mark trade queued")
	}

	s.accepted(sig)
	return nil
}

// admitExit enqueues an exit against the open position. No new record: the
// exit drives the existing trade's lifecycle.
func (s *Service) admitExit(ctx context.Context, sig *domain.Signal) error {
	if _, err := s.trades.FindActiveByToken(ctx, sig.Token); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.reject(sig, &domain.Rejection{
				Code:   domain.ReasonNoOpenPosition,
				Detail: sig.Token,
				Err:    err,
			})
		}
		return fmt.Errorf("find open position: %w", err)
	}

	if err := s.queue.Push(sig); err != nil {
		return s.reject(sig, queueRejection(err))
	}

	s.accepted(sig)
	return nil
}

// validate applies the signal's own invariants.
func validate(sig *domain.Signal) *domain.Rejection {
	bad := func(detail string) *domain.Rejection {
		return &domain.Rejection{Code: domain.ReasonInvalidSignal, Detail: detail}
	}
	switch {
	case sig == nil:
		return bad("nil signal")
	case sig.TradeUUID == "":
		return bad("missing trade_uuid")
	case !sig.Strategy.Valid():
		return bad("unknown strategy " + string(sig.Strategy))
	case !sig.Action.Valid():
		return bad("unknown action " + string(sig.Action))
	case sig.Token == "":
		return bad("missing token")
	case sig.WalletAddress == "":
		return bad("missing wallet address")
	case !sig.Amount.IsPositive():
		return bad("amount must be positive, got " + sig.Amount.String())
	case sig.Strategy == domain.StrategyExit && sig.Action != domain.ActionSell:
		return bad("exit strategy requires a sell action")
	}
	return nil
}

// queueRejection maps queue sentinels onto rejection codes, keeping the
// sentinel wrapped for errors.Is.
func queueRejection(err error) *domain.Rejection {
	code := domain.ReasonQueueFull
	if errors.Is(err, queue.ErrLoadShedding) {
		code = domain.ReasonLoadShed
	}
	return &domain.Rejection{Code: code, Detail: err.Error(), Err: err}
}

// deadLetter abandons a Pending record whose signal could not be queued.
func (s *Service) deadLetter(ctx context.Context, trade *domain.Trade, cause error) {
	msg := cause.Error()
	if _, err := s.trades.UpdateStatus(ctx, trade.TradeUUID, domain.StatusDeadLetter, storage.StatusUpdate{
		ErrorMessage: &msg,
	}); err != nil {
		s.log.Error().Err(err).Str("trade_uuid", trade.TradeUUID).Msg("failed to dead-letter trade")
		return
	}

	if s.audit != nil {
		err := s.audit.Append(ctx, &domain.AuditEntry{
			ID:        uuid.NewString(),
			Key:       domain.AuditKeyDeadLetter,
			OldValue:  string(domain.StatusPending),
			NewValue:  string(domain.StatusDeadLetter),
			Actor:     domain.ActorSystem,
			Reason:    msg + ": " + trade.TradeUUID,
			CreatedAt: s.now().UnixMilli(),
		})
		if err != nil {
			s.log.Error().Err(err).Msg("failed to append dead-letter audit entry")
		}
	}
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:      events.TypeTradeDeadLetter,
			Timestamp: s.now(),
			Data: map[string]interface{}{
				"trade_uuid": trade.TradeUUID,
				"token":      trade.Token,
				"reason":     msg,
			},
		})
	}
}

func (s *Service) accepted(sig *domain.Signal) {
	observability.RecordSignalAdmitted(string(sig.Strategy))
	depths := s.queue.Depths()
	observability.RecordQueuePush(string(sig.Strategy), depths.Total)
	s.log.Info().
		Str("trade_uuid", sig.TradeUUID).
		Str("token", sig.Token).
		Str("strategy", string(sig.Strategy)).
		Str("action", string(sig.Action)).
		Str("amount_sol", sig.Amount.String()).
		Int("queue_depth", depths.Total).
		Msg("signal admitted")
}

func (s *Service) reject(sig *domain.Signal, rej *domain.Rejection) error {
	observability.RecordSignalRejected(string(rej.Code))
	if rej.Code == domain.ReasonLoadShed && sig != nil {
		observability.RecordQueueShed(string(sig.Strategy))
	}
	evt := s.log.Warn().Str("reason", string(rej.Code)).Str("detail", rej.Detail)
	if sig != nil {
		evt = evt.Str("trade_uuid", sig.TradeUUID).Str("token", sig.Token)
	}
	evt.Msg("signal rejected")
	return rej
}

func actionLabel(sig *domain.Signal) string {
	if sig == nil {
		return "unknown"
	}
	return string(sig.Action)
}

func strategyLabel(sig *domain.Signal) string {
	if sig == nil {
		return "unknown"
	}
	return string(sig.Strategy)
}
