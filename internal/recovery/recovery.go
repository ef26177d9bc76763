// Package recovery reconciles wedged in-flight trades against on-chain
// ground truth. A trade parks in Exiting when the executor submitted an exit
// but never observed its outcome; the manager re-queries the chain on a
// fixed interval and drives the record to where the chain says it belongs.
// Indeterminate answers are never guessed: the trade waits for a pass that
// can actually see the truth.
package recovery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/events"
	"solana-mirror-engine/internal/observability"
	"solana-mirror-engine/internal/solana"
	"solana-mirror-engine/internal/storage"
)

// Config holds recovery manager tuning parameters.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration

	// StuckThreshold is how long a trade must sit in Exiting before the
	// manager considers it wedged.
	StuckThreshold time.Duration

	// SolPriceUSD converts lamport deltas into realized PnL.
	SolPriceUSD float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		StuckThreshold: 60 * time.Second,
		SolPriceUSD:    150,
	}
}

// Options wires a Manager's collaborators.
type Options struct {
	Config   Config
	Trades   storage.TradeStore
	Audit    storage.AuditStore
	Outcomes storage.OutcomeStore
	RPC      solana.RPCClient
	Bus      *events.Bus
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Manager periodically repairs stuck Exiting trades.
type Manager struct {
	cfg      Config
	trades   storage.TradeStore
	audit    storage.AuditStore
	outcomes storage.OutcomeStore
	rpc      solana.RPCClient
	bus      *events.Bus
	log      zerolog.Logger
	now      func() time.Time
}

// New creates a recovery Manager.
func New(opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		cfg:      opts.Config,
		trades:   opts.Trades,
		audit:    opts.Audit,
		outcomes: opts.Outcomes,
		rpc:      opts.RPC,
		bus:      opts.Bus,
		log:      opts.Logger.With().Str("component", "recovery").Logger(),
		now:      now,
	}
}

// Run sweeps on the configured interval until ctx is cancelled. A sweep in
// flight always completes before the next tick is considered.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.log.Info().
		Dur("interval", m.cfg.Interval).
		Dur("stuck_threshold", m.cfg.StuckThreshold).
		Msg("recovery manager started")

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("recovery manager stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass over every stuck Exiting trade.
func (m *Manager) Sweep(ctx context.Context) {
	cutoff := m.now().UnixMilli() - m.cfg.StuckThreshold.Milliseconds()
	stuck, err := m.trades.ListStuckExiting(ctx, cutoff)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to list stuck trades")
		return
	}
	observability.UpdateStuckTrades(len(stuck))
	if len(stuck) == 0 {
		return
	}

	m.log.Info().Int("count", len(stuck)).Msg("resolving stuck trades")
	for _, t := range stuck {
		m.resolve(ctx, t)
	}
}

// resolve drives one stuck trade to what the chain says about it.
func (m *Manager) resolve(ctx context.Context, t *domain.Trade) {
	sig := t.ExitSignature
	if sig == "" {
		sig = t.EntrySignature
	}
	if sig == "" {
		m.log.Warn().Str("trade_uuid", t.TradeUUID).Msg("stuck trade has no signature to resolve")
		observability.RecordTradeRecovered("unresolvable")
		return
	}

	tx, err := m.rpc.GetTransaction(ctx, sig)
	switch solana.ResolveOutcome(tx, err) {
	case solana.OutcomeConfirmed:
		m.closeConfirmed(ctx, t, tx)
	case solana.OutcomeNotFound, solana.OutcomeFailedOnChain:
		// The exit never took effect; the position is still open.
		m.reopen(ctx, t, sig)
	default:
		// Indeterminate: the node could not answer. No action this pass.
		m.log.Debug().
			Str("trade_uuid", t.TradeUUID).
			Str("signature", sig).
			Err(err).
			Msg("ground truth indeterminate, deferring")
		observability.RecordTradeRecovered("indeterminate")
	}
}

func (m *Manager) closeConfirmed(ctx context.Context, t *domain.Trade, exitTx *solana.Transaction) {
	var pnl *float64
	if t.ExitSignature != "" {
		pnl = m.realizedPnL(ctx, t.EntrySignature, exitTx)
	}

	closed, err := m.trades.UpdateStatus(ctx, t.TradeUUID, domain.StatusClosed, storage.StatusUpdate{
		RealizedPnLUSD: pnl,
	})
	if err != nil {
		m.log.Error().Err(err).Str("trade_uuid", t.TradeUUID).Msg("failed to close recovered trade")
		return
	}

	m.appendOutcome(ctx, closed)
	m.recordRecovery(ctx, t, domain.StatusClosed, "exit confirmed on chain")
	observability.RecordTradeRecovered("closed")
	m.log.Info().
		Str("trade_uuid", t.TradeUUID).
		Str("token", t.Token).
		Msg("stuck trade closed from chain state")
}

func (m *Manager) reopen(ctx context.Context, t *domain.Trade, sig string) {
	empty := ""
	msg := "exit did not take effect on chain, position reopened"
	reopened, err := m.trades.UpdateStatus(ctx, t.TradeUUID, domain.StatusActive, storage.StatusUpdate{
		ExitSignature: &empty,
		ErrorMessage:  &msg,
	})
	if err != nil {
		m.log.Error().Err(err).Str("trade_uuid", t.TradeUUID).Msg("failed to reopen recovered trade")
		return
	}

	m.recordRecovery(ctx, t, domain.StatusActive, "exit did not take effect")
	observability.RecordTradeRecovered("reopened")
	m.log.Warn().
		Str("trade_uuid", reopened.TradeUUID).
		Str("token", reopened.Token).
		Str("signature", sig).
		Msg("stuck trade reopened, exit did not take effect")
}

// realizedPnL nets the fee payer's lamport deltas across both legs. The
// exit leg is already resolved; only the entry needs a fetch. Nil when the
// entry cannot be read.
func (m *Manager) realizedPnL(ctx context.Context, entrySig string, exitTx *solana.Transaction) *float64 {
	if entrySig == "" || exitTx == nil || exitTx.Meta == nil {
		return nil
	}
	entry, err := m.rpc.GetTransaction(ctx, entrySig)
	if err != nil || entry == nil || entry.Meta == nil {
		m.log.Warn().Str("signature", entrySig).Msg("entry leg unavailable, closing without pnl")
		return nil
	}
	netLamports := entry.Meta.LamportDelta(0) + exitTx.Meta.LamportDelta(0)
	pnl := float64(netLamports) / 1e9 * m.cfg.SolPriceUSD
	return &pnl
}

func (m *Manager) appendOutcome(ctx context.Context, t *domain.Trade) {
	if m.outcomes == nil || t.RealizedPnLUSD == nil {
		return
	}
	err := m.outcomes.Append(ctx, &domain.TradeOutcome{
		TradeUUID: t.TradeUUID,
		Token:     t.Token,
		Strategy:  t.Strategy,
		PnLUSD:    *t.RealizedPnLUSD,
		ClosedAt:  m.now().UnixMilli(),
	})
	if err != nil {
		m.log.Error().Err(err).Str("trade_uuid", t.TradeUUID).Msg("failed to append recovered outcome")
	}
}

// recordRecovery audits and broadcasts the reconciliation. Failures are
// logged and never affect the repair itself.
func (m *Manager) recordRecovery(ctx context.Context, t *domain.Trade, to domain.TradeStatus, reason string) {
	if m.audit != nil {
		err := m.audit.Append(ctx, &domain.AuditEntry{
			ID:        uuid.NewString(),
			Key:       domain.AuditKeyRecovery,
			OldValue:  string(domain.StatusExiting),
			NewValue:  string(to),
			Actor:     domain.ActorSystem,
			Reason:    reason + ": " + t.TradeUUID,
			CreatedAt: m.now().UnixMilli(),
		})
		if err != nil {
			m.log.Error().Err(err).Msg("failed to append recovery audit entry")
		}
	}
	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type:      events.TypeTradeRecovered,
			Timestamp: m.now(),
			Data: map[string]interface{}{
				"trade_uuid": t.TradeUUID,
				"token":      t.Token,
				"resolution": string(to),
				"reason":     reason,
			},
		})
	}
}
