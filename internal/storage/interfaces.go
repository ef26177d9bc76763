package storage

import (
	"context"
	"time"

	"solana-mirror-engine/internal/domain"
)

// StatusUpdate carries the context fields applied atomically with a status
// transition. Nil fields are left untouched; a non-nil empty string clears
// the column (used by recovery to drop a dead exit signature).
type StatusUpdate struct {
	EntrySignature *string
	ExitSignature  *string
	ErrorMessage   *string
	RealizedPnLUSD *float64
	RetryCount     *int
}

// TradeStore provides access to trade lifecycle records.
type TradeStore interface {
	// Insert adds a new trade. Returns ErrDuplicateKey if trade_uuid exists.
	Insert(ctx context.Context, t *domain.Trade) error

	// GetByUUID retrieves a trade by its uuid. Returns ErrNotFound if not exists.
	GetByUUID(ctx context.Context, tradeUUID string) (*domain.Trade, error)

	// UpdateStatus validates the transition against the lifecycle edge set and
	// applies it together with upd in one write. Returns ErrNotFound for an
	// unknown uuid and *lifecycle.TransitionError for an illegal edge.
	UpdateStatus(ctx context.Context, tradeUUID string, to domain.TradeStatus, upd StatusUpdate) (*domain.Trade, error)

	// ListByStatus retrieves trades in the given status, ordered by created_at ASC.
	ListByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.Trade, error)

	// ListStuckExiting retrieves Exiting trades whose updated_at is older than
	// the cutoff (ms), ordered by updated_at ASC.
	ListStuckExiting(ctx context.Context, updatedBefore int64) ([]*domain.Trade, error)

	// FindActiveByToken retrieves the most recently created Active trade for a
	// token mint. Returns ErrNotFound when no position is open.
	FindActiveByToken(ctx context.Context, token string) (*domain.Trade, error)

	// ListRecent retrieves up to limit trades ordered by created_at DESC.
	ListRecent(ctx context.Context, limit int) ([]*domain.Trade, error)
}

// AuditStore provides access to the append-only operational audit log.
type AuditStore interface {
	// Append adds an audit entry. Returns ErrDuplicateKey if id exists.
	Append(ctx context.Context, e *domain.AuditEntry) error

	// ListRecent retrieves up to limit entries ordered by created_at DESC.
	ListRecent(ctx context.Context, limit int) ([]*domain.AuditEntry, error)

	// ListByKey retrieves up to limit entries for an audit key, created_at DESC.
	ListByKey(ctx context.Context, key string, limit int) ([]*domain.AuditEntry, error)
}

// OutcomeStore provides access to closed-trade outcome analytics. It is the
// read side of the circuit breaker's metrics queries.
type OutcomeStore interface {
	// Append adds an outcome row. Returns ErrDuplicateKey if trade_uuid exists.
	Append(ctx context.Context, o *domain.TradeOutcome) error

	// SumPnLSince returns the sum of pnl_usd over closed_at >= since (ms).
	SumPnLSince(ctx context.Context, since int64) (float64, error)

	// RecentOutcomes retrieves up to limit outcomes ordered by closed_at DESC.
	RecentOutcomes(ctx context.Context, limit int) ([]*domain.TradeOutcome, error)

	// PnLSeries returns pnl_usd values for closed_at >= since (ms), ordered by
	// closed_at ASC. Feeds drawdown-from-peak computation.
	PnLSeries(ctx context.Context, since int64) ([]float64, error)
}

// SignalRegistry is the fast-path duplicate check for inbound trade uuids.
// The durable TradeStore remains authoritative.
type SignalRegistry interface {
	// MarkIfNew records the uuid with a ttl. Returns false when the uuid was
	// already present.
	MarkIfNew(ctx context.Context, tradeUUID string, ttl time.Duration) (bool, error)
}
