package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/lifecycle"
	"solana-mirror-engine/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// Insert adds a new trade. Returns ErrDuplicateKey if trade_uuid exists.
// Zero timestamps are stamped with the current time.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) error {
	if t == nil || t.TradeUUID == "" {
		return storage.ErrInvalidInput
	}

	createdAt := t.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}
	updatedAt := t.UpdatedAt
	if updatedAt == 0 {
		updatedAt = createdAt
	}

	query := `
		INSERT INTO trades (
			trade_uuid, wallet_address, token, strategy, action, amount, status,
			retry_count, entry_signature, exit_signature, source_signature,
			error_message, realized_pnl_usd, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15
		)
	`

	_, err := s.pool.Exec(ctx, query,
		t.TradeUUID, t.WalletAddress, t.Token, string(t.Strategy), string(t.Action), t.Amount, string(t.Status),
		t.RetryCount, t.EntrySignature, t.ExitSignature, t.SourceSignature,
		t.ErrorMessage, t.RealizedPnLUSD, createdAt, updatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetByUUID retrieves a trade by its uuid. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByUUID(ctx context.Context, tradeUUID string) (*domain.Trade, error) {
	query := `
		SELECT
			trade_uuid, wallet_address, token, strategy, action, amount, status,
			retry_count, entry_signature, exit_signature, source_signature,
			error_message, realized_pnl_usd, created_at, updated_at
		FROM trades
		WHERE trade_uuid = $1
	`

	row := s.pool.QueryRow(ctx, query, tradeUUID)
	t, err := scanTrade(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade by uuid: %w", err)
	}
	return t, nil
}

// UpdateStatus validates the transition against the lifecycle edge set and
// applies it with the update fields in one write. The row is locked for the
// read-validate-write so concurrent transitions serialize.
func (s *TradeStore) UpdateStatus(ctx context.Context, tradeUUID string, to domain.TradeStatus, upd storage.StatusUpdate) (*domain.Trade, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var from domain.TradeStatus
	err = tx.QueryRow(ctx, `SELECT status FROM trades WHERE trade_uuid = $1 FOR UPDATE`, tradeUUID).Scan(&from)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("lock trade for update: %w", err)
	}
	if err := lifecycle.Validate(from, to); err != nil {
		return nil, err
	}

	query := `
		UPDATE trades SET
			status = $2,
			entry_signature = COALESCE($3, entry_signature),
			exit_signature = COALESCE($4, exit_signature),
			error_message = COALESCE($5, error_message),
			realized_pnl_usd = COALESCE($6, realized_pnl_usd),
			retry_count = COALESCE($7, retry_count),
			updated_at = $8
		WHERE trade_uuid = $1
		RETURNING
			trade_uuid, wallet_address, token, strategy, action, amount, status,
			retry_count, entry_signature, exit_signature, source_signature,
			error_message, realized_pnl_usd, created_at, updated_at
	`

	row := tx.QueryRow(ctx, query,
		tradeUUID, string(to),
		upd.EntrySignature, upd.ExitSignature, upd.ErrorMessage, upd.RealizedPnLUSD, upd.RetryCount,
		time.Now().UnixMilli(),
	)
	t, err := scanTrade(row)
	if err != nil {
		return nil, fmt.Errorf("update trade status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return t, nil
}

// ListByStatus retrieves trades in the given status, ordered by created_at ASC.
func (s *TradeStore) ListByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.Trade, error) {
	query := `
		SELECT
			trade_uuid, wallet_address, token, strategy, action, amount, status,
			retry_count, entry_signature, exit_signature, source_signature,
			error_message, realized_pnl_usd, created_at, updated_at
		FROM trades
		WHERE status = $1
		ORDER BY created_at ASC, trade_uuid ASC
	`

	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list trades by status: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// ListStuckExiting retrieves Exiting trades with updated_at older than the
// cutoff, ordered by updated_at ASC.
func (s *TradeStore) ListStuckExiting(ctx context.Context, updatedBefore int64) ([]*domain.Trade, error) {
	query := `
		SELECT
			trade_uuid, wallet_address, token, strategy, action, amount, status,
			retry_count, entry_signature, exit_signature, source_signature,
			error_message, realized_pnl_usd, created_at, updated_at
		FROM trades
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC, trade_uuid ASC
	`

	rows, err := s.pool.Query(ctx, query, string(domain.StatusExiting), updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("list stuck exiting trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// FindActiveByToken retrieves the most recently created Active trade for a
// token mint. Returns ErrNotFound when no position is open.
func (s *TradeStore) FindActiveByToken(ctx context.Context, token string) (*domain.Trade, error) {
	query := `
		SELECT
			trade_uuid, wallet_address, token, strategy, action, amount, status,
			retry_count, entry_signature, exit_signature, source_signature,
			error_message, realized_pnl_usd, created_at, updated_at
		FROM trades
		WHERE token = $1 AND status = $2
		ORDER BY created_at DESC, trade_uuid DESC
		LIMIT 1
	`

	row := s.pool.QueryRow(ctx, query, token, string(domain.StatusActive))
	t, err := scanTrade(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("find active trade by token: %w", err)
	}
	return t, nil
}

// ListRecent retrieves up to limit trades ordered by created_at DESC. A
// non-positive limit returns everything.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]*domain.Trade, error) {
	query := `
		SELECT
			trade_uuid, wallet_address, token, strategy, action, amount, status,
			retry_count, entry_signature, exit_signature, source_signature,
			error_message, realized_pnl_usd, created_at, updated_at
		FROM trades
		ORDER BY created_at DESC, trade_uuid DESC
	`

	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.pool.Query(ctx, query+` LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list recent trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// scanTrade scans a single row into a Trade.
func scanTrade(row pgx.Row) (*domain.Trade, error) {
	var t domain.Trade

	err := row.Scan(
		&t.TradeUUID, &t.WalletAddress, &t.Token, &t.Strategy, &t.Action, &t.Amount, &t.Status,
		&t.RetryCount, &t.EntrySignature, &t.ExitSignature, &t.SourceSignature,
		&t.ErrorMessage, &t.RealizedPnLUSD, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// scanTrades scans multiple rows into a slice of Trade.
func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	var trades []*domain.Trade

	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}
