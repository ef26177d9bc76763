package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/storage"
)

// AuditStore implements storage.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *Pool
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(pool *Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AuditStore = (*AuditStore)(nil)

// Append adds an audit entry. Returns ErrDuplicateKey if id exists.
func (s *AuditStore) Append(ctx context.Context, e *domain.AuditEntry) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	createdAt := e.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}

	query := `
		INSERT INTO audit_log (
			id, key, old_value, new_value, actor, reason, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.Key, e.OldValue, e.NewValue, e.Actor, e.Reason, createdAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListRecent retrieves up to limit entries ordered by created_at DESC. A
// non-positive limit returns everything.
func (s *AuditStore) ListRecent(ctx context.Context, limit int) ([]*domain.AuditEntry, error) {
	query := `
		SELECT id, key, old_value, new_value, actor, reason, created_at
		FROM audit_log
		ORDER BY created_at DESC, id DESC
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
		return nil, fmt.Errorf("list recent audit entries: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

// ListByKey retrieves up to limit entries for an audit key, created_at DESC.
func (s *AuditStore) ListByKey(ctx context.Context, key string, limit int) ([]*domain.AuditEntry, error) {
	query := `
		SELECT id, key, old_value, new_value, actor, reason, created_at
		FROM audit_log
		WHERE key = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.pool.Query(ctx, query+` LIMIT $2`, key, limit)
	} else {
		rows, err = s.pool.Query(ctx, query, key)
	}
	if err != nil {
		return nil, fmt.Errorf("list audit entries by key: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

// scanAuditEntries scans multiple rows into a slice of AuditEntry.
func scanAuditEntries(rows pgx.Rows) ([]*domain.AuditEntry, error) {
	var entries []*domain.AuditEntry

	for rows.Next() {
		var e domain.AuditEntry
		err := rows.Scan(
			&e.ID, &e.Key, &e.OldValue, &e.NewValue, &e.Actor, &e.Reason, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}

	return entries, nil
}
