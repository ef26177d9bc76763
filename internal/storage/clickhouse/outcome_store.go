package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/storage"
)

// OutcomeStore implements storage.OutcomeStore using ClickHouse. Closed-trade
// rows land here once and are only ever aggregated; the circuit breaker reads
// its loss and drawdown windows from this table.
type OutcomeStore struct {
	conn *Conn
}

// NewOutcomeStore creates a new OutcomeStore.
func NewOutcomeStore(conn *Conn) *OutcomeStore {
	return &OutcomeStore{conn: conn}
}

// Compile-time interface check.
var _ storage.OutcomeStore = (*OutcomeStore)(nil)

// Append adds an outcome row. Returns ErrDuplicateKey if trade_uuid exists.
func (s *OutcomeStore) Append(ctx context.Context, o *domain.TradeOutcome) error {
	if o == nil || o.TradeUUID == "" {
		return storage.ErrInvalidInput
	}

	// Check if exists (ReplacingMergeTree would replace, but outcomes are
	// append-once)
	exists, err := s.exists(ctx, o.TradeUUID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	query := `
		INSERT INTO trade_outcomes (
			trade_uuid, token, strategy, pnl_usd, closed_at
		) VALUES (
			?, ?, ?, ?, ?
		)
	`

	err = s.conn.Exec(ctx, query,
		o.TradeUUID, o.Token, string(o.Strategy), o.PnLUSD, o.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trade outcome: %w", err)
	}
	return nil
}

// SumPnLSince returns the sum of pnl_usd over closed_at >= since (ms).
func (s *OutcomeStore) SumPnLSince(ctx context.Context, since int64) (float64, error) {
	query := `
		SELECT sum(pnl_usd) FROM trade_outcomes FINAL
		WHERE closed_at >= ?
	`

	var sum float64
	if err := s.conn.QueryRow(ctx, query, since).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum pnl: %w", err)
	}
	return sum, nil
}

// RecentOutcomes retrieves up to limit outcomes ordered by closed_at DESC. A
// non-positive limit returns everything.
func (s *OutcomeStore) RecentOutcomes(ctx context.Context, limit int) ([]*domain.TradeOutcome, error) {
	query := `
		SELECT trade_uuid, token, strategy, pnl_usd, closed_at
		FROM trade_outcomes FINAL
		ORDER BY closed_at DESC, trade_uuid DESC
	`

	var (
		rows driver.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.conn.Query(ctx, query+` LIMIT ?`, limit)
	} else {
		rows, err = s.conn.Query(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("query recent outcomes: %w", err)
	}
	defer rows.Close()

	return scanOutcomes(rows)
}

// PnLSeries returns pnl_usd values for closed_at >= since (ms) in close
// order. The breaker walks the series to compute drawdown from peak.
func (s *OutcomeStore) PnLSeries(ctx context.Context, since int64) ([]float64, error) {
	query := `
		SELECT pnl_usd FROM trade_outcomes FINAL
		WHERE closed_at >= ?
		ORDER BY closed_at ASC, trade_uuid ASC
	`

	rows, err := s.conn.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query pnl series: %w", err)
	}
	defer rows.Close()

	var series []float64
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return nil, fmt.Errorf("scan pnl row: %w", err)
		}
		series = append(series, pnl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pnl rows: %w", err)
	}

	return series, nil
}

// exists checks if an outcome with the given trade uuid exists.
func (s *OutcomeStore) exists(ctx context.Context, tradeUUID string) (bool, error) {
	query := `
		SELECT count(*) FROM trade_outcomes FINAL
		WHERE trade_uuid = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, tradeUUID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanOutcomes scans multiple rows into a slice of TradeOutcome.
func scanOutcomes(rows chRows) ([]*domain.TradeOutcome, error) {
	var outcomes []*domain.TradeOutcome

	for rows.Next() {
		var (
			o        domain.TradeOutcome
			strategy string
		)
		err := rows.Scan(&o.TradeUUID, &o.Token, &strategy, &o.PnLUSD, &o.ClosedAt)
		if err != nil {
			return nil, fmt.Errorf("scan outcome row: %w", err)
		}
		o.Strategy = domain.Strategy(strategy)
		outcomes = append(outcomes, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome rows: %w", err)
	}

	return outcomes, nil
}
