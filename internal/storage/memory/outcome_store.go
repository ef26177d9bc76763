package memory

import (
	"context"
	"sort"
	"sync"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/storage"
)

// OutcomeStore is an in-memory implementation of storage.OutcomeStore.
type OutcomeStore struct {
	mu       sync.RWMutex
	outcomes []*domain.TradeOutcome
	ids      map[string]struct{}
}

// NewOutcomeStore creates a new in-memory outcome store.
func NewOutcomeStore() *OutcomeStore {
	return &OutcomeStore{
		ids: make(map[string]struct{}),
	}
}

// Append adds an outcome row. Returns ErrDuplicateKey if trade_uuid exists.
func (s *OutcomeStore) Append(_ context.Context, o *domain.TradeOutcome) error {
	if o == nil || o.TradeUUID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[o.TradeUUID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *o
	s.outcomes = append(s.outcomes, &copy)
	s.ids[o.TradeUUID] = struct{}{}
	return nil
}

// SumPnLSince returns the sum of pnl_usd over closed_at >= since.
func (s *OutcomeStore) SumPnLSince(_ context.Context, since int64) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum float64
	for _, o := range s.outcomes {
		if o.ClosedAt >= since {
			sum += o.PnLUSD
		}
	}
	return sum, nil
}

// RecentOutcomes retrieves up to limit outcomes ordered by closed_at DESC.
func (s *OutcomeStore) RecentOutcomes(_ context.Context, limit int) ([]*domain.TradeOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.TradeOutcome, 0, len(s.outcomes))
	for _, o := range s.outcomes {
		copy := *o
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ClosedAt > result[j].ClosedAt
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// PnLSeries returns pnl_usd values for closed_at >= since, ordered by
// closed_at ASC.
func (s *OutcomeStore) PnLSeries(_ context.Context, since int64) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kept := make([]*domain.TradeOutcome, 0, len(s.outcomes))
	for _, o := range s.outcomes {
		if o.ClosedAt >= since {
			kept = append(kept, o)
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		return kept[i].ClosedAt < kept[j].ClosedAt
	})

	series := make([]float64, len(kept))
	for i, o := range kept {
		series[i] = o.PnLUSD
	}
	return series, nil
}

var _ storage.OutcomeStore = (*OutcomeStore)(nil)
