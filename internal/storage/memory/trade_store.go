package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/lifecycle"
	"solana-mirror-engine/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Trade // keyed by trade_uuid
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*domain.Trade),
	}
}

// Insert adds a new trade. Returns ErrDuplicateKey if trade_uuid exists.
// Zero timestamps are stamped with the current time so seeded test records
// can carry their own clocks.
func (s *TradeStore) Insert(_ context.Context, t *domain.Trade) error {
	if t == nil || t.TradeUUID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.TradeUUID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *t
	now := time.Now().UnixMilli()
	if copy.CreatedAt == 0 {
		copy.CreatedAt = now
	}
	if copy.UpdatedAt == 0 {
		copy.UpdatedAt = copy.CreatedAt
	}
	s.data[t.TradeUUID] = &copy
	return nil
}

// GetByUUID retrieves a trade by its uuid. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByUUID(_ context.Context, tradeUUID string) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[tradeUUID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *t
	return &copy, nil
}

// UpdateStatus validates and applies a status transition together with the
// accompanying context fields.
func (s *TradeStore) UpdateStatus(_ context.Context, tradeUUID string, to domain.TradeStatus, upd storage.StatusUpdate) (*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[tradeUUID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if err := lifecycle.Validate(t.Status, to); err != nil {
		return nil, err
	}

	t.Status = to
	if upd.EntrySignature != nil {
		t.EntrySignature = *upd.EntrySignature
	}
	if upd.ExitSignature != nil {
		t.ExitSignature = *upd.ExitSignature
	}
	if upd.ErrorMessage != nil {
		t.ErrorMessage = *upd.ErrorMessage
	}
	if upd.RealizedPnLUSD != nil {
		pnl := *upd.RealizedPnLUSD
		t.RealizedPnLUSD = &pnl
	}
	if upd.RetryCount != nil {
		t.RetryCount = *upd.RetryCount
	}
	t.UpdatedAt = time.Now().UnixMilli()

	copy := *t
	return &copy, nil
}

// ListByStatus retrieves trades in the given status, ordered by created_at ASC.
func (s *TradeStore) ListByStatus(_ context.Context, status domain.TradeStatus) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trade
	for _, t := range s.data {
		if t.Status == status {
			copy := *t
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt < result[j].CreatedAt
	})

	return result, nil
}

// ListStuckExiting retrieves Exiting trades with updated_at older than the
// cutoff, ordered by updated_at ASC.
func (s *TradeStore) ListStuckExiting(_ context.Context, updatedBefore int64) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trade
	for _, t := range s.data {
		if t.Status == domain.StatusExiting && t.UpdatedAt < updatedBefore {
			copy := *t
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt < result[j].UpdatedAt
	})

	return result, nil
}

// FindActiveByToken retrieves the most recently created Active trade for a
// token mint. Returns ErrNotFound when no position is open.
func (s *TradeStore) FindActiveByToken(_ context.Context, token string) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *domain.Trade
	for _, t := range s.data {
		if t.Status != domain.StatusActive || t.Token != token {
			continue
		}
		if newest == nil || t.CreatedAt > newest.CreatedAt {
			newest = t
		}
	}
	if newest == nil {
		return nil, storage.ErrNotFound
	}

	copy := *newest
	return &copy, nil
}

// ListRecent retrieves up to limit trades ordered by created_at DESC.
func (s *TradeStore) ListRecent(_ context.Context, limit int) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Trade, 0, len(s.data))
	for _, t := range s.data {
		copy := *t
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt > result[j].CreatedAt
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ storage.TradeStore = (*TradeStore)(nil)
