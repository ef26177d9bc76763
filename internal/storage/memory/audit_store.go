package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-mirror-engine/internal/domain"
	"solana-mirror-engine/internal/storage"
)

// AuditStore is an in-memory implementation of storage.AuditStore.
type AuditStore struct {
	mu      sync.RWMutex
	entries []*domain.AuditEntry
	ids     map[string]struct{}
}

// NewAuditStore creates a new in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{
		ids: make(map[string]struct{}),
	}
}

// Append adds an audit entry. Returns ErrDuplicateKey if id exists.
func (s *AuditStore) Append(_ context.Context, e *domain.AuditEntry) error {
	if e == nil || e.ID == "" || e.Key == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[e.ID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *e
	if copy.CreatedAt == 0 {
		copy.CreatedAt = time.Now().UnixMilli()
	}
	s.entries = append(s.entries, &copy)
	s.ids[e.ID] = struct{}{}
	return nil
}

// ListRecent retrieves up to limit entries ordered by created_at DESC.
func (s *AuditStore) ListRecent(_ context.Context, limit int) ([]*domain.AuditEntry, error) {
	return s.list(limit, func(*domain.AuditEntry) bool { return true })
}

// ListByKey retrieves up to limit entries for an audit key, created_at DESC.
func (s *AuditStore) ListByKey(_ context.Context, key string, limit int) ([]*domain.AuditEntry, error) {
	return s.list(limit, func(e *domain.AuditEntry) bool { return e.Key == key })
}

func (s *AuditStore) list(limit int, keep func(*domain.AuditEntry) bool) ([]*domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AuditEntry
	for _, e := range s.entries {
		if keep(e) {
			copy := *e
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt > result[j].CreatedAt
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ storage.AuditStore = (*AuditStore)(nil)
