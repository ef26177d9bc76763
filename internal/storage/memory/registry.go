package memory

import (
	"context"
	"sync"
	"time"

	"solana-mirror-engine/internal/storage"
)

// SignalRegistry is an in-memory implementation of storage.SignalRegistry.
// Entries expire lazily on the next MarkIfNew for the same uuid.
type SignalRegistry struct {
	mu   sync.Mutex
	seen map[string]time.Time // uuid -> expiry
}

// NewSignalRegistry creates a new in-memory signal registry.
func NewSignalRegistry() *SignalRegistry {
	return &SignalRegistry{
		seen: make(map[string]time.Time),
	}
}

// MarkIfNew records the uuid with a ttl. Returns false when the uuid was
// already present and unexpired.
func (r *SignalRegistry) MarkIfNew(_ context.Context, tradeUUID string, ttl time.Duration) (bool, error) {
	if tradeUUID == "" {
		return false, storage.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if expiry, exists := r.seen[tradeUUID]; exists && now.Before(expiry) {
		return false, nil
	}
	r.seen[tradeUUID] = now.Add(ttl)
	return true, nil
}

var _ storage.SignalRegistry = (*SignalRegistry)(nil)
