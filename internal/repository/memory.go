package repository

import (
	"context"
	"sync"
	"time"

	"concierge/internal/models"
)

type memoryEntry struct {
	changes   []models.PendingChange
	expiresAt time.Time
}

// MemoryPendingStore keeps checkpoints in process. It only protects against
// losing the log while Redis is unreachable, not against a restart.
type MemoryPendingStore struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryPendingStore(ttl time.Duration) *MemoryPendingStore {
	if ttl <= 0 {
		ttl = models.DefaultPendingTTL
	}
	return &MemoryPendingStore{
		ttl: ttl,
		now: time.Now,
	}
}

func (r *MemoryPendingStore) SavePending(ctx context.Context, key string, changes []models.PendingChange) error {
	if len(changes) == 0 {
		r.entries.Delete(key)
		return nil
	}
	r.entries.Store(key, &memoryEntry{
		changes:   append([]models.PendingChange(nil), changes...),
		expiresAt: r.now().Add(r.ttl),
	})
	return nil
}

func (r *MemoryPendingStore) LoadPending(ctx context.Context, key string) ([]models.PendingChange, error) {
	val, ok := r.entries.Load(key)
	if !ok {
		return nil, nil
	}
	entry := val.(*memoryEntry)
	if r.now().After(entry.expiresAt) {
		r.entries.Delete(key)
		return nil, nil
	}
	return append([]models.PendingChange(nil), entry.changes...), nil
}

func (r *MemoryPendingStore) ClearPending(ctx context.Context, key string) error {
	r.entries.Delete(key)
	return nil
}
