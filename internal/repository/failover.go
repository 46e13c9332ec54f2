package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"concierge/internal/domain"
	"concierge/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverPendingStore writes to the primary store and switches to the fallback
// when the primary errors, retrying the primary after recoveryInterval.
type FailoverPendingStore struct {
	primary  domain.PendingStore
	fallback domain.PendingStore
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverPendingStore(primary, fallback domain.PendingStore, logger *zerolog.Logger) *FailoverPendingStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverPendingStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// usePrimary reports whether the primary should be tried for this call.
func (r *FailoverPendingStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) > recoveryInterval {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverPendingStore) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary pending store failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverPendingStore) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary pending store recovered")
	}
}

func (r *FailoverPendingStore) SavePending(ctx context.Context, key string, changes []models.PendingChange) error {
	if r.usePrimary() {
		err := r.primary.SavePending(ctx, key, changes)
		if err == nil {
			r.markUp()
			// The fallback may hold an older checkpoint from the outage.
			_ = r.fallback.ClearPending(ctx, key)
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SavePending(ctx, key, changes)
}

func (r *FailoverPendingStore) LoadPending(ctx context.Context, key string) ([]models.PendingChange, error) {
	if r.usePrimary() {
		changes, err := r.primary.LoadPending(ctx, key)
		if err == nil {
			r.markUp()
			if len(changes) > 0 {
				return changes, nil
			}
		} else {
			r.markDown(err)
		}
	}
	return r.fallback.LoadPending(ctx, key)
}

func (r *FailoverPendingStore) ClearPending(ctx context.Context, key string) error {
	fallbackErr := r.fallback.ClearPending(ctx, key)
	if r.usePrimary() {
		err := r.primary.ClearPending(ctx, key)
		if err == nil {
			r.markUp()
			return fallbackErr
		}
		r.markDown(err)
	}
	return fallbackErr
}
