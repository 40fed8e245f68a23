package repository

import (
	"context"
	"sync/atomic"
	"time"

	"tasksync/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverLabelCache reads and writes the primary cache and switches to the
// fallback when the primary fails, probing the primary again once a minute.
type FailoverLabelCache struct {
	primary   domain.LabelCache
	fallback  domain.LabelCache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverLabelCache(primary, fallback domain.LabelCache, logger *zerolog.Logger) *FailoverLabelCache {
	return &FailoverLabelCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverLabelCache) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary label cache failed, falling back to memory")
	}
	r.lastCheck.Store(time.Now().UnixNano())
}

// usePrimary reports whether the primary should be tried for this call.
func (r *FailoverLabelCache) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverLabelCache) GetLabelID(ctx context.Context, name string) (string, error) {
	if r.usePrimary() {
		id, err := r.primary.GetLabelID(ctx, name)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("Primary label cache recovered")
			}
			return id, nil
		}
		r.markDown(err)
	}

	return r.fallback.GetLabelID(ctx, name)
}

func (r *FailoverLabelCache) SetLabelID(ctx context.Context, name, id string) error {
	if r.usePrimary() {
		err := r.primary.SetLabelID(ctx, name, id)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.SetLabelID(ctx, name, id)
}

func (r *FailoverLabelCache) DeleteLabelID(ctx context.Context, name string) error {
	// Both sides may hold the id.
	_ = r.fallback.DeleteLabelID(ctx, name)
	if r.usePrimary() {
		err := r.primary.DeleteLabelID(ctx, name)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}
	return nil
}
