package repository

import (
	"context"
	"sync"
	"time"
)

type labelEntry struct {
	id        string
	expiresAt time.Time
}

// MemoryLabelCache is the in-process fallback used while Redis is down.
type MemoryLabelCache struct {
	labels sync.Map
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryLabelCache(ttl time.Duration) *MemoryLabelCache {
	return &MemoryLabelCache{
		ttl: ttl,
		now: time.Now,
	}
}

func (r *MemoryLabelCache) GetLabelID(ctx context.Context, name string) (string, error) {
	val, ok := r.labels.Load(labelKey(name))
	if !ok {
		return "", nil
	}
	entry := val.(labelEntry)
	if !entry.expiresAt.IsZero() && r.now().After(entry.expiresAt) {
		r.labels.Delete(labelKey(name))
		return "", nil
	}
	return entry.id, nil
}

func (r *MemoryLabelCache) SetLabelID(ctx context.Context, name, id string) error {
	entry := labelEntry{id: id}
	if r.ttl > 0 {
		entry.expiresAt = r.now().Add(r.ttl)
	}
	r.labels.Store(labelKey(name), entry)
	return nil
}

func (r *MemoryLabelCache) DeleteLabelID(ctx context.Context, name string) error {
	r.labels.Delete(labelKey(name))
	return nil
}
