package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"audiobridge/internal/domain"
)

type cachedEntry struct {
	value   domain.CachedManifest
	expires time.Time
}

// ManifestCache keeps manifests in process. Entries expire after ttl; a
// zero ttl keeps them until the process exits.
type ManifestCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[domain.InfoHash]cachedEntry
}

func NewManifestCache(ttl time.Duration) *ManifestCache {
	return &ManifestCache{ttl: ttl, now: time.Now, entries: make(map[domain.InfoHash]cachedEntry)}
}

func (c *ManifestCache) Put(ctx context.Context, m domain.CachedManifest) error {
	if m.Manifest.ContentHash.IsZero() {
		return fmt.Errorf("%w: manifest has no info hash", domain.ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweepLocked(now)
	e := cachedEntry{value: m}
	if c.ttl > 0 {
		e.expires = now.Add(c.ttl)
	}
	c.entries[m.Manifest.ContentHash] = e
	return nil
}

func (c *ManifestCache) Get(ctx context.Context, hash domain.InfoHash) (domain.CachedManifest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if ok && !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, hash)
		ok = false
	}
	if !ok {
		return domain.CachedManifest{}, fmt.Errorf("%w: manifest %s", domain.ErrNotFound, hash)
	}
	return e.value, nil
}

func (c *ManifestCache) sweepLocked(now time.Time) {
	for k, e := range c.entries {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
}
