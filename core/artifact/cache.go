package artifact

import (
	"sync"
	"time"

	"github.com/cyqddx/shuyuan/core/infra/metadata"
)

// recordCache keeps recent id lookups out of the database on the read
// path. Entries age out after a short TTL; staleness is bounded by the
// TTL and every hit re-checks expiry against the caller's clock.
type recordCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	rec      *metadata.ArtifactRecord
	storedAt time.Time
}

func newRecordCache(ttl time.Duration) *recordCache {
	return &recordCache{ttl: ttl, entries: map[string]cacheEntry{}}
}

func (c *recordCache) get(id string, now time.Time) (*metadata.ArtifactRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if now.Sub(e.storedAt) > c.ttl {
		delete(c.entries, id)
		return nil, false
	}
	return e.rec, true
}

func (c *recordCache) put(rec *metadata.ArtifactRecord, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) > 4096 {
		for id, e := range c.entries {
			if now.Sub(e.storedAt) > c.ttl {
				delete(c.entries, id)
			}
		}
	}
	c.entries[rec.ID] = cacheEntry{rec: rec, storedAt: now}
}

func (c *recordCache) invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}
