// Package cache memoizes immediate-query reports for a short TTL so
// identical requests do not re-run ingestion, ranking and synthesis.
//
// Known race, accepted by design review: two concurrent identical requests
// may both miss and both execute the full pipeline before either writes its
// entry. At-most-once execution is not guaranteed.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/DieRekT/trove-research/internal/model"
)

// DefaultTTL is the memoization window for immediate queries.
const DefaultTTL = 300 * time.Second

type entry struct {
	report    *model.Report
	expiresAt time.Time
}

// Cache is an injected TTL memo store; construct one per orchestrator, never
// a package-level singleton, so tests get isolated instances.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// NewWithClock creates a cache with an injectable clock (for tests).
func NewWithClock(now func() time.Time) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     now,
	}
}

// Key derives a deterministic cache key from normalized job parameters.
func Key(params model.JobParams) string {
	// JobParams marshals with fixed field order, so the digest is stable.
	raw, _ := json.Marshal(params)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached report for key, or nil on miss. Expired entries are
// evicted lazily here; there is no background sweep.
func (c *Cache) Get(key string) *model.Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	return e.report
}

// Set stores a report under key for ttl (DefaultTTL when ttl <= 0).
func (c *Cache) Set(key string, report *model.Report, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{report: report, expiresAt: c.now().Add(ttl)}
}

// Len reports the number of entries including not-yet-evicted expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
