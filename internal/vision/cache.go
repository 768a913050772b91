package vision

import (
	"sync"
	"time"
)

// Cache defaults.
const (
	DefaultAnalysisInterval = 10 * time.Second
	DefaultCacheTTL         = 30 * time.Second
)

// cacheKey identifies a capture without hashing it: the payload length plus
// the time bucket. Rapidly repeated identical captures land on the same key;
// a changed screen almost certainly changes the encoded length.
type cacheKey struct {
	payloadLen int
	bucket     int64
}

type cacheEntry struct {
	analysis string
	storedAt time.Time
}

// AnalysisCache memoizes screen-analysis text so that bursts of turns within
// one analysis interval reuse a single vision call. Safe for concurrent use.
type AnalysisCache struct {
	interval time.Duration
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

// CacheOption is a functional option for AnalysisCache.
type CacheOption func(*AnalysisCache)

// WithAnalysisInterval sets the time-bucket width. Default 10s.
func WithAnalysisInterval(d time.Duration) CacheOption {
	return func(c *AnalysisCache) { c.interval = d }
}

// WithCacheTTL sets how long an entry stays valid. Default 30s.
func WithCacheTTL(d time.Duration) CacheOption {
	return func(c *AnalysisCache) { c.ttl = d }
}

// withClock replaces the time source in tests.
func withClock(now func() time.Time) CacheOption {
	return func(c *AnalysisCache) { c.now = now }
}

// NewAnalysisCache creates an AnalysisCache.
func NewAnalysisCache(opts ...CacheOption) *AnalysisCache {
	c := &AnalysisCache{
		interval: DefaultAnalysisInterval,
		ttl:      DefaultCacheTTL,
		now:      time.Now,
		entries:  make(map[cacheKey]cacheEntry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the cached analysis for a capture payload, if a fresh one
// exists for the current time bucket.
func (c *AnalysisCache) Get(payloadLen int) (string, bool) {
	key := c.key(payloadLen)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return entry.analysis, true
}

// Put stores an analysis under the current time bucket, overwriting any
// previous value, and drops expired entries while it holds the lock.
func (c *AnalysisCache) Put(payloadLen int, analysis string) {
	key := c.key(payloadLen)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		if now.Sub(e.storedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{analysis: analysis, storedAt: now}
}

func (c *AnalysisCache) key(payloadLen int) cacheKey {
	interval := c.interval
	if interval <= 0 {
		interval = DefaultAnalysisInterval
	}
	return cacheKey{
		payloadLen: payloadLen,
		// Nanosecond arithmetic keeps sub-second intervals working.
		bucket: c.now().UnixNano() / interval.Nanoseconds(),
	}
}
