// Package cache memoizes computed indicator values per
// (type, symbol, timeframe, params, time-bucket). TTLs adapt to observed
// per-type miss rates and per-key access frequency; capacity is enforced
// by evicting least-recently-used entries down to a high-watermark.
package cache

import (
	"fmt"
	"sort"
	"time"
)

const (
	// MinTTL and MaxTTL clamp the adaptive TTL.
	MinTTL = 30 * time.Second
	MaxTTL = 300 * time.Second

	// MaxBucket caps the cache time-bucket size. A bucket must never
	// exceed the owning algorithm's refresh interval or a cached value
	// could outlive one refresh period.
	MaxBucket = 60 * time.Second

	// DefaultMaxEntries is the hard entry cap.
	DefaultMaxEntries = 10000

	// evictTarget is the post-eviction fill fraction of the cap.
	evictTarget = 0.7

	// hotKeyHits is the hit count past which a key earns a longer TTL.
	hotKeyHits = 5
)

// BucketSize derives the cache bucket from an algorithm refresh interval:
// never larger than the interval, capped at MaxBucket.
func BucketSize(refresh time.Duration) time.Duration {
	if refresh <= 0 {
		refresh = time.Second
	}
	if refresh > MaxBucket {
		return MaxBucket
	}
	return refresh
}

// Key builds the cache key. now is in seconds; bucket discretizes it so
// all requests inside one refresh period share an entry.
func Key(indicatorType, symbol, timeframe, paramFingerprint string, now float64, bucket time.Duration) string {
	bs := bucket.Seconds()
	tb := int64(now/bs) * int64(bs)
	return fmt.Sprintf("%s:%s:%s:%s:%d", indicatorType, symbol, timeframe, paramFingerprint, tb)
}

type entry struct {
	value      float64
	storedAt   time.Time
	ttl        time.Duration
	hits       int
	lastAccess time.Time
	indType    string
}

// typeStats tracks recent hit/miss counts per indicator type; the miss
// rate acts as a volatility proxy that shortens TTLs.
type typeStats struct {
	hits   int
	misses int
}

func (s typeStats) missRate() float64 {
	total := s.hits + s.misses
	if total == 0 {
		return 0
	}
	return float64(s.misses) / float64(total)
}

// Adaptive is the engine's indicator value cache. Not internally locked:
// access is serialized under the engine lock.
type Adaptive struct {
	entries    map[string]*entry
	maxEntries int
	baseTTL    time.Duration
	perType    map[string]*typeStats

	hits   uint64
	misses uint64

	clock func() time.Time
}

// New creates an adaptive cache. maxEntries <= 0 picks the default cap.
func New(maxEntries int, baseTTL time.Duration) *Adaptive {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if baseTTL <= 0 {
		baseTTL = 60 * time.Second
	}
	return &Adaptive{
		entries:    make(map[string]*entry, 256),
		maxEntries: maxEntries,
		baseTTL:    baseTTL,
		perType:    make(map[string]*typeStats, 32),
		clock:      time.Now,
	}
}

// Get returns the cached value for key, if present and fresh.
func (c *Adaptive) Get(key, indicatorType string) (float64, bool) {
	now := c.clock()
	e, ok := c.entries[key]
	if ok && now.Sub(e.storedAt) <= e.ttl {
		e.hits++
		e.lastAccess = now
		c.hits++
		c.typeStat(indicatorType).hits++
		return e.value, true
	}
	if ok {
		// Expired — drop it so Set recomputes the TTL from scratch.
		delete(c.entries, key)
	}
	c.misses++
	c.typeStat(indicatorType).misses++
	return 0, false
}

// Set stores a computed value. The TTL starts at the base, shrinks with
// the indicator type's recent miss rate (volatile values go stale fast)
// and stretches modestly for frequently re-read keys.
func (c *Adaptive) Set(key, indicatorType string, value float64) {
	now := c.clock()

	ttl := c.baseTTL
	missRate := c.typeStat(indicatorType).missRate()
	// miss rate 0 ⇒ full TTL, miss rate 1 ⇒ half TTL
	ttl = time.Duration(float64(ttl) * (1.0 - 0.5*missRate))

	if prev, ok := c.entries[key]; ok && prev.hits >= hotKeyHits {
		ttl = ttl + ttl/4
	}

	if ttl < MinTTL {
		ttl = MinTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	c.entries[key] = &entry{
		value:      value,
		storedAt:   now,
		ttl:        ttl,
		lastAccess: now,
		indType:    indicatorType,
	}

	if len(c.entries) > c.maxEntries {
		c.evict()
	}
}

// evict drops oldest-by-last-access entries until under the watermark.
func (c *Adaptive) evict() {
	target := int(float64(c.maxEntries) * evictTarget)

	type aged struct {
		key  string
		last time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, last: e.lastAccess})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].last.Before(all[j].last) })

	for _, a := range all {
		if len(c.entries) <= target {
			break
		}
		delete(c.entries, a.key)
	}
}

// ExpireStale removes entries past their TTL. Returns the count removed.
// Standard memory cleanup calls this; LRU pressure eviction is separate.
func (c *Adaptive) ExpireStale() int {
	now := c.clock()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.storedAt) > e.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Clear drops everything. Emergency cleanup only.
func (c *Adaptive) Clear() {
	c.entries = make(map[string]*entry, 256)
}

// Len returns the current entry count.
func (c *Adaptive) Len() int { return len(c.entries) }

// Stats summarizes cache performance for the health API.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// Stats returns aggregate hit-rate statistics.
func (c *Adaptive) Stats() Stats {
	s := Stats{
		Entries:    len(c.entries),
		MaxEntries: c.maxEntries,
		Hits:       c.hits,
		Misses:     c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *Adaptive) typeStat(t string) *typeStats {
	s := c.perType[t]
	if s == nil {
		s = &typeStats{}
		c.perType[t] = s
	}
	return s
}

// SetClock overrides the cache clock (testing hook).
func (c *Adaptive) SetClock(fn func() time.Time) { c.clock = fn }
