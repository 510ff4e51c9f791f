package cache

import (
	"testing"
	"time"
)

func TestBucketSize(t *testing.T) {
	cases := []struct {
		refresh time.Duration
		want    time.Duration
	}{
		{1 * time.Second, 1 * time.Second},
		{30 * time.Second, 30 * time.Second},
		{120 * time.Second, MaxBucket},
		{0, 1 * time.Second},
	}
	for _, c := range cases {
		if got := BucketSize(c.refresh); got != c.want {
			t.Errorf("BucketSize(%v): got %v, want %v", c.refresh, got, c.want)
		}
	}
}

func TestKey_SameBucketSameKey(t *testing.T) {
	// Two requests inside the same refresh bucket must produce the same
	// key so the second one is a pure cache hit.
	k1 := Key("TWPA", "BTCUSDT", "tick", "abc", 1000.2, 10*time.Second)
	k2 := Key("TWPA", "BTCUSDT", "tick", "abc", 1009.9, 10*time.Second)
	if k1 != k2 {
		t.Errorf("keys differ within one bucket: %s vs %s", k1, k2)
	}
	k3 := Key("TWPA", "BTCUSDT", "tick", "abc", 1010.1, 10*time.Second)
	if k1 == k3 {
		t.Error("keys must differ across buckets")
	}
}

func TestGetSet_TTLExpiry(t *testing.T) {
	c := New(0, 60*time.Second)
	now := time.Unix(1_000_000, 0)
	c.SetClock(func() time.Time { return now })

	c.Set("k", "TWPA", 1.5)
	if v, ok := c.Get("k", "TWPA"); !ok || v != 1.5 {
		t.Fatalf("expected hit with 1.5, got %v ok=%v", v, ok)
	}

	now = now.Add(MaxTTL + time.Second)
	if _, ok := c.Get("k", "TWPA"); ok {
		t.Error("expected miss after TTL expiry")
	}
}

func TestAdaptiveTTL_MissRateShortens(t *testing.T) {
	c := New(0, 120*time.Second)
	now := time.Unix(1_000_000, 0)
	c.SetClock(func() time.Time { return now })

	// Drive the miss rate for the type to 100%.
	for i := 0; i < 10; i++ {
		c.Get("absent", "VOLATILE")
	}
	c.Set("k", "VOLATILE", 1.0)

	// Half of 120s = 60s: alive at 59s, dead at 61s.
	now = now.Add(59 * time.Second)
	if _, ok := c.Get("k", "VOLATILE"); !ok {
		t.Error("expected hit before shortened TTL")
	}
	now = now.Add(2 * time.Second)
	if _, ok := c.Get("k", "VOLATILE"); ok {
		t.Error("expected miss after shortened TTL")
	}
}

func TestAdaptiveTTL_Clamped(t *testing.T) {
	c := New(0, 10*time.Second) // below MinTTL
	now := time.Unix(1_000_000, 0)
	c.SetClock(func() time.Time { return now })

	c.Set("k", "T", 1.0)
	now = now.Add(MinTTL - time.Second)
	if _, ok := c.Get("k", "T"); !ok {
		t.Error("TTL must be clamped up to MinTTL")
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(10, 60*time.Second)
	now := time.Unix(1_000_000, 0)
	c.SetClock(func() time.Time { return now })

	for i := 0; i < 10; i++ {
		c.Set(string(rune('a'+i)), "T", float64(i))
		now = now.Add(time.Second)
	}
	// Touch "a" so it is the most recently used.
	c.Get("a", "T")

	// Push past the cap; eviction drops to 70% (7 entries).
	c.Set("overflow", "T", 99)
	if c.Len() != 7 {
		t.Fatalf("expected 7 entries after eviction, got %d", c.Len())
	}
	if _, ok := c.Get("a", "T"); !ok {
		t.Error("most recently used entry should survive eviction")
	}
	if _, ok := c.Get("b", "T"); ok {
		t.Error("oldest-by-access entry should be evicted")
	}
}

func TestExpireStale(t *testing.T) {
	c := New(0, 60*time.Second)
	now := time.Unix(1_000_000, 0)
	c.SetClock(func() time.Time { return now })

	c.Set("old", "T", 1)
	now = now.Add(MaxTTL + time.Second)
	c.Set("fresh", "T", 2)

	if removed := c.ExpireStale(); removed != 1 {
		t.Errorf("expected 1 stale entry removed, got %d", removed)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry left, got %d", c.Len())
	}
}

func TestStats(t *testing.T) {
	c := New(0, 60*time.Second)
	c.Set("k", "T", 1)
	c.Get("k", "T")
	c.Get("absent", "T")

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 {
		t.Errorf("stats: hits=%d misses=%d", s.Hits, s.Misses)
	}
	if s.HitRate != 0.5 {
		t.Errorf("hit rate: got %v, want 0.5", s.HitRate)
	}
}
