// Package memguard keeps the engine inside its memory budget during 24/7
// operation. It samples process memory on a fixed cadence, runs graduated
// cleanup tiers against configured thresholds, and watches the sample
// window for leak-shaped growth.
package memguard

import (
	"context"
	"log"
	"math"
	"runtime"
	"sync"
	"time"
)

// Cleanup tiers, in escalating order.
const (
	TierStandard  = "standard"
	TierForce     = "force"
	TierEmergency = "emergency"
)

// Default thresholds as fractions of the hard cap.
const (
	DefaultStandardPct  = 0.75
	DefaultForcePct     = 0.85
	DefaultEmergencyPct = 0.95
)

// Leak detection defaults.
const (
	DefaultLeakWindow     = 10 * time.Minute
	DefaultLeakThreshold  = 50 << 20 // bytes of growth within the window
	DefaultLeakRatePerHr  = 10 << 20 // bytes/hour triggering preventive cleanup
	DefaultSampleInterval = 30 * time.Second
)

// Cleaner is implemented by the engine. Each tier escalates:
// standard expires TTL'd buffers and cache entries; force additionally
// evicts the oldest instances; emergency clears caches and buffers
// outright. Emergency returns whether pressure was relieved.
type Cleaner interface {
	StandardCleanup()
	ForceCleanup()
	EmergencyCleanup() (relieved bool)
}

// Config tunes the governor. Zero fields pick the defaults above.
type Config struct {
	HardCapBytes   uint64
	StandardPct    float64
	ForcePct       float64
	EmergencyPct   float64
	SampleInterval time.Duration
	LeakWindow     time.Duration
	LeakThreshold  uint64
	LeakRatePerHr  uint64
}

type sample struct {
	at    time.Time
	bytes uint64
}

// Governor periodically samples memory and reacts to pressure.
type Governor struct {
	mu  sync.Mutex
	cfg Config

	cleaner Cleaner
	samples []sample

	lastTier     string
	lastTierAt   time.Time
	leakWarnings int

	// OnExhausted is called with true when emergency cleanup failed to
	// relieve pressure and with false once usage drops back under the
	// emergency line. Wired to the health monitor.
	OnExhausted func(bool)
	exhausted   bool

	sampler func() uint64
	clock   func() time.Time
}

// New creates a governor for the given cleaner.
func New(cfg Config, cleaner Cleaner) *Governor {
	if cfg.StandardPct <= 0 {
		cfg.StandardPct = DefaultStandardPct
	}
	if cfg.ForcePct <= 0 {
		cfg.ForcePct = DefaultForcePct
	}
	if cfg.EmergencyPct <= 0 {
		cfg.EmergencyPct = DefaultEmergencyPct
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if cfg.LeakWindow <= 0 {
		cfg.LeakWindow = DefaultLeakWindow
	}
	if cfg.LeakThreshold == 0 {
		cfg.LeakThreshold = DefaultLeakThreshold
	}
	if cfg.LeakRatePerHr == 0 {
		cfg.LeakRatePerHr = DefaultLeakRatePerHr
	}
	return &Governor{
		cfg:     cfg,
		cleaner: cleaner,
		sampler: heapInUse,
		clock:   time.Now,
	}
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}

// Run samples on the configured interval until ctx is cancelled.
// An in-flight check finishes before the loop exits.
func (g *Governor) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Check()
		}
	}
}

// Check takes one sample and applies the graduated cleanup policy.
// Exported so tests and the admin API can force a pass.
func (g *Governor) Check() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	used := g.sampler()
	g.samples = append(g.samples, sample{at: now, bytes: used})
	g.trimWindow(now)

	hardCap := g.cfg.HardCapBytes
	if hardCap == 0 {
		return // no cap configured — sampling only
	}
	frac := float64(used) / float64(hardCap)

	switch {
	case frac >= g.cfg.EmergencyPct:
		g.runTier(TierEmergency, now)
	case frac >= g.cfg.ForcePct:
		g.runTier(TierForce, now)
	case frac >= g.cfg.StandardPct:
		g.runTier(TierStandard, now)
	default:
		if g.exhausted {
			g.exhausted = false
			if g.OnExhausted != nil {
				g.OnExhausted(false)
			}
		}
		g.checkLeakTrend(now)
	}
}

func (g *Governor) runTier(tier string, now time.Time) {
	g.lastTier = tier
	g.lastTierAt = now

	switch tier {
	case TierStandard:
		log.Printf("[memguard] standard cleanup (usage above %.0f%%)", g.cfg.StandardPct*100)
		g.cleaner.StandardCleanup()
	case TierForce:
		log.Printf("[memguard] force cleanup (usage above %.0f%%)", g.cfg.ForcePct*100)
		g.cleaner.StandardCleanup()
		g.cleaner.ForceCleanup()
	case TierEmergency:
		log.Printf("[memguard] EMERGENCY cleanup (usage above %.0f%%)", g.cfg.EmergencyPct*100)
		relieved := g.cleaner.EmergencyCleanup()
		runtime.GC()
		if !relieved && !g.exhausted {
			g.exhausted = true
			if g.OnExhausted != nil {
				g.OnExhausted(true)
			}
		}
	}
}

// checkLeakTrend inspects the sample window for sustained growth.
func (g *Governor) checkLeakTrend(now time.Time) {
	if len(g.samples) < 2 {
		return
	}
	first := g.samples[0]
	last := g.samples[len(g.samples)-1]
	if last.bytes <= first.bytes {
		return
	}
	growth := last.bytes - first.bytes
	span := last.at.Sub(first.at)
	if span <= 0 {
		return
	}

	if growth >= g.cfg.LeakThreshold {
		g.leakWarnings++
		log.Printf("[memguard] WARNING: memory grew %d MB within %v — possible leak",
			growth>>20, span.Round(time.Second))
	}

	perHour := float64(growth) / span.Hours()
	if perHour >= float64(g.cfg.LeakRatePerHr) {
		log.Printf("[memguard] growth rate %.1f MB/h above limit, preventive cleanup", perHour/(1<<20))
		g.runTier(TierStandard, now)
	}
}

func (g *Governor) trimWindow(now time.Time) {
	cutoff := now.Add(-g.cfg.LeakWindow)
	i := 0
	for i < len(g.samples) && g.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		g.samples = g.samples[i:]
	}
}

// Report is the memory stability summary exposed by the health API.
type Report struct {
	Samples        int     `json:"samples"`
	AvgBytes       uint64  `json:"avg_bytes"`
	MaxBytes       uint64  `json:"max_bytes"`
	MinBytes       uint64  `json:"min_bytes"`
	Variance       float64 `json:"variance"`
	StabilityScore float64 `json:"stability_score"` // 0 (wild) .. 100 (flat)
	GrowthPerHour  float64 `json:"growth_bytes_per_hour"`
	LastTier       string  `json:"last_cleanup_tier,omitempty"`
	LeakWarnings   int     `json:"leak_warnings"`
	Exhausted      bool    `json:"resource_exhausted"`
}

// StabilityReport summarizes the current sample window.
func (g *Governor) StabilityReport() Report {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := Report{
		Samples:      len(g.samples),
		LastTier:     g.lastTier,
		LeakWarnings: g.leakWarnings,
		Exhausted:    g.exhausted,
	}
	if len(g.samples) == 0 {
		r.StabilityScore = 100
		return r
	}

	var sum float64
	r.MinBytes = g.samples[0].bytes
	for _, s := range g.samples {
		sum += float64(s.bytes)
		if s.bytes > r.MaxBytes {
			r.MaxBytes = s.bytes
		}
		if s.bytes < r.MinBytes {
			r.MinBytes = s.bytes
		}
	}
	mean := sum / float64(len(g.samples))
	r.AvgBytes = uint64(mean)

	var varSum float64
	for _, s := range g.samples {
		d := float64(s.bytes) - mean
		varSum += d * d
	}
	r.Variance = varSum / float64(len(g.samples))

	// Coefficient of variation mapped onto 0..100: a flat line scores
	// 100, a stddev equal to the mean scores 0.
	if mean > 0 {
		cv := math.Sqrt(r.Variance) / mean
		r.StabilityScore = math.Max(0, 100*(1-cv))
	}

	first, last := g.samples[0], g.samples[len(g.samples)-1]
	if span := last.at.Sub(first.at); span > 0 && last.bytes > first.bytes {
		r.GrowthPerHour = float64(last.bytes-first.bytes) / span.Hours()
	}
	return r
}

// Exhausted reports whether the last emergency cleanup failed to relieve
// pressure. AddIndicator is rejected while this holds.
func (g *Governor) Exhausted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exhausted
}

// SetSampler overrides the memory sampler (testing hook).
func (g *Governor) SetSampler(fn func() uint64) { g.sampler = fn }

// SetClock overrides the governor clock (testing hook).
func (g *Governor) SetClock(fn func() time.Time) { g.clock = fn }
