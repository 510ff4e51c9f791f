package breaker

import (
	"sync"
	"time"
)

// Health levels derived from rolling calculation latency and error rate.
const (
	Healthy   = "HEALTHY"
	Degraded  = "DEGRADED"
	Unhealthy = "UNHEALTHY"
)

// Thresholds for health derivation.
const (
	unhealthyAvgTime   = 1 * time.Second
	unhealthyErrorRate = 0.10
	degradedAvgTime    = 250 * time.Millisecond
	degradedErrorRate  = 0.02

	healthWindow = 200 // rolling sample count
)

// HealthMonitor tracks calculation latency and error outcomes over a
// rolling window and derives a health level from them.
type HealthMonitor struct {
	mu sync.Mutex

	durations []time.Duration
	errors    []bool
	idx       int
	count     int

	totalCalcs  uint64
	totalErrors uint64

	// ResourceExhausted is raised by the memory governor when emergency
	// cleanup could not relieve pressure; it forces UNHEALTHY and makes
	// the engine refuse new subscriptions.
	resourceExhausted bool
}

// NewHealthMonitor returns an empty monitor.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		durations: make([]time.Duration, healthWindow),
		errors:    make([]bool, healthWindow),
	}
}

// Record adds one calculation outcome.
func (h *HealthMonitor) Record(d time.Duration, failed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.durations[h.idx] = d
	h.errors[h.idx] = failed
	h.idx = (h.idx + 1) % healthWindow
	if h.count < healthWindow {
		h.count++
	}
	h.totalCalcs++
	if failed {
		h.totalErrors++
	}
}

// SetResourceExhausted flips the hard memory-pressure flag.
func (h *HealthMonitor) SetResourceExhausted(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resourceExhausted = v
}

// ResourceExhausted reports whether the engine is under hard pressure.
func (h *HealthMonitor) ResourceExhausted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resourceExhausted
}

// Status summarizes current health for the API.
type Status struct {
	Level       string        `json:"level"`
	AvgCalcTime time.Duration `json:"avg_calc_time"`
	ErrorRate   float64       `json:"error_rate"`
	TotalCalcs  uint64        `json:"total_calculations"`
	TotalErrors uint64        `json:"total_errors"`
	Exhausted   bool          `json:"resource_exhausted"`
}

// Status derives the current health level.
func (h *HealthMonitor) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	var sum time.Duration
	errs := 0
	for i := 0; i < h.count; i++ {
		sum += h.durations[i]
		if h.errors[i] {
			errs++
		}
	}

	st := Status{
		TotalCalcs:  h.totalCalcs,
		TotalErrors: h.totalErrors,
		Exhausted:   h.resourceExhausted,
	}
	if h.count > 0 {
		st.AvgCalcTime = sum / time.Duration(h.count)
		st.ErrorRate = float64(errs) / float64(h.count)
	}

	switch {
	case h.resourceExhausted,
		st.AvgCalcTime > unhealthyAvgTime,
		st.ErrorRate > unhealthyErrorRate:
		st.Level = Unhealthy
	case st.AvgCalcTime > degradedAvgTime,
		st.ErrorRate > degradedErrorRate:
		st.Level = Degraded
	default:
		st.Level = Healthy
	}
	return st
}
