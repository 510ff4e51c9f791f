package engine

import (
	"fmt"
	"sort"

	"indicator-enginev1/internal/algo"
	"indicator-enginev1/internal/cache"
	"indicator-enginev1/internal/model"
)

// simulateMaxSteps bounds a single historical simulation request.
const simulateMaxSteps = 10000

// ListIndicators returns every live instance, sorted by ID.
func (e *Engine) ListIndicators() []InstanceInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]InstanceInfo, 0, len(e.instances))
	for _, in := range e.sortedInstances() {
		out = append(out, in.info())
	}
	return out
}

// GetIndicator returns one instance's configuration and current value.
func (e *Engine) GetIndicator(id string) (InstanceInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	in, ok := e.instances[id]
	if !ok {
		return InstanceInfo{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	in.lastAccess = e.clock()
	return in.info(), nil
}

// GetValue returns an instance's current value and its event timestamp.
// ok is false until the first successful calculation.
func (e *Engine) GetValue(id string) (value, at float64, ok bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	in, found := e.instances[id]
	if !found {
		return 0, 0, false, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	in.lastAccess = e.clock()
	return in.value, in.valueAt, in.hasValue, nil
}

// AlgorithmInfo describes one registered algorithm for discovery APIs.
type AlgorithmInfo struct {
	Type       string           `json:"type"`
	Category   string           `json:"category"`
	TimeDriven bool             `json:"time_driven"`
	Parameters []algo.ParamSpec `json:"parameters"`
}

// SystemIndicators lists every registered algorithm with its schema,
// sorted by type name.
func (e *Engine) SystemIndicators() []AlgorithmInfo {
	all := e.reg.All()
	out := make([]AlgorithmInfo, 0, len(all))
	for _, a := range all {
		out = append(out, AlgorithmInfo{
			Type:       a.Type(),
			Category:   a.Category(),
			TimeDriven: a.TimeDriven(),
			Parameters: a.Parameters(),
		})
	}
	return out
}

// SimulateTimeWindows replays an instance's calculation over historical
// buffer data: one computation per refresh step across [startTS, endTS],
// bypassing cache, breaker and fast path. Steps with insufficient data
// are skipped, matching live behavior.
func (e *Engine) SimulateTimeWindows(id string, startTS, endTS, step float64) ([]model.Point, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	in, ok := e.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	if step <= 0 {
		step = in.refresh.Seconds()
	}
	if endTS < startTS {
		return nil, fmt.Errorf("%w: end %v before start %v", ErrInvalidParams, endTS, startTS)
	}
	if (endTS-startTS)/step > simulateMaxSteps {
		return nil, fmt.Errorf("%w: more than %d simulation steps", ErrInvalidParams, simulateMaxSteps)
	}
	in.lastAccess = e.clock()

	specs := in.alg.WindowSpecs(in.params)
	var out []model.Point
	for t := startTS; t <= endTS; t += step {
		windows := make([]algo.Window, len(specs))
		for i, ws := range specs {
			windows[i] = e.buffers.Window(in.symbol, in.timeframe, ws, t)
		}
		if v, ok := in.alg.Compute(windows, in.params); ok {
			out = append(out, model.Point{Timestamp: t, Value: v})
		}
	}
	return out, nil
}

// EngineStats is the aggregate state summary for the admin API.
type EngineStats struct {
	Instances   int         `json:"instances"`
	TimeDriven  int         `json:"time_driven"`
	Sessions    int         `json:"sessions"`
	Buffers     int         `json:"buffers"`
	BufferedPts int         `json:"buffered_points"`
	Cache       cache.Stats `json:"cache"`
	Symbols     []string    `json:"symbols"`
}

// Stats summarizes current engine occupancy.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	buffers, points := e.buffers.Len()
	st := EngineStats{
		Instances:   len(e.instances),
		TimeDriven:  len(e.schedules),
		Sessions:    len(e.sessions),
		Buffers:     buffers,
		BufferedPts: points,
		Cache:       e.cache.Stats(),
	}
	seen := make(map[string]struct{}, len(e.instances))
	for _, in := range e.instances {
		if _, ok := seen[in.symbol]; !ok {
			seen[in.symbol] = struct{}{}
			st.Symbols = append(st.Symbols, in.symbol)
		}
	}
	sort.Strings(st.Symbols)
	return st
}

// CacheStats exposes the cache hit-rate counters.
func (e *Engine) CacheStats() cache.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Stats()
}
