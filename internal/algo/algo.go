// Package algo provides the pluggable indicator algorithms of the engine.
//
// Each algorithm is a stateless, immutable computational unit for one
// indicator family. It declares its parameter schema, whether it must be
// recomputed on a wall-clock cadence, and the historical windows it needs.
// The engine assembles the windows from its data buffers and calls
// Compute, which is a pure function over (timestamp, value) sequences.
package algo

import (
	"fmt"
	"math"
	"time"

	"indicator-enginev1/internal/model"
)

// Data sources an algorithm window can draw from. Orderbook-derived
// sources are defined alongside their algorithms in orderbook.go.
const (
	SourcePrice = "price"
	SourceDeal  = "deal"
)

// Algorithm categories, used for registry listing and variant grouping.
const (
	CategoryAverage    = "average"
	CategoryOscillator = "oscillator"
	CategoryVolume     = "volume"
	CategoryLiquidity  = "liquidity"
	CategoryMomentum   = "momentum"
)

// Global refresh-interval clamp for time-driven algorithms.
const (
	MinRefreshInterval = 1 * time.Second
	MaxRefreshInterval = 30 * time.Second
)

// ParamSpec describes one algorithm parameter: its type, bounds and default.
// Variant parameters are validated against these specs at the boundary.
type ParamSpec struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // "float", "int", "string"
	Default     any      `json:"default,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Allowed     []string `json:"allowed_values,omitempty"`
	Required    bool     `json:"required"`
	Description string   `json:"description,omitempty"`
}

// WindowSpec describes one required historical window in seconds-ago
// coordinates: the window covers [now-T1, now-T2] with T1 > T2.
type WindowSpec struct {
	Source string  `json:"source"`
	T1     float64 `json:"t1"`
	T2     float64 `json:"t2"`
	// CarryIn asks the buffer for the single most recent point strictly
	// before the window start, prepended to the window. Time-weighted
	// algorithms need it to know the value in effect at window start.
	CarryIn bool `json:"carry_in"`
}

// Params is a validated parameter set for one algorithm invocation.
type Params map[string]any

// Float returns the named parameter coerced to float64, or fallback.
func (p Params) Float(name string, fallback float64) float64 {
	v, ok := p[name]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return fallback
}

// Int returns the named parameter coerced to int, or fallback.
func (p Params) Int(name string, fallback int) int {
	v, ok := p[name]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return fallback
}

// String returns the named parameter as a string, or fallback.
func (p Params) String(name, fallback string) string {
	if v, ok := p[name].(string); ok {
		return v
	}
	return fallback
}

// Window is one assembled data window: the resolved absolute bounds
// [Start, End] plus the ascending points inside it. For CarryIn specs the
// first point may sit strictly before Start.
type Window struct {
	Start  float64
	End    float64
	Points []model.Point
}

// Algorithm is the contract every indicator family implements.
type Algorithm interface {
	// Type returns the indicator type name, e.g. "TWPA", "RSI".
	Type() string

	// Category returns the registry category for this algorithm.
	Category() string

	// Parameters returns the ordered parameter schema.
	Parameters() []ParamSpec

	// TimeDriven reports whether this algorithm must be recomputed on a
	// wall-clock cadence even without new market data. Fixed per type.
	TimeDriven() bool

	// RefreshInterval derives the recalculation cadence from the
	// parameters, clamped to [MinRefreshInterval, MaxRefreshInterval].
	RefreshInterval(params Params) time.Duration

	// WindowSpecs returns the historical windows Compute needs.
	WindowSpecs(params Params) []WindowSpec

	// Compute is a pure function over pre-assembled windows (one per
	// WindowSpec, same order). Returns ok=false when data is
	// insufficient — never an error and never a panic by contract.
	Compute(windows []Window, params Params) (float64, bool)
}

// refreshStaircase derives a cadence from how close the window end sits to
// "now". Windows touching now refresh every second; windows ending further
// in the past can afford a slower cadence.
func refreshStaircase(t2 float64) time.Duration {
	switch {
	case t2 <= 1:
		return 1 * time.Second
	case t2 <= 60:
		return 2 * time.Second
	case t2 <= 300:
		return 5 * time.Second
	case t2 <= 1800:
		return 15 * time.Second
	default:
		return 30 * time.Second
	}
}

// clampRefresh applies the global refresh bounds.
func clampRefresh(d time.Duration) time.Duration {
	if d < MinRefreshInterval {
		return MinRefreshInterval
	}
	if d > MaxRefreshInterval {
		return MaxRefreshInterval
	}
	return d
}

// refreshFromParams resolves the cadence for a window-based algorithm:
// an explicit refresh_interval parameter wins, otherwise the staircase
// keyed on the window end offset.
func refreshFromParams(params Params, t2 float64) time.Duration {
	if override := params.Float("refresh_interval", 0); override > 0 {
		return clampRefresh(time.Duration(override * float64(time.Second)))
	}
	return clampRefresh(refreshStaircase(t2))
}

// ValidateParams checks raw parameters against a schema: required presence,
// type, bounds and allowed values. Unknown parameter names are rejected so
// typos surface at the boundary instead of silently using defaults.
func ValidateParams(specs []ParamSpec, raw map[string]any) (Params, error) {
	byName := make(map[string]ParamSpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}

	out := make(Params, len(specs))
	for name, v := range raw {
		spec, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
		cv, err := coerceParam(spec, v)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		out[name] = cv
	}

	for _, s := range specs {
		if _, present := out[s.Name]; present {
			continue
		}
		if s.Required {
			return nil, fmt.Errorf("missing required parameter %q", s.Name)
		}
		if s.Default != nil {
			out[s.Name] = s.Default
		}
	}
	return out, nil
}

func coerceParam(spec ParamSpec, v any) (any, error) {
	switch spec.Type {
	case "float", "int":
		var f float64
		switch n := v.(type) {
		case float64:
			f = n
		case int:
			f = float64(n)
		case int64:
			f = float64(n)
		default:
			return nil, fmt.Errorf("expected number, got %T", v)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("value must be finite")
		}
		if spec.Min != nil && f < *spec.Min {
			return nil, fmt.Errorf("value %v below minimum %v", f, *spec.Min)
		}
		if spec.Max != nil && f > *spec.Max {
			return nil, fmt.Errorf("value %v above maximum %v", f, *spec.Max)
		}
		if spec.Type == "int" {
			if f != math.Trunc(f) {
				return nil, fmt.Errorf("expected integer, got %v", f)
			}
			return int(f), nil
		}
		return f, nil
	case "string":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		if len(spec.Allowed) > 0 {
			for _, a := range spec.Allowed {
				if a == s {
					return s, nil
				}
			}
			return nil, fmt.Errorf("value %q not in allowed set %v", s, spec.Allowed)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %q", spec.Type)
	}
}

// fptr is a shorthand for bound pointers in parameter schemas.
func fptr(f float64) *float64 { return &f }
