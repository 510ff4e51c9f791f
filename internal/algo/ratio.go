package algo

import (
	"math"
	"time"
)

// TWPARatio divides two independent time-weighted price windows. The usual
// use is momentum-style "recent window vs reference window" ratios.
type TWPARatio struct{}

func (TWPARatio) Type() string     { return "TWPA_RATIO" }
func (TWPARatio) Category() string { return CategoryMomentum }
func (TWPARatio) TimeDriven() bool { return true }

func (TWPARatio) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "num_t1", Type: "float", Required: true, Min: fptr(0.001), Max: fptr(604800),
			Description: "numerator window start, seconds before now"},
		{Name: "num_t2", Type: "float", Default: 0.0, Min: fptr(0), Max: fptr(604800),
			Description: "numerator window end, seconds before now"},
		{Name: "den_t1", Type: "float", Required: true, Min: fptr(0.001), Max: fptr(604800),
			Description: "denominator window start, seconds before now"},
		{Name: "den_t2", Type: "float", Default: 0.0, Min: fptr(0), Max: fptr(604800),
			Description: "denominator window end, seconds before now"},
		{Name: "min_denominator", Type: "float", Default: 1e-9, Min: fptr(0),
			Description: "denominator magnitudes below this yield no value"},
		{Name: "refresh_interval", Type: "float", Min: fptr(0), Max: fptr(3600)},
	}
}

func (TWPARatio) RefreshInterval(params Params) time.Duration {
	// The tighter of the two window ends drives the cadence.
	t2 := params.Float("num_t2", 0)
	if d := params.Float("den_t2", 0); d < t2 {
		t2 = d
	}
	return refreshFromParams(params, t2)
}

func (TWPARatio) WindowSpecs(params Params) []WindowSpec {
	return []WindowSpec{
		{Source: SourcePrice, T1: params.Float("num_t1", 60), T2: params.Float("num_t2", 0), CarryIn: true},
		{Source: SourcePrice, T1: params.Float("den_t1", 3600), T2: params.Float("den_t2", 0), CarryIn: true},
	}
}

func (TWPARatio) Compute(windows []Window, params Params) (float64, bool) {
	if len(windows) != 2 {
		return 0, false
	}
	num, ok := timeWeighted(windows[0])
	if !ok {
		return 0, false
	}
	den, ok := timeWeighted(windows[1])
	if !ok {
		return 0, false
	}
	if math.Abs(den) < params.Float("min_denominator", 1e-9) {
		return 0, false
	}
	return num / den, true
}
