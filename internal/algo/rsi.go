package algo

import "time"

// RSI computes the Relative Strength Index with Wilder's smoothing over the
// last `period` points inside the lookback window. Event-driven: a new
// delta only exists when a new price arrives.
type RSI struct{}

func (RSI) Type() string     { return "RSI" }
func (RSI) Category() string { return CategoryOscillator }
func (RSI) TimeDriven() bool { return false }

func (RSI) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "period", Type: "int", Default: 14, Min: fptr(2), Max: fptr(500),
			Description: "number of price deltas averaged"},
		{Name: "lookback", Type: "float", Default: 3600.0, Min: fptr(1), Max: fptr(604800),
			Description: "window to draw points from, seconds before now"},
	}
}

func (RSI) RefreshInterval(params Params) time.Duration {
	return MinRefreshInterval
}

func (RSI) WindowSpecs(params Params) []WindowSpec {
	return []WindowSpec{{
		Source: SourcePrice,
		T1:     params.Float("lookback", 3600),
		T2:     0,
	}}
}

func (RSI) Compute(windows []Window, params Params) (float64, bool) {
	if len(windows) != 1 {
		return 0, false
	}
	pts := windows[0].Points
	period := params.Int("period", 14)
	// Need period deltas, so period+1 points.
	if len(pts) < period+1 {
		return 0, false
	}
	pts = pts[len(pts)-(period+1):]

	var avgGain, avgLoss float64
	for i := 1; i < len(pts); i++ {
		delta := pts[i].Value - pts[i-1].Value
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	if avgLoss == 0 {
		return 100.0, true
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs)), true
}
