package algo

import "time"

// aggregate is the shared implementation of simple windowed metrics:
// filter points into [now-t1, now-t2], apply a fold, return no value on an
// empty window. Concrete types below differ only in source and fold.
type aggregate struct {
	typ      string
	category string
	source   string
	fold     func(pts []point) (float64, bool)
}

// point narrows model.Point to what folds need.
type point struct {
	ts     float64
	value  float64
	volume float64
}

func (a aggregate) Type() string     { return a.typ }
func (a aggregate) Category() string { return a.category }
func (a aggregate) TimeDriven() bool { return true }

func (a aggregate) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "t1", Type: "float", Required: true, Min: fptr(0.001), Max: fptr(604800),
			Description: "window start, seconds before now"},
		{Name: "t2", Type: "float", Default: 0.0, Min: fptr(0), Max: fptr(604800),
			Description: "window end, seconds before now"},
		{Name: "refresh_interval", Type: "float", Min: fptr(0), Max: fptr(3600)},
	}
}

func (a aggregate) RefreshInterval(params Params) time.Duration {
	return refreshFromParams(params, params.Float("t2", 0))
}

func (a aggregate) WindowSpecs(params Params) []WindowSpec {
	return []WindowSpec{{
		Source: a.source,
		T1:     params.Float("t1", 300),
		T2:     params.Float("t2", 0),
	}}
}

func (a aggregate) Compute(windows []Window, params Params) (float64, bool) {
	if len(windows) != 1 {
		return 0, false
	}
	w := windows[0]
	pts := make([]point, 0, len(w.Points))
	for _, p := range w.Points {
		if p.Timestamp < w.Start || p.Timestamp > w.End {
			continue
		}
		pts = append(pts, point{ts: p.Timestamp, value: p.Value, volume: p.Volume})
	}
	if len(pts) == 0 {
		return 0, false
	}
	return a.fold(pts)
}

// windowedAggregates returns the simple price/volume aggregate family.
func windowedAggregates() []Algorithm {
	return []Algorithm{
		aggregate{typ: "MAX_PRICE", category: CategoryAverage, source: SourcePrice,
			fold: func(pts []point) (float64, bool) {
				max := pts[0].value
				for _, p := range pts[1:] {
					if p.value > max {
						max = p.value
					}
				}
				return max, true
			}},
		aggregate{typ: "MIN_PRICE", category: CategoryAverage, source: SourcePrice,
			fold: func(pts []point) (float64, bool) {
				min := pts[0].value
				for _, p := range pts[1:] {
					if p.value < min {
						min = p.value
					}
				}
				return min, true
			}},
		aggregate{typ: "FIRST_PRICE", category: CategoryAverage, source: SourcePrice,
			fold: func(pts []point) (float64, bool) { return pts[0].value, true }},
		aggregate{typ: "LAST_PRICE", category: CategoryAverage, source: SourcePrice,
			fold: func(pts []point) (float64, bool) { return pts[len(pts)-1].value, true }},
		aggregate{typ: "PRICE_AVG", category: CategoryAverage, source: SourcePrice,
			fold: func(pts []point) (float64, bool) {
				var sum float64
				for _, p := range pts {
					sum += p.value
				}
				return sum / float64(len(pts)), true
			}},
		aggregate{typ: "VOLUME_SUM", category: CategoryVolume, source: SourceDeal,
			fold: func(pts []point) (float64, bool) {
				var sum float64
				for _, p := range pts {
					sum += p.volume
				}
				return sum, true
			}},
		aggregate{typ: "VOLUME_AVG", category: CategoryVolume, source: SourceDeal,
			fold: func(pts []point) (float64, bool) {
				var sum float64
				for _, p := range pts {
					sum += p.volume
				}
				return sum / float64(len(pts)), true
			}},
		aggregate{typ: "DEAL_COUNT", category: CategoryVolume, source: SourceDeal,
			fold: func(pts []point) (float64, bool) { return float64(len(pts)), true }},
		aggregate{typ: "VWAP", category: CategoryVolume, source: SourceDeal,
			fold: func(pts []point) (float64, bool) {
				var pv, vol float64
				for _, p := range pts {
					pv += p.value * p.volume
					vol += p.volume
				}
				if vol <= 0 {
					return 0, false
				}
				return pv / vol, true
			}},
	}
}

// SMA is the arithmetic mean of the last `period` prices within a lookback
// window. Event-driven: the dispatcher keeps an O(1) incremental fast path
// for it, and this windowed form must agree with that fast path.
type SMA struct{}

func (SMA) Type() string     { return "SMA" }
func (SMA) Category() string { return CategoryAverage }
func (SMA) TimeDriven() bool { return false }

func (SMA) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "period", Type: "int", Default: 20, Min: fptr(1), Max: fptr(1000),
			Description: "number of points averaged"},
		{Name: "lookback", Type: "float", Default: 3600.0, Min: fptr(1), Max: fptr(604800),
			Description: "window to draw points from, seconds before now"},
	}
}

func (SMA) RefreshInterval(params Params) time.Duration { return MinRefreshInterval }

func (SMA) WindowSpecs(params Params) []WindowSpec {
	return []WindowSpec{{Source: SourcePrice, T1: params.Float("lookback", 3600), T2: 0}}
}

func (SMA) Compute(windows []Window, params Params) (float64, bool) {
	if len(windows) != 1 {
		return 0, false
	}
	pts := windows[0].Points
	period := params.Int("period", 20)
	if len(pts) < period {
		return 0, false
	}
	pts = pts[len(pts)-period:]
	var sum float64
	for _, p := range pts {
		sum += p.Value
	}
	return sum / float64(period), true
}

// EMA is the exponential moving average seeded with an SMA of the first
// `period` points, matching the incremental fast path.
type EMA struct{}

func (EMA) Type() string     { return "EMA" }
func (EMA) Category() string { return CategoryAverage }
func (EMA) TimeDriven() bool { return false }

func (EMA) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "period", Type: "int", Default: 20, Min: fptr(1), Max: fptr(1000),
			Description: "smoothing period"},
		{Name: "lookback", Type: "float", Default: 3600.0, Min: fptr(1), Max: fptr(604800),
			Description: "window to draw points from, seconds before now"},
	}
}

func (EMA) RefreshInterval(params Params) time.Duration { return MinRefreshInterval }

func (EMA) WindowSpecs(params Params) []WindowSpec {
	return []WindowSpec{{Source: SourcePrice, T1: params.Float("lookback", 3600), T2: 0}}
}

func (EMA) Compute(windows []Window, params Params) (float64, bool) {
	if len(windows) != 1 {
		return 0, false
	}
	pts := windows[0].Points
	period := params.Int("period", 20)
	if len(pts) < period {
		return 0, false
	}
	var seed float64
	for _, p := range pts[:period] {
		seed += p.Value
	}
	ema := seed / float64(period)
	mult := 2.0 / float64(period+1)
	for _, p := range pts[period:] {
		ema = p.Value*mult + ema*(1-mult)
	}
	return ema, true
}
