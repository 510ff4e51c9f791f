package algo

import (
	"time"

	"indicator-enginev1/internal/model"
)

// minTotalDuration guards the time-weighted division. Windows whose
// accumulated duration falls below this are treated as empty.
const minTotalDuration = 1e-12

// timeWeighted computes the duration-weighted average value over w.
// Each point's value holds from its timestamp until the next point (or the
// window end for the final point), clipped to [w.Start, w.End]. A carry-in
// point before w.Start contributes from w.Start onward, which is exactly
// why the buffer prepends it.
func timeWeighted(w Window) (float64, bool) {
	pts := w.Points
	if len(pts) == 0 || w.End <= w.Start {
		return 0, false
	}

	var weighted, total float64
	for i, p := range pts {
		segStart := p.Timestamp
		if segStart < w.Start {
			segStart = w.Start
		}
		segEnd := w.End
		if i+1 < len(pts) && pts[i+1].Timestamp < segEnd {
			segEnd = pts[i+1].Timestamp
		}
		dur := segEnd - segStart
		if dur <= 0 {
			continue
		}
		weighted += p.Value * dur
		total += dur
	}

	if total <= minTotalDuration {
		return 0, false
	}
	return weighted / total, true
}

// TWPA is the Time-Weighted Price Average: the average price weighted by
// how long each price held within the window. Time-driven — its value
// changes as the window slides even without new ticks.
type TWPA struct{}

func (TWPA) Type() string     { return "TWPA" }
func (TWPA) Category() string { return CategoryAverage }
func (TWPA) TimeDriven() bool { return true }

func (TWPA) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "t1", Type: "float", Required: true, Min: fptr(0.001), Max: fptr(604800),
			Description: "window start, seconds before now"},
		{Name: "t2", Type: "float", Default: 0.0, Min: fptr(0), Max: fptr(604800),
			Description: "window end, seconds before now (t1 > t2)"},
		{Name: "refresh_interval", Type: "float", Min: fptr(0), Max: fptr(3600),
			Description: "explicit refresh cadence override, seconds"},
	}
}

func (TWPA) RefreshInterval(params Params) time.Duration {
	return refreshFromParams(params, params.Float("t2", 0))
}

func (TWPA) WindowSpecs(params Params) []WindowSpec {
	return []WindowSpec{{
		Source:  SourcePrice,
		T1:      params.Float("t1", 300),
		T2:      params.Float("t2", 0),
		CarryIn: true,
	}}
}

func (TWPA) Compute(windows []Window, params Params) (float64, bool) {
	if len(windows) != 1 {
		return 0, false
	}
	return timeWeighted(windows[0])
}

// TWVA is the time-weighted volume average over deal records.
type TWVA struct{}

func (TWVA) Type() string     { return "TWVA" }
func (TWVA) Category() string { return CategoryVolume }
func (TWVA) TimeDriven() bool { return true }

func (TWVA) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "t1", Type: "float", Required: true, Min: fptr(0.001), Max: fptr(604800),
			Description: "window start, seconds before now"},
		{Name: "t2", Type: "float", Default: 0.0, Min: fptr(0), Max: fptr(604800),
			Description: "window end, seconds before now"},
		{Name: "refresh_interval", Type: "float", Min: fptr(0), Max: fptr(3600)},
	}
}

func (TWVA) RefreshInterval(params Params) time.Duration {
	return refreshFromParams(params, params.Float("t2", 0))
}

func (TWVA) WindowSpecs(params Params) []WindowSpec {
	return []WindowSpec{{
		Source:  SourceDeal,
		T1:      params.Float("t1", 300),
		T2:      params.Float("t2", 0),
		CarryIn: true,
	}}
}

func (TWVA) Compute(windows []Window, params Params) (float64, bool) {
	if len(windows) != 1 {
		return 0, false
	}
	w := windows[0]
	pts := make([]model.Point, len(w.Points))
	for i, p := range w.Points {
		pts[i] = model.Point{Timestamp: p.Timestamp, Value: p.Volume}
	}
	return timeWeighted(Window{Start: w.Start, End: w.End, Points: pts})
}
