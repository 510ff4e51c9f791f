package engine

import (
	"fmt"

	"indicator-enginev1/internal/algo"
)

// The fast path keeps incremental per-instance state for the moving-average
// family so a new tick updates the value in O(1) without reassembling the
// window or touching the cache. Fast-path state is checkpointed with the
// engine snapshot so a restart does not reset warm averages.

// fastCalc is the incremental counterpart of a windowed algorithm.
type fastCalc interface {
	Update(price float64)
	Value() (float64, bool)
	State() fastState
	restore(fastState) error
}

// fastState serializes any fast calculator for checkpoint persistence.
type fastState struct {
	Type       string    `json:"type"`
	Period     int       `json:"period"`
	Buf        []float64 `json:"buf,omitempty"`
	Idx        int       `json:"idx,omitempty"`
	Count      int       `json:"count"`
	Sum        float64   `json:"sum,omitempty"`
	Current    float64   `json:"current"`
	Multiplier float64   `json:"multiplier,omitempty"`
	PrevPrice  float64   `json:"prev_price,omitempty"`
	AvgGain    float64   `json:"avg_gain,omitempty"`
	AvgLoss    float64   `json:"avg_loss,omitempty"`
}

// newFastCalc returns the incremental form of a type, or nil when the
// type has none and must go through window assembly every time.
func newFastCalc(typ string, params algo.Params) fastCalc {
	switch typ {
	case "SMA":
		return newFastSMA(params.Int("period", 20))
	case "EMA":
		return newFastEMA(params.Int("period", 20))
	case "RSI":
		return newFastRSI(params.Int("period", 14))
	}
	return nil
}

// restoreFastCalc rebuilds a fast calculator from checkpointed state.
func restoreFastCalc(st fastState) (fastCalc, error) {
	var fc fastCalc
	switch st.Type {
	case "SMA":
		fc = newFastSMA(st.Period)
	case "EMA":
		fc = newFastEMA(st.Period)
	case "RSI":
		fc = newFastRSI(st.Period)
	default:
		return nil, fmt.Errorf("unknown fast calculator type %q", st.Type)
	}
	if err := fc.restore(st); err != nil {
		return nil, err
	}
	return fc, nil
}

// fastSMA is a rolling mean over a preallocated circular buffer.
// Zero allocations per update.
type fastSMA struct {
	period  int
	buf     []float64
	idx     int
	count   int
	sum     float64
	current float64
}

func newFastSMA(period int) *fastSMA {
	if period < 1 {
		period = 1
	}
	return &fastSMA{period: period, buf: make([]float64, period)}
}

func (s *fastSMA) Update(price float64) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten.
		s.sum -= s.buf[s.idx]
	}
	s.buf[s.idx] = price
	s.sum += price
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
}

func (s *fastSMA) Value() (float64, bool) {
	return s.current, s.count >= s.period
}

func (s *fastSMA) State() fastState {
	buf := make([]float64, len(s.buf))
	copy(buf, s.buf)
	return fastState{
		Type:    "SMA",
		Period:  s.period,
		Buf:     buf,
		Idx:     s.idx,
		Count:   s.count,
		Sum:     s.sum,
		Current: s.current,
	}
}

func (s *fastSMA) restore(st fastState) error {
	if st.Period < 1 {
		return fmt.Errorf("sma: invalid period %d", st.Period)
	}
	s.period = st.Period
	s.idx = st.Idx
	s.count = st.Count
	s.sum = st.Sum
	s.current = st.Current
	s.buf = make([]float64, st.Period)
	copy(s.buf, st.Buf)
	return nil
}

// fastEMA seeds with an SMA over the first period prices, then updates
// with the standard multiplier. O(1) per update, no window storage.
type fastEMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

func newFastEMA(period int) *fastEMA {
	if period < 1 {
		period = 1
	}
	return &fastEMA{period: period, multiplier: 2.0 / float64(period+1)}
}

func (e *fastEMA) Update(price float64) {
	e.count++
	if e.count <= e.period {
		// Accumulate for the initial SMA seed.
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}
	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *fastEMA) Value() (float64, bool) {
	return e.current, e.count >= e.period
}

func (e *fastEMA) State() fastState {
	return fastState{
		Type:       "EMA",
		Period:     e.period,
		Count:      e.count,
		Sum:        e.sum,
		Current:    e.current,
		Multiplier: e.multiplier,
	}
}

func (e *fastEMA) restore(st fastState) error {
	if st.Period < 1 {
		return fmt.Errorf("ema: invalid period %d", st.Period)
	}
	e.period = st.Period
	e.multiplier = 2.0 / float64(st.Period+1)
	e.count = st.Count
	e.sum = st.Sum
	e.current = st.Current
	return nil
}

// fastRSI uses Wilder's smoothing, so after warmup each update folds the
// new delta into running averages instead of rescanning history.
type fastRSI struct {
	period    int
	count     int
	prevPrice float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

func newFastRSI(period int) *fastRSI {
	if period < 2 {
		period = 2
	}
	return &fastRSI{period: period}
}

func (r *fastRSI) Update(price float64) {
	r.count++
	if r.count == 1 {
		// First price — no delta yet.
		r.prevPrice = price
		return
	}

	delta := price - r.prevPrice
	r.prevPrice = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if r.count <= r.period+1 {
		// Accumulation phase: build the initial averages.
		r.avgGain += gain
		r.avgLoss += loss
		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.recompute()
		}
		return
	}

	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.recompute()
}

func (r *fastRSI) recompute() {
	if r.avgLoss == 0 {
		r.current = 100.0
		return
	}
	rs := r.avgGain / r.avgLoss
	r.current = 100.0 - (100.0 / (1.0 + rs))
}

func (r *fastRSI) Value() (float64, bool) {
	return r.current, r.count > r.period
}

func (r *fastRSI) State() fastState {
	return fastState{
		Type:      "RSI",
		Period:    r.period,
		Count:     r.count,
		PrevPrice: r.prevPrice,
		AvgGain:   r.avgGain,
		AvgLoss:   r.avgLoss,
		Current:   r.current,
	}
}

func (r *fastRSI) restore(st fastState) error {
	if st.Period < 2 {
		return fmt.Errorf("rsi: invalid period %d", st.Period)
	}
	r.period = st.Period
	r.count = st.Count
	r.prevPrice = st.PrevPrice
	r.avgGain = st.AvgGain
	r.avgLoss = st.AvgLoss
	r.current = st.Current
	return nil
}
