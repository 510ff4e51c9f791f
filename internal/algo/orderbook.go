package algo

import (
	"time"

	"indicator-enginev1/internal/model"
)

// Derived orderbook sources. The buffer layer projects stored snapshots
// into (timestamp, value) series on demand:
//
//	orderbook_mid       value = (best_bid + best_ask) / 2, volume = bid_qty + ask_qty
//	orderbook_spread    value = best_ask - best_bid
//	orderbook_imbalance value = bid_qty / (bid_qty + ask_qty)
const (
	SourceOrderbookMid       = "orderbook_mid"
	SourceOrderbookSpread    = "orderbook_spread"
	SourceOrderbookImbalance = "orderbook_imbalance"
)

// OrderbookMidTWA is the time-weighted mid price over a sliding window.
type OrderbookMidTWA struct{}

func (OrderbookMidTWA) Type() string     { return "OB_MID_TWA" }
func (OrderbookMidTWA) Category() string { return CategoryLiquidity }
func (OrderbookMidTWA) TimeDriven() bool { return true }

func (OrderbookMidTWA) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "t1", Type: "float", Required: true, Min: fptr(0.001), Max: fptr(604800),
			Description: "window start, seconds before now"},
		{Name: "t2", Type: "float", Default: 0.0, Min: fptr(0), Max: fptr(604800),
			Description: "window end, seconds before now"},
		{Name: "refresh_interval", Type: "float", Min: fptr(0), Max: fptr(3600)},
	}
}

func (OrderbookMidTWA) RefreshInterval(params Params) time.Duration {
	return refreshFromParams(params, params.Float("t2", 0))
}

func (OrderbookMidTWA) WindowSpecs(params Params) []WindowSpec {
	return []WindowSpec{{
		Source:  SourceOrderbookMid,
		T1:      params.Float("t1", 300),
		T2:      params.Float("t2", 0),
		CarryIn: true,
	}}
}

func (OrderbookMidTWA) Compute(windows []Window, params Params) (float64, bool) {
	if len(windows) != 1 {
		return 0, false
	}
	return timeWeighted(windows[0])
}

// Spread is the current best ask minus best bid. Event-driven: it only
// changes when a new snapshot arrives.
type Spread struct{}

func (Spread) Type() string     { return "SPREAD" }
func (Spread) Category() string { return CategoryLiquidity }
func (Spread) TimeDriven() bool { return false }

func (Spread) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "lookback", Type: "float", Default: 60.0, Min: fptr(1), Max: fptr(86400),
			Description: "staleness bound: snapshots older than this yield no value"},
	}
}

func (Spread) RefreshInterval(params Params) time.Duration { return MinRefreshInterval }

func (Spread) WindowSpecs(params Params) []WindowSpec {
	return []WindowSpec{{Source: SourceOrderbookSpread, T1: params.Float("lookback", 60), T2: 0}}
}

func (Spread) Compute(windows []Window, params Params) (float64, bool) {
	if len(windows) != 1 || len(windows[0].Points) == 0 {
		return 0, false
	}
	pts := windows[0].Points
	return pts[len(pts)-1].Value, true
}

// Imbalance is the time-weighted bid share of top-of-book quantity,
// in [0, 1]. Values above 0.5 mean resting bids outweigh asks.
type Imbalance struct{}

func (Imbalance) Type() string     { return "OB_IMBALANCE" }
func (Imbalance) Category() string { return CategoryLiquidity }
func (Imbalance) TimeDriven() bool { return true }

func (Imbalance) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "t1", Type: "float", Required: true, Min: fptr(0.001), Max: fptr(604800)},
		{Name: "t2", Type: "float", Default: 0.0, Min: fptr(0), Max: fptr(604800)},
		{Name: "refresh_interval", Type: "float", Min: fptr(0), Max: fptr(3600)},
	}
}

func (Imbalance) RefreshInterval(params Params) time.Duration {
	return refreshFromParams(params, params.Float("t2", 0))
}

func (Imbalance) WindowSpecs(params Params) []WindowSpec {
	return []WindowSpec{{
		Source:  SourceOrderbookImbalance,
		T1:      params.Float("t1", 300),
		T2:      params.Float("t2", 0),
		CarryIn: true,
	}}
}

func (Imbalance) Compute(windows []Window, params Params) (float64, bool) {
	if len(windows) != 1 {
		return 0, false
	}
	return timeWeighted(windows[0])
}

// Liquidity is a composite: time-weighted top-of-book depth discounted by
// the time-weighted spread relative to mid. Wider spreads shrink the score.
//
//	liquidity = tw_depth * mid / (mid + tw_spread)
type Liquidity struct{}

func (Liquidity) Type() string     { return "LIQUIDITY" }
func (Liquidity) Category() string { return CategoryLiquidity }
func (Liquidity) TimeDriven() bool { return true }

func (Liquidity) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "t1", Type: "float", Required: true, Min: fptr(0.001), Max: fptr(604800)},
		{Name: "t2", Type: "float", Default: 0.0, Min: fptr(0), Max: fptr(604800)},
		{Name: "refresh_interval", Type: "float", Min: fptr(0), Max: fptr(3600)},
	}
}

func (Liquidity) RefreshInterval(params Params) time.Duration {
	return refreshFromParams(params, params.Float("t2", 0))
}

func (Liquidity) WindowSpecs(params Params) []WindowSpec {
	t1 := params.Float("t1", 300)
	t2 := params.Float("t2", 0)
	return []WindowSpec{
		{Source: SourceOrderbookMid, T1: t1, T2: t2, CarryIn: true},
		{Source: SourceOrderbookSpread, T1: t1, T2: t2, CarryIn: true},
	}
}

func (Liquidity) Compute(windows []Window, params Params) (float64, bool) {
	if len(windows) != 2 {
		return 0, false
	}
	mid, ok := timeWeighted(windows[0])
	if !ok || mid <= 0 {
		return 0, false
	}
	spread, ok := timeWeighted(windows[1])
	if !ok || spread < 0 {
		return 0, false
	}
	// Depth rides along as Volume on the mid series.
	depthWin := Window{Start: windows[0].Start, End: windows[0].End}
	depthWin.Points = make([]model.Point, len(windows[0].Points))
	for i, p := range windows[0].Points {
		depthWin.Points[i] = model.Point{Timestamp: p.Timestamp, Value: p.Volume}
	}
	depth, ok := timeWeighted(depthWin)
	if !ok {
		return 0, false
	}
	return depth * mid / (mid + spread), true
}

// PriceMomentum is the relative price change across the window:
// (last - first) / first. Returns no value when the first price is zero.
type PriceMomentum struct{}

func (PriceMomentum) Type() string     { return "PRICE_MOMENTUM" }
func (PriceMomentum) Category() string { return CategoryMomentum }
func (PriceMomentum) TimeDriven() bool { return true }

func (PriceMomentum) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "t1", Type: "float", Required: true, Min: fptr(0.001), Max: fptr(604800)},
		{Name: "t2", Type: "float", Default: 0.0, Min: fptr(0), Max: fptr(604800)},
		{Name: "refresh_interval", Type: "float", Min: fptr(0), Max: fptr(3600)},
	}
}

func (PriceMomentum) RefreshInterval(params Params) time.Duration {
	return refreshFromParams(params, params.Float("t2", 0))
}

func (PriceMomentum) WindowSpecs(params Params) []WindowSpec {
	return []WindowSpec{{
		Source: SourcePrice,
		T1:     params.Float("t1", 300),
		T2:     params.Float("t2", 0),
	}}
}

func (PriceMomentum) Compute(windows []Window, params Params) (float64, bool) {
	if len(windows) != 1 || len(windows[0].Points) == 0 {
		return 0, false
	}
	pts := windows[0].Points
	first, last := pts[0].Value, pts[len(pts)-1].Value
	if first == 0 {
		return 0, false
	}
	return (last - first) / first, true
}
