package model

import "encoding/json"

// millisCutoff: timestamps larger than this are assumed to be in
// milliseconds and are divided by 1000 on normalization.
const millisCutoff = 1e12

// NormalizeTimestamp converts a raw event timestamp to seconds.
// Feeds disagree on units; anything past the cutoff is milliseconds.
func NormalizeTimestamp(ts float64) float64 {
	if ts > millisCutoff {
		return ts / 1000.0
	}
	return ts
}

// MarketDataPoint is a single recorded quote for a symbol.
// Immutable once recorded; timestamps are seconds (already normalized).
type MarketDataPoint struct {
	Timestamp float64 `json:"ts"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
}

// OrderbookSnapshot is a top-of-book snapshot for a symbol.
type OrderbookSnapshot struct {
	Timestamp float64 `json:"ts"`
	Symbol    string  `json:"symbol"`
	BestBid   float64 `json:"best_bid"`
	BestAsk   float64 `json:"best_ask"`
	BidQty    float64 `json:"bid_qty"`
	AskQty    float64 `json:"ask_qty"`
}

// DealPoint is a trade-level record, distinct from quote snapshots.
type DealPoint struct {
	Timestamp float64 `json:"ts"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
}

// Point is a generic (timestamp, value) pair handed to algorithms.
// Volume carries trade size for deal-sourced windows and zero otherwise.
type Point struct {
	Timestamp float64 `json:"ts"`
	Value     float64 `json:"value"`
	Volume    float64 `json:"volume,omitempty"`
}

// MarketEvent is an inbound raw market event pushed into the engine by
// an external market-data adapter. Optional fields are nil when absent.
type MarketEvent struct {
	Symbol    string   `json:"symbol"`
	Timestamp float64  `json:"timestamp"`
	Price     *float64 `json:"price,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
	BestBid   *float64 `json:"best_bid,omitempty"`
	BestAsk   *float64 `json:"best_ask,omitempty"`
	BidQty    *float64 `json:"bid_qty,omitempty"`
	AskQty    *float64 `json:"ask_qty,omitempty"`
}

// JSON returns the JSON-encoded event (ignoring errors for hot-path usage).
func (e *MarketEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// IndicatorUpdate is published per successful calculation to the external
// event bus for downstream strategy evaluation and persistence.
type IndicatorUpdate struct {
	Symbol    string  `json:"symbol"`
	Indicator string  `json:"indicator"`
	Timeframe string  `json:"timeframe"`
	Value     float64 `json:"value"`
	Timestamp float64 `json:"timestamp"`
}

// Key returns "symbol:indicator:timeframe", the bus partition key.
func (u *IndicatorUpdate) Key() string {
	return u.Symbol + ":" + u.Indicator + ":" + u.Timeframe
}

// JSON returns the JSON-encoded update.
func (u *IndicatorUpdate) JSON() []byte {
	b, _ := json.Marshal(u)
	return b
}
