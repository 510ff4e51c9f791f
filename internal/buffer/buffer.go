// Package buffer holds the per-symbol, per-timeframe market data buffers
// the engine computes indicator windows from. Buffers are bounded rings,
// always timestamp-ascending, with access-time tracking for TTL eviction
// and a checkpoint/rollback facility scoped to a single market event.
package buffer

import (
	"sort"
	"time"

	"indicator-enginev1/internal/algo"
	"indicator-enginev1/internal/model"
)

// DefaultTimeframe is the raw-event timeframe every event is recorded
// into, so freshly added subscriptions have history to draw from.
const DefaultTimeframe = "tick"

const (
	// DefaultMaxLen bounds each ring buffer.
	DefaultMaxLen = 1000
	// DefaultTTL evicts whole buffers after this much inactivity.
	DefaultTTL = 10 * time.Minute
)

// series is one bounded, timestamp-ascending ring of points.
type series struct {
	buf        []model.Point
	start      int // index of oldest element
	count      int
	lastAccess time.Time
}

func newSeries(maxLen int) *series {
	return &series{buf: make([]model.Point, maxLen)}
}

func (s *series) append(p model.Point) {
	if s.count == len(s.buf) {
		// Ring full — overwrite oldest.
		s.buf[s.start] = p
		s.start = (s.start + 1) % len(s.buf)
		return
	}
	s.buf[(s.start+s.count)%len(s.buf)] = p
	s.count++
}

func (s *series) at(i int) model.Point {
	return s.buf[(s.start+i)%len(s.buf)]
}

func (s *series) last() (model.Point, bool) {
	if s.count == 0 {
		return model.Point{}, false
	}
	return s.at(s.count - 1), true
}

// truncateTo drops the newest points until count == n. Used by rollback.
func (s *series) truncateTo(n int) {
	if n < 0 {
		n = 0
	}
	if n < s.count {
		s.count = n
	}
}

// Store owns every data buffer, keyed by (symbol, timeframe, source kind).
// It is not internally locked: the engine serializes access under its own
// lock, the same way all other engine state is guarded.
type Store struct {
	maxLen int
	ttl    time.Duration

	price map[string]*series // raw quote prices
	deal  map[string]*series // trades: Value=price, Volume=size
	book  map[string]*bookSeries

	clock func() time.Time
}

// bookSeries keeps full orderbook snapshots so mid/spread/imbalance can be
// projected on demand from a single stored ring.
type bookSeries struct {
	buf        []model.OrderbookSnapshot
	start      int
	count      int
	lastAccess time.Time
}

func newBookSeries(maxLen int) *bookSeries {
	return &bookSeries{buf: make([]model.OrderbookSnapshot, maxLen)}
}

func (s *bookSeries) append(snap model.OrderbookSnapshot) {
	if s.count == len(s.buf) {
		s.buf[s.start] = snap
		s.start = (s.start + 1) % len(s.buf)
		return
	}
	s.buf[(s.start+s.count)%len(s.buf)] = snap
	s.count++
}

func (s *bookSeries) at(i int) model.OrderbookSnapshot {
	return s.buf[(s.start+i)%len(s.buf)]
}

func (s *bookSeries) truncateTo(n int) {
	if n < 0 {
		n = 0
	}
	if n < s.count {
		s.count = n
	}
}

// NewStore creates a buffer store. Zero arguments pick the defaults.
func NewStore(maxLen int, ttl time.Duration) *Store {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		maxLen: maxLen,
		ttl:    ttl,
		price:  make(map[string]*series, 64),
		deal:   make(map[string]*series, 64),
		book:   make(map[string]*bookSeries, 64),
		clock:  time.Now,
	}
}

func bufKey(symbol, timeframe string) string {
	return symbol + "|" + timeframe
}

// RecordPrice appends a quote price point. Timestamps must already be
// normalized to seconds; ordering within a symbol is as received.
func (st *Store) RecordPrice(symbol, timeframe string, p model.MarketDataPoint) {
	k := bufKey(symbol, timeframe)
	s := st.price[k]
	if s == nil {
		s = newSeries(st.maxLen)
		st.price[k] = s
	}
	s.append(model.Point{Timestamp: p.Timestamp, Value: p.Price, Volume: p.Volume})
	s.lastAccess = st.clock()
}

// RecordDeal appends a trade-level record.
func (st *Store) RecordDeal(symbol, timeframe string, d model.DealPoint) {
	k := bufKey(symbol, timeframe)
	s := st.deal[k]
	if s == nil {
		s = newSeries(st.maxLen)
		st.deal[k] = s
	}
	s.append(model.Point{Timestamp: d.Timestamp, Value: d.Price, Volume: d.Volume})
	s.lastAccess = st.clock()
}

// RecordBook appends an orderbook snapshot.
func (st *Store) RecordBook(symbol, timeframe string, b model.OrderbookSnapshot) {
	k := bufKey(symbol, timeframe)
	s := st.book[k]
	if s == nil {
		s = newBookSeries(st.maxLen)
		st.book[k] = s
	}
	s.append(b)
	s.lastAccess = st.clock()
}

// LatestTimestamp returns the newest recorded timestamp across all sources
// for (symbol, timeframe). This is the buffer's notion of "now" — windows
// are anchored to it rather than to the wall clock, which keeps replayed
// and backtested data deterministic.
func (st *Store) LatestTimestamp(symbol, timeframe string) (float64, bool) {
	k := bufKey(symbol, timeframe)
	var latest float64
	found := false
	if s := st.price[k]; s != nil {
		if p, ok := s.last(); ok && (!found || p.Timestamp > latest) {
			latest, found = p.Timestamp, true
		}
	}
	if s := st.deal[k]; s != nil {
		if p, ok := s.last(); ok && (!found || p.Timestamp > latest) {
			latest, found = p.Timestamp, true
		}
	}
	if s := st.book[k]; s != nil && s.count > 0 {
		if b := s.at(s.count - 1); !found || b.Timestamp > latest {
			latest, found = b.Timestamp, true
		}
	}
	return latest, found
}

// Window assembles one algo.Window for the given spec, anchored at `now`
// (seconds). For carry-in specs the single most recent point strictly
// before the window start is prepended — time-weighted algorithms need the
// value that was in effect when the window opened.
func (st *Store) Window(symbol, timeframe string, spec algo.WindowSpec, now float64) algo.Window {
	start := now - spec.T1
	end := now - spec.T2

	pts := st.sourcePoints(symbol, timeframe, spec.Source)
	w := algo.Window{Start: start, End: end}
	if len(pts) == 0 {
		return w
	}

	// pts is ascending; find first index with ts >= start.
	lo := sort.Search(len(pts), func(i int) bool { return pts[i].Timestamp >= start })

	if spec.CarryIn && lo > 0 {
		w.Points = append(w.Points, pts[lo-1])
	}
	for _, p := range pts[lo:] {
		if p.Timestamp > end {
			break
		}
		w.Points = append(w.Points, p)
	}
	return w
}

// sourcePoints materializes the ascending point series for a source,
// projecting orderbook snapshots into derived series where needed.
func (st *Store) sourcePoints(symbol, timeframe, source string) []model.Point {
	k := bufKey(symbol, timeframe)
	touch := st.clock()

	switch source {
	case algo.SourcePrice:
		s := st.price[k]
		if s == nil {
			return nil
		}
		s.lastAccess = touch
		return seriesPoints(s)
	case algo.SourceDeal:
		s := st.deal[k]
		if s == nil {
			return nil
		}
		s.lastAccess = touch
		return seriesPoints(s)
	case algo.SourceOrderbookMid, algo.SourceOrderbookSpread, algo.SourceOrderbookImbalance:
		s := st.book[k]
		if s == nil {
			return nil
		}
		s.lastAccess = touch
		out := make([]model.Point, 0, s.count)
		for i := 0; i < s.count; i++ {
			b := s.at(i)
			var v float64
			switch source {
			case algo.SourceOrderbookMid:
				v = (b.BestBid + b.BestAsk) / 2
			case algo.SourceOrderbookSpread:
				v = b.BestAsk - b.BestBid
			case algo.SourceOrderbookImbalance:
				if total := b.BidQty + b.AskQty; total > 0 {
					v = b.BidQty / total
				}
			}
			out = append(out, model.Point{Timestamp: b.Timestamp, Value: v, Volume: b.BidQty + b.AskQty})
		}
		return out
	}
	return nil
}

func seriesPoints(s *series) []model.Point {
	out := make([]model.Point, s.count)
	for i := 0; i < s.count; i++ {
		out[i] = s.at(i)
	}
	return out
}

// Checkpoint captures current buffer lengths for one symbol so a failed
// event update can be rolled back without leaving partial state.
type Checkpoint struct {
	price map[string]int
	deal  map[string]int
	book  map[string]int
}

// CheckpointSymbol records the lengths of every buffer belonging to symbol.
func (st *Store) CheckpointSymbol(symbol string) Checkpoint {
	cp := Checkpoint{
		price: make(map[string]int, 4),
		deal:  make(map[string]int, 4),
		book:  make(map[string]int, 4),
	}
	prefix := symbol + "|"
	for k, s := range st.price {
		if hasPrefix(k, prefix) {
			cp.price[k] = s.count
		}
	}
	for k, s := range st.deal {
		if hasPrefix(k, prefix) {
			cp.deal[k] = s.count
		}
	}
	for k, s := range st.book {
		if hasPrefix(k, prefix) {
			cp.book[k] = s.count
		}
	}
	return cp
}

// Rollback trims every checkpointed buffer back to its recorded length and
// drops buffers created after the checkpoint for that symbol.
func (st *Store) Rollback(symbol string, cp Checkpoint) {
	prefix := symbol + "|"
	for k, s := range st.price {
		if !hasPrefix(k, prefix) {
			continue
		}
		if n, ok := cp.price[k]; ok {
			s.truncateTo(n)
		} else {
			delete(st.price, k)
		}
	}
	for k, s := range st.deal {
		if !hasPrefix(k, prefix) {
			continue
		}
		if n, ok := cp.deal[k]; ok {
			s.truncateTo(n)
		} else {
			delete(st.deal, k)
		}
	}
	for k, s := range st.book {
		if !hasPrefix(k, prefix) {
			continue
		}
		if n, ok := cp.book[k]; ok {
			s.truncateTo(n)
		} else {
			delete(st.book, k)
		}
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// SweepExpired removes whole buffers not touched within the TTL.
// Returns the number of buffers dropped.
func (st *Store) SweepExpired() int {
	cutoff := st.clock().Add(-st.ttl)
	dropped := 0
	for k, s := range st.price {
		if s.lastAccess.Before(cutoff) {
			delete(st.price, k)
			dropped++
		}
	}
	for k, s := range st.deal {
		if s.lastAccess.Before(cutoff) {
			delete(st.deal, k)
			dropped++
		}
	}
	for k, s := range st.book {
		if s.lastAccess.Before(cutoff) {
			delete(st.book, k)
			dropped++
		}
	}
	return dropped
}

// Clear drops every buffer. Used by emergency memory cleanup.
func (st *Store) Clear() {
	st.price = make(map[string]*series, 64)
	st.deal = make(map[string]*series, 64)
	st.book = make(map[string]*bookSeries, 64)
}

// Len returns (buffers, total points) for observability and the governor.
func (st *Store) Len() (buffers, points int) {
	for _, s := range st.price {
		buffers++
		points += s.count
	}
	for _, s := range st.deal {
		buffers++
		points += s.count
	}
	for _, s := range st.book {
		buffers++
		points += s.count
	}
	return buffers, points
}

// PriceLen returns the point count of one price buffer (testing hook).
func (st *Store) PriceLen(symbol, timeframe string) int {
	if s := st.price[bufKey(symbol, timeframe)]; s != nil {
		return s.count
	}
	return 0
}

// DealLen returns the point count of one deal buffer.
func (st *Store) DealLen(symbol, timeframe string) int {
	if s := st.deal[bufKey(symbol, timeframe)]; s != nil {
		return s.count
	}
	return 0
}

// BookLen returns the snapshot count of one orderbook buffer.
func (st *Store) BookLen(symbol, timeframe string) int {
	if s := st.book[bufKey(symbol, timeframe)]; s != nil {
		return s.count
	}
	return 0
}

// SetClock overrides the access-time clock (testing hook).
func (st *Store) SetClock(fn func() time.Time) { st.clock = fn }
