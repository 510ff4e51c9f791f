// Package engine is the streaming indicator calculation core. It owns the
// indicator instance store, the data buffers, the result cache and the
// calculation dispatch paths (event-driven and time-driven), all guarded
// by a single engine lock. Result publication happens outside the lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"indicator-enginev1/internal/algo"
	"indicator-enginev1/internal/breaker"
	"indicator-enginev1/internal/buffer"
	"indicator-enginev1/internal/cache"
	"indicator-enginev1/internal/memguard"
	"indicator-enginev1/internal/metrics"
	"indicator-enginev1/internal/model"
)

// Instance limits. Per-symbol first so one noisy client cannot crowd out
// the rest of the book.
const (
	DefaultMaxInstances  = 5000
	DefaultMaxPerSymbol  = 500
	DefaultInstanceTTL   = 30 * time.Minute
	anomalyStaleSkew     = 5 * time.Minute
	anomalyJumpFraction  = 0.5
	anomalyRecentSamples = 20
)

// PublishFunc delivers one batch of updates downstream. It is always
// called with the engine lock released.
type PublishFunc func(ctx context.Context, updates []model.IndicatorUpdate)

// VariantLookup resolves variant IDs for session subscriptions. Satisfied
// by the variant manager's in-memory index.
type VariantLookup interface {
	Variant(id string) (*model.IndicatorVariant, bool)
}

// Options wires an Engine. Registry is required; everything else has a
// sensible default.
type Options struct {
	Registry *algo.Registry
	Buffers  *buffer.Store
	Cache    *cache.Adaptive
	Breaker  *breaker.Breaker
	Health   *breaker.HealthMonitor
	Metrics  *metrics.Metrics
	Variants VariantLookup
	Publish  PublishFunc

	MaxInstances int
	MaxPerSymbol int
	InstanceTTL  time.Duration
}

// Engine is the calculation core. One lock guards instances, buffers,
// cache, schedules and sessions; see the package comment.
type Engine struct {
	mu sync.Mutex

	reg     *algo.Registry
	buffers *buffer.Store
	cache   *cache.Adaptive
	brk     *breaker.Breaker
	health  *breaker.HealthMonitor
	met     *metrics.Metrics

	variants VariantLookup
	publish  PublishFunc

	instances map[string]*instance
	schedules map[string]*schedule
	sessions  map[string]map[string][]sessionEntry

	maxInstances int
	maxPerSymbol int
	instanceTTL  time.Duration

	clock func() time.Time
}

// New builds an engine. Fails fast on a nil or empty registry: an engine
// that can never calculate anything must not start.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil || opts.Registry.Len() == 0 {
		return nil, fmt.Errorf("engine: algorithm registry is empty")
	}
	if opts.Buffers == nil {
		opts.Buffers = buffer.NewStore(0, 0)
	}
	if opts.Cache == nil {
		opts.Cache = cache.New(0, 0)
	}
	if opts.Breaker == nil {
		opts.Breaker = breaker.New(breaker.DefaultConfig())
	}
	if opts.Health == nil {
		opts.Health = breaker.NewHealthMonitor()
	}
	if opts.MaxInstances <= 0 {
		opts.MaxInstances = DefaultMaxInstances
	}
	if opts.MaxPerSymbol <= 0 {
		opts.MaxPerSymbol = DefaultMaxPerSymbol
	}
	if opts.InstanceTTL <= 0 {
		opts.InstanceTTL = DefaultInstanceTTL
	}
	return &Engine{
		reg:          opts.Registry,
		buffers:      opts.Buffers,
		cache:        opts.Cache,
		brk:          opts.Breaker,
		health:       opts.Health,
		met:          opts.Metrics,
		variants:     opts.Variants,
		publish:      opts.Publish,
		instances:    make(map[string]*instance, 256),
		schedules:    make(map[string]*schedule, 64),
		sessions:     make(map[string]map[string][]sessionEntry, 16),
		maxInstances: opts.MaxInstances,
		maxPerSymbol: opts.MaxPerSymbol,
		instanceTTL:  opts.InstanceTTL,
		clock:        time.Now,
	}, nil
}

// AddRequest describes one indicator subscription.
type AddRequest struct {
	Symbol    string
	Type      string
	Timeframe string // empty picks the raw tick timeframe
	Params    map[string]any
	VariantID string

	// session marks session-owned instances; set by the session API.
	session string
}

// AddIndicator creates an indicator instance, or returns the existing one
// when an identical subscription is already live. Identity is the
// fingerprint of (type, symbol, timeframe, canonical params), so repeated
// adds are idempotent and never double-calculate.
func (e *Engine) AddIndicator(req AddRequest) (string, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addLocked(req)
}

func (e *Engine) addLocked(req AddRequest) (string, bool, error) {
	if e.health.ResourceExhausted() {
		return "", false, ErrResourceExhausted
	}
	if req.Symbol == "" {
		return "", false, fmt.Errorf("%w: symbol is required", ErrInvalidParams)
	}
	if req.Timeframe == "" {
		req.Timeframe = buffer.DefaultTimeframe
	}

	alg := e.reg.Get(req.Type)
	if alg == nil {
		return "", false, fmt.Errorf("%w: %q", ErrUnknownType, req.Type)
	}
	params, err := algo.ValidateParams(alg.Parameters(), req.Params)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	fp := paramsFingerprint(params)
	id := instanceID(req.Type, req.Symbol, req.Timeframe, fp)

	now := e.clock()
	if in, ok := e.instances[id]; ok {
		in.lastAccess = now
		if req.session != "" {
			in.sessions[req.session] = struct{}{}
		}
		return id, false, nil
	}

	if len(e.instances) >= e.maxInstances {
		return "", false, fmt.Errorf("%w: %d total", ErrTooManyInstances, e.maxInstances)
	}
	perSymbol := 0
	for _, in := range e.instances {
		if in.symbol == req.Symbol {
			perSymbol++
		}
	}
	if perSymbol >= e.maxPerSymbol {
		return "", false, fmt.Errorf("%w: %d for %s", ErrTooManyInstances, e.maxPerSymbol, req.Symbol)
	}

	in := &instance{
		id:           id,
		symbol:       req.Symbol,
		timeframe:    req.Timeframe,
		typ:          req.Type,
		variantID:    req.VariantID,
		params:       params,
		fingerprint:  fp,
		alg:          alg,
		timeDriven:   alg.TimeDriven(),
		refresh:      alg.RefreshInterval(params),
		fast:         newFastCalc(req.Type, params),
		createdAt:    now,
		lastAccess:   now,
		sessionOwned: req.session != "",
		sessions:     make(map[string]struct{}, 2),
	}
	if req.session != "" {
		in.sessions[req.session] = struct{}{}
	}
	e.instances[id] = in

	if in.timeDriven {
		e.schedules[id] = &schedule{
			interval: in.refresh,
			next:     now.Add(in.refresh),
		}
	}
	if e.met != nil {
		e.met.Instances.Set(float64(len(e.instances)))
	}
	log.Printf("[engine] added %s %s/%s refresh=%v time_driven=%v id=%s",
		in.typ, in.symbol, in.timeframe, in.refresh, in.timeDriven, id)
	return id, true, nil
}

// RemoveIndicator drops an instance and its schedule and session links.
func (e *Engine) RemoveIndicator(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeLocked(id)
}

func (e *Engine) removeLocked(id string) bool {
	in, ok := e.instances[id]
	if !ok {
		return false
	}
	delete(e.instances, id)
	delete(e.schedules, id)
	for sess := range in.sessions {
		e.detachFromSession(sess, id)
	}
	if e.met != nil {
		e.met.Instances.Set(float64(len(e.instances)))
	}
	return true
}

// OnMarketEvent ingests one market event: anomaly checks, buffer writes
// and the event-driven calculation pass run atomically under the engine
// lock; a panic anywhere in the update rolls the symbol's buffers back to
// their pre-event state. Updates publish after the lock is released.
func (e *Engine) OnMarketEvent(ctx context.Context, ev model.MarketEvent) (err error) {
	ts := model.NormalizeTimestamp(ev.Timestamp)
	if e.met != nil {
		e.met.EventsTotal.Inc()
	}

	e.mu.Lock()
	e.detectAnomalies(&ev, ts)

	cp := e.buffers.CheckpointSymbol(ev.Symbol)
	var updates []model.IndicatorUpdate
	func() {
		defer func() {
			if r := recover(); r != nil {
				e.buffers.Rollback(ev.Symbol, cp)
				updates = nil
				err = fmt.Errorf("event update failed for %s: %v", ev.Symbol, r)
				if e.met != nil {
					e.met.RollbacksTotal.Inc()
				}
				log.Printf("[engine] rolled back buffers for %s after panic: %v", ev.Symbol, r)
			}
		}()
		e.recordEvent(&ev, ts)
		updates = e.dispatchEventDriven(ctx, &ev, ts)
	}()
	e.mu.Unlock()

	e.publishUpdates(ctx, updates)
	return err
}

// recordEvent writes the event into the raw tick timeframe plus every
// timeframe an active instance of this symbol draws from, so fresh
// subscriptions on non-default timeframes accumulate history immediately.
func (e *Engine) recordEvent(ev *model.MarketEvent, ts float64) {
	tfs := map[string]struct{}{buffer.DefaultTimeframe: {}}
	for _, in := range e.instances {
		if in.symbol == ev.Symbol {
			tfs[in.timeframe] = struct{}{}
		}
	}

	for tf := range tfs {
		if ev.Price != nil {
			vol := 0.0
			if ev.Volume != nil {
				vol = *ev.Volume
			}
			e.buffers.RecordPrice(ev.Symbol, tf, model.MarketDataPoint{
				Timestamp: ts, Symbol: ev.Symbol, Price: *ev.Price, Volume: vol,
			})
			if ev.Volume != nil {
				e.buffers.RecordDeal(ev.Symbol, tf, model.DealPoint{
					Timestamp: ts, Price: *ev.Price, Volume: *ev.Volume,
				})
			}
		}
		if ev.BestBid != nil && ev.BestAsk != nil {
			snap := model.OrderbookSnapshot{
				Timestamp: ts, Symbol: ev.Symbol,
				BestBid: *ev.BestBid, BestAsk: *ev.BestAsk,
			}
			if ev.BidQty != nil {
				snap.BidQty = *ev.BidQty
			}
			if ev.AskQty != nil {
				snap.AskQty = *ev.AskQty
			}
			e.buffers.RecordBook(ev.Symbol, tf, snap)
		}
	}
}

// detectAnomalies logs suspicious market data without rejecting it.
// Filtering belongs upstream; dropping data here would silently skew
// every window-based indicator.
func (e *Engine) detectAnomalies(ev *model.MarketEvent, ts float64) {
	if ev.Volume != nil && *ev.Volume < 0 {
		e.noteAnomaly("negative_volume", "%s: volume %v", ev.Symbol, *ev.Volume)
	}
	if skew := e.clock().Sub(time.Unix(int64(ts), 0)); skew > anomalyStaleSkew || skew < -anomalyStaleSkew {
		e.noteAnomaly("timestamp_skew", "%s: event time off by %v", ev.Symbol, skew.Round(time.Second))
	}
	if ev.BestBid != nil && ev.BestAsk != nil && *ev.BestBid > *ev.BestAsk {
		e.noteAnomaly("crossed_book", "%s: bid %v above ask %v", ev.Symbol, *ev.BestBid, *ev.BestAsk)
	}
	if ev.Price != nil {
		if avg, ok := e.recentAvgPrice(ev.Symbol); ok && avg > 0 {
			if math.Abs(*ev.Price-avg)/avg > anomalyJumpFraction {
				e.noteAnomaly("price_jump", "%s: price %v vs recent avg %.4f", ev.Symbol, *ev.Price, avg)
			}
		}
	}
}

func (e *Engine) noteAnomaly(kind, format string, args ...any) {
	if e.met != nil {
		e.met.AnomaliesTotal.WithLabelValues(kind).Inc()
	}
	log.Printf("[engine] anomaly %s: %s", kind, fmt.Sprintf(format, args...))
}

// recentAvgPrice averages the newest recorded prices for the symbol's raw
// timeframe, the baseline for jump detection.
func (e *Engine) recentAvgPrice(symbol string) (float64, bool) {
	latest, ok := e.buffers.LatestTimestamp(symbol, buffer.DefaultTimeframe)
	if !ok {
		return 0, false
	}
	w := e.buffers.Window(symbol, buffer.DefaultTimeframe,
		algo.WindowSpec{Source: algo.SourcePrice, T1: latest + 1, T2: 0}, latest)
	pts := w.Points
	if len(pts) == 0 {
		return 0, false
	}
	if len(pts) > anomalyRecentSamples {
		pts = pts[len(pts)-anomalyRecentSamples:]
	}
	sum := 0.0
	for _, p := range pts {
		sum += p.Value
	}
	return sum / float64(len(pts)), true
}

// dispatchEventDriven recalculates every event-driven instance of the
// symbol. Fast-path instances fold the tick in O(1); the rest go through
// window assembly, cache and breaker.
func (e *Engine) dispatchEventDriven(ctx context.Context, ev *model.MarketEvent, ts float64) []model.IndicatorUpdate {
	var updates []model.IndicatorUpdate
	for _, in := range e.sortedInstances() {
		if in.symbol != ev.Symbol || in.timeDriven {
			continue
		}

		if in.fast != nil {
			if ev.Price == nil {
				continue
			}
			in.fast.Update(*ev.Price)
			if v, ready := in.fast.Value(); ready {
				in.setValue(v, ts, e.clock())
				if e.met != nil {
					e.met.FastPathCalcs.Inc()
				}
				updates = append(updates, e.updateFor(in))
			}
			continue
		}

		if up := e.calculate(ctx, in, ts); up != nil {
			updates = append(updates, *up)
		}
	}
	return updates
}

// sortedInstances returns instances in stable ID order so calculation and
// publication order is deterministic run to run.
func (e *Engine) sortedInstances() []*instance {
	out := make([]*instance, 0, len(e.instances))
	for _, in := range e.instances {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// calculate runs one full (non-fast-path) calculation for an instance,
// anchored at `now` in event time. Returns nil when the value could not
// be produced; insufficient data is not an error.
func (e *Engine) calculate(ctx context.Context, in *instance, now float64) *model.IndicatorUpdate {
	bucket := cache.BucketSize(in.refresh)
	key := cache.Key(in.typ, in.symbol, in.timeframe, in.fingerprint, now, bucket)

	if v, ok := e.cache.Get(key, in.typ); ok {
		if e.met != nil {
			e.met.CacheHits.Inc()
		}
		in.setValue(v, now, e.clock())
		up := e.updateFor(in)
		return &up
	}
	if e.met != nil {
		e.met.CacheMisses.Inc()
	}

	specs := in.alg.WindowSpecs(in.params)
	windows := make([]algo.Window, len(specs))
	for i, ws := range specs {
		windows[i] = e.buffers.Window(in.symbol, in.timeframe, ws, now)
	}

	var value float64
	var ok bool
	started := e.clock()
	err := e.brk.Execute(ctx, func(ctx context.Context) (calcErr error) {
		defer func() {
			if r := recover(); r != nil {
				calcErr = fmt.Errorf("%s calculation panicked: %v", in.typ, r)
			}
		}()
		value, ok = in.alg.Compute(windows, in.params)
		return nil
	})
	elapsed := e.clock().Sub(started)

	e.health.Record(elapsed, err != nil)
	if e.met != nil {
		e.met.CalcsTotal.Inc()
		e.met.CalcDur.Observe(elapsed.Seconds())
	}
	if err != nil {
		in.errCount++
		if e.met != nil {
			e.met.CalcErrors.WithLabelValues(calcErrReason(err)).Inc()
		}
		log.Printf("[engine] calc %s %s/%s failed: %v", in.typ, in.symbol, in.timeframe, err)
		return nil
	}
	if !ok {
		return nil
	}

	e.cache.Set(key, in.typ, value)
	if e.met != nil {
		e.met.CacheEntries.Set(float64(e.cache.Len()))
	}
	in.setValue(value, now, e.clock())
	up := e.updateFor(in)
	return &up
}

func calcErrReason(err error) string {
	switch {
	case errors.Is(err, breaker.ErrTimeout):
		return "timeout"
	case errors.Is(err, breaker.ErrCircuitOpen):
		return "circuit_open"
	default:
		return "error"
	}
}

func (e *Engine) updateFor(in *instance) model.IndicatorUpdate {
	name := in.typ
	if in.variantID != "" {
		name = in.variantID
	}
	return model.IndicatorUpdate{
		Symbol:    in.symbol,
		Indicator: name,
		Timeframe: in.timeframe,
		Value:     in.value,
		Timestamp: in.valueAt,
	}
}

// publishUpdates hands a batch to the publish callback. Delivery metrics
// (UpdatesPublished, PublishDur) belong to the downstream publisher,
// which sees the real broker latency; this is only an enqueue.
func (e *Engine) publishUpdates(ctx context.Context, updates []model.IndicatorUpdate) {
	if len(updates) == 0 || e.publish == nil {
		return
	}
	e.publish(ctx, updates)
}

// ── Memory cleanup tiers (memguard.Cleaner) ──

// StandardCleanup expires idle buffers, stale cache entries and idle
// instances.
func (e *Engine) StandardCleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()

	dropped := e.buffers.SweepExpired()
	stale := e.cache.ExpireStale()
	idle := e.expireIdleLocked()
	if e.met != nil {
		e.met.CleanupsTotal.WithLabelValues(memguard.TierStandard).Inc()
	}
	if dropped+stale+idle > 0 {
		log.Printf("[engine] standard cleanup: %d buffers, %d cache entries, %d idle instances", dropped, stale, idle)
	}
}

// ForceCleanup additionally evicts the coldest fifth of all instances.
func (e *Engine) ForceCleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.evictColdestLocked(0.2)
	if e.met != nil {
		e.met.CleanupsTotal.WithLabelValues(memguard.TierForce).Inc()
	}
	log.Printf("[engine] force cleanup: evicted %d instances", n)
}

// EmergencyCleanup halves the instance set and drops all cached values
// and buffers. Reports whether anything was actually freed; if not, the
// governor flags the engine as resource-exhausted.
func (e *Engine) EmergencyCleanup() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	evicted := e.evictColdestLocked(0.5)
	cached := e.cache.Len()
	e.cache.Clear()
	buffers, points := e.buffers.Len()
	e.buffers.Clear()
	if e.met != nil {
		e.met.CleanupsTotal.WithLabelValues(memguard.TierEmergency).Inc()
	}
	log.Printf("[engine] EMERGENCY cleanup: %d instances, %d cache entries, %d buffers (%d points)",
		evicted, cached, buffers, points)
	return evicted > 0 || cached > 0 || points > 0
}

// expireIdleLocked removes instances untouched for the instance TTL.
func (e *Engine) expireIdleLocked() int {
	cutoff := e.clock().Add(-e.instanceTTL)
	removed := 0
	for id, in := range e.instances {
		if in.lastAccess.Before(cutoff) {
			e.removeLocked(id)
			removed++
		}
	}
	return removed
}

// evictColdestLocked drops the least recently used fraction of instances.
func (e *Engine) evictColdestLocked(frac float64) int {
	if len(e.instances) == 0 {
		return 0
	}
	n := int(math.Ceil(float64(len(e.instances)) * frac))

	byAge := e.sortedInstances()
	sort.Slice(byAge, func(i, j int) bool {
		return byAge[i].lastAccess.Before(byAge[j].lastAccess)
	})
	for i := 0; i < n && i < len(byAge); i++ {
		e.removeLocked(byAge[i].id)
	}
	return n
}

// SetClock overrides the engine clock (testing hook).
func (e *Engine) SetClock(fn func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = fn
}
