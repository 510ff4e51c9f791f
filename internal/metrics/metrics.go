package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the indicator engine.
type Metrics struct {
	EventsTotal     prometheus.Counter
	EventsDropped   prometheus.Counter
	AnomaliesTotal  *prometheus.CounterVec // labels: kind
	RollbacksTotal  prometheus.Counter
	WSReconnects    prometheus.Counter
	RingBufOverflow prometheus.Counter

	CalcDur        prometheus.Histogram
	CalcsTotal     prometheus.Counter
	CalcErrors     *prometheus.CounterVec // labels: reason
	FastPathCalcs  prometheus.Counter
	SchedulerWakes prometheus.Counter
	SchedulerLag   prometheus.Gauge

	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	CacheEntries prometheus.Gauge

	Instances     prometheus.Gauge
	BufferPoints  prometheus.Gauge
	MemoryUsed    prometheus.Gauge
	CleanupsTotal *prometheus.CounterVec // labels: tier

	BreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	BreakerTrips prometheus.Counter

	UpdatesPublished prometheus.Counter
	PublishDur       prometheus.Histogram
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber

	SnapshotDur   prometheus.Histogram
	VariantsTotal prometheus.Gauge
}

// New registers and returns all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_events_total",
			Help: "Total market events ingested",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_events_dropped_total",
			Help: "Market events dropped (ingest queue full)",
		}),
		AnomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_anomalies_total",
			Help: "Suspicious market data observations (logged, never rejected)",
		}, []string{"kind"}),
		RollbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_buffer_rollbacks_total",
			Help: "Buffer rollbacks after a failed event update",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_ws_reconnects_total",
			Help: "Total WebSocket feed reconnection attempts",
		}),
		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_ringbuf_overflow_total",
			Help: "Ring buffer push overflows (dropped events)",
		}),

		CalcDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indengine_calc_duration_seconds",
			Help:    "Indicator calculation latency",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1, 5},
		}),
		CalcsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_calcs_total",
			Help: "Total indicator calculations performed",
		}),
		CalcErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_calc_errors_total",
			Help: "Indicator calculation failures by reason",
		}, []string{"reason"}),
		FastPathCalcs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_fastpath_calcs_total",
			Help: "Calculations served by the incremental fast path",
		}),
		SchedulerWakes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_scheduler_wakeups_total",
			Help: "Time-driven scheduler wakeups",
		}),
		SchedulerLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_scheduler_lag_seconds",
			Help: "Lag between a scheduled run and its actual execution",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_cache_hits_total",
			Help: "Result cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_cache_misses_total",
			Help: "Result cache misses",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_cache_entries",
			Help: "Current result cache entry count",
		}),

		Instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_instances",
			Help: "Active indicator instances",
		}),
		BufferPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_buffer_points",
			Help: "Total points held across all data buffers",
		}),
		MemoryUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_memory_used_bytes",
			Help: "Heap in use as sampled by the memory governor",
		}),
		CleanupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_cleanups_total",
			Help: "Cleanup passes by tier",
		}, []string{"tier"}),

		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_circuit_breaker_state",
			Help: "Calculation circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_circuit_breaker_trips_total",
			Help: "Times the calculation circuit breaker tripped open",
		}),

		UpdatesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_updates_published_total",
			Help: "Indicator updates published downstream",
		}),
		PublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indengine_publish_duration_seconds",
			Help:    "Batch publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_fanout_drops_total",
			Help: "Updates dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),

		SnapshotDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indengine_snapshot_duration_seconds",
			Help:    "Engine state snapshot persistence latency",
			Buckets: prometheus.DefBuckets,
		}),
		VariantsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_variants",
			Help: "Indicator variants loaded from the repository",
		}),
	}

	prometheus.MustRegister(
		m.EventsTotal,
		m.EventsDropped,
		m.AnomaliesTotal,
		m.RollbacksTotal,
		m.WSReconnects,
		m.RingBufOverflow,
		m.CalcDur,
		m.CalcsTotal,
		m.CalcErrors,
		m.FastPathCalcs,
		m.SchedulerWakes,
		m.SchedulerLag,
		m.CacheHits,
		m.CacheMisses,
		m.CacheEntries,
		m.Instances,
		m.BufferPoints,
		m.MemoryUsed,
		m.CleanupsTotal,
		m.BreakerState,
		m.BreakerTrips,
		m.UpdatesPublished,
		m.PublishDur,
		m.FanoutDropsTotal,
		m.SnapshotDur,
		m.VariantsTotal,
	)

	return m
}
