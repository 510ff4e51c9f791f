package engine

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"indicator-enginev1/internal/metrics"
)

// newTestMetrics builds an unregistered metrics set covering every series
// the engine touches, so counts can be asserted without the default
// registry.
func newTestMetrics() *metrics.Metrics {
	counter := func(name string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name})
	}
	gauge := func(name string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name})
	}
	hist := func(name string) prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{Name: name})
	}
	vec := func(name, label string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, []string{label})
	}
	return &metrics.Metrics{
		EventsTotal:      counter("t_events_total"),
		AnomaliesTotal:   vec("t_anomalies_total", "kind"),
		RollbacksTotal:   counter("t_rollbacks_total"),
		CalcDur:          hist("t_calc_duration_seconds"),
		CalcsTotal:       counter("t_calcs_total"),
		CalcErrors:       vec("t_calc_errors_total", "reason"),
		FastPathCalcs:    counter("t_fastpath_calcs_total"),
		SchedulerWakes:   counter("t_scheduler_wakeups_total"),
		SchedulerLag:     gauge("t_scheduler_lag_seconds"),
		CacheHits:        counter("t_cache_hits_total"),
		CacheMisses:      counter("t_cache_misses_total"),
		CacheEntries:     gauge("t_cache_entries"),
		Instances:        gauge("t_instances"),
		CleanupsTotal:    vec("t_cleanups_total", "tier"),
		UpdatesPublished: counter("t_updates_published_total"),
		PublishDur:       hist("t_publish_duration_seconds"),
	}
}

// Each series has exactly one owner: the engine counts ingested events,
// the downstream publisher counts delivered updates.
func TestMetricOwnership(t *testing.T) {
	alg := &fakeAlgo{typ: "FAKE", value: 42}
	e, _, published := newTestEngine(t, alg)
	met := newTestMetrics()
	e.met = met

	if _, _, err := e.AddIndicator(AddRequest{Symbol: "BTCUSD", Type: "FAKE"}); err != nil {
		t.Fatal(err)
	}

	if err := e.OnMarketEvent(context.Background(), priceEvent("BTCUSD", 100.0, 10.0)); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(met.EventsTotal); got != 1 {
		t.Errorf("events_total: got %v, want exactly 1 per event", got)
	}
	if len(*published) == 0 {
		t.Fatal("expected the publish callback to receive updates")
	}
	// Handing a batch to the callback is an enqueue, not a delivery.
	if got := testutil.ToFloat64(met.UpdatesPublished); got != 0 {
		t.Errorf("updates_published: got %v, want 0 from the engine side", got)
	}
}
