// Package service is the top-level orchestrator for the indicator engine.
// It wires the event feed, the calculation engine, variant storage, the
// memory governor and the publish pipeline, and manages their lifecycle.
package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"indicator-enginev1/internal/algo"
	"indicator-enginev1/internal/breaker"
	"indicator-enginev1/internal/buffer"
	"indicator-enginev1/internal/bus"
	"indicator-enginev1/internal/cache"
	"indicator-enginev1/internal/engine"
	"indicator-enginev1/internal/feed"
	"indicator-enginev1/internal/memguard"
	"indicator-enginev1/internal/metrics"
	"indicator-enginev1/internal/model"
	"indicator-enginev1/internal/publish"
	"indicator-enginev1/internal/push"
	redisstore "indicator-enginev1/internal/store/redis"
	sqlitestore "indicator-enginev1/internal/store/sqlite"
	"indicator-enginev1/internal/variant"
)

// Service wires all subsystems, manages lifecycle, and coordinates
// goroutines.
type Service struct {
	cfg Config

	eng      *engine.Engine
	variants *variant.Manager
	governor *memguard.Governor
	health   *breaker.HealthMonitor
	brk      *breaker.Breaker
	prom     *metrics.Metrics

	source    model.EventSource
	snapshots model.SnapshotStore
	sqlStore  *sqlitestore.Store
	publisher model.UpdatePublisher
	fanout    *bus.FanOut
	hub       *push.Hub

	ingestCh chan model.MarketEvent
	updateCh chan model.IndicatorUpdate
}

// New creates a Service from the given Config. It connects to Redis,
// SQLite and Kafka and builds the engine; snapshot restore happens in Run.
func New(cfg Config) (*Service, error) {
	svc := &Service{
		cfg:      cfg,
		prom:     metrics.New(),
		health:   breaker.NewHealthMonitor(),
		ingestCh: make(chan model.MarketEvent, 256),
		updateCh: make(chan model.IndicatorUpdate, 1024),
	}

	// ---- Calculation circuit breaker ----
	svc.brk = breaker.New(breaker.DefaultConfig())
	svc.brk.OnStateChange = func(from, to breaker.State) {
		svc.prom.BreakerState.Set(float64(to))
		if to == breaker.StateOpen {
			svc.prom.BreakerTrips.Inc()
		}
		log.Printf("[service] circuit breaker %v -> %v", from, to)
	}

	// ---- Algorithm registry ----
	reg, err := algo.NewBuiltinRegistry()
	if err != nil {
		return nil, fmt.Errorf("registry init: %w", err)
	}

	// ---- Open SQLite variant store ----
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite data dir: %w", err)
	}
	svc.sqlStore, err = sqlitestore.New(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("sqlite init: %w", err)
	}
	svc.variants = variant.New(svc.sqlStore, reg)

	// ---- Kafka publisher ----
	svc.publisher, err = publish.New(publish.Config{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
	})
	if err != nil {
		svc.sqlStore.Close()
		return nil, fmt.Errorf("kafka init: %w", err)
	}

	// ---- Fan-out bus and WS push hub ----
	svc.fanout = bus.New(1024)
	svc.fanout.OnDrop = func(idx int) {
		svc.prom.FanoutDropsTotal.WithLabelValues(fmt.Sprintf("%d", idx)).Inc()
	}
	svc.hub = push.NewHub()

	// ---- Engine ----
	svc.eng, err = engine.New(engine.Options{
		Registry:     reg,
		Buffers:      buffer.NewStore(cfg.BufferMaxPoints, time.Duration(cfg.BufferTTLS)*time.Second),
		Cache:        cache.New(cfg.CacheMaxEntries, 60*time.Second),
		Breaker:      svc.brk,
		Health:       svc.health,
		Metrics:      svc.prom,
		Variants:     svc.variants,
		Publish:      svc.enqueueUpdates,
		MaxInstances: cfg.MaxInstances,
		MaxPerSymbol: cfg.MaxPerSymbol,
	})
	if err != nil {
		svc.publisher.Close()
		svc.sqlStore.Close()
		return nil, err
	}

	// ---- Memory governor ----
	svc.governor = memguard.New(memguard.Config{
		HardCapBytes: uint64(cfg.MemoryCapMB) * 1024 * 1024,
	}, svc.eng)
	svc.governor.OnExhausted = func(exhausted bool) {
		svc.health.SetResourceExhausted(exhausted)
		if exhausted {
			log.Println("[service] WARNING: memory exhausted, rejecting new indicators")
		} else {
			log.Println("[service] memory pressure relieved, accepting indicators again")
		}
	}

	// ---- Event source ----
	if err := svc.initFeed(); err != nil {
		svc.publisher.Close()
		svc.sqlStore.Close()
		return nil, err
	}

	return svc, nil
}

// initFeed connects the configured market event source. Redis is always
// attempted for snapshot persistence; in "ws" mode a feed failure to
// reach Redis degrades to running without snapshots.
func (svc *Service) initFeed() error {
	cfg := svc.cfg

	redisSrc, err := redisstore.New(redisstore.Config{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		DB:            cfg.RedisDB,
		Stream:        cfg.RedisStream,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
		SnapshotKey:   cfg.SnapshotKey,
	})

	switch cfg.FeedMode {
	case "replay":
		if err != nil {
			log.Printf("[service] WARNING: redis unavailable (%v), running without snapshots", err)
		} else {
			svc.snapshots = redisSrc
		}
		rp, rerr := feed.NewReplayer(cfg.ReplayFile, cfg.ReplaySpeed)
		if rerr != nil {
			return fmt.Errorf("replay feed init: %w", rerr)
		}
		svc.source = rp
	case "ws":
		if err != nil {
			log.Printf("[service] WARNING: redis unavailable (%v), running without snapshots", err)
		} else {
			svc.snapshots = redisSrc
		}
		ws, werr := feed.New(feed.Config{URL: cfg.WSURL, Symbols: cfg.WSSymbols})
		if werr != nil {
			return fmt.Errorf("ws feed init: %w", werr)
		}
		ws.OnReconnect = func() { svc.prom.WSReconnects.Inc() }
		svc.source = ws
	default:
		if err != nil {
			return fmt.Errorf("redis init: %w", err)
		}
		svc.source = redisSrc
		svc.snapshots = redisSrc
	}
	return nil
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	log.Println("[service] starting Indicator Engine microservice...")

	// ---- Load variants from SQLite ----
	if err := svc.variants.Load(ctx); err != nil {
		log.Printf("[service] WARNING: variant load failed, starting degraded: %v", err)
	}
	svc.prom.VariantsTotal.Set(float64(svc.variants.Count()))

	// ---- Restore engine from snapshot ----
	svc.restoreEngine(ctx)

	// ---- Create system indicators ----
	svc.createSystemIndicators()

	// ---- Start subsystems ----
	go svc.fanout.Run(ctx, svc.updateCh)
	svc.startPublisher(ctx)
	go svc.hub.Run(ctx, svc.fanout.Subscribe())
	svc.startConsumer(ctx)
	go svc.eng.RunScheduler(ctx)
	go svc.governor.Run(ctx)
	go svc.snapshotLoop(ctx)
	go svc.gaugeLoop(ctx)
	svc.startHTTP(ctx)

	log.Printf("[service] feed=%s snapshot checkpoint every %ds, admin API on %s",
		cfg.FeedMode, cfg.SnapshotIntervalS, cfg.HTTPAddr)
	log.Println("[service] all systems running. Press Ctrl+C to stop.")

	<-ctx.Done()

	svc.shutdown()
	return nil
}

// enqueueUpdates hands a batch of engine updates to the fan-out input.
// Called outside the engine lock; drops when the pipeline is saturated.
func (svc *Service) enqueueUpdates(ctx context.Context, updates []model.IndicatorUpdate) {
	for _, up := range updates {
		select {
		case svc.updateCh <- up:
		default:
			svc.prom.EventsDropped.Inc()
		}
	}
}

// createSystemIndicators registers the always-on indicators from config.
// These survive session churn and are never session-owned.
func (svc *Service) createSystemIndicators() {
	created := 0
	for _, sym := range svc.cfg.SystemSymbols {
		for _, spec := range svc.cfg.SystemSpecs {
			_, isNew, err := svc.eng.AddIndicator(engine.AddRequest{
				Symbol: sym,
				Type:   spec.Type,
				Params: map[string]any{"period": spec.Period},
			})
			if err != nil {
				log.Printf("[service] system indicator %s:%d on %s failed: %v", spec.Type, spec.Period, sym, err)
				continue
			}
			if isNew {
				created++
			}
		}
	}
	if created > 0 {
		log.Printf("[service] created %d system indicators across %d symbols", created, len(svc.cfg.SystemSymbols))
	}
}

// restoreEngine warm-starts the engine from the last snapshot, if any.
// Restore failures are logged and the engine starts cold.
func (svc *Service) restoreEngine(ctx context.Context) {
	if svc.snapshots == nil {
		return
	}
	data, err := svc.snapshots.ReadSnapshotJSON(ctx)
	if err != nil {
		log.Printf("[service] snapshot read error: %v", err)
		return
	}
	if data == nil {
		log.Println("[service] no snapshot found, starting cold")
		return
	}
	restored, err := svc.eng.RestoreJSON(data)
	if err != nil {
		log.Printf("[service] snapshot restore error: %v (starting cold)", err)
		return
	}
	log.Printf("[service] restored %d indicator instances from snapshot", restored)
}

// startPublisher drains one fan-out subscription into Kafka in batches.
func (svc *Service) startPublisher(ctx context.Context) {
	out := svc.fanout.Subscribe()
	go func() {
		const flushEvery = 50 * time.Millisecond
		ticker := time.NewTicker(flushEvery)
		defer ticker.Stop()

		batch := make([]model.IndicatorUpdate, 0, 256)
		flush := func() {
			if len(batch) == 0 {
				return
			}
			start := time.Now()
			if err := svc.publisher.PublishBatch(ctx, batch); err != nil {
				log.Printf("[service] publish error: %v", err)
			} else {
				svc.prom.UpdatesPublished.Add(float64(len(batch)))
			}
			svc.prom.PublishDur.Observe(time.Since(start).Seconds())
			batch = batch[:0]
		}

		for {
			select {
			case <-ctx.Done():
				flush()
				return
			case up, ok := <-out:
				if !ok {
					flush()
					return
				}
				batch = append(batch, up)
				if len(batch) >= 256 {
					flush()
				}
			case <-ticker.C:
				flush()
			}
		}
	}()
}

// gaugeLoop refreshes occupancy gauges every few seconds.
func (svc *Service) gaugeLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := svc.eng.Stats()
			svc.prom.Instances.Set(float64(st.Instances))
			svc.prom.BufferPoints.Set(float64(st.BufferedPts))
			svc.prom.CacheEntries.Set(float64(st.Cache.Entries))
			svc.prom.VariantsTotal.Set(float64(svc.variants.Count()))
			svc.prom.MemoryUsed.Set(float64(svc.governor.StabilityReport().AvgBytes))
		}
	}
}

// shutdown saves a final snapshot and closes connections.
func (svc *Service) shutdown() {
	log.Println("[service] shutdown signal received, saving final snapshot...")

	if svc.snapshots != nil {
		data, err := svc.eng.SnapshotJSON()
		if err == nil {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := svc.snapshots.SaveSnapshotJSON(shutCtx, data); err != nil {
				log.Printf("[service] final snapshot write error: %v", err)
			} else {
				log.Println("[service] final snapshot saved")
			}
			shutCancel()
		}
	}

	if svc.source != nil {
		svc.source.Close()
	}
	svc.publisher.Close()
	svc.sqlStore.Close()

	log.Println("[service] shutdown complete.")
}
