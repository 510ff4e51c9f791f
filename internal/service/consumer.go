package service

import (
	"context"
	"log"
	"time"

	"indicator-enginev1/internal/ringbuf"
)

// startConsumer runs the feed reader and the calculation loop. Events
// flow source -> ingestCh -> SPSC ring -> engine. The ring decouples the
// network reader from calculation latency; overflow drops the newest
// event and counts it rather than blocking the feed.
func (svc *Service) startConsumer(ctx context.Context) {
	ring := ringbuf.New(svc.cfg.IngestQueueSize)

	// Feed reader.
	go func() {
		if err := svc.source.Run(ctx, svc.ingestCh); err != nil && ctx.Err() == nil {
			log.Printf("[service] feed terminated: %v", err)
		}
	}()

	// Single producer onto the ring.
	go func() {
		var lastOverflow uint64
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-svc.ingestCh:
				if !ok {
					return
				}
				if !ring.Push(ev) {
					svc.prom.RingBufOverflow.Inc()
					if of := ring.Overflow(); of-lastOverflow >= 1000 {
						log.Printf("[service] ingest ring overflow: %d events dropped so far", of)
						lastOverflow = of
					}
				}
			}
		}
	}()

	// Single consumer: drain the ring into the engine.
	go svc.processLoop(ctx, ring)
}

// processLoop pops events and drives the engine. An empty ring parks for
// a millisecond instead of spinning.
func (svc *Service) processLoop(ctx context.Context, ring *ringbuf.Ring) {
	for {
		if ctx.Err() != nil {
			return
		}
		ev, ok := ring.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
			continue
		}

		// OnMarketEvent counts indengine_events_total itself.
		if err := svc.eng.OnMarketEvent(ctx, ev); err != nil {
			log.Printf("[service] event update failed for %s: %v", ev.Symbol, err)
		}
	}
}
