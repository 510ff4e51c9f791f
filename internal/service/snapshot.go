package service

import (
	"context"
	"log"
	"time"
)

// snapshotLoop periodically persists engine state so a restart resumes
// with warm indicator values instead of recalculating from cold buffers.
func (svc *Service) snapshotLoop(ctx context.Context) {
	if svc.snapshots == nil {
		return
	}
	ticker := time.NewTicker(time.Duration(svc.cfg.SnapshotIntervalS) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			data, err := svc.eng.SnapshotJSON()
			if err != nil {
				log.Printf("[service] snapshot error: %v", err)
				continue
			}
			if err := svc.snapshots.SaveSnapshotJSON(ctx, data); err != nil {
				log.Printf("[service] snapshot write error: %v", err)
				continue
			}
			svc.prom.SnapshotDur.Observe(time.Since(start).Seconds())
			log.Printf("[service] checkpoint saved (%d bytes)", len(data))
		}
	}
}
