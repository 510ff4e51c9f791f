package engine

import (
	"context"
	"time"

	"indicator-enginev1/internal/model"
)

// Scheduler sleep bounds: never busier than 4 Hz, never so long that a
// newly added 1s-refresh indicator waits out a stale sleep.
const (
	minSchedulerSleep = 250 * time.Millisecond
	maxSchedulerSleep = 5 * time.Second
)

// schedule is the recalculation plan for one time-driven instance.
type schedule struct {
	interval time.Duration
	next     time.Time
}

// RunScheduler drives all time-driven instances until ctx is cancelled.
// Each pass runs every due schedule, then sleeps until the earliest next
// run, clamped to the scheduler bounds.
func (e *Engine) RunScheduler(ctx context.Context) {
	timer := time.NewTimer(minSchedulerSleep)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if e.met != nil {
			e.met.SchedulerWakes.Inc()
		}
		updates, wake := e.runDue(ctx, e.clockNow())
		e.publishUpdates(ctx, updates)
		timer.Reset(wake)
	}
}

func (e *Engine) clockNow() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock()
}

// runDue executes every schedule at or past its next-run time and returns
// the produced updates plus the bounded sleep until the following run.
// Schedules whose instance has vanished are dropped silently; removal
// races with the sleep are expected, not errors.
func (e *Engine) runDue(ctx context.Context, now time.Time) ([]model.IndicatorUpdate, time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var updates []model.IndicatorUpdate
	for id, sc := range e.schedules {
		if sc.next.After(now) {
			continue
		}
		in, ok := e.instances[id]
		if !ok {
			delete(e.schedules, id)
			continue
		}
		if e.met != nil {
			e.met.SchedulerLag.Set(now.Sub(sc.next).Seconds())
		}

		// Anchor the window at the buffer's own notion of now so replayed
		// data stays deterministic. No data yet means nothing to compute.
		if anchor, ok := e.buffers.LatestTimestamp(in.symbol, in.timeframe); ok {
			if up := e.calculate(ctx, in, anchor); up != nil {
				updates = append(updates, *up)
			}
		}

		// Advance past now; catch up in whole intervals after long stalls.
		for !sc.next.After(now) {
			sc.next = sc.next.Add(sc.interval)
		}
	}

	return updates, e.nextWakeLocked(now)
}

// nextWakeLocked computes the bounded sleep until the earliest schedule.
func (e *Engine) nextWakeLocked(now time.Time) time.Duration {
	wake := maxSchedulerSleep
	for _, sc := range e.schedules {
		if d := sc.next.Sub(now); d < wake {
			wake = d
		}
	}
	if wake < minSchedulerSleep {
		wake = minSchedulerSleep
	}
	return wake
}
