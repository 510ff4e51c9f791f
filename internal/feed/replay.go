package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"indicator-enginev1/internal/model"
)

// Replayer reads historical market events from a JSON-lines file and
// emits them at a configurable speed multiplier. Buffers anchor "now"
// at the latest buffered timestamp, so a replayed feed reproduces the
// same indicator values regardless of playback speed.
type Replayer struct {
	path  string
	speed float64
}

// NewReplayer creates a replayer for the given file.
// speed controls playback rate: 1.0 = real-time, 10.0 = 10x,
// 0 = as fast as possible.
func NewReplayer(path string, speed float64) (*Replayer, error) {
	if path == "" {
		return nil, fmt.Errorf("feed: replay file is required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("replay file: %w", err)
	}
	return &Replayer{path: path, speed: speed}, nil
}

// Run replays all events into out. Satisfies model.EventSource; returns
// nil once the file is exhausted.
func (r *Replayer) Run(ctx context.Context, out chan<- model.MarketEvent) error {
	events, err := r.load()
	if err != nil {
		return err
	}
	if len(events) == 0 {
		log.Printf("[replay] no events found in %s", r.path)
		return nil
	}

	log.Printf("[replay] loaded %d events from %s, speed=%.1fx", len(events), r.path, r.speed)

	var prevTS float64
	emitted := 0
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			log.Printf("[replay] cancelled after %d events", emitted)
			return err
		}

		// Simulate time gaps between events
		if r.speed > 0 && prevTS > 0 && ev.Timestamp > prevTS {
			gap := time.Duration((ev.Timestamp - prevTS) / r.speed * float64(time.Second))
			if gap > 5*time.Second {
				gap = 5 * time.Second
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(gap):
			}
		}
		prevTS = ev.Timestamp

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
		emitted++
	}

	log.Printf("[replay] completed: %d events replayed", emitted)
	return nil
}

// load parses the JSONL file and returns events sorted by timestamp.
func (r *Replayer) load() ([]model.MarketEvent, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []model.MarketEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev model.MarketEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Printf("[replay] skipping line %d: %v", line, err)
			continue
		}
		if ev.Symbol == "" {
			continue
		}
		ev.Timestamp = model.NormalizeTimestamp(ev.Timestamp)
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	// Files dumped from multiple symbols may interleave out of order.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
	return events, nil
}

// Close satisfies model.EventSource; the file handle is scoped to Run.
func (r *Replayer) Close() error { return nil }
