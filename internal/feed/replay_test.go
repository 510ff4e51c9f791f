package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"indicator-enginev1/internal/model"
)

func writeReplayFile(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReplayer_EmitsSortedEvents(t *testing.T) {
	path := writeReplayFile(t, `{"symbol":"BTCUSD","timestamp":1700000002,"price":101}
{"symbol":"BTCUSD","timestamp":1700000000,"price":100}
not json
{"symbol":"","timestamp":1700000001,"price":99}
{"symbol":"BTCUSD","timestamp":1700000001500,"price":100.5}
`)

	r, err := NewReplayer(path, 0)
	if err != nil {
		t.Fatal(err)
	}

	out := make(chan model.MarketEvent, 10)
	if err := r.Run(context.Background(), out); err != nil {
		t.Fatalf("run: %v", err)
	}
	close(out)

	var got []model.MarketEvent
	for ev := range out {
		got = append(got, ev)
	}

	// Bad line and empty symbol skipped; remaining 3 sorted by time.
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Timestamp != 1700000000 || got[2].Timestamp != 1700000002 {
		t.Errorf("events not sorted: %v, %v, %v", got[0].Timestamp, got[1].Timestamp, got[2].Timestamp)
	}
	// Millisecond timestamp normalized to seconds
	if got[1].Timestamp != 1700000001.5 {
		t.Errorf("expected normalized ts 1700000001.5, got %v", got[1].Timestamp)
	}
}

func TestReplayer_MissingFile(t *testing.T) {
	if _, err := NewReplayer("/nonexistent/events.jsonl", 1); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := NewReplayer("", 1); err == nil {
		t.Fatal("expected error for empty path")
	}
}
