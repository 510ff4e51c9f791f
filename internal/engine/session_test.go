package engine

import (
	"errors"
	"testing"
	"time"

	"indicator-enginev1/internal/model"
)

// fakeVariants is an in-memory VariantLookup.
type fakeVariants map[string]*model.IndicatorVariant

func (f fakeVariants) Variant(id string) (*model.IndicatorVariant, bool) {
	v, ok := f[id]
	return v, ok
}

func newSessionEngine(t *testing.T) *Engine {
	t.Helper()
	e, _, _ := newTestEngine(t)
	e.variants = fakeVariants{
		"rsi-fast": {
			ID:         "rsi-fast",
			Name:       "Fast RSI",
			BaseType:   "RSI",
			Category:   model.CategoryGeneral,
			Parameters: map[string]any{"period": 7},
		},
		"twpa-5m": {
			ID:         "twpa-5m",
			Name:       "5m TWPA",
			BaseType:   "TWPA",
			Category:   model.CategoryPrice,
			Parameters: map[string]any{"t1": 300.0, "t2": 0.0},
		},
	}
	return e
}

func TestSessionSubscribeDedupes(t *testing.T) {
	e := newSessionEngine(t)

	id1, err := e.AddSessionIndicator("sess-1", "BTCUSD", "rsi-fast", nil)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := e.AddSessionIndicator("sess-1", "BTCUSD", "rsi-fast", nil)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("duplicate subscription must reuse the instance: %s vs %s", id1, id2)
	}
	if got := len(e.SessionIndicators("sess-1", "BTCUSD")); got != 1 {
		t.Errorf("expected 1 tracked subscription, got %d", got)
	}

	// An override produces a distinct instance.
	id3, err := e.AddSessionIndicator("sess-1", "BTCUSD", "rsi-fast", map[string]any{"period": 14})
	if err != nil {
		t.Fatal(err)
	}
	if id3 == id1 {
		t.Error("different parameters must create a different instance")
	}
	if got := len(e.SessionIndicators("sess-1", "BTCUSD")); got != 2 {
		t.Errorf("expected 2 tracked subscriptions, got %d", got)
	}
}

func TestSessionUnknownVariant(t *testing.T) {
	e := newSessionEngine(t)
	if _, err := e.AddSessionIndicator("sess-1", "BTCUSD", "missing", nil); !errors.Is(err, ErrVariantNotFound) {
		t.Errorf("expected ErrVariantNotFound, got %v", err)
	}
}

func TestSessionSharingAndTeardown(t *testing.T) {
	e := newSessionEngine(t)

	id, err := e.AddSessionIndicator("sess-1", "BTCUSD", "twpa-5m", nil)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := e.AddSessionIndicator("sess-2", "BTCUSD", "twpa-5m", nil)
	if err != nil {
		t.Fatal(err)
	}
	if id != id2 {
		t.Fatal("sessions must share one backing instance")
	}

	// Removing from one session keeps the shared instance alive.
	if !e.RemoveSessionIndicator("sess-1", "BTCUSD", id) {
		t.Fatal("remove failed")
	}
	if _, err := e.GetIndicator(id); err != nil {
		t.Errorf("instance must survive while sess-2 holds it: %v", err)
	}

	// Last reference gone — session-owned instance is removed too.
	if got := e.ClearSession("sess-2"); got != 1 {
		t.Errorf("expected 1 subscription cleared, got %d", got)
	}
	if _, err := e.GetIndicator(id); !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("unreferenced session-owned instance must be gone, got %v", err)
	}
}

func TestCleanupDuplicateIndicators(t *testing.T) {
	e := newSessionEngine(t)

	id, err := e.AddSessionIndicator("sess-1", "BTCUSD", "rsi-fast", nil)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate drift: a second tracking entry for the same (variant, params)
	// pair, as left behind by a snapshot restore racing a resubscribe.
	e.mu.Lock()
	dup := e.sessions["sess-1"]["BTCUSD"][0]
	dup.AddedAt = dup.AddedAt.Add(time.Minute)
	e.sessions["sess-1"]["BTCUSD"] = append(e.sessions["sess-1"]["BTCUSD"], dup)
	e.mu.Unlock()

	if got := len(e.SessionIndicators("sess-1", "BTCUSD")); got != 2 {
		t.Fatalf("setup: expected 2 entries, got %d", got)
	}
	if removed := e.CleanupDuplicateIndicators("sess-1", "BTCUSD"); removed != 1 {
		t.Errorf("expected 1 duplicate removed, got %d", removed)
	}
	entries := e.SessionIndicators("sess-1", "BTCUSD")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after cleanup, got %d", len(entries))
	}
	// The backing instance survives: the kept entry still references it.
	if _, err := e.GetIndicator(id); err != nil {
		t.Errorf("instance must survive duplicate cleanup: %v", err)
	}
}

func TestSessionAllSymbols(t *testing.T) {
	e := newSessionEngine(t)

	if _, err := e.AddSessionIndicator("sess-1", "BTCUSD", "rsi-fast", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AddSessionIndicator("sess-1", "ETHUSD", "twpa-5m", nil); err != nil {
		t.Fatal(err)
	}

	// Empty symbol lists subscriptions across every symbol of the session.
	all := e.SessionIndicators("sess-1", "")
	if len(all) != 2 {
		t.Fatalf("expected 2 subscriptions across symbols, got %d", len(all))
	}
	if got := len(e.SessionIndicators("sess-1", "BTCUSD")); got != 1 {
		t.Errorf("per-symbol listing must stay scoped, got %d", got)
	}

	// Seed duplicate entries on both symbols, then sweep them in one call.
	e.mu.Lock()
	for _, sym := range []string{"BTCUSD", "ETHUSD"} {
		dup := e.sessions["sess-1"][sym][0]
		dup.AddedAt = dup.AddedAt.Add(time.Minute)
		e.sessions["sess-1"][sym] = append(e.sessions["sess-1"][sym], dup)
	}
	e.mu.Unlock()

	if removed := e.CleanupDuplicateIndicators("sess-1", ""); removed != 2 {
		t.Errorf("expected 2 duplicates removed across symbols, got %d", removed)
	}
	if got := len(e.SessionIndicators("sess-1", "")); got != 2 {
		t.Errorf("expected 2 entries after sweep, got %d", got)
	}
}

func TestCleanupDuplicates_NoopWhenClean(t *testing.T) {
	e := newSessionEngine(t)
	if _, err := e.AddSessionIndicator("sess-1", "BTCUSD", "rsi-fast", nil); err != nil {
		t.Fatal(err)
	}
	if removed := e.CleanupDuplicateIndicators("sess-1", "BTCUSD"); removed != 0 {
		t.Errorf("clean session must remove nothing, got %d", removed)
	}
}
