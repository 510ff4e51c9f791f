package algo

import (
	"testing"
	"time"
)

func TestRegistry_Builtins(t *testing.T) {
	r, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("builtin registry: %v", err)
	}
	if r.Len() == 0 {
		t.Fatal("expected non-empty registry")
	}
	for _, typ := range []string{"TWPA", "TWPA_RATIO", "RSI", "SMA", "EMA", "MAX_PRICE", "VWAP", "SPREAD", "LIQUIDITY"} {
		if r.Get(typ) == nil {
			t.Errorf("builtin %s not registered", typ)
		}
	}
	if r.Get("NOPE") != nil {
		t.Error("unknown type should return nil")
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(TWPA{}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(TWPA{}); err == nil {
		t.Error("expected duplicate registration error")
	}
}

func TestRegistry_Categories(t *testing.T) {
	r, _ := NewBuiltinRegistry()
	cats := r.Categories()
	if len(cats) < 4 {
		t.Fatalf("expected at least 4 categories, got %v", cats)
	}
	for i := 1; i < len(cats); i++ {
		if cats[i-1] >= cats[i] {
			t.Errorf("categories not sorted: %v", cats)
		}
	}
	osc := r.ByCategory(CategoryOscillator)
	if len(osc) == 0 {
		t.Error("expected oscillator category to contain RSI")
	}
}

func TestRefreshStaircase(t *testing.T) {
	cases := []struct {
		t2   float64
		want time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{30, 2 * time.Second},
		{120, 5 * time.Second},
		{900, 15 * time.Second},
		{7200, 30 * time.Second},
	}
	for _, c := range cases {
		if got := refreshStaircase(c.t2); got != c.want {
			t.Errorf("staircase(t2=%v): got %v, want %v", c.t2, got, c.want)
		}
	}
}

func TestRefreshOverrideClamped(t *testing.T) {
	// Explicit override wins but is clamped to the global bounds.
	p := Params{"refresh_interval": 0.1}
	if got := (TWPA{}).RefreshInterval(p); got != MinRefreshInterval {
		t.Errorf("expected clamp to %v, got %v", MinRefreshInterval, got)
	}
	p = Params{"refresh_interval": 3600.0}
	if got := (TWPA{}).RefreshInterval(p); got != MaxRefreshInterval {
		t.Errorf("expected clamp to %v, got %v", MaxRefreshInterval, got)
	}
	p = Params{"refresh_interval": 10.0}
	if got := (TWPA{}).RefreshInterval(p); got != 10*time.Second {
		t.Errorf("expected 10s, got %v", got)
	}
}

func TestValidateParams(t *testing.T) {
	specs := (TWPA{}).Parameters()

	// Missing required t1
	if _, err := ValidateParams(specs, map[string]any{}); err == nil {
		t.Error("expected error for missing required t1")
	}

	// Unknown parameter
	if _, err := ValidateParams(specs, map[string]any{"t1": 60.0, "bogus": 1}); err == nil {
		t.Error("expected error for unknown parameter")
	}

	// Out of range
	if _, err := ValidateParams(specs, map[string]any{"t1": -5.0}); err == nil {
		t.Error("expected error for out-of-range t1")
	}

	// Valid set picks up defaults
	p, err := ValidateParams(specs, map[string]any{"t1": 60.0})
	if err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}
	if p.Float("t2", -1) != 0 {
		t.Errorf("expected default t2=0, got %v", p.Float("t2", -1))
	}

	// Int coercion rejects fractional values
	rsiSpecs := (RSI{}).Parameters()
	if _, err := ValidateParams(rsiSpecs, map[string]any{"period": 14.5}); err == nil {
		t.Error("expected error for fractional int parameter")
	}
	p, err = ValidateParams(rsiSpecs, map[string]any{"period": 14.0})
	if err != nil {
		t.Fatalf("integral float rejected: %v", err)
	}
	if p.Int("period", 0) != 14 {
		t.Errorf("expected period=14, got %d", p.Int("period", 0))
	}
}
