package algo

import (
	"math"
	"testing"

	"indicator-enginev1/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func pts(pairs ...float64) []model.Point {
	out := make([]model.Point, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, model.Point{Timestamp: pairs[i], Value: pairs[i+1]})
	}
	return out
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// TWPA Correctness
// ────────────────────────────────────────────────────────────

func TestTWPA_CarryInOnly(t *testing.T) {
	// A single point before the window start and an otherwise empty window:
	// that price was in effect for the full window, so TWPA equals it.
	// data=[(50, 1.00)], window=[100, 120] ⇒ TWPA=1.00
	w := Window{Start: 100, End: 120, Points: pts(50, 1.00)}
	got, ok := TWPA{}.Compute([]Window{w}, Params{})
	if !ok {
		t.Fatal("expected a value")
	}
	assertClose(t, "TWPA carry-in", got, 1.00, 1e-9)
}

func TestTWPA_MultiPoint(t *testing.T) {
	// data=[(50,1.00),(110,2.00),(130,3.00)], window=[100,120]
	// 1.00 holds 100→110 (10s), 2.00 holds 110→120 (10s), the point at 130
	// is past the window end and contributes nothing.
	// TWPA = (1.00*10 + 2.00*10) / 20 = 1.50
	w := Window{Start: 100, End: 120, Points: pts(50, 1.00, 110, 2.00, 130, 3.00)}
	got, ok := TWPA{}.Compute([]Window{w}, Params{})
	if !ok {
		t.Fatal("expected a value")
	}
	assertClose(t, "TWPA multi-point", got, 1.50, 1e-9)
}

func TestTWPA_NoData(t *testing.T) {
	// All points strictly after the window end ⇒ no value.
	w := Window{Start: 100, End: 120, Points: pts(125, 1.00, 130, 2.00)}
	if _, ok := (TWPA{}).Compute([]Window{w}, Params{}); ok {
		t.Error("expected no value for points entirely after the window")
	}

	// Empty window, no carry-in ⇒ no value.
	if _, ok := (TWPA{}).Compute([]Window{{Start: 100, End: 120}}, Params{}); ok {
		t.Error("expected no value for an empty window")
	}
}

func TestTWPA_PartialCoverage(t *testing.T) {
	// Single point inside the window at t=110, price 4.00.
	// It holds 110→120 (10s); nothing covers 100→110.
	// TWPA = 4.00 (only 10s of weighted time exists).
	w := Window{Start: 100, End: 120, Points: pts(110, 4.00)}
	got, ok := TWPA{}.Compute([]Window{w}, Params{})
	if !ok {
		t.Fatal("expected a value")
	}
	assertClose(t, "TWPA partial", got, 4.00, 1e-9)
}

func TestTWPA_ZeroWidthWindow(t *testing.T) {
	w := Window{Start: 100, End: 100, Points: pts(50, 1.00)}
	if _, ok := (TWPA{}).Compute([]Window{w}, Params{}); ok {
		t.Error("expected no value for a zero-width window")
	}
}

// ────────────────────────────────────────────────────────────
// TWPA_RATIO
// ────────────────────────────────────────────────────────────

func TestTWPARatio_Basic(t *testing.T) {
	num := Window{Start: 100, End: 120, Points: pts(50, 3.00)}
	den := Window{Start: 0, End: 120, Points: pts(0, 2.00)}
	got, ok := TWPARatio{}.Compute([]Window{num, den}, Params{})
	if !ok {
		t.Fatal("expected a value")
	}
	assertClose(t, "TWPA_RATIO", got, 1.5, 1e-9)
}

func TestTWPARatio_ZeroDenominatorGuard(t *testing.T) {
	num := Window{Start: 100, End: 120, Points: pts(50, 3.00)}
	den := Window{Start: 0, End: 120, Points: pts(0, 0.00)}
	if _, ok := (TWPARatio{}).Compute([]Window{num, den}, Params{}); ok {
		t.Error("expected no value when denominator TWPA is below min_denominator")
	}

	// A small but above-threshold denominator still divides.
	den = Window{Start: 0, End: 120, Points: pts(0, 0.5)}
	p := Params{"min_denominator": 0.1}
	got, ok := TWPARatio{}.Compute([]Window{num, den}, p)
	if !ok {
		t.Fatal("expected a value")
	}
	assertClose(t, "TWPA_RATIO small den", got, 6.0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSI_AllGainsIs100(t *testing.T) {
	// Strictly rising prices ⇒ zero losses ⇒ RSI = 100 exactly.
	w := Window{Start: 0, End: 100}
	for i := 0; i < 15; i++ {
		w.Points = append(w.Points, model.Point{Timestamp: float64(i), Value: 100 + float64(i)})
	}
	got, ok := RSI{}.Compute([]Window{w}, Params{"period": 14})
	if !ok {
		t.Fatal("expected a value")
	}
	if got != 100.0 {
		t.Errorf("RSI all-gains: got %v, want exactly 100.0", got)
	}
}

func TestRSI_HandComputed(t *testing.T) {
	// period=3, prices 10, 11, 10.5, 11.5:
	// deltas +1, -0.5, +1 ⇒ avgGain=2/3, avgLoss=0.5/3
	// RS = 4, RSI = 100 - 100/5 = 80
	w := Window{Start: 0, End: 10, Points: pts(0, 10, 1, 11, 2, 10.5, 3, 11.5)}
	got, ok := RSI{}.Compute([]Window{w}, Params{"period": 3})
	if !ok {
		t.Fatal("expected a value")
	}
	assertClose(t, "RSI(3)", got, 80.0, 1e-9)
}

func TestRSI_InsufficientData(t *testing.T) {
	w := Window{Start: 0, End: 10, Points: pts(0, 10, 1, 11)}
	if _, ok := (RSI{}).Compute([]Window{w}, Params{"period": 14}); ok {
		t.Error("expected no value with fewer than period+1 points")
	}
}

// ────────────────────────────────────────────────────────────
// Windowed aggregates
// ────────────────────────────────────────────────────────────

func findBuiltin(t *testing.T, typ string) Algorithm {
	t.Helper()
	for _, a := range Builtins() {
		if a.Type() == typ {
			return a
		}
	}
	t.Fatalf("builtin %s not found", typ)
	return nil
}

func TestMaxPrice_Scenario(t *testing.T) {
	// Points (t=0,10), (t=30,12), (t=60,11), window t1=60 t2=0 ⇒ MAX=12.
	w := Window{Start: 0, End: 60, Points: pts(0, 10, 30, 12, 60, 11)}
	got, ok := findBuiltin(t, "MAX_PRICE").Compute([]Window{w}, Params{})
	if !ok {
		t.Fatal("expected a value")
	}
	assertClose(t, "MAX_PRICE", got, 12, 1e-9)
}

func TestAggregates_EmptyWindow(t *testing.T) {
	for _, typ := range []string{"MAX_PRICE", "MIN_PRICE", "FIRST_PRICE", "LAST_PRICE", "PRICE_AVG", "VWAP"} {
		w := Window{Start: 100, End: 200}
		if _, ok := findBuiltin(t, typ).Compute([]Window{w}, Params{}); ok {
			t.Errorf("%s: expected no value on empty window", typ)
		}
	}
}

func TestVWAP_HandComputed(t *testing.T) {
	w := Window{Start: 0, End: 60, Points: []model.Point{
		{Timestamp: 10, Value: 100, Volume: 2},
		{Timestamp: 20, Value: 110, Volume: 1},
		{Timestamp: 30, Value: 90, Volume: 1},
	}}
	// (100*2 + 110 + 90) / 4 = 100
	got, ok := findBuiltin(t, "VWAP").Compute([]Window{w}, Params{})
	if !ok {
		t.Fatal("expected a value")
	}
	assertClose(t, "VWAP", got, 100.0, 1e-9)
}

func TestAggregate_FiltersOutsideWindow(t *testing.T) {
	// The point at t=70 is outside [0,60] and must not win.
	w := Window{Start: 0, End: 60, Points: pts(30, 12, 70, 99)}
	got, ok := findBuiltin(t, "MAX_PRICE").Compute([]Window{w}, Params{})
	if !ok {
		t.Fatal("expected a value")
	}
	assertClose(t, "MAX_PRICE filtered", got, 12, 1e-9)
}

// ────────────────────────────────────────────────────────────
// SMA / EMA windowed forms
// ────────────────────────────────────────────────────────────

func TestSMA_Windowed(t *testing.T) {
	w := Window{Start: 0, End: 100, Points: pts(0, 100, 1, 102, 2, 104, 3, 103, 4, 105)}
	got, ok := SMA{}.Compute([]Window{w}, Params{"period": 3})
	if !ok {
		t.Fatal("expected a value")
	}
	// last 3: (104+103+105)/3 = 104
	assertClose(t, "SMA(3)", got, 104.0, 1e-9)
}

func TestEMA_Windowed(t *testing.T) {
	// period=3, prices 1,2,3,4: seed SMA = 2, mult = 0.5
	// EMA = 4*0.5 + 2*0.5 = 3
	w := Window{Start: 0, End: 100, Points: pts(0, 1, 1, 2, 2, 3, 3, 4)}
	got, ok := EMA{}.Compute([]Window{w}, Params{"period": 3})
	if !ok {
		t.Fatal("expected a value")
	}
	assertClose(t, "EMA(3)", got, 3.0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Orderbook composites
// ────────────────────────────────────────────────────────────

func TestSpread_LatestSnapshot(t *testing.T) {
	w := Window{Start: 0, End: 60, Points: pts(10, 0.5, 50, 0.25)}
	got, ok := Spread{}.Compute([]Window{w}, Params{})
	if !ok {
		t.Fatal("expected a value")
	}
	assertClose(t, "SPREAD", got, 0.25, 1e-9)
}

func TestLiquidity_Composite(t *testing.T) {
	mid := Window{Start: 0, End: 100, Points: []model.Point{
		{Timestamp: 0, Value: 100, Volume: 10},
	}}
	spread := Window{Start: 0, End: 100, Points: pts(0, 0)}
	// Zero spread ⇒ liquidity equals depth.
	got, ok := Liquidity{}.Compute([]Window{mid, spread}, Params{})
	if !ok {
		t.Fatal("expected a value")
	}
	assertClose(t, "LIQUIDITY zero spread", got, 10.0, 1e-9)
}

func TestPriceMomentum(t *testing.T) {
	w := Window{Start: 0, End: 60, Points: pts(0, 100, 60, 110)}
	got, ok := PriceMomentum{}.Compute([]Window{w}, Params{})
	if !ok {
		t.Fatal("expected a value")
	}
	assertClose(t, "PRICE_MOMENTUM", got, 0.10, 1e-9)
}
