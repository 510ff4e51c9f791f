package memguard

import (
	"testing"
	"time"
)

type fakeCleaner struct {
	standard  int
	force     int
	emergency int
	relieved  bool
}

func (f *fakeCleaner) StandardCleanup() { f.standard++ }
func (f *fakeCleaner) ForceCleanup()    { f.force++ }
func (f *fakeCleaner) EmergencyCleanup() bool {
	f.emergency++
	return f.relieved
}

func newTestGovernor(capBytes uint64) (*Governor, *fakeCleaner, *uint64, *time.Time) {
	fc := &fakeCleaner{relieved: true}
	g := New(Config{HardCapBytes: capBytes}, fc)
	used := uint64(0)
	now := time.Unix(1_000_000, 0)
	g.SetSampler(func() uint64 { return used })
	g.SetClock(func() time.Time { return now })
	return g, fc, &used, &now
}

func TestGraduatedCleanupTiers(t *testing.T) {
	const hardCap = 1000

	// 75% → standard only.
	g, fc, used, _ := newTestGovernor(hardCap)
	*used = 760
	g.Check()
	if fc.standard != 1 || fc.force != 0 || fc.emergency != 0 {
		t.Errorf("75%%: got standard=%d force=%d emergency=%d", fc.standard, fc.force, fc.emergency)
	}

	// 85% → standard + force.
	g, fc, used, _ = newTestGovernor(hardCap)
	*used = 860
	g.Check()
	if fc.standard != 1 || fc.force != 1 || fc.emergency != 0 {
		t.Errorf("85%%: got standard=%d force=%d emergency=%d", fc.standard, fc.force, fc.emergency)
	}

	// 95% → emergency.
	g, fc, used, _ = newTestGovernor(hardCap)
	*used = 960
	g.Check()
	if fc.emergency != 1 {
		t.Errorf("95%%: got emergency=%d", fc.emergency)
	}
}

func TestBelowThresholdNoCleanup(t *testing.T) {
	g, fc, used, _ := newTestGovernor(1000)
	*used = 500
	g.Check()
	if fc.standard+fc.force+fc.emergency != 0 {
		t.Error("no tier should run below the standard threshold")
	}
}

func TestExhaustionFlagLifecycle(t *testing.T) {
	g, fc, used, _ := newTestGovernor(1000)
	fc.relieved = false

	var flips []bool
	g.OnExhausted = func(v bool) { flips = append(flips, v) }

	*used = 990
	g.Check()
	if !g.Exhausted() {
		t.Fatal("expected exhausted after unrelieved emergency cleanup")
	}

	// Pressure subsides — flag clears.
	*used = 100
	g.Check()
	if g.Exhausted() {
		t.Fatal("expected exhaustion cleared once under threshold")
	}
	if len(flips) != 2 || flips[0] != true || flips[1] != false {
		t.Errorf("expected callback true,false — got %v", flips)
	}
}

func TestLeakWarningWithinWindow(t *testing.T) {
	g, _, used, now := newTestGovernor(1 << 40) // huge cap: thresholds never fire
	*used = 100 << 20
	g.Check()

	*now = now.Add(5 * time.Minute)
	*used = 160 << 20 // +60MB in 5 minutes
	g.Check()

	r := g.StabilityReport()
	if r.LeakWarnings == 0 {
		t.Error("expected a leak warning for 60MB growth inside the window")
	}
}

func TestPreventiveCleanupOnGrowthRate(t *testing.T) {
	g, fc, used, now := newTestGovernor(1 << 40)
	*used = 100 << 20
	g.Check()

	// +5MB over 9 minutes ⇒ ~33MB/hour, above the 10MB/hour limit but
	// below the 50MB absolute window threshold.
	*now = now.Add(9 * time.Minute)
	*used = 105 << 20
	g.Check()

	if fc.standard == 0 {
		t.Error("expected preventive standard cleanup for high growth rate")
	}
}

func TestStabilityReport(t *testing.T) {
	g, _, used, now := newTestGovernor(1 << 40)
	for i := 0; i < 5; i++ {
		*used = 100 << 20
		g.Check()
		*now = now.Add(30 * time.Second)
	}
	r := g.StabilityReport()
	if r.Samples != 5 {
		t.Errorf("samples: got %d", r.Samples)
	}
	if r.Variance != 0 {
		t.Errorf("flat usage should have zero variance, got %v", r.Variance)
	}
	if r.StabilityScore != 100 {
		t.Errorf("flat usage should score 100, got %v", r.StabilityScore)
	}
	if r.AvgBytes != 100<<20 || r.MinBytes != 100<<20 || r.MaxBytes != 100<<20 {
		t.Errorf("avg/min/max mismatch: %+v", r)
	}
}

func TestSampleWindowTrimmed(t *testing.T) {
	g, _, used, now := newTestGovernor(1 << 40)
	*used = 100
	for i := 0; i < 30; i++ {
		g.Check()
		*now = now.Add(time.Minute)
	}
	r := g.StabilityReport()
	// Window is 10 minutes of 1-minute samples.
	if r.Samples > 11 {
		t.Errorf("window should be trimmed to ~10 minutes, got %d samples", r.Samples)
	}
}
