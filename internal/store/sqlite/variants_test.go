package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"indicator-enginev1/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "variants.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetVariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateVariant(ctx, model.IndicatorVariant{
		Name:       "Fast RSI",
		BaseType:   "RSI",
		Category:   model.CategoryGeneral,
		Parameters: map[string]any{"period": 7.0},
		CreatedBy:  "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected an assigned ID")
	}

	v, err := s.GetVariant(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if v == nil {
		t.Fatal("variant not found")
	}
	if v.Name != "Fast RSI" || v.BaseType != "RSI" {
		t.Errorf("roundtrip mismatch: %+v", v)
	}
	if got := v.Parameters["period"]; got != 7.0 {
		t.Errorf("parameters: got %v", got)
	}
}

func TestGetMissingVariant(t *testing.T) {
	s := newTestStore(t)
	v, err := s.GetVariant(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Errorf("expected nil for missing variant, got %+v", v)
	}
}

func TestUpdateVariantParameters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateVariant(ctx, model.IndicatorVariant{
		Name: "TWPA 5m", BaseType: "TWPA", Category: model.CategoryPrice,
		Parameters: map[string]any{"t1": 300.0, "t2": 0.0},
	})
	if err != nil {
		t.Fatal(err)
	}

	ok, err := s.UpdateVariant(ctx, id, map[string]any{"t1": 600.0, "t2": 0.0})
	if err != nil || !ok {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}
	v, err := s.GetVariant(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got := v.Parameters["t1"]; got != 600.0 {
		t.Errorf("t1 after update: got %v", got)
	}

	ok, err = s.UpdateVariant(ctx, "missing", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("updating a missing variant must report false")
	}
}

func TestSoftDeleteVariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateVariant(ctx, model.IndicatorVariant{
		Name: "doomed", BaseType: "SMA", Category: model.CategoryGeneral,
		Parameters: map[string]any{"period": 20.0},
	})
	if err != nil {
		t.Fatal(err)
	}

	ok, err := s.DeleteVariant(ctx, id)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}

	if v, _ := s.GetVariant(ctx, id); v != nil {
		t.Error("deleted variant must not resolve")
	}
	all, err := s.LoadAllVariants(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range all {
		if v.ID == id {
			t.Error("deleted variant must not load")
		}
	}

	// Double delete is a no-op.
	ok, err = s.DeleteVariant(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second delete must report false")
	}
}

func TestLoadAllVariantsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		if _, err := s.CreateVariant(ctx, model.IndicatorVariant{
			Name: name, BaseType: "SMA", Category: model.CategoryGeneral,
			Parameters: map[string]any{},
		}); err != nil {
			t.Fatal(err)
		}
	}
	all, err := s.LoadAllVariants(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 variants, got %d", len(all))
	}
}
