package service

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFailsWhenSQLiteDirBlocked(t *testing.T) {
	// A regular file where the data directory should be makes MkdirAll
	// fail; New must surface that instead of limping into sqlite init.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadConfig()
	cfg.SQLitePath = filepath.Join(blocker, "variants.db")

	_, err := New(cfg)
	if err == nil {
		t.Fatal("expected an error when the sqlite data dir cannot be created")
	}
	if !strings.Contains(err.Error(), "sqlite data dir") {
		t.Errorf("error must name the data dir step: %v", err)
	}
}
