package storage

import (
	"context"
	"path/filepath"
	"testing"

	"goalforge/internal/model"
)

func TestLevelDBStoreRoundTrip(t *testing.T) {
	store := NewLevelDBStore(filepath.Join(t.TempDir(), "goalforge.ldb"))
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	exerciseStore(t, store)
}

func TestLevelDBStoreReopenKeepsRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "goalforge.ldb")

	first := NewLevelDBStore(path)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := first.SaveRun(ctx, model.RunRecord{VersionedRecord: Versioned(), ID: "run-7"}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := NewLevelDBStore(path)
	if err := second.Init(ctx); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	if _, ok, err := second.GetRun(ctx, "run-7"); err != nil || !ok {
		t.Fatalf("expected persisted run, ok=%t err=%v", ok, err)
	}
}

func TestLevelDBStoreRequiresInit(t *testing.T) {
	store := NewLevelDBStore(filepath.Join(t.TempDir(), "db"))
	if _, _, err := store.GetRun(context.Background(), "run"); err == nil {
		t.Fatal("expected error before init")
	}
}
