package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

type record struct {
	ID  string `json:"id"`
	Qty int    `json:"qty"`
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestGetMissingKey(t *testing.T) {
	for name, store := range openStores(t) {
		var out []record
		found, err := store.Get(context.Background(), "sales", &out)
		if err != nil || found {
			t.Fatalf("%s: expected missing key, found=%v err=%v", name, found, err)
		}
	}
}

func TestSetManyThenGet(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		if err := store.SetMany(ctx, map[string]any{
			"sales": []record{{ID: "a", Qty: 1}},
			"queue": []record{{ID: "q", Qty: 2}},
		}); err != nil {
			t.Fatalf("%s: set many: %v", name, err)
		}
		if err := store.Set(ctx, "sales", []record{{ID: "a", Qty: 3}}); err != nil {
			t.Fatalf("%s: set: %v", name, err)
		}

		var sales, queue []record
		if _, err := store.Get(ctx, "sales", &sales); err != nil {
			t.Fatalf("%s: get sales: %v", name, err)
		}
		if _, err := store.Get(ctx, "queue", &queue); err != nil {
			t.Fatalf("%s: get queue: %v", name, err)
		}
		if len(sales) != 1 || sales[0].Qty != 3 || len(queue) != 1 || queue[0].ID != "q" {
			t.Fatalf("%s: unexpected values %+v %+v", name, sales, queue)
		}
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	first, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.Set(context.Background(), "meta", map[string]int64{"last_pull": 42}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	var meta map[string]int64
	found, err := second.Get(context.Background(), "meta", &meta)
	if err != nil || !found || meta["last_pull"] != 42 {
		t.Fatalf("expected persisted meta, found=%v err=%v meta=%v", found, err, meta)
	}
}

func TestMemoryRejectsUseAfterClose(t *testing.T) {
	store := NewMemory()
	_ = store.Close()
	if err := store.Set(context.Background(), "k", 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMemoryEncodeFailureLeavesStateUntouched(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	if err := store.Set(ctx, "a", 1); err != nil {
		t.Fatalf("set: %v", err)
	}
	err := store.SetMany(ctx, map[string]any{"a": 2, "b": make(chan int)})
	if err == nil {
		t.Fatalf("expected encode error")
	}
	var a int
	if _, err := store.Get(ctx, "a", &a); err != nil || a != 1 {
		t.Fatalf("expected a unchanged, got %d err=%v", a, err)
	}
}
