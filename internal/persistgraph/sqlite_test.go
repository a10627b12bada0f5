package persistgraph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/example/stackctl/internal/graph"
)

func TestSQLiteStore_LockAndPut(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	db, err := OpenSQLiteStore(root)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	loc := Location{Bucket: "local", Key: KeyFor("ns", "test")}
	s := New(db, loc, logr.Discard())
	if err := s.Lock(ctx, "A"); !errors.Is(err, ErrCannotLock) {
		t.Fatalf("lock missing: %v", err)
	}
	if err := s.Ensure(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := s.Lock(ctx, "A"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := s.Lock(ctx, "B"); !errors.Is(err, ErrLocked) {
		t.Fatalf("lock B: %v", err)
	}

	g := graph.New()
	_ = g.AddNode("stack1")
	_ = g.AddNode("stack2", "stack1")
	if err := s.Put(ctx, g, "A"); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Reopen to make sure state is on disk.
	db2, err := OpenSQLiteStore(root)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	s2 := New(db2, loc, logr.Discard())
	got, err := s2.Fetch(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if reqs := got.Requires("stack2"); len(reqs) != 1 || reqs[0] != "stack1" {
		t.Fatalf("stored graph=%v", got.ToDict())
	}
	if code, ok, err := s2.LockCode(ctx); err != nil || !ok || code != "A" {
		t.Fatalf("lock code=%q ok=%v err=%v", code, ok, err)
	}

	if err := s.Put(ctx, graph.New(), "A"); err != nil {
		t.Fatalf("put empty: %v", err)
	}
	if _, err := db.GetObject(ctx, loc); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted object, got %v", err)
	}
	if err := s.Unlock(ctx, "A"); err != nil {
		t.Fatalf("unlock missing object: %v", err)
	}
}
