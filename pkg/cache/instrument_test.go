package cache

import (
	"context"
	"testing"
)

// recordingCache counts calls and replays canned answers.
type recordingCache struct {
	lookups int
	stores  int
	rs      *ResultSet
	err     error
	ok      bool
}

func (r *recordingCache) Lookup(ctx context.Context, query string) (*ResultSet, error) {
	r.lookups++
	return r.rs, r.err
}

func (r *recordingCache) Store(ctx context.Context, query string, rs *ResultSet) bool {
	r.stores++
	return r.ok
}

func TestInstrumented_PassesThrough(t *testing.T) {
	inner := &recordingCache{rs: sampleResultSet(), ok: true}
	wrapped := NewInstrumented(inner)
	ctx := context.Background()
	query := "SELECT region FROM sales WHERE amount > 100"

	rs, err := wrapped.Lookup(ctx, query)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if rs.RowCount() != 2 || inner.lookups != 1 {
		t.Errorf("Expected delegated lookup with 2 rows, got %d rows after %d calls",
			rs.RowCount(), inner.lookups)
	}

	if ok := wrapped.Store(ctx, query, sampleResultSet()); !ok || inner.stores != 1 {
		t.Errorf("Expected delegated store to report true, got %v after %d calls", ok, inner.stores)
	}
}

func TestInstrumented_PropagatesMiss(t *testing.T) {
	inner := &recordingCache{err: ErrMiss}
	wrapped := NewInstrumented(inner)

	if _, err := wrapped.Lookup(context.Background(), "SELECT 1"); err != ErrMiss {
		t.Errorf("Expected ErrMiss to pass through, got %v", err)
	}
}
