package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	b, meta := newTestFileBackend(t, time.Hour)
	return New(b, meta, nil)
}

func TestCache_LookupMissThenHit(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	query := "SELECT region, sum(amount) FROM sales GROUP BY region"

	if _, err := c.Lookup(ctx, query); !errors.Is(err, ErrMiss) {
		t.Fatalf("Expected ErrMiss on cold cache, got %v", err)
	}

	if ok := c.Store(ctx, query, sampleResultSet()); !ok {
		t.Fatal("Store reported failure")
	}

	rs, err := c.Lookup(ctx, query)
	if err != nil {
		t.Fatalf("Lookup after store failed: %v", err)
	}
	if !rs.FromCache {
		t.Error("Expected FromCache to be set on a hit")
	}
	if rs.RowCount() != 2 {
		t.Errorf("Expected 2 rows, got %d", rs.RowCount())
	}
}

func TestCache_LookupNormalizesQueryText(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.Store(ctx, "SELECT region FROM sales WHERE amount > 100", sampleResultSet())

	// Different spelling, same normalized text.
	rs, err := c.Lookup(ctx, "select   region\nfrom sales -- note\nwhere amount > 100")
	if err != nil {
		t.Fatalf("Expected a hit for equivalent query text, got %v", err)
	}
	if !rs.FromCache {
		t.Error("Expected FromCache on the equivalent query")
	}
}

func TestCache_CountersTrackOutcomes(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	query := "SELECT region FROM sales WHERE amount > 100"

	c.Lookup(ctx, query) // miss
	c.Store(ctx, query, sampleResultSet())
	c.Lookup(ctx, query) // hit

	stats, _, err := c.Metadata().Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if stats.Misses != 1 || stats.Hits != 1 || stats.Stores != 1 {
		t.Errorf("Expected 1/1/1 miss/hit/store, got %d/%d/%d",
			stats.Misses, stats.Hits, stats.Stores)
	}
	if stats.TotalSizeBytes <= 0 {
		t.Errorf("Expected positive stored bytes, got %d", stats.TotalSizeBytes)
	}
}

// downBackend fails every operation, standing in for an unreachable
// store.
type downBackend struct{}

func (downBackend) Name() string { return "down" }
func (downBackend) Put(ctx context.Context, key string, tables []string, rs *ResultSet, meta EntryMeta) (int64, error) {
	return 0, ErrBackendUnavailable
}
func (downBackend) Get(ctx context.Context, key string, tables []string) (*ResultSet, error) {
	return nil, ErrBackendUnavailable
}
func (downBackend) Delete(ctx context.Context, key string, tables []string) error {
	return ErrBackendUnavailable
}
func (downBackend) DeleteAll(ctx context.Context) (int, error)     { return 0, ErrBackendUnavailable }
func (downBackend) DeleteExpired(ctx context.Context) (int, error) { return 0, ErrBackendUnavailable }
func (downBackend) DeleteByTable(ctx context.Context, table string) (int, error) {
	return 0, ErrBackendUnavailable
}
func (downBackend) EntryCount(ctx context.Context) (int, error) { return 0, ErrBackendUnavailable }
func (downBackend) Ping(ctx context.Context) error              { return ErrBackendUnavailable }
func (downBackend) Close() error                                { return nil }

func TestCache_BackendFailureDoesNotCountAsMiss(t *testing.T) {
	_, meta := newTestFileBackend(t, time.Hour)
	c := New(downBackend{}, meta, nil)
	ctx := context.Background()
	query := "SELECT region FROM sales WHERE amount > 100"

	if _, err := c.Lookup(ctx, query); !errors.Is(err, ErrMiss) {
		t.Fatalf("Expected degraded lookup to report ErrMiss, got %v", err)
	}
	if ok := c.Store(ctx, query, sampleResultSet()); ok {
		t.Error("Store against an unreachable backend should report false")
	}

	stats, _, err := c.Metadata().Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if stats.Misses != 0 || stats.Hits != 0 || stats.Stores != 0 {
		t.Errorf("Backend outages must not move the counters, got %d/%d/%d miss/hit/store",
			stats.Misses, stats.Hits, stats.Stores)
	}
}

func TestCache_StoreEmptyResult(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	query := "SELECT region FROM sales WHERE 1 = 0"

	empty := &ResultSet{Columns: []string{"region"}, ColumnTypes: []string{"VARCHAR"}}
	if ok := c.Store(ctx, query, empty); !ok {
		t.Fatal("Store of empty result failed")
	}

	rs, err := c.Lookup(ctx, query)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if rs.RowCount() != 0 {
		t.Errorf("Expected 0 rows, got %d", rs.RowCount())
	}
	if len(rs.Columns) != 1 {
		t.Errorf("Expected column shape to survive, got %v", rs.Columns)
	}
}
