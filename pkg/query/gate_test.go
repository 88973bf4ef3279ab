package query

import (
	"context"
	"errors"
	"testing"

	"github.com/querydeck/querydeck/pkg/cache"
	"github.com/querydeck/querydeck/pkg/query/engine"
)

// fakeCache records lookups and stores without any backend.
type fakeCache struct {
	entries map[string]*cache.ResultSet
	lookups int
	stores  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*cache.ResultSet)}
}

func (f *fakeCache) Lookup(ctx context.Context, query string) (*cache.ResultSet, error) {
	f.lookups++
	if rs, ok := f.entries[cache.DeriveKey(query)]; ok {
		hit := *rs
		hit.FromCache = true
		return &hit, nil
	}
	return nil, cache.ErrMiss
}

func (f *fakeCache) Store(ctx context.Context, query string, rs *cache.ResultSet) bool {
	f.stores++
	f.entries[cache.DeriveKey(query)] = rs
	return true
}

func newTestGate(t *testing.T, rc cache.ResultCache) *Gate {
	t.Helper()
	eng, err := engine.NewEngine(engine.Config{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return NewGate(eng, rc, nil)
}

func TestGate_RejectsWriteStatements(t *testing.T) {
	g := newTestGate(t, newFakeCache())

	writes := []string{
		"INSERT INTO t VALUES (1)",
		"UPDATE t SET x = 1",
		"DELETE FROM t",
		"DROP TABLE t",
		"CREATE TABLE t (x INT)",
		"ALTER TABLE t ADD COLUMN y INT",
	}
	for _, q := range writes {
		if _, err := g.Execute(context.Background(), q); !errors.Is(err, ErrNotReadOnly) {
			t.Errorf("Execute(%q) error = %v, want ErrNotReadOnly", q, err)
		}
	}
}

func TestGate_ExecutesAndCaches(t *testing.T) {
	fc := newFakeCache()
	g := newTestGate(t, fc)
	query := "SELECT 1 AS one, 'a' AS letter WHERE 1 = 1"

	out, err := g.Execute(context.Background(), query)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.Cached {
		t.Error("First execution should not be cached")
	}
	if !out.Stored {
		t.Error("Cacheable query should be stored")
	}
	if out.Result.RowCount() != 1 {
		t.Errorf("Expected 1 row, got %d", out.Result.RowCount())
	}
	if out.Result.Columns[0] != "one" {
		t.Errorf("Expected column 'one', got %v", out.Result.Columns)
	}

	out, err = g.Execute(context.Background(), query)
	if err != nil {
		t.Fatalf("Second Execute failed: %v", err)
	}
	if !out.Cached {
		t.Error("Second execution should hit the cache")
	}
	if !out.Result.FromCache {
		t.Error("Expected FromCache on the result")
	}
	if fc.stores != 1 {
		t.Errorf("Expected exactly one store, got %d", fc.stores)
	}
}

func TestGate_NonDeterministicNeverStored(t *testing.T) {
	fc := newFakeCache()
	g := newTestGate(t, fc)

	out, err := g.Execute(context.Background(), "SELECT random() AS r, 1 AS fixed")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.Stored {
		t.Error("Non-deterministic query must not be stored")
	}
	if fc.stores != 0 {
		t.Errorf("Expected 0 stores, got %d", fc.stores)
	}
}

func TestGate_ShortQueryNotStored(t *testing.T) {
	fc := newFakeCache()
	g := newTestGate(t, fc)

	out, err := g.Execute(context.Background(), "SELECT 1")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.Stored {
		t.Error("Short query must not be stored")
	}
}

func TestGate_NilCacheExecutesDirectly(t *testing.T) {
	g := newTestGate(t, nil)

	out, err := g.Execute(context.Background(), "SELECT 42 AS answer WHERE true")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.Cached || out.Stored {
		t.Error("Disabled cache must neither hit nor store")
	}
	if out.Result.Rows[0][0] != int32(42) && out.Result.Rows[0][0] != int64(42) {
		t.Errorf("Expected 42, got %v (%T)", out.Result.Rows[0][0], out.Result.Rows[0][0])
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		input    string
		expected OperationType
	}{
		{"SELECT 1", OpSelect},
		{"  select 1", OpSelect},
		{"WITH x AS (SELECT 1) SELECT * FROM x", OpWith},
		{"INSERT INTO t VALUES (1)", OpInsert},
		{"UPDATE t SET x=1", OpUpdate},
		{"DELETE FROM t", OpDelete},
		{"CREATE TABLE t (x INT)", OpCreate},
		{"DROP TABLE t", OpDrop},
		{"ALTER TABLE t RENAME TO u", OpAlter},
		{"EXPLAIN SELECT 1", OpUnknown},
		{"", OpUnknown},
	}

	for _, tt := range tests {
		if got := Classify(tt.input); got != tt.expected {
			t.Errorf("Classify(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestCacheable(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"plain select", "SELECT region FROM sales GROUP BY region", true},
		{"cte", "WITH x AS (SELECT 1 AS n) SELECT * FROM x", true},
		{"too short", "SELECT 1", false},
		{"now()", "SELECT now(), region FROM sales", false},
		{"current_timestamp", "SELECT CURRENT_TIMESTAMP, id FROM t", false},
		{"current_date", "SELECT current_date, id FROM orders", false},
		{"random()", "SELECT random() * 100 FROM sales", false},
		{"rand()", "SELECT rand(), id FROM big_table", false},
		{"uuid()", "SELECT uuid() AS id FROM events", false},
		{"newid()", "SELECT newid() AS id FROM events", false},
		{"no select", "EXPLAIN ANALYZE something here", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cacheable(tt.input); got != tt.expected {
				t.Errorf("Cacheable(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestEstimateComplexity(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Complexity
	}{
		{"trivial", "SELECT id FROM t", ComplexityLow},
		{"aggregate with grouping", "SELECT region, SUM(x) FROM t GROUP BY region", ComplexityMedium},
		{
			"joins and subqueries",
			"SELECT * FROM a JOIN b ON a.id=b.id JOIN c ON b.id=c.id WHERE a.x IN (SELECT x FROM d) ORDER BY a.id",
			ComplexityHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateComplexity(tt.input); got != tt.expected {
				t.Errorf("EstimateComplexity(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}
