package cache

import (
	"context"
	"testing"
)

func newTestAdmin(t *testing.T) (*Admin, *Cache) {
	t.Helper()
	c := newTestCache(t)
	return NewAdmin(c, nil), c
}

func TestAdmin_Statistics(t *testing.T) {
	admin, c := newTestAdmin(t)
	ctx := context.Background()

	c.Lookup(ctx, "SELECT region FROM sales WHERE amount > 1") // miss
	c.Store(ctx, "SELECT region FROM sales WHERE amount > 1", sampleResultSet())
	c.Lookup(ctx, "SELECT region FROM sales WHERE amount > 1") // hit

	stats, err := admin.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.Backend != "file" {
		t.Errorf("Expected backend 'file', got %q", stats.Backend)
	}
	if stats.Hits != 1 || stats.Misses != 1 || stats.Stores != 1 {
		t.Errorf("Expected 1/1/1 counters, got %d/%d/%d", stats.Hits, stats.Misses, stats.Stores)
	}
	if stats.EntryCount != 1 {
		t.Errorf("Expected 1 entry, got %d", stats.EntryCount)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("Expected hit rate 0.5, got %v", stats.HitRate)
	}
	if stats.TotalSizeBytes <= 0 {
		t.Errorf("Expected positive size, got %d", stats.TotalSizeBytes)
	}
}

func TestAdmin_ClearAll(t *testing.T) {
	admin, c := newTestAdmin(t)
	ctx := context.Background()

	c.Store(ctx, "SELECT region FROM sales GROUP BY region", sampleResultSet())
	c.Store(ctx, "SELECT id FROM customers ORDER BY id", sampleResultSet())

	removed, err := admin.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removals, got %d", removed)
	}

	stats, err := admin.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.EntryCount != 0 {
		t.Errorf("Expected empty cache after ClearAll, got %d entries", stats.EntryCount)
	}
	if stats.Stores != 0 {
		t.Errorf("Expected counters reset, got %d stores", stats.Stores)
	}
}

func TestAdmin_ClearByTable(t *testing.T) {
	admin, c := newTestAdmin(t)
	ctx := context.Background()

	salesQuery := "SELECT region FROM sales GROUP BY region"
	custQuery := "SELECT id FROM customers ORDER BY id"
	c.Store(ctx, salesQuery, sampleResultSet())
	c.Store(ctx, custQuery, sampleResultSet())

	removed, err := admin.ClearByTable(ctx, "sales")
	if err != nil {
		t.Fatalf("ClearByTable failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removal, got %d", removed)
	}

	if _, err := c.Lookup(ctx, salesQuery); err == nil {
		t.Error("Expected sales query evicted")
	}
	if _, err := c.Lookup(ctx, custQuery); err != nil {
		t.Errorf("Customers query should survive: %v", err)
	}
}

func TestAdmin_ProbeHealth(t *testing.T) {
	admin, c := newTestAdmin(t)
	ctx := context.Background()

	c.Store(ctx, "SELECT region FROM sales GROUP BY region", sampleResultSet())

	h := admin.ProbeHealth(ctx)
	if h.Status != "healthy" {
		t.Errorf("Expected healthy, got %q (%s)", h.Status, h.Detail)
	}
	if h.Backend != "file" {
		t.Errorf("Expected backend 'file', got %q", h.Backend)
	}
	if h.EntryCount != 1 {
		t.Errorf("Expected 1 entry, got %d", h.EntryCount)
	}
	if h.TotalSizeBytes <= 0 {
		t.Errorf("Expected positive size, got %d", h.TotalSizeBytes)
	}
}
