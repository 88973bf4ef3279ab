package cache

import (
	"testing"
	"time"
)

func newTestMetadata(t *testing.T) *MetadataStore {
	t.Helper()
	m, err := NewMetadataStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewMetadataStore failed: %v", err)
	}
	return m
}

func TestMetadataStore_Counters(t *testing.T) {
	m := newTestMetadata(t)

	for i := 0; i < 3; i++ {
		if err := m.RecordHit(); err != nil {
			t.Fatalf("RecordHit failed: %v", err)
		}
	}
	if err := m.RecordMiss(); err != nil {
		t.Fatalf("RecordMiss failed: %v", err)
	}
	if err := m.RecordStore(1024); err != nil {
		t.Fatalf("RecordStore failed: %v", err)
	}

	stats, _, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if stats.Hits != 3 || stats.Misses != 1 || stats.Stores != 1 {
		t.Errorf("Expected 3/1/1 counters, got %d/%d/%d", stats.Hits, stats.Misses, stats.Stores)
	}
	if stats.TotalSizeBytes != 1024 {
		t.Errorf("Expected 1024 bytes recorded, got %d", stats.TotalSizeBytes)
	}
	if got := stats.HitRate(); got != 0.75 {
		t.Errorf("Expected hit rate 0.75, got %v", got)
	}
}

func TestStatistics_HitRateEmpty(t *testing.T) {
	var s Statistics
	if got := s.HitRate(); got != 0 {
		t.Errorf("Expected 0 hit rate with no requests, got %v", got)
	}
}

func TestMetadataStore_UpsertAndRemove(t *testing.T) {
	m := newTestMetadata(t)

	entry := MetaEntry{
		CreatedAt: time.Now(),
		RowCount:  2,
		Tables:    []string{"sales", "customers"},
	}
	if err := m.UpsertEntry("k1", entry); err != nil {
		t.Fatalf("UpsertEntry failed: %v", err)
	}

	if _, ok := m.Entry("k1"); !ok {
		t.Fatal("Expected entry k1 to exist")
	}
	if keys := m.KeysForTable("sales"); len(keys) != 1 || keys[0] != "k1" {
		t.Errorf("Expected sales index [k1], got %v", keys)
	}

	// Upserting again must not duplicate index references.
	if err := m.UpsertEntry("k1", entry); err != nil {
		t.Fatalf("UpsertEntry failed: %v", err)
	}
	if keys := m.KeysForTable("sales"); len(keys) != 1 {
		t.Errorf("Expected deduplicated index, got %v", keys)
	}

	if err := m.RemoveEntry("k1"); err != nil {
		t.Fatalf("RemoveEntry failed: %v", err)
	}
	if _, ok := m.Entry("k1"); ok {
		t.Error("Expected entry k1 to be gone")
	}
	if keys := m.KeysForTable("sales"); len(keys) != 0 {
		t.Errorf("Expected empty sales index after removal, got %v", keys)
	}
	if keys := m.KeysForTable("customers"); len(keys) != 0 {
		t.Errorf("Expected empty customers index after removal, got %v", keys)
	}
}

func TestMetadataStore_Reset(t *testing.T) {
	m := newTestMetadata(t)

	m.RecordHit()
	m.UpsertEntry("k1", MetaEntry{Tables: []string{"t"}})

	if err := m.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	stats, entries, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if stats.Hits != 0 || entries != 0 {
		t.Errorf("Expected clean document after reset, got hits=%d entries=%d", stats.Hits, entries)
	}
}

func TestMetadataStore_Reconcile(t *testing.T) {
	m := newTestMetadata(t)

	m.UpsertEntry("alive", MetaEntry{FilePath: "alive.duckdb", Tables: []string{"t1"}})
	m.UpsertEntry("gone", MetaEntry{FilePath: "gone.duckdb", Tables: []string{"t1", "t2"}})

	dropped, err := m.Reconcile(func(e MetaEntry) bool {
		return e.FilePath == "alive.duckdb"
	})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if dropped != 1 {
		t.Errorf("Expected 1 dropped entry, got %d", dropped)
	}
	if _, ok := m.Entry("alive"); !ok {
		t.Error("Surviving entry was dropped")
	}
	if keys := m.KeysForTable("t2"); len(keys) != 0 {
		t.Errorf("Expected t2 index scrubbed, got %v", keys)
	}
	if keys := m.KeysForTable("t1"); len(keys) != 1 || keys[0] != "alive" {
		t.Errorf("Expected t1 index [alive], got %v", keys)
	}
}
