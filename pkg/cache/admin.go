package cache

import (
	"context"
	"log"
)

// Stats is the aggregate view returned by the statistics surface.
type Stats struct {
	Backend        string  `json:"cache_backend"`
	Hits           int64   `json:"cache_hits"`
	Misses         int64   `json:"cache_misses"`
	Stores         int64   `json:"total_queries_cached"`
	HitRate        float64 `json:"hit_rate"`
	EntryCount     int     `json:"total_cache_entries"`
	TotalSizeBytes int64   `json:"total_size_bytes"`
}

// Health is the result of a backend health probe.
type Health struct {
	Status         string `json:"status"` // healthy | unhealthy | disabled
	Backend        string `json:"cache_backend"`
	EntryCount     int    `json:"entry_count"`
	TotalSizeBytes int64  `json:"total_size_bytes,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

// Admin exposes the maintenance operations consumed by the serving
// layer: statistics, clears, and the health probe.
type Admin struct {
	backend Backend
	meta    *MetadataStore
	log     *log.Logger
}

// NewAdmin creates the admin surface over a cache's backend and
// metadata store.
func NewAdmin(c *Cache, logger *log.Logger) *Admin {
	if logger == nil {
		logger = log.Default()
	}
	return &Admin{backend: c.Backend(), meta: c.Metadata(), log: logger}
}

// Statistics returns the counters plus a live entry count from the
// backend itself, which for the key-value backends is a namespaced scan
// rather than a possibly-stale local counter.
func (a *Admin) Statistics(ctx context.Context) (Stats, error) {
	snap, metaEntries, err := a.meta.Snapshot()
	if err != nil {
		return Stats{}, err
	}

	entries, err := a.backend.EntryCount(ctx)
	if err != nil {
		a.log.Printf("cache: live entry count unavailable, using metadata: %v", err)
		entries = metaEntries
	}

	stats := Stats{
		Backend:        a.backend.Name(),
		Hits:           snap.Hits,
		Misses:         snap.Misses,
		Stores:         snap.Stores,
		HitRate:        snap.HitRate(),
		EntryCount:     entries,
		TotalSizeBytes: snap.TotalSizeBytes,
	}
	if fb, ok := a.backend.(*FileBackend); ok {
		stats.TotalSizeBytes = fb.TotalSizeBytes()
	}
	return stats, nil
}

// ClearExpired removes stale entries. Backends with native TTL report
// zero work.
func (a *Admin) ClearExpired(ctx context.Context) (int, error) {
	n, err := a.backend.DeleteExpired(ctx)
	if err != nil {
		return n, err
	}
	a.log.Printf("cache: cleared %d expired entries", n)
	return n, nil
}

// ClearAll removes every entry.
func (a *Admin) ClearAll(ctx context.Context) (int, error) {
	n, err := a.backend.DeleteAll(ctx)
	if err != nil {
		return n, err
	}
	a.log.Printf("cache: cleared all entries (%d removed)", n)
	return n, nil
}

// ClearByTable removes the entries whose query referenced the table. An
// unknown table clears nothing and is not an error.
func (a *Admin) ClearByTable(ctx context.Context, table string) (int, error) {
	n, err := a.backend.DeleteByTable(ctx, table)
	if err != nil {
		return n, err
	}
	a.log.Printf("cache: cleared %d entries for table %s", n, table)
	return n, nil
}

// ProbeHealth checks backend reachability and reports current size.
func (a *Admin) ProbeHealth(ctx context.Context) Health {
	h := Health{Backend: a.backend.Name()}

	if err := a.backend.Ping(ctx); err != nil {
		h.Status = "unhealthy"
		h.Detail = err.Error()
		return h
	}
	h.Status = "healthy"

	if n, err := a.backend.EntryCount(ctx); err == nil {
		h.EntryCount = n
	}
	if fb, ok := a.backend.(*FileBackend); ok {
		h.TotalSizeBytes = fb.TotalSizeBytes()
	} else if snap, _, err := a.meta.Snapshot(); err == nil {
		h.TotalSizeBytes = snap.TotalSizeBytes
	}
	return h
}
