package cache

import (
	"context"
	"errors"
	"log"
	"time"
)

const queryPreviewLen = 500

// ResultCache is the two-operation facade the query-serving path consumes.
type ResultCache interface {
	// Lookup returns the cached result for a query, or ErrMiss.
	Lookup(ctx context.Context, query string) (*ResultSet, error)

	// Store caches a result and reports whether the payload write
	// succeeded. Bookkeeping failures do not affect the return value.
	Store(ctx context.Context, query string, rs *ResultSet) bool
}

// Cache orchestrates key derivation, the active backend, and the
// metadata bookkeeping. All failures stay inside the cache: a broken
// lookup degrades to a miss, a broken store to false, and neither ever
// fails the underlying query.
type Cache struct {
	backend Backend
	meta    *MetadataStore
	log     *log.Logger
}

// New creates a cache over the given backend. The metadata store records
// counters for every backend and the entry/table index for the file
// backend.
func New(backend Backend, meta *MetadataStore, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{backend: backend, meta: meta, log: logger}
}

// Backend returns the active storage backend.
func (c *Cache) Backend() Backend { return c.backend }

// Metadata returns the bookkeeping store.
func (c *Cache) Metadata() *MetadataStore { return c.meta }

// Lookup derives the key and tables for a query and consults the
// backend. Hits are marked FromCache; counter updates are best-effort
// and never fail the lookup.
func (c *Cache) Lookup(ctx context.Context, query string) (*ResultSet, error) {
	key := DeriveKey(query)
	tables := ExtractTables(query)

	rs, err := c.backend.Get(ctx, key, tables)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			// Backend trouble is not a miss; degrade without skewing
			// the advisory counters.
			c.log.Printf("cache: lookup degraded to miss for %s: %v", key, err)
			return nil, ErrMiss
		}
		if err := c.meta.RecordMiss(); err != nil {
			c.log.Printf("cache: failed to record miss: %v", err)
		}
		return nil, ErrMiss
	}

	rs.FromCache = true
	if err := c.meta.RecordHit(); err != nil {
		c.log.Printf("cache: failed to record hit: %v", err)
	}
	return rs, nil
}

// Store writes a result set to the backend. Returns true iff the payload
// write succeeded.
func (c *Cache) Store(ctx context.Context, query string, rs *ResultSet) bool {
	key := DeriveKey(query)
	tables := ExtractTables(query)

	meta := EntryMeta{
		Key:          key,
		CreatedAt:    time.Now(),
		RowCount:     rs.RowCount(),
		ColumnCount:  rs.ColumnCount(),
		QueryPreview: truncate(query, queryPreviewLen),
		Tables:       tables,
	}

	size, err := c.backend.Put(ctx, key, tables, rs, meta)
	if err != nil {
		c.log.Printf("cache: failed to store %s: %v", key, err)
		return false
	}

	if err := c.meta.RecordStore(size); err != nil {
		c.log.Printf("cache: failed to record store: %v", err)
	}
	return true
}

// Close releases backend resources.
func (c *Cache) Close() error {
	return c.backend.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
