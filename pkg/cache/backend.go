package cache

import (
	"context"
	"time"
)

// EntryMeta describes a cache entry alongside its payload. Backends
// persist it next to the payload (sidecar table, query_meta: key, or
// query_meta/ object) so entries are self-describing.
type EntryMeta struct {
	Key          string    `json:"query_hash"`
	CreatedAt    time.Time `json:"created_at"`
	RowCount     int       `json:"row_count"`
	ColumnCount  int       `json:"column_count"`
	QueryPreview string    `json:"query_preview"`
	Tables       []string  `json:"tables"`
}

// Backend is the storage contract shared by all cache backends. New
// backends implement this interface; the facade and admin layers never
// special-case a variant beyond asking its Name.
//
// Get returns ErrMiss for absent, expired, and corrupt entries (corrupt
// records are deleted first). Put removes any partial state on failure.
type Backend interface {
	// Name identifies the variant ("file", "redis", "s3").
	Name() string

	// Put stores a result set under key and returns the stored payload
	// size in bytes.
	Put(ctx context.Context, key string, tables []string, rs *ResultSet, meta EntryMeta) (int64, error)

	// Get retrieves the result set for key, or ErrMiss.
	Get(ctx context.Context, key string, tables []string) (*ResultSet, error)

	// Delete removes a single entry. Removing an absent entry is not an
	// error.
	Delete(ctx context.Context, key string, tables []string) error

	// DeleteAll removes every entry and returns the number removed.
	DeleteAll(ctx context.Context) (int, error)

	// DeleteExpired removes entries past the expiry window and returns
	// the number removed. Backends whose store expires entries natively
	// return 0.
	DeleteExpired(ctx context.Context) (int, error)

	// DeleteByTable removes entries whose query referenced table and
	// returns the number removed. An unknown table removes nothing.
	DeleteByTable(ctx context.Context, table string) (int, error)

	// EntryCount reports the number of live entries in the store.
	EntryCount(ctx context.Context) (int, error)

	// Ping checks that the storage medium is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// storedResult is the serialized payload shape used by the redis and s3
// backends. Column order and row order survive the round trip.
type storedResult struct {
	Columns     []string `json:"columns"`
	ColumnTypes []string `json:"column_types,omitempty"`
	Rows        [][]any  `json:"rows"`
}
