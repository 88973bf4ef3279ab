package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

const (
	resultTableName  = "cached_result"
	sidecarTableName = "cache_metadata"

	// Joined table-name filename segments longer than this collapse to a
	// short hash so filenames stay bounded.
	maxTablesSegment = 80
)

// FileConfig configures the file backend.
type FileConfig struct {
	// Dir is the cache directory holding one DuckDB file per entry.
	Dir string

	// Expiry is the validity window compared against file mtime.
	Expiry time.Duration

	Logger *log.Logger
}

// FileBackend stores each entry as its own persistent DuckDB file, named
// deterministically from the key and the referenced tables. Writes are
// not atomic: a reader racing a writer of the same file may hit the
// corrupt-entry path (failed read, delete, miss) instead of a clean read.
type FileBackend struct {
	cfg  FileConfig
	meta *MetadataStore
	log  *log.Logger
}

// NewFileBackend creates the cache directory and opens its metadata store.
func NewFileBackend(cfg FileConfig, meta *MetadataStore) (*FileBackend, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &FileBackend{cfg: cfg, meta: meta, log: logger}, nil
}

// Name returns "file".
func (b *FileBackend) Name() string { return "file" }

// entryPath derives the file path for a key. Table names are embedded so
// directory listings reveal what a file invalidates with; the lookup path
// derives the same name from the same extraction, keeping the two sides
// consistent for any given query text.
func (b *FileBackend) entryPath(key string, tables []string) string {
	if len(tables) > 0 {
		segment := strings.Join(tables, "_")
		if len(segment) > maxTablesSegment {
			sum := sha256.Sum256([]byte(segment))
			segment = hex.EncodeToString(sum[:])[:16]
		}
		return filepath.Join(b.cfg.Dir, fmt.Sprintf("query_%s_%s.duckdb", segment, key))
	}
	return filepath.Join(b.cfg.Dir, fmt.Sprintf("query_%s.duckdb", key))
}

func (b *FileBackend) valid(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < b.cfg.Expiry
}

// Put writes the result set as a single table plus a metadata sidecar
// table in a fresh DuckDB file. A failed write deletes the partial file.
func (b *FileBackend) Put(ctx context.Context, key string, tables []string, rs *ResultSet, meta EntryMeta) (int64, error) {
	path := b.entryPath(key, tables)

	// Replace any previous file for this key outright.
	os.Remove(path)

	if err := b.writeEntry(ctx, path, rs, meta); err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("failed to write cache file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat cache file: %w", err)
	}

	// Index the entry; a bookkeeping failure does not fail the store.
	entry := MetaEntry{
		CreatedAt:     meta.CreatedAt,
		QueryPreview:  meta.QueryPreview,
		RowCount:      meta.RowCount,
		ColumnCount:   meta.ColumnCount,
		FileSizeBytes: info.Size(),
		FilePath:      path,
		Tables:        meta.Tables,
	}
	if err := b.meta.UpsertEntry(key, entry); err != nil {
		b.log.Printf("cache: failed to record metadata for %s: %v", key, err)
	}
	return info.Size(), nil
}

func (b *FileBackend) writeEntry(ctx context.Context, path string, rs *ResultSet, meta EntryMeta) error {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return err
	}
	defer db.Close()

	var cols []string
	for i, name := range rs.Columns {
		cols = append(cols, fmt.Sprintf("%s %s", quoteIdent(name), duckdbColumnType(rs, i)))
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", resultTableName, strings.Join(cols, ", "))
	if _, err := db.ExecContext(ctx, create); err != nil {
		return err
	}

	if len(rs.Rows) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(rs.Columns)), ",")
		insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", resultTableName, placeholders)
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, insert)
		if err != nil {
			tx.Rollback()
			return err
		}
		for _, row := range rs.Rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				stmt.Close()
				tx.Rollback()
				return err
			}
		}
		stmt.Close()
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	// Sidecar table makes the file self-describing.
	sidecar := fmt.Sprintf(`CREATE TABLE %s (
		query_hash VARCHAR, created_at VARCHAR, row_count BIGINT,
		column_count BIGINT, query_preview VARCHAR, tables VARCHAR)`, sidecarTableName)
	if _, err := db.ExecContext(ctx, sidecar); err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s VALUES (?, ?, ?, ?, ?, ?)", sidecarTableName),
		meta.Key, meta.CreatedAt.Format(time.RFC3339), meta.RowCount,
		meta.ColumnCount, meta.QueryPreview, strings.Join(meta.Tables, ","))
	return err
}

// Get loads the entry for key. Absent and expired files miss; unreadable
// files are deleted before missing so the failed read is not repeated.
func (b *FileBackend) Get(ctx context.Context, key string, tables []string) (*ResultSet, error) {
	path := b.entryPath(key, tables)
	if _, err := os.Stat(path); err != nil {
		return nil, ErrMiss
	}
	if !b.valid(path) {
		return nil, ErrMiss
	}

	rs, err := b.readEntry(ctx, path)
	if err != nil {
		b.log.Printf("cache: %v", &CorruptEntryError{Key: key, Reason: err})
		os.Remove(path)
		return nil, ErrMiss
	}
	return rs, nil
}

func (b *FileBackend) readEntry(ctx context.Context, path string) (*ResultSet, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", resultTableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	typeNames := make([]string, len(colTypes))
	for i, ct := range colTypes {
		typeNames[i] = ct.DatabaseTypeName()
	}

	rs := &ResultSet{Columns: columns, ColumnTypes: typeNames}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

// Delete removes the entry file and its metadata record.
func (b *FileBackend) Delete(ctx context.Context, key string, tables []string) error {
	if err := os.Remove(b.entryPath(key, tables)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := b.meta.RemoveEntry(key); err != nil {
		b.log.Printf("cache: failed to remove metadata for %s: %v", key, err)
	}
	return nil
}

// DeleteAll removes every entry file and resets the metadata document.
func (b *FileBackend) DeleteAll(ctx context.Context) (int, error) {
	files, err := b.entryFiles()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if err := os.Remove(f); err == nil {
			removed++
		}
	}
	if err := b.meta.Reset(); err != nil {
		b.log.Printf("cache: failed to reset metadata: %v", err)
	}
	return removed, nil
}

// DeleteExpired sweeps by file mtime only, so expiry works even for
// entries whose metadata has drifted, then reconciles the metadata
// document against the surviving files.
func (b *FileBackend) DeleteExpired(ctx context.Context) (int, error) {
	files, err := b.entryFiles()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if !b.valid(f) {
			if err := os.Remove(f); err == nil {
				removed++
				b.log.Printf("cache: removed expired entry %s", filepath.Base(f))
			}
		}
	}
	if _, err := b.meta.Reconcile(b.entryExists); err != nil {
		b.log.Printf("cache: failed to reconcile metadata: %v", err)
	}
	return removed, nil
}

// DeleteByTable removes the entries the table index points at. An index
// reference whose file is already gone is repaired by removal and not
// counted.
func (b *FileBackend) DeleteByTable(ctx context.Context, table string) (int, error) {
	removed := 0
	for _, key := range b.meta.KeysForTable(table) {
		entry, ok := b.meta.Entry(key)
		if !ok {
			continue
		}
		if _, err := os.Stat(entry.FilePath); err != nil {
			b.meta.RemoveEntry(key)
			continue
		}
		if err := os.Remove(entry.FilePath); err != nil {
			b.log.Printf("cache: failed to remove %s: %v", entry.FilePath, err)
			continue
		}
		b.meta.RemoveEntry(key)
		removed++
	}
	return removed, nil
}

// EntryCount reports the number of entry files on disk.
func (b *FileBackend) EntryCount(ctx context.Context) (int, error) {
	files, err := b.entryFiles()
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// TotalSizeBytes reports the combined size of all entry files.
func (b *FileBackend) TotalSizeBytes() int64 {
	files, err := b.entryFiles()
	if err != nil {
		return 0
	}
	var total int64
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			total += info.Size()
		}
	}
	return total
}

// Ping verifies the cache directory exists and is writable.
func (b *FileBackend) Ping(ctx context.Context) error {
	info, err := os.Stat(b.cfg.Dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrBackendUnavailable, b.cfg.Dir)
	}
	probe := filepath.Join(b.cfg.Dir, ".write_probe")
	if err := os.WriteFile(probe, nil, 0644); err != nil {
		return fmt.Errorf("%w: directory not writable: %v", ErrBackendUnavailable, err)
	}
	os.Remove(probe)
	return nil
}

// Close is a no-op; files are opened per operation.
func (b *FileBackend) Close() error { return nil }

func (b *FileBackend) entryFiles() ([]string, error) {
	return filepath.Glob(filepath.Join(b.cfg.Dir, "query_*.duckdb"))
}

func (b *FileBackend) entryExists(entry MetaEntry) bool {
	_, err := os.Stat(entry.FilePath)
	return err == nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// duckdbColumnType picks a column type from the recorded engine type, or
// infers one from the first non-nil value.
func duckdbColumnType(rs *ResultSet, col int) string {
	if col < len(rs.ColumnTypes) && rs.ColumnTypes[col] != "" {
		return rs.ColumnTypes[col]
	}
	for _, row := range rs.Rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		switch row[col].(type) {
		case int, int32, int64:
			return "BIGINT"
		case float32, float64:
			return "DOUBLE"
		case bool:
			return "BOOLEAN"
		case time.Time:
			return "TIMESTAMP"
		default:
			return "VARCHAR"
		}
	}
	return "VARCHAR"
}
