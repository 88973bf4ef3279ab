package cache

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// metadataFileName is the durable bookkeeping document kept in the cache
// directory alongside the entry files.
const metadataFileName = "cache_metadata.json"

// Statistics are the aggregate cache counters. Hits, misses and stores
// only grow; size and entry count shrink on clear operations.
type Statistics struct {
	Hits           int64 `json:"cache_hits"`
	Misses         int64 `json:"cache_misses"`
	Stores         int64 `json:"total_queries_cached"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// HitRate returns hits / (hits + misses), or 0 with no requests recorded.
func (s Statistics) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// MetaEntry is the per-entry record in the metadata document.
type MetaEntry struct {
	CreatedAt     time.Time `json:"created_at"`
	QueryPreview  string    `json:"query_preview"`
	RowCount      int       `json:"row_count"`
	ColumnCount   int       `json:"column_count"`
	FileSizeBytes int64     `json:"file_size_bytes"`
	FilePath      string    `json:"file_path"`
	Tables        []string  `json:"tables"`
}

type metadataDoc struct {
	CreatedAt  time.Time            `json:"created_at"`
	Entries    map[string]MetaEntry `json:"cache_entries"`
	Statistics Statistics           `json:"statistics"`
	TableIndex map[string][]string  `json:"table_index"`
}

// MetadataStore keeps the entry index, the table index, and the aggregate
// counters in a single JSON document. Every update is a read-modify-write
// guarded only within this process; concurrent writers from other
// processes race and the last write wins, so counters are best-effort.
type MetadataStore struct {
	mu   sync.Mutex
	path string
	log  *log.Logger
}

// NewMetadataStore opens (creating if needed) the metadata document in dir.
func NewMetadataStore(dir string, logger *log.Logger) (*MetadataStore, error) {
	if logger == nil {
		logger = log.Default()
	}
	m := &MetadataStore{path: filepath.Join(dir, metadataFileName), log: logger}
	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		if err := m.save(newMetadataDoc()); err != nil {
			return nil, fmt.Errorf("failed to initialize cache metadata: %w", err)
		}
	}
	return m, nil
}

func newMetadataDoc() *metadataDoc {
	return &metadataDoc{
		CreatedAt:  time.Now(),
		Entries:    make(map[string]MetaEntry),
		TableIndex: make(map[string][]string),
	}
}

func (m *MetadataStore) load() (*metadataDoc, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	var doc metadataDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]MetaEntry)
	}
	if doc.TableIndex == nil {
		doc.TableIndex = make(map[string][]string)
	}
	return &doc, nil
}

func (m *MetadataStore) save(doc *metadataDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func (m *MetadataStore) update(fn func(doc *metadataDoc)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.load()
	if err != nil {
		return err
	}
	fn(doc)
	return m.save(doc)
}

// UpsertEntry records an entry and indexes it under each referenced table.
func (m *MetadataStore) UpsertEntry(key string, entry MetaEntry) error {
	return m.update(func(doc *metadataDoc) {
		doc.Entries[key] = entry
		for _, t := range entry.Tables {
			if !containsKey(doc.TableIndex[t], key) {
				doc.TableIndex[t] = append(doc.TableIndex[t], key)
			}
		}
	})
}

// RemoveEntry drops an entry and every table-index reference to it.
func (m *MetadataStore) RemoveEntry(key string) error {
	return m.update(func(doc *metadataDoc) {
		doc.removeEntry(key)
	})
}

func (doc *metadataDoc) removeEntry(key string) {
	entry, ok := doc.Entries[key]
	delete(doc.Entries, key)
	tables := entry.Tables
	if !ok {
		// Unknown entry: scrub the whole index.
		for t := range doc.TableIndex {
			tables = append(tables, t)
		}
	}
	for _, t := range tables {
		doc.TableIndex[t] = removeKey(doc.TableIndex[t], key)
		if len(doc.TableIndex[t]) == 0 {
			delete(doc.TableIndex, t)
		}
	}
}

// Entry returns the record for key, if present.
func (m *MetadataStore) Entry(key string) (MetaEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.load()
	if err != nil {
		return MetaEntry{}, false
	}
	e, ok := doc.Entries[key]
	return e, ok
}

// KeysForTable returns the keys indexed under a table identifier.
func (m *MetadataStore) KeysForTable(table string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.load()
	if err != nil {
		return nil
	}
	keys := doc.TableIndex[table]
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

// RecordHit increments the hit counter.
func (m *MetadataStore) RecordHit() error {
	return m.update(func(doc *metadataDoc) { doc.Statistics.Hits++ })
}

// RecordMiss increments the miss counter.
func (m *MetadataStore) RecordMiss() error {
	return m.update(func(doc *metadataDoc) { doc.Statistics.Misses++ })
}

// RecordStore increments the store counter and total stored bytes.
func (m *MetadataStore) RecordStore(sizeBytes int64) error {
	return m.update(func(doc *metadataDoc) {
		doc.Statistics.Stores++
		doc.Statistics.TotalSizeBytes += sizeBytes
	})
}

// Snapshot returns the current counters and entry count.
func (m *MetadataStore) Snapshot() (Statistics, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.load()
	if err != nil {
		return Statistics{}, 0, err
	}
	return doc.Statistics, len(doc.Entries), nil
}

// Reset discards all entries, indexes, and counters.
func (m *MetadataStore) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(newMetadataDoc())
}

// Reconcile drops every entry whose backing file no longer exists, along
// with its table-index references, treating the filesystem as ground
// truth. Returns the number of entries dropped.
func (m *MetadataStore) Reconcile(exists func(MetaEntry) bool) (int, error) {
	dropped := 0
	err := m.update(func(doc *metadataDoc) {
		for key, entry := range doc.Entries {
			if !exists(entry) {
				doc.removeEntry(key)
				dropped++
			}
		}
	})
	return dropped, err
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func removeKey(keys []string, key string) []string {
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}
