package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queryKeyPrefix = "query:"
	metaKeyPrefix  = "query_meta:"
	tableKeyPrefix = "table:"

	scanBatchSize = 1000
)

// RedisConfig configures the key-value backend.
type RedisConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// TTL is the time-to-live applied to every entry; Redis expires
	// entries natively, so no local sweep is needed.
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration

	// PoolSize is the maximum number of connections
	PoolSize int

	// MinIdleConns is the minimum number of idle connections
	MinIdleConns int

	Logger *log.Logger
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(addr string) RedisConfig {
	return RedisConfig{
		Addr:         addr,
		TTL:          24 * time.Hour,
		Timeout:      5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisBackend stores serialized row sets in Redis under query:<hash>,
// entry metadata under query_meta:<hash>, and a per-table invalidation
// set under table:<name>, all TTL-bound.
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
	log    *log.Logger
}

// NewRedisBackend connects to Redis and verifies reachability.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &RedisBackend{cfg: cfg, client: client, log: logger}, nil
}

// Name returns "redis".
func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.cfg.Timeout)
}

// Put serializes the rows and writes payload and metadata with the
// configured TTL. Each referenced table's set gains the key, and the
// set's own TTL is extended so the invalidation index neither outlives
// its members by an unbounded margin nor expires well before them.
func (b *RedisBackend) Put(ctx context.Context, key string, tables []string, rs *ResultSet, meta EntryMeta) (int64, error) {
	ctx, cancel := b.opCtx(ctx)
	defer cancel()

	payload, err := json.Marshal(storedResult{
		Columns:     rs.Columns,
		ColumnTypes: rs.ColumnTypes,
		Rows:        rs.Rows,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to serialize result set: %w", err)
	}

	if err := b.client.Set(ctx, queryKeyPrefix+key, payload, b.cfg.TTL).Err(); err != nil {
		return 0, fmt.Errorf("failed to store cache entry: %w", err)
	}

	// Metadata and table-index writes are best-effort: their failure
	// must not fail a store whose payload landed.
	metaBytes, err := json.Marshal(meta)
	if err == nil {
		pipe := b.client.Pipeline()
		pipe.Set(ctx, metaKeyPrefix+key, metaBytes, b.cfg.TTL)
		for _, t := range tables {
			pipe.SAdd(ctx, tableKeyPrefix+t, key)
			pipe.Expire(ctx, tableKeyPrefix+t, b.cfg.TTL)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			b.log.Printf("cache: failed to persist redis metadata for %s: %v", key, err)
		}
	}

	return int64(len(payload)), nil
}

// Get reads the payload for key. A missing key misses; an undecodable
// payload is deleted and misses, never surfacing the decode error.
func (b *RedisBackend) Get(ctx context.Context, key string, tables []string) (*ResultSet, error) {
	ctx, cancel := b.opCtx(ctx)
	defer cancel()

	raw, err := b.client.Get(ctx, queryKeyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var stored storedResult
	if err := json.Unmarshal(raw, &stored); err != nil {
		b.log.Printf("cache: %v", &CorruptEntryError{Key: key, Reason: err})
		b.client.Del(ctx, queryKeyPrefix+key, metaKeyPrefix+key)
		return nil, ErrMiss
	}

	return &ResultSet{
		Columns:     stored.Columns,
		ColumnTypes: stored.ColumnTypes,
		Rows:        stored.Rows,
	}, nil
}

// Delete removes the payload/metadata pair for key.
func (b *RedisBackend) Delete(ctx context.Context, key string, tables []string) error {
	ctx, cancel := b.opCtx(ctx)
	defer cancel()
	return b.client.Del(ctx, queryKeyPrefix+key, metaKeyPrefix+key).Err()
}

// DeleteAll removes every key under the query:, query_meta:, and table:
// namespaces, paging through SCAN in bounded batches.
func (b *RedisBackend) DeleteAll(ctx context.Context) (int, error) {
	removed := 0
	for _, pattern := range []string{queryKeyPrefix + "*", metaKeyPrefix + "*", tableKeyPrefix + "*"} {
		n, err := b.deleteByPattern(ctx, pattern)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (b *RedisBackend) deleteByPattern(ctx context.Context, pattern string) (int, error) {
	removed := 0
	var cursor uint64
	for {
		scanCtx, cancel := b.opCtx(ctx)
		keys, next, err := b.client.Scan(scanCtx, cursor, pattern, scanBatchSize).Result()
		cancel()
		if err != nil {
			return removed, fmt.Errorf("failed to scan keys: %w", err)
		}
		if len(keys) > 0 {
			delCtx, cancel := b.opCtx(ctx)
			if err := b.client.Del(delCtx, keys...).Err(); err != nil {
				cancel()
				return removed, fmt.Errorf("failed to delete keys: %w", err)
			}
			cancel()
			removed += len(keys)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// DeleteExpired is a no-op: Redis TTL expires entries on its own.
func (b *RedisBackend) DeleteExpired(ctx context.Context) (int, error) {
	return 0, nil
}

// DeleteByTable reads the per-table set and removes each member's
// payload/metadata pair, then the set itself. An empty set is a
// legitimate zero result.
func (b *RedisBackend) DeleteByTable(ctx context.Context, table string) (int, error) {
	ctx, cancel := b.opCtx(ctx)
	defer cancel()

	setKey := tableKeyPrefix + table
	members, err := b.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read table set: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	removed := 0
	for _, key := range members {
		if err := b.client.Del(ctx, queryKeyPrefix+key, metaKeyPrefix+key).Err(); err != nil {
			b.log.Printf("cache: failed to remove redis entry %s: %v", key, err)
			continue
		}
		removed++
	}
	b.client.Del(ctx, setKey)
	return removed, nil
}

// EntryCount counts live query: keys with a SCAN rather than trusting
// possibly stale local counters.
func (b *RedisBackend) EntryCount(ctx context.Context) (int, error) {
	count := 0
	var cursor uint64
	for {
		scanCtx, cancel := b.opCtx(ctx)
		keys, next, err := b.client.Scan(scanCtx, cursor, queryKeyPrefix+"*", scanBatchSize).Result()
		cancel()
		if err != nil {
			return count, fmt.Errorf("failed to scan keys: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := b.opCtx(ctx)
	defer cancel()
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
