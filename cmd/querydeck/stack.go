package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/querydeck/querydeck/pkg/cache"
	"github.com/querydeck/querydeck/pkg/config"
	"github.com/querydeck/querydeck/pkg/query"
	"github.com/querydeck/querydeck/pkg/query/engine"
)

// buildBackend constructs the configured cache backend and its metadata
// store.
func buildBackend(cfg *config.Config, logger *log.Logger) (cache.Backend, *cache.MetadataStore, error) {
	meta, err := cache.NewMetadataStore(cfg.Cache.Dir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	switch cfg.Cache.Backend {
	case "file":
		backend, err := cache.NewFileBackend(cache.FileConfig{
			Dir:    cfg.Cache.Dir,
			Expiry: cfg.Cache.Expiry,
			Logger: logger,
		}, meta)
		if err != nil {
			return nil, nil, err
		}
		return backend, meta, nil

	case "redis":
		rc := cache.DefaultRedisConfig(cfg.Cache.Redis.Addr)
		rc.Password = cfg.Cache.Redis.Password
		rc.Database = cfg.Cache.Redis.Database
		rc.TTL = cfg.Cache.Expiry
		if cfg.Cache.Redis.Timeout != 0 {
			rc.Timeout = cfg.Cache.Redis.Timeout
		}
		if cfg.Cache.Redis.PoolSize != 0 {
			rc.PoolSize = cfg.Cache.Redis.PoolSize
		}
		if cfg.Cache.Redis.MinIdleConns != 0 {
			rc.MinIdleConns = cfg.Cache.Redis.MinIdleConns
		}
		rc.Logger = logger
		backend, err := cache.NewRedisBackend(rc)
		if err != nil {
			return nil, nil, err
		}
		return backend, meta, nil

	case "s3":
		sc := cache.DefaultS3Config(cfg.Cache.S3.Bucket)
		if cfg.Cache.S3.Prefix != "" {
			sc.Prefix = cfg.Cache.S3.Prefix
		}
		sc.Region = cfg.Cache.S3.Region
		sc.Endpoint = cfg.Cache.S3.Endpoint
		sc.AccessKeyID = cfg.Cache.S3.AccessKeyID
		sc.SecretAccessKey = cfg.Cache.S3.SecretAccessKey
		sc.UsePathStyle = cfg.Cache.S3.UsePathStyle
		sc.Expiry = cfg.Cache.Expiry
		sc.Logger = logger
		backend, err := cache.NewS3Backend(context.Background(), sc)
		if err != nil {
			return nil, nil, err
		}
		return backend, meta, nil

	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// stack is the assembled service: engine, gate, and optional cache.
type stack struct {
	engine *engine.Engine
	gate   *query.Gate
	cache  *cache.Cache // nil when caching is disabled
	admin  *cache.Admin // nil when caching is disabled
}

// buildStack assembles the engine and cache from configuration. With
// telemetry enabled the gate sees the instrumented cache.
func buildStack(cfg *config.Config, logger *log.Logger) (*stack, error) {
	eng, err := engine.NewEngine(engine.Config{
		Path:        cfg.Database.Path,
		InitSQLFile: cfg.Database.InitSQLFile,
		Threads:     cfg.Database.Threads,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start query engine: %w", err)
	}

	s := &stack{engine: eng}

	var rc cache.ResultCache
	if cfg.Cache.Enabled {
		backend, meta, err := buildBackend(cfg, logger)
		if err != nil {
			eng.Close()
			return nil, fmt.Errorf("failed to start cache backend: %w", err)
		}
		s.cache = cache.New(backend, meta, logger)
		s.admin = cache.NewAdmin(s.cache, logger)

		rc = s.cache
		if cfg.Telemetry.Enabled {
			rc = cache.NewInstrumented(s.cache)
		}
	}

	s.gate = query.NewGate(eng, rc, logger)
	return s, nil
}

// Close releases the engine and cache.
func (s *stack) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
	s.engine.Close()
}

func newLogger() *log.Logger {
	flags := log.LstdFlags
	if verbose {
		flags |= log.Lshortfile
	}
	return log.New(os.Stderr, "", flags)
}
