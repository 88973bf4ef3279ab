// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all QueryDeck configuration.
type Config struct {
	Version int `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig for the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AdminAPIKey guards the table-scoped invalidation endpoint.
	// Empty disables it entirely.
	AdminAPIKey string `yaml:"admin_api_key"`
}

// DatabaseConfig for the DuckDB engine.
type DatabaseConfig struct {
	Path        string `yaml:"path"` // empty = in-memory
	InitSQLFile string `yaml:"init_sql_file"`
	Threads     int    `yaml:"threads"` // 0 = auto
}

// CacheConfig selects and configures the result-cache backend.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"` // file | redis | s3

	Dir             string        `yaml:"dir"`
	Expiry          time.Duration `yaml:"expiry"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	Redis RedisConfig `yaml:"redis"`
	S3    S3Config    `yaml:"s3"`
}

// RedisConfig for the Redis backend.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	Database     int           `yaml:"database"`
	Timeout      time.Duration `yaml:"timeout"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
}

// S3Config for the object-store backend.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	deckDir := filepath.Join(homeDir, ".querydeck")

	return &Config{
		Version: 1,
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path:    "", // in-memory
			Threads: 0,  // auto
		},
		Cache: CacheConfig{
			Enabled:         true,
			Backend:         "file",
			Dir:             filepath.Join(deckDir, "cache"),
			Expiry:          24 * time.Hour,
			CleanupInterval: time.Hour,
			Redis: RedisConfig{
				Addr:         "localhost:6379",
				Timeout:      5 * time.Second,
				PoolSize:     10,
				MinIdleConns: 2,
			},
			S3: S3Config{
				Prefix: "querydeck/",
				Region: "us-east-1",
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "querydeck",
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()

	// Load from paths in order (later overrides earlier)
	paths := m.getConfigPaths()
	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, but surface errors for existing files
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	// Override with environment variables
	m.loadEnv()

	if err := m.validate(); err != nil {
		return err
	}

	// Ensure directories exist
	m.ensureDirs()

	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/querydeck/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".querydeck", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".querydeck.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	// Merge non-zero values
	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	// Server
	if src.Server.Host != "" {
		m.config.Server.Host = src.Server.Host
	}
	if src.Server.Port != 0 {
		m.config.Server.Port = src.Server.Port
	}
	if src.Server.AdminAPIKey != "" {
		m.config.Server.AdminAPIKey = src.Server.AdminAPIKey
	}

	// Database
	if src.Database.Path != "" {
		m.config.Database.Path = src.Database.Path
	}
	if src.Database.InitSQLFile != "" {
		m.config.Database.InitSQLFile = src.Database.InitSQLFile
	}
	if src.Database.Threads != 0 {
		m.config.Database.Threads = src.Database.Threads
	}

	// Cache
	if src.Cache.Backend != "" {
		m.config.Cache.Backend = src.Cache.Backend
	}
	if src.Cache.Dir != "" {
		m.config.Cache.Dir = src.Cache.Dir
	}
	if src.Cache.Expiry != 0 {
		m.config.Cache.Expiry = src.Cache.Expiry
	}
	if src.Cache.CleanupInterval != 0 {
		m.config.Cache.CleanupInterval = src.Cache.CleanupInterval
	}
	if src.Cache.Redis.Addr != "" {
		m.config.Cache.Redis.Addr = src.Cache.Redis.Addr
	}
	if src.Cache.Redis.Password != "" {
		m.config.Cache.Redis.Password = src.Cache.Redis.Password
	}
	if src.Cache.Redis.Database != 0 {
		m.config.Cache.Redis.Database = src.Cache.Redis.Database
	}
	if src.Cache.Redis.Timeout != 0 {
		m.config.Cache.Redis.Timeout = src.Cache.Redis.Timeout
	}
	if src.Cache.Redis.PoolSize != 0 {
		m.config.Cache.Redis.PoolSize = src.Cache.Redis.PoolSize
	}
	if src.Cache.Redis.MinIdleConns != 0 {
		m.config.Cache.Redis.MinIdleConns = src.Cache.Redis.MinIdleConns
	}
	if src.Cache.S3.Bucket != "" {
		m.config.Cache.S3.Bucket = src.Cache.S3.Bucket
	}
	if src.Cache.S3.Prefix != "" {
		m.config.Cache.S3.Prefix = src.Cache.S3.Prefix
	}
	if src.Cache.S3.Region != "" {
		m.config.Cache.S3.Region = src.Cache.S3.Region
	}
	if src.Cache.S3.Endpoint != "" {
		m.config.Cache.S3.Endpoint = src.Cache.S3.Endpoint
	}
	if src.Cache.S3.AccessKeyID != "" {
		m.config.Cache.S3.AccessKeyID = src.Cache.S3.AccessKeyID
	}
	if src.Cache.S3.SecretAccessKey != "" {
		m.config.Cache.S3.SecretAccessKey = src.Cache.S3.SecretAccessKey
	}
	if src.Cache.S3.UsePathStyle {
		m.config.Cache.S3.UsePathStyle = true
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
	if src.Telemetry.ServiceName != "" {
		m.config.Telemetry.ServiceName = src.Telemetry.ServiceName
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("QUERYDECK_HOST"); v != "" {
		m.config.Server.Host = v
	}
	if v := os.Getenv("QUERYDECK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			m.config.Server.Port = port
		}
	}
	if v := os.Getenv("QUERYDECK_ADMIN_API_KEY"); v != "" {
		m.config.Server.AdminAPIKey = v
	}
	if v := os.Getenv("QUERYDECK_DATABASE"); v != "" {
		m.config.Database.Path = v
	}
	if v := os.Getenv("QUERYDECK_CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			m.config.Cache.Enabled = b
		}
	}
	if v := os.Getenv("QUERYDECK_CACHE_BACKEND"); v != "" {
		m.config.Cache.Backend = v
	}
	if v := os.Getenv("QUERYDECK_CACHE_DIR"); v != "" {
		m.config.Cache.Dir = v
	}
	if v := os.Getenv("QUERYDECK_CACHE_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			m.config.Cache.Expiry = d
		}
	}
	if v := os.Getenv("QUERYDECK_REDIS_ADDR"); v != "" {
		m.config.Cache.Redis.Addr = v
	}
	if v := os.Getenv("QUERYDECK_REDIS_PASSWORD"); v != "" {
		m.config.Cache.Redis.Password = v
	}
	if v := os.Getenv("QUERYDECK_S3_BUCKET"); v != "" {
		m.config.Cache.S3.Bucket = v
	}
	if v := os.Getenv("QUERYDECK_S3_ENDPOINT"); v != "" {
		m.config.Cache.S3.Endpoint = v
	}
	if v := os.Getenv("QUERYDECK_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Enabled = true
		m.config.Telemetry.Endpoint = v
	}
}

// validate rejects values that would misconfigure the server at startup
// rather than at first use.
func (m *Manager) validate() error {
	switch m.config.Cache.Backend {
	case "file", "redis", "s3":
	default:
		return fmt.Errorf("unknown cache backend %q (want file, redis, or s3)", m.config.Cache.Backend)
	}
	if m.config.Cache.Backend == "s3" && m.config.Cache.S3.Bucket == "" {
		return fmt.Errorf("cache backend s3 requires a bucket")
	}
	if m.config.Server.Port <= 0 || m.config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", m.config.Server.Port)
	}
	return nil
}

// ensureDirs creates necessary directories.
func (m *Manager) ensureDirs() {
	if m.config.Cache.Backend == "file" && m.config.Cache.Dir != "" {
		os.MkdirAll(m.config.Cache.Dir, 0755)
	}
	if m.config.Database.Path != "" {
		os.MkdirAll(filepath.Dir(m.config.Database.Path), 0755)
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".querydeck")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}
