// Package rest provides the QueryDeck REST API.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/querydeck/querydeck/pkg/cache"
	"github.com/querydeck/querydeck/pkg/query"
	"github.com/querydeck/querydeck/pkg/query/engine"
)

// Server is the REST API server.
type Server struct {
	addr        string
	gate        *query.Gate
	queryEngine *engine.Engine
	admin       *cache.Admin
	adminAPIKey string
	cacheDir    string
	cacheExpiry time.Duration
	log         *log.Logger
	mux         *http.ServeMux
	server      *http.Server
}

// Config configures the server.
type Config struct {
	Addr        string
	Gate        *query.Gate
	QueryEngine *engine.Engine

	// Admin is nil when caching is disabled; the cache endpoints then
	// answer with cache_enabled=false instead of erroring.
	Admin *cache.Admin

	// AdminAPIKey guards clear_by_table. Empty disables the endpoint.
	AdminAPIKey string

	// CacheDir and CacheExpiry are echoed on the stats surface so
	// operators can see the effective settings.
	CacheDir    string
	CacheExpiry time.Duration

	Logger *log.Logger
}

// NewServer creates a new REST API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		addr:        cfg.Addr,
		gate:        cfg.Gate,
		queryEngine: cfg.QueryEngine,
		admin:       cfg.Admin,
		adminAPIKey: cfg.AdminAPIKey,
		cacheDir:    cfg.CacheDir,
		cacheExpiry: cfg.CacheExpiry,
		log:         logger,
		mux:         http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)

	// API v1
	s.mux.HandleFunc("/v1/query", s.handleQuery)
	s.mux.HandleFunc("/v1/tables", s.handleTables)
	s.mux.HandleFunc("/v1/tables/", s.handleDescribeTable)
	s.mux.HandleFunc("/v1/cache/stats", s.handleCacheStats)
	s.mux.HandleFunc("/v1/cache/clear", s.handleCacheClear)
	s.mux.HandleFunc("/v1/cache/clear_by_table", s.handleCacheClearByTable)
	s.mux.HandleFunc("/v1/cache/health", s.handleCacheHealth)
}

// Handler returns the route handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req QueryRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	sqlText := req.SQL
	if sqlText == "" {
		sqlText = req.Query
	}
	if sqlText == "" {
		sqlText = r.URL.Query().Get("query")
	}
	if sqlText == "" {
		writeError(w, http.StatusBadRequest, "SQL query is required")
		return
	}

	requestID := uuid.NewString()
	out, err := s.gate.Execute(r.Context(), sqlText)
	if err != nil {
		if errors.Is(err, query.ErrNotReadOnly) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		s.log.Printf("rest: query %s failed: %v", requestID, err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Query failed: %v", err))
		return
	}

	resp := QueryResponse{
		RequestID:       requestID,
		Columns:         out.Result.Columns,
		ColumnTypes:     out.Result.ColumnTypes,
		Rows:            out.Result.Rows,
		RowCount:        out.Result.RowCount(),
		Operation:       string(out.Operation),
		Complexity:      string(out.Complexity),
		Cached:          out.Cached,
		Stored:          out.Stored,
		ExecutionTimeMS: out.ExecutionTime.Milliseconds(),
		TotalTimeMS:     out.TotalTime.Milliseconds(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tables, err := s.queryEngine.ListTables(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list tables: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tables": tables})
}

// tableNameRe bounds what reaches DESCRIBE; the engine interpolates the
// name into the statement text.
var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (s *Server) handleDescribeTable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	table := strings.TrimPrefix(r.URL.Path, "/v1/tables/")
	if !tableNameRe.MatchString(table) {
		writeError(w, http.StatusBadRequest, "Invalid table name")
		return
	}

	columns, err := s.queryEngine.Describe(r.Context(), table)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Failed to describe table %q: %v", table, err))
		return
	}
	writeJSON(w, http.StatusOK, DescribeResponse{Table: table, Columns: columns})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.admin == nil {
		writeJSON(w, http.StatusOK, CacheDisabledResponse{CacheEnabled: false})
		return
	}

	stats, err := s.admin.Statistics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read statistics: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		CacheEnabled:   true,
		CacheDirectory: s.cacheDir,
		ExpirySeconds:  int64(s.cacheExpiry.Seconds()),
		Stats:          stats,
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.admin == nil {
		writeJSON(w, http.StatusOK, CacheDisabledResponse{CacheEnabled: false})
		return
	}

	clearType := r.URL.Query().Get("clear_type")
	if clearType == "" {
		clearType = "expired"
	}

	var (
		removed int
		err     error
	)
	switch clearType {
	case "expired":
		removed, err = s.admin.ClearExpired(r.Context())
	case "all":
		removed, err = s.admin.ClearAll(r.Context())
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown clear_type %q (want expired or all)", clearType))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Clear failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, ClearResponse{
		CacheEnabled:   true,
		ClearType:      clearType,
		EntriesRemoved: removed,
	})
}

func (s *Server) handleCacheClearByTable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.admin == nil {
		writeJSON(w, http.StatusOK, CacheDisabledResponse{CacheEnabled: false})
		return
	}

	// No configured key means the endpoint is disabled outright; a wrong
	// key on an enabled endpoint is an auth failure.
	if s.adminAPIKey == "" {
		writeError(w, http.StatusForbidden, "Admin endpoint is disabled")
		return
	}
	if r.Header.Get("X-Admin-Key") != s.adminAPIKey {
		writeError(w, http.StatusUnauthorized, "Invalid admin key")
		return
	}

	table := r.URL.Query().Get("table")
	if table == "" {
		writeError(w, http.StatusBadRequest, "table parameter is required")
		return
	}

	removed, err := s.admin.ClearByTable(r.Context(), table)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Clear failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, ClearResponse{
		CacheEnabled:   true,
		ClearType:      "table",
		Table:          table,
		EntriesRemoved: removed,
	})
}

func (s *Server) handleCacheHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.admin == nil {
		writeJSON(w, http.StatusOK, cache.Health{Status: "disabled"})
		return
	}

	writeJSON(w, http.StatusOK, s.admin.ProbeHealth(r.Context()))
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
	})
}

// Request/Response types

// QueryRequest represents a query request. "sql" and "query" are
// accepted interchangeably.
type QueryRequest struct {
	SQL   string `json:"sql"`
	Query string `json:"query"`
}

// QueryResponse represents a query response.
type QueryResponse struct {
	RequestID       string          `json:"request_id"`
	Columns         []string        `json:"columns"`
	ColumnTypes     []string        `json:"column_types,omitempty"`
	Rows            [][]interface{} `json:"rows"`
	RowCount        int             `json:"row_count"`
	Operation       string          `json:"operation"`
	Complexity      string          `json:"complexity"`
	Cached          bool            `json:"cached"`
	Stored          bool            `json:"stored"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
	TotalTimeMS     int64           `json:"total_time_ms"`
}

// DescribeResponse reports a table's schema.
type DescribeResponse struct {
	Table   string              `json:"table"`
	Columns []engine.ColumnInfo `json:"columns"`
}

// StatsResponse wraps cache statistics with the effective settings.
type StatsResponse struct {
	CacheEnabled   bool   `json:"cache_enabled"`
	CacheDirectory string `json:"cache_directory,omitempty"`
	ExpirySeconds  int64  `json:"expiry_seconds,omitempty"`
	cache.Stats
}

// ClearResponse reports a clear operation.
type ClearResponse struct {
	CacheEnabled   bool   `json:"cache_enabled"`
	ClearType      string `json:"clear_type"`
	Table          string `json:"table,omitempty"`
	EntriesRemoved int    `json:"entries_removed"`
}

// CacheDisabledResponse answers cache endpoints when caching is off.
type CacheDisabledResponse struct {
	CacheEnabled bool `json:"cache_enabled"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
