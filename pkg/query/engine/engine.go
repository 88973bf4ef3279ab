// Package engine executes analytical SQL against DuckDB.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

// Config configures the engine.
type Config struct {
	// Path is the DuckDB database file; empty means in-memory.
	Path string

	// InitSQLFile is an optional SQL script executed once at startup
	// (attachments, extensions, views).
	InitSQLFile string

	// Threads caps DuckDB worker threads; 0 means one per CPU.
	Threads int
}

// Engine executes SQL queries using DuckDB.
type Engine struct {
	db      *sql.DB
	threads int
}

// NewEngine opens the database and runs any configured init script.
func NewEngine(cfg Config) (*Engine, error) {
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DuckDB: %w", err)
	}

	threads := cfg.Threads
	if threads == 0 {
		threads = runtime.NumCPU()
	}
	e := &Engine{db: db, threads: threads}
	e.db.Exec(fmt.Sprintf("SET threads=%d", threads))

	if cfg.InitSQLFile != "" {
		script, err := os.ReadFile(cfg.InitSQLFile)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to read init SQL file: %w", err)
		}
		if _, err := db.Exec(string(script)); err != nil {
			db.Close()
			return nil, fmt.Errorf("init SQL failed: %w", err)
		}
	}

	return e, nil
}

// Close closes the engine.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Query executes a SQL query and returns results.
func (e *Engine) Query(ctx context.Context, sqlText string, args ...interface{}) (*Result, error) {
	start := time.Now()

	rows, err := e.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	result := &Result{
		rows:     rows,
		duration: time.Since(start),
	}

	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	result.columns = cols

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}
	result.typeNames = make([]string, len(colTypes))
	for i, ct := range colTypes {
		result.typeNames[i] = ct.DatabaseTypeName()
	}

	return result, nil
}

// Exec executes a SQL statement.
func (e *Engine) Exec(ctx context.Context, sqlText string, args ...interface{}) (sql.Result, error) {
	return e.db.ExecContext(ctx, sqlText, args...)
}

// ListTables lists tables visible in the main schema.
func (e *Engine) ListTables(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryContext(ctx,
		"SELECT table_name FROM information_schema.tables WHERE table_schema = 'main' ORDER BY table_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Describe returns the schema of a table.
func (e *Engine) Describe(ctx context.Context, table string) ([]ColumnInfo, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf("DESCRIBE %s", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []ColumnInfo
	for rows.Next() {
		var col ColumnInfo
		var isNull, key, defaultVal, extra sql.NullString
		if err := rows.Scan(&col.Name, &col.Type, &isNull, &key, &defaultVal, &extra); err != nil {
			return nil, err
		}
		col.Nullable = isNull.String == "YES"
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// ColumnInfo describes a column.
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Result represents query results.
type Result struct {
	rows      *sql.Rows
	columns   []string
	typeNames []string
	duration  time.Duration
	rowCount  int64
}

// Columns returns column names.
func (r *Result) Columns() []string {
	return r.columns
}

// ColumnTypeNames returns DuckDB type names per column.
func (r *Result) ColumnTypeNames() []string {
	return r.typeNames
}

// Duration returns query duration.
func (r *Result) Duration() time.Duration {
	return r.duration
}

// Next advances to the next row.
func (r *Result) Next() bool {
	if r.rows.Next() {
		r.rowCount++
		return true
	}
	return false
}

// Scan scans the current row.
func (r *Result) Scan(dest ...interface{}) error {
	return r.rows.Scan(dest...)
}

// Close closes the result set.
func (r *Result) Close() error {
	return r.rows.Close()
}

// RowCount returns rows scanned so far.
func (r *Result) RowCount() int64 {
	return r.rowCount
}

// AllRows drains the result into ordered rows and closes it. Column
// order follows Columns().
func (r *Result) AllRows() ([][]interface{}, error) {
	defer r.Close()

	var out [][]interface{}
	for r.Next() {
		values := make([]interface{}, len(r.columns))
		valuePtrs := make([]interface{}, len(r.columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := r.Scan(valuePtrs...); err != nil {
			return nil, err
		}
		out = append(out, values)
	}
	return out, r.rows.Err()
}
