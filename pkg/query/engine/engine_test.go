package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Config{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func seedSales(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.Exec(ctx, "CREATE TABLE sales (region VARCHAR NOT NULL, amount BIGINT)"); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}
	if _, err := e.Exec(ctx, "INSERT INTO sales VALUES ('north', 120), ('south', 80)"); err != nil {
		t.Fatalf("INSERT failed: %v", err)
	}
}

func TestEngine_QueryAllRows(t *testing.T) {
	e := newTestEngine(t)
	seedSales(t, e)

	res, err := e.Query(context.Background(), "SELECT region, amount FROM sales ORDER BY region")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.Duration() <= 0 {
		t.Error("Expected a positive query duration")
	}
	if cols := res.Columns(); len(cols) != 2 || cols[0] != "region" {
		t.Errorf("Unexpected columns: %v", cols)
	}
	if types := res.ColumnTypeNames(); len(types) != 2 || types[1] != "BIGINT" {
		t.Errorf("Unexpected column types: %v", types)
	}

	rows, err := res.AllRows()
	if err != nil {
		t.Fatalf("AllRows failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "north" || rows[0][1] != int64(120) {
		t.Errorf("Unexpected first row: %v", rows[0])
	}
	if res.RowCount() != 2 {
		t.Errorf("Expected RowCount 2 after draining, got %d", res.RowCount())
	}
}

func TestEngine_RowIteration(t *testing.T) {
	e := newTestEngine(t)
	seedSales(t, e)

	res, err := e.Query(context.Background(), "SELECT amount FROM sales ORDER BY amount")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	defer res.Close()

	var amounts []int64
	for res.Next() {
		var amount int64
		if err := res.Scan(&amount); err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		amounts = append(amounts, amount)
	}
	if len(amounts) != 2 || amounts[0] != 80 || amounts[1] != 120 {
		t.Errorf("Unexpected amounts: %v", amounts)
	}
	if res.RowCount() != 2 {
		t.Errorf("Expected RowCount 2, got %d", res.RowCount())
	}
}

func TestEngine_ListTablesAndDescribe(t *testing.T) {
	e := newTestEngine(t)
	seedSales(t, e)

	tables, err := e.ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables failed: %v", err)
	}
	if len(tables) != 1 || tables[0] != "sales" {
		t.Errorf("Expected [sales], got %v", tables)
	}

	cols, err := e.Describe(context.Background(), "sales")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if len(cols) != 2 {
		t.Fatalf("Expected 2 columns, got %d", len(cols))
	}
	if cols[0].Name != "region" || cols[0].Nullable {
		t.Errorf("Expected non-nullable region column, got %+v", cols[0])
	}
	if cols[1].Name != "amount" || !cols[1].Nullable {
		t.Errorf("Expected nullable amount column, got %+v", cols[1])
	}

	if _, err := e.Describe(context.Background(), "absent"); err == nil {
		t.Error("Expected Describe of an unknown table to fail")
	}
}

func TestEngine_InitSQLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "init.sql")
	script := "CREATE TABLE boot AS SELECT 1 AS id;"
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatalf("Failed to write init script: %v", err)
	}

	e, err := NewEngine(Config{InitSQLFile: path})
	if err != nil {
		t.Fatalf("NewEngine with init script failed: %v", err)
	}
	defer e.Close()

	tables, err := e.ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables failed: %v", err)
	}
	if len(tables) != 1 || tables[0] != "boot" {
		t.Errorf("Expected the init script's table, got %v", tables)
	}

	if _, err := NewEngine(Config{InitSQLFile: filepath.Join(t.TempDir(), "missing.sql")}); err == nil {
		t.Error("Expected a missing init script to fail startup")
	}
}
