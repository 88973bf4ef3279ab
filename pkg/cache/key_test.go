package cache

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercases", "SELECT * FROM Sales", "select * from sales"},
		{"collapses whitespace", "select  *\n\tfrom   sales", "select * from sales"},
		{"strips line comments", "select * from sales -- trailing note", "select * from sales"},
		{"strips block comments", "select /* hint */ * from sales", "select * from sales"},
		{"multiline block comment", "select * /* a\nb\nc */ from sales", "select * from sales"},
		{"trims", "   select 1   ", "select 1"},
		{"empty", "", ""},
		{"comment only", "-- nothing here", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			if got != tt.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDeriveKey_EquivalentQueries(t *testing.T) {
	variants := []string{
		"SELECT * FROM sales",
		"select * from sales",
		"select  *  from\n\tsales",
		"select * from sales -- comment",
		"/* leading */ SELECT * FROM sales",
	}

	base := DeriveKey(variants[0])
	if len(base) != 64 {
		t.Fatalf("Expected 64 hex chars, got %d", len(base))
	}
	for _, q := range variants[1:] {
		if got := DeriveKey(q); got != base {
			t.Errorf("DeriveKey(%q) = %s, want %s", q, got, base)
		}
	}
}

func TestDeriveKey_DistinctQueries(t *testing.T) {
	a := DeriveKey("SELECT * FROM sales")
	b := DeriveKey("SELECT * FROM orders")
	if a == b {
		t.Error("Different queries produced the same key")
	}
}

func TestExtractTables(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			"single table",
			"SELECT * FROM sales",
			[]string{"sales"},
		},
		{
			"join",
			"SELECT * FROM sales JOIN customers ON sales.cid = customers.id",
			[]string{"sales", "customers"},
		},
		{
			"schema qualified",
			"SELECT * FROM warehouse.sales",
			[]string{"warehouse__sales"},
		},
		{
			"quoted identifiers",
			`SELECT * FROM "sales" JOIN ` + "`customers`" + ` ON 1=1`,
			[]string{"sales", "customers"},
		},
		{
			"duplicates collapse",
			"SELECT * FROM sales JOIN sales ON 1=1",
			[]string{"sales"},
		},
		{
			"case folds",
			"SELECT * FROM Sales",
			[]string{"sales"},
		},
		{
			"no tables",
			"SELECT 1 + 1",
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractTables(tt.input)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ExtractTables(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestExtractTables_PreservesOrder(t *testing.T) {
	got := ExtractTables("SELECT * FROM b JOIN a ON 1=1 JOIN c ON 1=1")
	want := []string{"b", "a", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected first-appearance order %v, got %v", want, got)
	}
}
