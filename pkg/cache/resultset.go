package cache

// ResultSet is a fully materialized tabular query result. Every cache
// backend serializes and restores this shape; the query gate builds one
// from the engine's row iterator before handing it to the cache.
type ResultSet struct {
	Columns     []string `json:"columns"`
	ColumnTypes []string `json:"column_types,omitempty"`
	Rows        [][]any  `json:"rows"`

	// FromCache marks a result restored by a cache hit. Telemetry-only;
	// the data itself is identical either way.
	FromCache bool `json:"-"`
}

// RowCount returns the number of rows.
func (rs *ResultSet) RowCount() int {
	return len(rs.Rows)
}

// ColumnCount returns the number of columns.
func (rs *ResultSet) ColumnCount() int {
	return len(rs.Columns)
}
