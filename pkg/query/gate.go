// Package query classifies incoming SQL and routes it through the
// result cache and the execution engine.
package query

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/querydeck/querydeck/pkg/cache"
	"github.com/querydeck/querydeck/pkg/query/engine"
	"github.com/querydeck/querydeck/pkg/telemetry"
)

// Minimum raw query length eligible for caching. Shorter texts are
// probes and health checks, not worth a cache entry.
const minCacheableLen = 20

// OperationType is the leading SQL verb of a query.
type OperationType string

const (
	OpSelect  OperationType = "SELECT"
	OpWith    OperationType = "WITH"
	OpInsert  OperationType = "INSERT"
	OpUpdate  OperationType = "UPDATE"
	OpDelete  OperationType = "DELETE"
	OpCreate  OperationType = "CREATE"
	OpDrop    OperationType = "DROP"
	OpAlter   OperationType = "ALTER"
	OpUnknown OperationType = "OTHER"
)

// Complexity is a coarse cost estimate used for response metadata.
type Complexity string

const (
	ComplexityLow    Complexity = "LOW"
	ComplexityMedium Complexity = "MEDIUM"
	ComplexityHigh   Complexity = "HIGH"
)

// ErrNotReadOnly rejects statements that would mutate state.
var ErrNotReadOnly = errors.New("only read-only queries are allowed")

// Functions whose presence makes a result non-reproducible, so it must
// never be cached. Checked on the raw query text, case-insensitively.
var nonDeterministicFuncs = []string{
	"NOW()",
	"CURRENT_TIMESTAMP",
	"CURRENT_DATE",
	"CURRENT_TIME",
	"RANDOM()",
	"RAND()",
	"UUID()",
	"NEWID()",
}

// Outcome describes how a query was answered.
type Outcome struct {
	Result *cache.ResultSet

	Operation  OperationType
	Complexity Complexity

	// Cached reports whether the result came from the cache.
	Cached bool

	// Stored reports whether this execution's result was written to
	// the cache.
	Stored bool

	ExecutionTime time.Duration
	TotalTime     time.Duration
}

// Gate fronts the engine with read-only enforcement and result caching.
// A nil cache disables caching; every query then executes directly.
type Gate struct {
	engine *engine.Engine
	cache  cache.ResultCache
	log    *log.Logger
}

// NewGate creates a gate over the engine. cache may be nil.
func NewGate(eng *engine.Engine, rc cache.ResultCache, logger *log.Logger) *Gate {
	if logger == nil {
		logger = log.Default()
	}
	return &Gate{engine: eng, cache: rc, log: logger}
}

// CacheEnabled reports whether a result cache is attached.
func (g *Gate) CacheEnabled() bool { return g.cache != nil }

// Execute runs a query through the cache and engine. Non-read-only
// statements are rejected before touching the engine. Cache failures
// never fail the query.
func (g *Gate) Execute(ctx context.Context, sqlText string) (*Outcome, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpanFromContext(ctx, "query.execute")
	defer span.End()

	op := Classify(sqlText)
	out := &Outcome{
		Operation:  op,
		Complexity: EstimateComplexity(sqlText),
	}
	telemetry.SetSpanAttributes(ctx,
		attribute.String("query.operation", string(op)),
		attribute.String("query.complexity", string(out.Complexity)),
	)

	if op != OpSelect && op != OpWith {
		err := fmt.Errorf("%w: %s statements are rejected", ErrNotReadOnly, op)
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	if g.cache != nil {
		if rs, err := g.cache.Lookup(ctx, sqlText); err == nil {
			telemetry.AddSpanEvent(ctx, "cache_hit")
			out.Result = rs
			out.Cached = true
			out.TotalTime = time.Since(start)
			return out, nil
		}
	}

	execStart := time.Now()
	res, err := g.engine.Query(ctx, sqlText)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	rows, err := res.AllRows()
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to read result rows: %w", err)
	}
	out.ExecutionTime = time.Since(execStart)

	out.Result = &cache.ResultSet{
		Columns:     res.Columns(),
		ColumnTypes: res.ColumnTypeNames(),
		Rows:        rows,
	}

	if g.cache != nil && Cacheable(sqlText) {
		out.Stored = g.cache.Store(ctx, sqlText, out.Result)
	}

	out.TotalTime = time.Since(start)
	return out, nil
}

// Classify returns the leading SQL verb of a query.
func Classify(sqlText string) OperationType {
	trimmed := strings.TrimSpace(sqlText)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return OpUnknown
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT":
		return OpSelect
	case "WITH":
		return OpWith
	case "INSERT":
		return OpInsert
	case "UPDATE":
		return OpUpdate
	case "DELETE":
		return OpDelete
	case "CREATE":
		return OpCreate
	case "DROP":
		return OpDrop
	case "ALTER":
		return OpAlter
	default:
		return OpUnknown
	}
}

// Cacheable reports whether a query's result may be stored. The query
// must contain a SELECT, reference no non-deterministic functions, and
// be long enough to be worth an entry.
func Cacheable(sqlText string) bool {
	upper := strings.ToUpper(sqlText)
	if !strings.Contains(upper, "SELECT") {
		return false
	}
	for _, fn := range nonDeterministicFuncs {
		if strings.Contains(upper, fn) {
			return false
		}
	}
	return len(strings.TrimSpace(sqlText)) >= minCacheableLen
}

// EstimateComplexity gives a coarse estimate from the shape of the
// query text: joins and subqueries weigh more than aggregates.
func EstimateComplexity(sqlText string) Complexity {
	upper := strings.ToUpper(sqlText)

	score := 0
	score += 2 * strings.Count(upper, " JOIN ")
	score += 2 * strings.Count(upper, "(SELECT")
	score += strings.Count(upper, "GROUP BY")
	score += strings.Count(upper, "ORDER BY")
	score += strings.Count(upper, "DISTINCT")
	for _, agg := range []string{"SUM(", "AVG(", "COUNT(", "MIN(", "MAX("} {
		score += strings.Count(upper, agg)
	}

	switch {
	case score >= 5:
		return ComplexityHigh
	case score >= 2:
		return ComplexityMedium
	default:
		return ComplexityLow
	}
}
