package cache

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/querydeck/querydeck/pkg/telemetry"
)

// Instrumented wraps a ResultCache with OpenTelemetry spans around each
// operation. Tracing is a cross-cutting concern layered over the facade,
// not woven into it; the wrapped cache behaves identically.
type Instrumented struct {
	next   ResultCache
	tracer trace.Tracer
}

// NewInstrumented wraps a cache with span instrumentation.
func NewInstrumented(next ResultCache) *Instrumented {
	return &Instrumented{
		next:   next,
		tracer: telemetry.GlobalTracer("querydeck/cache"),
	}
}

// Lookup records a cache.lookup span with the key, outcome, and timing.
func (i *Instrumented) Lookup(ctx context.Context, query string) (*ResultSet, error) {
	ctx, span := i.tracer.Start(ctx, "cache.lookup")
	defer span.End()

	span.SetAttributes(attribute.String("cache.query_hash", DeriveKey(query)))

	start := time.Now()
	rs, err := i.next.Lookup(ctx, query)
	span.SetAttributes(
		attribute.Bool("cache.hit", err == nil),
		attribute.Int64("cache.lookup_time_ms", time.Since(start).Milliseconds()),
	)
	if err == nil {
		span.SetAttributes(
			attribute.Int("cache.rows_loaded", rs.RowCount()),
			attribute.Int("cache.columns_loaded", rs.ColumnCount()),
		)
	} else if !errors.Is(err, ErrMiss) {
		span.RecordError(err)
	}
	return rs, err
}

// Store records a cache.store span with the key, payload shape, and
// outcome.
func (i *Instrumented) Store(ctx context.Context, query string, rs *ResultSet) bool {
	ctx, span := i.tracer.Start(ctx, "cache.store")
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.query_hash", DeriveKey(query)),
		attribute.Int("cache.rows_to_store", rs.RowCount()),
		attribute.Int("cache.columns_to_store", rs.ColumnCount()),
	)

	start := time.Now()
	ok := i.next.Store(ctx, query, rs)
	span.SetAttributes(
		attribute.Bool("cache.store_success", ok),
		attribute.Int64("cache.store_time_ms", time.Since(start).Milliseconds()),
	)
	return ok
}
