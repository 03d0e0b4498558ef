package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/registriq/internal/domain"
)

// TracingIndex wraps a domain.ForeignKeyIndex with OpenTelemetry tracing.
type TracingIndex struct {
	next   domain.ForeignKeyIndex
	tracer trace.Tracer
}

// Compile-time check: TracingIndex implements domain.ForeignKeyIndex.
var _ domain.ForeignKeyIndex = (*TracingIndex)(nil)

// NewTracingIndex creates a tracing decorator around the given index.
func NewTracingIndex(next domain.ForeignKeyIndex) *TracingIndex {
	return &TracingIndex{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (i *TracingIndex) Load(ctx context.Context, kind domain.Kind, name string, now time.Time) (domain.ForeignKeyEntry, error) {
	ctx, span := i.tracer.Start(ctx, "ForeignKeyIndex.Load",
		trace.WithAttributes(
			attribute.String("resource.kind", string(kind)),
			attribute.String("resource.name", name),
		),
	)
	defer span.End()

	entry, err := i.next.Load(ctx, kind, name, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return entry, err
}

func (i *TracingIndex) LoadBatch(ctx context.Context, kind domain.Kind, names []string, now time.Time) (map[string]domain.ForeignKeyEntry, error) {
	ctx, span := i.tracer.Start(ctx, "ForeignKeyIndex.LoadBatch",
		trace.WithAttributes(
			attribute.String("resource.kind", string(kind)),
			attribute.Int("lookup.names", len(names)),
		),
	)
	defer span.End()

	entries, err := i.next.LoadBatch(ctx, kind, names, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return entries, err
}
