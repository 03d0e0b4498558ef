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

const tracerName = "github.com/neomorfeo/registriq/internal/adapter/otel"

// TracingStore wraps a domain.ResourceStore with OpenTelemetry tracing.
// Each method creates a span with semantic attributes and records errors.
type TracingStore struct {
	next   domain.ResourceStore
	tracer trace.Tracer
}

// Compile-time check: TracingStore implements domain.ResourceStore.
var _ domain.ResourceStore = (*TracingStore)(nil)

// NewTracingStore creates a tracing decorator around the given store.
func NewTracingStore(next domain.ResourceStore) *TracingStore {
	return &TracingStore{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (s *TracingStore) ReadCurrent(ctx context.Context, repoID string) (domain.Resource, error) {
	ctx, span := s.tracer.Start(ctx, "ResourceStore.ReadCurrent",
		trace.WithAttributes(attribute.String("resource.repo_id", repoID)),
	)
	defer span.End()

	res, err := s.next.ReadCurrent(ctx, repoID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *TracingStore) ReadAt(ctx context.Context, repoID string, at time.Time) (domain.Resource, error) {
	ctx, span := s.tracer.Start(ctx, "ResourceStore.ReadAt",
		trace.WithAttributes(
			attribute.String("resource.repo_id", repoID),
			attribute.String("resource.read_at", at.Format(time.RFC3339Nano)),
		),
	)
	defer span.End()

	res, err := s.next.ReadAt(ctx, repoID, at)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *TracingStore) Commit(ctx context.Context, ws domain.WriteSet) error {
	ctx, span := s.tracer.Start(ctx, "ResourceStore.Commit",
		trace.WithAttributes(
			attribute.String("resource.repo_id", ws.Resource.RepoID),
			attribute.String("history.type", string(ws.History.Type)),
			attribute.Int64("resource.expected_revision", ws.ExpectedRevision),
			attribute.Int("commit.billing_events", len(ws.BillingEvents)),
			attribute.Int("commit.poll_messages", len(ws.PollMessages)),
		),
	)
	defer span.End()

	err := s.next.Commit(ctx, ws)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
