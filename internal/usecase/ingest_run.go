package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"audiobridge/internal/audio"
	"audiobridge/internal/domain"
	"audiobridge/internal/domain/ports"
	"audiobridge/internal/metrics"
	"audiobridge/internal/telemetry"
)

// ingestRun carries one ingest record through its status transitions and
// mirrors every change to the repository and event stream.
type ingestRun struct {
	repo   ports.IngestRepository
	events ports.EventPublisher
	now    func() time.Time
	logger *slog.Logger
	rec    domain.IngestRecord
}

func newIngestRun(repo ports.IngestRepository, events ports.EventPublisher, now func() time.Time, newID func() string, logger *slog.Logger, source domain.IngestSource, name string) *ingestRun {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	if logger == nil {
		logger = slog.Default()
	}
	ts := now().UTC()
	return &ingestRun{
		repo:   repo,
		events: events,
		now:    now,
		logger: logger,
		rec: domain.IngestRecord{
			ID:        newID(),
			Source:    source,
			Name:      name,
			Status:    domain.IngestPending,
			Objects:   []domain.StoredObject{},
			CreatedAt: ts,
			UpdatedAt: ts,
		},
	}
}

func (r *ingestRun) create(ctx context.Context) error {
	if err := r.repo.Create(ctx, r.rec); err != nil {
		return wrapRepo(err)
	}
	r.publish(domain.IngestEvent{Type: domain.EventIngestStarted, IngestID: r.rec.ID, Bytes: r.rec.TotalBytes})
	r.logger.Info("ingest started",
		slog.String("ingestId", r.rec.ID),
		slog.String("source", string(r.rec.Source)),
		slog.String("name", r.rec.Name),
	)
	return nil
}

func (r *ingestRun) advance(ctx context.Context, to domain.IngestStatus) error {
	if !domain.CanTransitionIngest(r.rec.Status, to) {
		return fmt.Errorf("%w: ingest %s -> %s", domain.ErrInvalidTransition, r.rec.Status, to)
	}
	r.rec.Status = to
	r.rec.UpdatedAt = r.now().UTC()
	if err := r.repo.Update(ctx, r.rec); err != nil {
		return wrapRepo(err)
	}
	return nil
}

func (r *ingestRun) stored(obj domain.StoredObject) {
	r.rec.Objects = append(r.rec.Objects, obj)
	metrics.IngestedBytes.WithLabelValues(string(r.rec.Source)).Add(float64(obj.Length))
	r.publish(domain.IngestEvent{
		Type:     domain.EventIngestFile,
		IngestID: r.rec.ID,
		File:     obj.Path,
		Key:      obj.Key,
		Bytes:    obj.Length,
	})
}

func (r *ingestRun) complete(ctx context.Context) error {
	if err := r.advance(ctx, domain.IngestCompleted); err != nil {
		return r.fail(ctx, err)
	}
	metrics.IngestsTotal.WithLabelValues(string(r.rec.Source), string(domain.IngestCompleted)).Inc()
	r.publish(domain.IngestEvent{Type: domain.EventIngestCompleted, IngestID: r.rec.ID, Bytes: r.rec.TotalBytes})
	r.logger.Info("ingest completed",
		slog.String("ingestId", r.rec.ID),
		slog.Int("objects", len(r.rec.Objects)),
	)
	return nil
}

// fail records cause on the ingest and returns it. The record update runs
// even when ctx is already done.
func (r *ingestRun) fail(ctx context.Context, cause error) error {
	r.rec.Status = domain.IngestFailed
	r.rec.Error = cause.Error()
	r.rec.UpdatedAt = r.now().UTC()
	if err := r.repo.Update(context.WithoutCancel(ctx), r.rec); err != nil {
		r.logger.Warn("ingest: record failure",
			slog.String("ingestId", r.rec.ID),
			slog.String("error", err.Error()),
		)
	}
	metrics.IngestsTotal.WithLabelValues(string(r.rec.Source), string(domain.IngestFailed)).Inc()
	r.publish(domain.IngestEvent{Type: domain.EventIngestFailed, IngestID: r.rec.ID, Error: r.rec.Error})
	r.logger.Warn("ingest failed",
		slog.String("ingestId", r.rec.ID),
		slog.String("error", r.rec.Error),
	)
	return cause
}

func (r *ingestRun) publish(ev domain.IngestEvent) {
	if r.events != nil {
		r.events.Publish(ev)
	}
}

// uploadFile copies a local file to key with the audio media type.
func uploadFile(ctx context.Context, store ports.ObjectStore, localPath, key string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if err := store.Put(ctx, key, f, info.Size(), audio.MediaType(key)); err != nil {
		return 0, wrapStore(err)
	}
	return info.Size(), nil
}

// startSpan opens the tracing span covering one ingest run.
func (r *ingestRun) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return telemetry.Start(ctx, name, trace.WithAttributes(
		attribute.String("ingest.id", r.rec.ID),
		attribute.String("ingest.source", string(r.rec.Source)),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
