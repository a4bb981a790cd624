// Package memory holds in-process repositories used when no database is
// configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"audiobridge/internal/domain"
)

const defaultListLimit = 100

type IngestRepository struct {
	mu      sync.RWMutex
	records map[string]domain.IngestRecord
}

func NewIngestRepository() *IngestRepository {
	return &IngestRepository{records: make(map[string]domain.IngestRecord)}
}

func (r *IngestRepository) Create(ctx context.Context, rec domain.IngestRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ID]; ok {
		return fmt.Errorf("%w: ingest %s", domain.ErrAlreadyExists, rec.ID)
	}
	r.records[rec.ID] = clone(rec)
	return nil
}

func (r *IngestRepository) Update(ctx context.Context, rec domain.IngestRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.records[rec.ID]
	if !ok {
		return fmt.Errorf("%w: ingest %s", domain.ErrNotFound, rec.ID)
	}
	rec.CreatedAt = old.CreatedAt
	r.records[rec.ID] = clone(rec)
	return nil
}

func (r *IngestRepository) Get(ctx context.Context, id string) (domain.IngestRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return domain.IngestRecord{}, fmt.Errorf("%w: ingest %s", domain.ErrNotFound, id)
	}
	return clone(rec), nil
}

// List returns the newest records first.
func (r *IngestRepository) List(ctx context.Context, limit int) ([]domain.IngestRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	r.mu.RLock()
	out := make([]domain.IngestRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, clone(rec))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(rec domain.IngestRecord) domain.IngestRecord {
	rec.Objects = append([]domain.StoredObject(nil), rec.Objects...)
	return rec
}
