package ports

import (
	"context"

	"audiobridge/internal/domain"
)

type IngestRepository interface {
	Create(ctx context.Context, r domain.IngestRecord) error
	Update(ctx context.Context, r domain.IngestRecord) error
	Get(ctx context.Context, id string) (domain.IngestRecord, error)
	List(ctx context.Context, limit int) ([]domain.IngestRecord, error)
}

// ManifestCache holds uploaded manifests between inspection and ingest.
// Get returns domain.ErrNotFound for unknown or expired hashes.
type ManifestCache interface {
	Put(ctx context.Context, m domain.CachedManifest) error
	Get(ctx context.Context, hash domain.InfoHash) (domain.CachedManifest, error)
}
