package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"audiobridge/internal/audio"
	"audiobridge/internal/domain"
	"audiobridge/internal/domain/ports"
)

const defaultIngestTimeout = 2 * time.Hour

// IngestManifest fetches the audio files of a cached manifest from the
// swarm and uploads them under Prefix + infoHash.
type IngestManifest struct {
	Cache   ports.ManifestCache
	Fetcher ports.Fetcher
	Store   ports.ObjectStore
	Repo    ports.IngestRepository
	Scratch ports.ScratchSpace
	Events  ports.EventPublisher
	Prefix  string
	Timeout time.Duration
	Now     func() time.Time
	NewID   func() string
	Logger  *slog.Logger
}

type IngestManifestInput struct {
	InfoHash string
	Magnet   string
	// Files are manifest paths; empty selects every audio file.
	Files []string
}

type ingestPlan struct {
	cached domain.CachedManifest
	files  []domain.FileEntry
	magnet string
}

// Execute runs the whole ingest and returns the final record.
func (uc IngestManifest) Execute(ctx context.Context, in IngestManifestInput) (domain.IngestRecord, error) {
	run, plan, err := uc.prepare(ctx, in)
	if err != nil {
		return domain.IngestRecord{}, err
	}
	err = uc.run(ctx, run, plan)
	return run.rec, err
}

// Start validates the request, records it as pending and continues in the
// background. The returned record is the pending snapshot.
func (uc IngestManifest) Start(ctx context.Context, in IngestManifestInput) (domain.IngestRecord, error) {
	run, plan, err := uc.prepare(ctx, in)
	if err != nil {
		return domain.IngestRecord{}, err
	}
	snapshot := run.rec
	snapshot.Objects = append([]domain.StoredObject(nil), run.rec.Objects...)
	go func() {
		_ = uc.run(context.WithoutCancel(ctx), run, plan)
	}()
	return snapshot, nil
}

func (uc IngestManifest) prepare(ctx context.Context, in IngestManifestInput) (*ingestRun, ingestPlan, error) {
	hash, err := domain.ParseInfoHash(in.InfoHash)
	if err != nil {
		return nil, ingestPlan{}, err
	}
	cached, err := uc.Cache.Get(ctx, hash)
	if err != nil {
		return nil, ingestPlan{}, err
	}
	files, err := selectFiles(cached.Manifest, in.Files)
	if err != nil {
		return nil, ingestPlan{}, err
	}
	if err := uc.Scratch.CheckCapacity(); err != nil {
		return nil, ingestPlan{}, err
	}

	run := newIngestRun(uc.Repo, uc.Events, uc.Now, uc.NewID, uc.Logger, domain.SourceTorrent, cached.Manifest.Name)
	run.rec.InfoHash = hash.String()
	for _, f := range files {
		run.rec.TotalBytes += f.Length
	}
	if err := run.create(ctx); err != nil {
		return nil, ingestPlan{}, err
	}
	return run, ingestPlan{cached: cached, files: files, magnet: strings.TrimSpace(in.Magnet)}, nil
}

func (uc IngestManifest) run(ctx context.Context, run *ingestRun, plan ingestPlan) (err error) {
	ctx, span := run.startSpan(ctx, "usecase.IngestManifest")
	defer func() { endSpan(span, err) }()

	timeout := uc.Timeout
	if timeout <= 0 {
		timeout = defaultIngestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m := plan.cached.Manifest
	dir, err := uc.Scratch.CreateDir("ingest-" + m.ContentHash.String()[:8])
	if err != nil {
		return run.fail(ctx, err)
	}
	defer uc.Scratch.Cleanup(dir)

	if err := run.advance(ctx, domain.IngestFetching); err != nil {
		return run.fail(ctx, err)
	}
	fetched, err := uc.Fetcher.Fetch(ctx, ports.FetchRequest{
		InfoHash: m.ContentHash,
		Metainfo: plan.cached.Metainfo,
		Magnet:   plan.magnet,
		Trackers: m.AnnounceURIs,
		Files:    plan.files,
		Dir:      dir,
	})
	if err != nil {
		return run.fail(ctx, wrapFetch(err))
	}

	if err := run.advance(ctx, domain.IngestUploading); err != nil {
		return run.fail(ctx, err)
	}
	base := uc.Prefix + m.ContentHash.String() + "/"
	for _, f := range fetched {
		key := base + f.Entry.Path()
		n, err := uploadFile(ctx, uc.Store, f.LocalPath, key)
		if err != nil {
			return run.fail(ctx, fmt.Errorf("upload %s: %w", f.Entry.Path(), err))
		}
		run.stored(domain.StoredObject{Path: f.Entry.Path(), Key: key, Length: n})
	}
	return run.complete(ctx)
}

// selectFiles resolves requested paths against the manifest's audio files.
func selectFiles(m domain.Manifest, requested []string) ([]domain.FileEntry, error) {
	candidates := audio.Select(m)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: manifest has no audio files", domain.ErrInvalidInput)
	}
	if len(requested) == 0 {
		return candidates, nil
	}
	byPath := make(map[string]domain.FileEntry, len(candidates))
	for _, f := range candidates {
		byPath[f.Path()] = f
	}
	seen := make(map[string]struct{}, len(requested))
	out := make([]domain.FileEntry, 0, len(requested))
	for _, p := range requested {
		p = strings.TrimSpace(p)
		if _, dup := seen[p]; dup {
			continue
		}
		f, ok := byPath[p]
		if !ok {
			return nil, fmt.Errorf("%w: %q is not an audio file of this manifest", domain.ErrInvalidInput, p)
		}
		seen[p] = struct{}{}
		out = append(out, f)
	}
	return out, nil
}
