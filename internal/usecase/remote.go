package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"audiobridge/internal/audio"
	"audiobridge/internal/domain"
	"audiobridge/internal/domain/ports"
)

var errRemoteNotConfigured = fmt.Errorf("%w: remote endpoint is not configured", domain.ErrInvalidInput)

type RemoteListing struct {
	Path       string              `json:"path"`
	Files      []domain.RemoteFile `json:"files"`
	Count      int                 `json:"count"`
	TotalBytes int64               `json:"totalBytes"`
}

// ListRemote lists the audio files in one directory of the configured
// remote endpoint.
type ListRemote struct {
	NewClient func() ports.RemoteTransfer
	Endpoint  domain.RemoteEndpoint
}

func (uc ListRemote) Execute(ctx context.Context, dir string) (RemoteListing, error) {
	if strings.TrimSpace(uc.Endpoint.Host) == "" {
		return RemoteListing{}, errRemoteNotConfigured
	}
	if dir = strings.TrimSpace(dir); dir == "" {
		dir = "/"
	}
	client := uc.NewClient()
	defer client.Disconnect()
	if err := client.Connect(ctx, uc.Endpoint); err != nil {
		return RemoteListing{}, err
	}

	files, err := client.List(ctx, dir)
	if err != nil {
		return RemoteListing{}, err
	}
	out := RemoteListing{Path: dir, Files: make([]domain.RemoteFile, 0, len(files))}
	for _, f := range files {
		if !audio.IsAudio(f.Name) {
			continue
		}
		out.Files = append(out.Files, f)
		out.TotalBytes += f.Size
	}
	out.Count = len(out.Files)
	return out, nil
}

// ImportRemote downloads remote audio files and uploads each to
// Prefix + "ftp/" + base name.
type ImportRemote struct {
	NewClient func() ports.RemoteTransfer
	Endpoint  domain.RemoteEndpoint
	Store     ports.ObjectStore
	Repo      ports.IngestRepository
	Scratch   ports.ScratchSpace
	Events    ports.EventPublisher
	Prefix    string
	Now       func() time.Time
	NewID     func() string
	Logger    *slog.Logger
}

func (uc ImportRemote) Execute(ctx context.Context, paths []string) (domain.IngestRecord, error) {
	if strings.TrimSpace(uc.Endpoint.Host) == "" {
		return domain.IngestRecord{}, errRemoteNotConfigured
	}
	paths, err := cleanRemotePaths(paths)
	if err != nil {
		return domain.IngestRecord{}, err
	}
	if err := uc.Scratch.CheckCapacity(); err != nil {
		return domain.IngestRecord{}, err
	}

	name := path.Base(paths[0])
	if len(paths) > 1 {
		name = fmt.Sprintf("%d files from %s", len(paths), uc.Endpoint.Host)
	}
	run := newIngestRun(uc.Repo, uc.Events, uc.Now, uc.NewID, uc.Logger, domain.SourceFTP, name)
	if err := run.create(ctx); err != nil {
		return domain.IngestRecord{}, err
	}

	err = uc.transfer(ctx, run, paths)
	return run.rec, err
}

func (uc ImportRemote) transfer(ctx context.Context, run *ingestRun, paths []string) (err error) {
	ctx, span := run.startSpan(ctx, "usecase.ImportRemote")
	defer func() { endSpan(span, err) }()

	dir, err := uc.Scratch.CreateDir("ftp-import")
	if err != nil {
		return run.fail(ctx, err)
	}
	defer uc.Scratch.Cleanup(dir)

	client := uc.NewClient()
	defer client.Disconnect()
	if err := client.Connect(ctx, uc.Endpoint); err != nil {
		return run.fail(ctx, err)
	}

	if err := run.advance(ctx, domain.IngestFetching); err != nil {
		return run.fail(ctx, err)
	}
	locals := make([]string, len(paths))
	for i, p := range paths {
		local := filepath.Join(dir, fmt.Sprintf("%03d-%s", i, path.Base(p)))
		if err := download(ctx, client, p, local); err != nil {
			return run.fail(ctx, err)
		}
		locals[i] = local
	}

	if err := run.advance(ctx, domain.IngestUploading); err != nil {
		return run.fail(ctx, err)
	}
	for i, p := range paths {
		key := uc.Prefix + "ftp/" + path.Base(p)
		n, err := uploadFile(ctx, uc.Store, locals[i], key)
		if err != nil {
			return run.fail(ctx, fmt.Errorf("upload %s: %w", p, err))
		}
		run.rec.TotalBytes += n
		run.stored(domain.StoredObject{Path: p, Key: key, Length: n})
	}
	return run.complete(ctx)
}

// download writes one remote file to local and discards the partial file
// when the transfer fails.
func download(ctx context.Context, client ports.RemoteTransfer, remote, local string) error {
	f, err := os.Create(local)
	if err != nil {
		return err
	}
	err = client.Download(ctx, remote, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: %s: %w", domain.ErrDownload, remote, cerr)
	}
	if err != nil {
		_ = os.Remove(local)
		if !errors.Is(err, domain.ErrDownload) {
			err = fmt.Errorf("%w: %s: %w", domain.ErrDownload, remote, err)
		}
		return err
	}
	return nil
}

func cleanRemotePaths(paths []string) ([]string, error) {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		p = path.Clean(p)
		if !audio.IsAudio(p) {
			return nil, fmt.Errorf("%w: %q is not an audio file", domain.ErrInvalidInput, p)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no files requested", domain.ErrInvalidInput)
	}
	return out, nil
}
