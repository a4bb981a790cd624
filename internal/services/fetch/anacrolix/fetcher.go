// Package anacrolix fetches selected files of a manifest from the swarm.
package anacrolix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"

	"audiobridge/internal/domain"
	"audiobridge/internal/domain/ports"
)

const addTimeout = 30 * time.Second

type Config struct {
	DataDir    string
	ListenPort int
	NoUpload   bool
}

// torrentClient is the part of *torrent.Client the fetcher drives.
type torrentClient interface {
	AddTorrentOpt(opts torrent.AddTorrentOpts) (*torrent.Torrent, bool)
	Close() []error
}

// Fetcher drives one shared torrent client. Piece storage for a torrent lives
// under dataDir/<infohash> for as long as any fetch holds it; the selected
// files are copied out to each request directory through readers.
type Fetcher struct {
	client  torrentClient
	dataDir string
	logger  *slog.Logger

	mu     sync.Mutex
	active map[metainfo.Hash]*activeTorrent
}

// activeTorrent is shared by every fetch of one info hash. ready closes once
// the add finished; closed closes once storage has been torn down.
type activeTorrent struct {
	hash   metainfo.Hash
	dir    string
	refs   int
	ready  chan struct{}
	closed chan struct{}
	once   sync.Once

	t      *torrent.Torrent
	pieces storage.ClientImplCloser
	err    error
}

func New(cfg Config, logger *slog.Logger) (*Fetcher, error) {
	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	}
	if cfg.ListenPort > 0 {
		clientConfig.ListenPort = cfg.ListenPort
	}
	clientConfig.NoUpload = cfg.NoUpload
	clientConfig.Seed = false

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}
	var pieceRoot string
	if cfg.DataDir != "" {
		pieceRoot = filepath.Join(cfg.DataDir, "pieces")
	}
	return NewWithClient(client, pieceRoot, logger), nil
}

// NewWithClient wraps an existing client. Piece storage goes under dataDir.
func NewWithClient(client *torrent.Client, dataDir string, logger *slog.Logger) *Fetcher {
	f := newFetcher(nil, dataDir, logger)
	if client != nil {
		f.client = client
	}
	return f
}

func newFetcher(client torrentClient, dataDir string, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if dataDir == "" {
		dataDir = filepath.Join(os.TempDir(), "audiobridge-pieces")
	}
	return &Fetcher{client: client, dataDir: dataDir, logger: logger, active: make(map[metainfo.Hash]*activeTorrent)}
}

func (f *Fetcher) Close() error {
	if f.client == nil {
		return nil
	}
	if errs := f.client.Close(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Fetch downloads req.Files into req.Dir, preserving their manifest paths.
func (f *Fetcher) Fetch(ctx context.Context, req ports.FetchRequest) ([]ports.FetchedFile, error) {
	if f.client == nil {
		return nil, errors.New("torrent client not configured")
	}
	if len(req.Files) == 0 {
		return nil, nil
	}
	if req.Dir == "" {
		return nil, fmt.Errorf("%w: fetch directory is required", domain.ErrInvalidInput)
	}
	opts, trackers, err := addOptions(req)
	if err != nil {
		return nil, err
	}
	at, err := f.acquire(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer f.release(at)
	t := at.t
	if len(trackers) > 0 {
		t.AddTrackers([][]string{trackers})
	}

	select {
	case <-t.GotInfo():
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for metadata: %w", ctx.Err())
	}

	byPath := make(map[string]*torrent.File, len(t.Files()))
	for _, tf := range t.Files() {
		byPath[tf.DisplayPath()] = tf
	}

	out := make([]ports.FetchedFile, 0, len(req.Files))
	for _, entry := range req.Files {
		tf, ok := byPath[entry.Path()]
		if !ok {
			return out, fmt.Errorf("%w: %s not in torrent", domain.ErrNotFound, entry.Path())
		}
		local, err := localPath(req.Dir, entry.PathSegments)
		if err != nil {
			return out, err
		}
		start := time.Now()
		if err := copyFile(ctx, tf, local); err != nil {
			return out, fmt.Errorf("fetch %s: %w", entry.Path(), err)
		}
		f.logger.Info("fetched file",
			slog.String("infoHash", t.InfoHash().HexString()),
			slog.String("path", entry.Path()),
			slog.Int64("bytes", tf.Length()),
			slog.Duration("elapsed", time.Since(start)),
		)
		out = append(out, ports.FetchedFile{Entry: entry, LocalPath: local})
	}
	return out, nil
}

// acquire takes a reference on the torrent for opts, starting the add when
// no fetch holds it. The add runs outside f.mu; waiting for it is bounded by
// addTimeout. A torrent whose last reference is being torn down is waited
// out so its piece directory is never shared with the next add.
func (f *Fetcher) acquire(ctx context.Context, opts torrent.AddTorrentOpts) (*activeTorrent, error) {
	var at *activeTorrent
	for at == nil {
		f.mu.Lock()
		cur, ok := f.active[opts.InfoHash]
		switch {
		case ok && cur.refs == 0:
			f.mu.Unlock()
			select {
			case <-cur.closed:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		case ok:
			cur.refs++
			at = cur
			f.mu.Unlock()
		default:
			at = &activeTorrent{
				hash:   opts.InfoHash,
				dir:    filepath.Join(f.dataDir, opts.InfoHash.HexString()),
				refs:   1,
				ready:  make(chan struct{}),
				closed: make(chan struct{}),
			}
			f.active[opts.InfoHash] = at
			f.mu.Unlock()
			go f.add(at, opts)
		}
	}

	timer := time.NewTimer(addTimeout)
	defer timer.Stop()
	select {
	case <-at.ready:
		if at.err != nil {
			f.release(at)
			return nil, at.err
		}
		return at, nil
	case <-timer.C:
		f.release(at)
		return nil, errors.New("torrent client busy, try again later")
	case <-ctx.Done():
		f.release(at)
		return nil, ctx.Err()
	}
}

func (f *Fetcher) add(at *activeTorrent, opts torrent.AddTorrentOpts) {
	if err := os.MkdirAll(at.dir, 0o755); err != nil {
		at.err = fmt.Errorf("piece storage: %w", err)
	} else {
		at.pieces = storage.NewFile(at.dir)
		opts.Storage = at.pieces
		at.t, _ = f.client.AddTorrentOpt(opts)
	}
	close(at.ready)

	f.mu.Lock()
	idle := at.refs == 0
	f.mu.Unlock()
	if idle {
		f.teardown(at)
	}
}

// release drops a reference. The last one tears the torrent down, or leaves
// that to add when the add is still running.
func (f *Fetcher) release(at *activeTorrent) {
	f.mu.Lock()
	at.refs--
	idle := at.refs == 0
	f.mu.Unlock()
	if !idle {
		return
	}
	select {
	case <-at.ready:
		f.teardown(at)
	default:
	}
}

// teardown drops the torrent, closes and removes its piece storage and
// forgets it.
func (f *Fetcher) teardown(at *activeTorrent) {
	at.once.Do(func() {
		if at.t != nil {
			at.t.Drop()
		}
		if at.pieces != nil {
			if err := at.pieces.Close(); err != nil {
				f.logger.Debug("close piece storage", slog.String("infoHash", at.hash.HexString()), slog.String("error", err.Error()))
			}
		}
		if err := os.RemoveAll(at.dir); err != nil {
			f.logger.Warn("remove piece storage", slog.String("dir", at.dir), slog.String("error", err.Error()))
		}
		f.mu.Lock()
		if f.active[at.hash] == at {
			delete(f.active, at.hash)
		}
		f.mu.Unlock()
		close(at.closed)
	})
}

// addOptions derives the add call from the request: raw metainfo first,
// then an explicit info hash, then a magnet link.
func addOptions(req ports.FetchRequest) (torrent.AddTorrentOpts, []string, error) {
	trackers := append([]string(nil), req.Trackers...)
	var opts torrent.AddTorrentOpts
	switch {
	case len(req.Metainfo) > 0:
		mi, err := metainfo.Load(bytes.NewReader(req.Metainfo))
		if err != nil {
			return opts, nil, fmt.Errorf("%w: %w", domain.ErrDecode, err)
		}
		opts.InfoHash = mi.HashInfoBytes()
		opts.InfoBytes = mi.InfoBytes
		if !req.InfoHash.IsZero() && opts.InfoHash != metainfo.Hash(req.InfoHash) {
			return opts, nil, fmt.Errorf("%w: info hash mismatch", domain.ErrInvalidInput)
		}
	case !req.InfoHash.IsZero():
		opts.InfoHash = metainfo.Hash(req.InfoHash)
	case req.Magnet != "":
		m, err := metainfo.ParseMagnetUri(req.Magnet)
		if err != nil {
			return opts, nil, fmt.Errorf("%w: magnet: %w", domain.ErrInvalidInput, err)
		}
		opts.InfoHash = m.InfoHash
		trackers = append(trackers, m.Trackers...)
	default:
		return opts, nil, fmt.Errorf("%w: no torrent source", domain.ErrInvalidInput)
	}
	return opts, trackers, nil
}

// localPath maps manifest path segments under dir, refusing any segment
// that would escape it.
func localPath(dir string, segments []string) (string, error) {
	if len(segments) == 0 {
		return "", fmt.Errorf("%w: empty file path", domain.ErrInvalidInput)
	}
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, dir)
	for _, s := range segments {
		if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
			return "", fmt.Errorf("%w: unsafe path segment %q", domain.ErrInvalidInput, s)
		}
		parts = append(parts, s)
	}
	return filepath.Join(parts...), nil
}

func copyFile(ctx context.Context, tf *torrent.File, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	r := tf.NewReader()
	defer r.Close()
	r.SetContext(ctx)
	r.SetReadahead(4 << 20)

	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n != tf.Length() {
		return fmt.Errorf("short read: %d of %d bytes", n, tf.Length())
	}
	return nil
}
