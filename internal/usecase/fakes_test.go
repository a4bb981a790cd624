package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"audiobridge/internal/domain"
	"audiobridge/internal/domain/ports"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bstr(s string) string { return fmt.Sprintf("%d:%s", len(s), s) }

func fileDict(length int, segments ...string) string {
	var path strings.Builder
	for _, s := range segments {
		path.WriteString(bstr(s))
	}
	return "d" + bstr("length") + fmt.Sprintf("i%de", length) + bstr("path") + "l" + path.String() + "ee"
}

// albumTorrent is a three-file manifest: two audio files and a cover image.
func albumTorrent() []byte {
	files := fileDict(5, "a.flac") + fileDict(3, "cover.jpg") + fileDict(4, "disc2", "b.mp3")
	info := "d" + bstr("files") + "l" + files + "e" +
		bstr("name") + bstr("album") +
		bstr("piece length") + "i16384e" +
		bstr("pieces") + bstr("") + "e"
	return []byte("d" + bstr("announce") + bstr("udp://tracker.example:80") + bstr("info") + info + "e")
}

type fakeFetcher struct {
	mu   sync.Mutex
	reqs []ports.FetchRequest
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, req ports.FetchRequest) ([]ports.FetchedFile, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]ports.FetchedFile, 0, len(req.Files))
	for _, e := range req.Files {
		local := filepath.Join(append([]string{req.Dir}, e.PathSegments...)...)
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(local, bytes.Repeat([]byte("x"), int(e.Length)), 0o644); err != nil {
			return nil, err
		}
		out = append(out, ports.FetchedFile{Entry: e, LocalPath: local})
	}
	return out, nil
}

type fakeScratch struct {
	root    string
	full    bool
	mu      sync.Mutex
	created []string
	cleaned []string
}

func newScratch(t *testing.T) *fakeScratch {
	return &fakeScratch{root: t.TempDir()}
}

func (s *fakeScratch) cleanedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cleaned)
}

func (s *fakeScratch) CheckCapacity() error {
	if s.full {
		return fmt.Errorf("%w: test", domain.ErrStorageFull)
	}
	return nil
}

func (s *fakeScratch) CreateDir(prefix string) (string, error) {
	dir, err := os.MkdirTemp(s.root, prefix+"-")
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.created = append(s.created, dir)
	s.mu.Unlock()
	return dir, nil
}

func (s *fakeScratch) Cleanup(dir string) {
	s.mu.Lock()
	s.cleaned = append(s.cleaned, dir)
	s.mu.Unlock()
	_ = os.RemoveAll(dir)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.IngestEvent
}

func (r *recordingEvents) Publish(ev domain.IngestEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEvents) types() []domain.IngestEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.IngestEventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeRemote struct {
	files       map[string]string
	listing     []domain.RemoteFile
	connectErr  error
	failAfter   map[string]int
	connected   bool
	disconnects int
	partials    []string
}

func (f *fakeRemote) Connect(ctx context.Context, ep domain.RemoteEndpoint) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeRemote) List(ctx context.Context, remotePath string) ([]domain.RemoteFile, error) {
	return f.listing, nil
}

func (f *fakeRemote) Download(ctx context.Context, remotePath string, sink io.Writer) error {
	body, ok := f.files[remotePath]
	if !ok {
		return fmt.Errorf("%w: %s: %w", domain.ErrDownload, remotePath, domain.ErrNotFound)
	}
	if n, fail := f.failAfter[remotePath]; fail {
		_, _ = io.WriteString(sink, body[:n])
		if file, ok := sink.(*os.File); ok {
			f.partials = append(f.partials, file.Name())
		}
		return fmt.Errorf("%w: connection reset", domain.ErrDownload)
	}
	_, err := io.WriteString(sink, body)
	return err
}

func (f *fakeRemote) Disconnect() error {
	f.disconnects++
	f.connected = false
	return nil
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("ing-%d", n)
	}
}
