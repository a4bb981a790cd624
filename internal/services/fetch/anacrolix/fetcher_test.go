package anacrolix

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"audiobridge/internal/domain"
	"audiobridge/internal/domain/ports"
)

var _ ports.Fetcher = (*Fetcher)(nil)

func testMetainfo(t *testing.T) ([]byte, metainfo.Hash) {
	t.Helper()
	info := metainfo.Info{
		Name:        "album",
		PieceLength: 16384,
		Pieces:      make([]byte, 20),
		Files: []metainfo.FileInfo{
			{Path: []string{"a.flac"}, Length: 10},
		},
	}
	ib, err := bencode.Marshal(info)
	if err != nil {
		t.Fatalf("marshal info: %v", err)
	}
	mi := metainfo.MetaInfo{InfoBytes: ib}
	var buf bytes.Buffer
	if err := mi.Write(&buf); err != nil {
		t.Fatalf("write metainfo: %v", err)
	}
	return buf.Bytes(), mi.HashInfoBytes()
}

func TestAddOptionsFromMetainfo(t *testing.T) {
	raw, hash := testMetainfo(t)
	opts, trackers, err := addOptions(ports.FetchRequest{
		Metainfo: raw,
		InfoHash: domain.InfoHash(hash),
		Trackers: []string{"udp://t.example:80"},
	})
	if err != nil {
		t.Fatalf("addOptions: %v", err)
	}
	if opts.InfoHash != hash || len(opts.InfoBytes) == 0 {
		t.Fatalf("opts = %+v", opts)
	}
	if len(trackers) != 1 {
		t.Fatalf("trackers = %v", trackers)
	}

	var other domain.InfoHash
	other[0] = 1
	if _, _, err := addOptions(ports.FetchRequest{Metainfo: raw, InfoHash: other}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("mismatch err = %v", err)
	}
	if _, _, err := addOptions(ports.FetchRequest{Metainfo: []byte("garbage")}); !errors.Is(err, domain.ErrDecode) {
		t.Fatalf("garbage err = %v", err)
	}
}

func TestAddOptionsFromHashAndMagnet(t *testing.T) {
	var h domain.InfoHash
	for i := range h {
		h[i] = byte(i)
	}
	opts, _, err := addOptions(ports.FetchRequest{InfoHash: h})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if opts.InfoHash != metainfo.Hash(h) {
		t.Fatalf("InfoHash = %s", opts.InfoHash.HexString())
	}

	magnet := "magnet:?xt=urn:btih:" + h.String() + "&dn=album&tr=udp%3A%2F%2Ftracker.example%3A80"
	opts, trackers, err := addOptions(ports.FetchRequest{Magnet: magnet, Trackers: []string{"http://a.example/announce"}})
	if err != nil {
		t.Fatalf("magnet: %v", err)
	}
	if opts.InfoHash != metainfo.Hash(h) {
		t.Fatalf("magnet InfoHash = %s", opts.InfoHash.HexString())
	}
	if len(trackers) != 2 || trackers[1] != "udp://tracker.example:80" {
		t.Fatalf("trackers = %v", trackers)
	}

	if _, _, err := addOptions(ports.FetchRequest{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("empty err = %v", err)
	}
	if _, _, err := addOptions(ports.FetchRequest{Magnet: "http://nope"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("bad magnet err = %v", err)
	}
}

func TestLocalPath(t *testing.T) {
	dir := t.TempDir()
	got, err := localPath(dir, []string{"disc 1", "01.flac"})
	if err != nil {
		t.Fatalf("localPath: %v", err)
	}
	if want := filepath.Join(dir, "disc 1", "01.flac"); got != want {
		t.Fatalf("localPath = %s, want %s", got, want)
	}
	for _, segs := range [][]string{
		nil,
		{".."},
		{"a", "..", "b"},
		{"a/b"},
		{`a\b`},
		{""},
	} {
		if _, err := localPath(dir, segs); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("segments %q: err = %v", segs, err)
		}
	}
}

func TestFetchGuards(t *testing.T) {
	var nilClient Fetcher
	if _, err := nilClient.Fetch(context.Background(), ports.FetchRequest{}); err == nil {
		t.Fatalf("expected error without client")
	}

	f := NewWithClient(nil, "", nil)
	if _, err := f.Fetch(context.Background(), ports.FetchRequest{}); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// stubClient records adds. Adds for hashes in block wait until the channel
// closes; every add is announced on started when it is set.
type stubClient struct {
	mu      sync.Mutex
	adds    map[metainfo.Hash]int
	block   map[metainfo.Hash]chan struct{}
	started chan metainfo.Hash
}

func newStubClient() *stubClient {
	return &stubClient{
		adds:    make(map[metainfo.Hash]int),
		block:   make(map[metainfo.Hash]chan struct{}),
		started: make(chan metainfo.Hash, 8),
	}
}

func (c *stubClient) AddTorrentOpt(opts torrent.AddTorrentOpts) (*torrent.Torrent, bool) {
	c.started <- opts.InfoHash
	c.mu.Lock()
	gate := c.block[opts.InfoHash]
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	c.mu.Lock()
	c.adds[opts.InfoHash]++
	c.mu.Unlock()
	return nil, true
}

func (c *stubClient) Close() []error { return nil }

func (c *stubClient) addCount(h metainfo.Hash) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adds[h]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func hashOf(b byte) metainfo.Hash {
	var h metainfo.Hash
	h[0] = b
	return h
}

func (f *Fetcher) lookup(h metainfo.Hash) (*activeTorrent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.active[h]
	return at, ok
}

func waitStarted(t *testing.T, c *stubClient, want metainfo.Hash) {
	t.Helper()
	select {
	case got := <-c.started:
		if got != want {
			t.Fatalf("add started for %s, want %s", got.HexString(), want.HexString())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("add for %s never started", want.HexString())
	}
}

func TestOverlappingFetchesSharePieceStorage(t *testing.T) {
	dataDir := t.TempDir()
	client := newStubClient()
	f := newFetcher(client, dataDir, quietLogger())
	h := hashOf(1)
	opts := torrent.AddTorrentOpts{InfoHash: h}
	ctx := context.Background()

	first, err := f.acquire(ctx, opts)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	second, err := f.acquire(ctx, opts)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if first != second {
		t.Fatalf("overlapping fetches got different torrents")
	}
	if n := client.addCount(h); n != 1 {
		t.Fatalf("adds = %d, want 1", n)
	}

	pieces := filepath.Join(dataDir, h.HexString())
	if first.dir != pieces {
		t.Fatalf("piece dir = %s, want %s", first.dir, pieces)
	}
	if _, err := os.Stat(pieces); err != nil {
		t.Fatalf("piece storage missing: %v", err)
	}

	f.release(first)
	if _, err := os.Stat(pieces); err != nil {
		t.Fatalf("piece storage removed while still held: %v", err)
	}
	if _, ok := f.lookup(h); !ok {
		t.Fatalf("torrent forgotten while still held")
	}

	f.release(second)
	if _, err := os.Stat(pieces); !os.IsNotExist(err) {
		t.Fatalf("piece storage not removed after last release: %v", err)
	}
	if _, ok := f.lookup(h); ok {
		t.Fatalf("torrent still tracked after last release")
	}

	// A later fetch adds the torrent again.
	again, err := f.acquire(ctx, opts)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	f.release(again)
	if n := client.addCount(h); n != 2 {
		t.Fatalf("adds = %d, want 2", n)
	}
}

func TestSlowAddDoesNotBlockOtherTorrents(t *testing.T) {
	client := newStubClient()
	slow, fast := hashOf(1), hashOf(2)
	gate := make(chan struct{})
	client.block[slow] = gate
	f := newFetcher(client, t.TempDir(), quietLogger())

	type result struct {
		at  *activeTorrent
		err error
	}
	done := make(chan result, 1)
	go func() {
		at, err := f.acquire(context.Background(), torrent.AddTorrentOpts{InfoHash: slow})
		done <- result{at, err}
	}()
	waitStarted(t, client, slow)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	at, err := f.acquire(ctx, torrent.AddTorrentOpts{InfoHash: fast})
	if err != nil {
		t.Fatalf("acquire while another add is pending: %v", err)
	}
	f.release(at)
	if _, ok := f.lookup(fast); ok {
		t.Fatalf("fast torrent still tracked")
	}

	close(gate)
	res := <-done
	if res.err != nil {
		t.Fatalf("slow acquire: %v", res.err)
	}
	f.release(res.at)
}

func TestAcquireCancelledWhileAdding(t *testing.T) {
	client := newStubClient()
	h := hashOf(3)
	gate := make(chan struct{})
	client.block[h] = gate
	dataDir := t.TempDir()
	f := newFetcher(client, dataDir, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := f.acquire(ctx, torrent.AddTorrentOpts{InfoHash: h})
		errc <- err
	}()
	waitStarted(t, client, h)
	at, ok := f.lookup(h)
	if !ok {
		t.Fatalf("pending torrent not tracked")
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	close(gate)
	select {
	case <-at.closed:
	case <-time.After(5 * time.Second):
		t.Fatalf("abandoned add was never torn down")
	}
	if _, err := os.Stat(filepath.Join(dataDir, h.HexString())); !os.IsNotExist(err) {
		t.Fatalf("piece storage left behind: %v", err)
	}
	if _, ok := f.lookup(h); ok {
		t.Fatalf("torrent still tracked")
	}
}
