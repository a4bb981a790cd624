package usecase

import (
	"context"
	"errors"
	"io"
	"os"
	"reflect"
	"testing"
	"time"

	"audiobridge/internal/domain"
	"audiobridge/internal/repository/memory"
	memstore "audiobridge/internal/storage/memory"
)

type ingestFixture struct {
	uc      IngestManifest
	cache   *memory.ManifestCache
	repo    *memory.IngestRepository
	store   *memstore.Store
	fetcher *fakeFetcher
	scratch *fakeScratch
	events  *recordingEvents
	hash    string
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	f := &ingestFixture{
		cache:   memory.NewManifestCache(time.Hour),
		repo:    memory.NewIngestRepository(),
		store:   memstore.New(),
		fetcher: &fakeFetcher{},
		scratch: newScratch(t),
		events:  &recordingEvents{},
	}
	res, err := InspectManifest{Cache: f.cache}.Execute(context.Background(), albumTorrent())
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	f.hash = res.Manifest.ContentHash.String()
	f.uc = IngestManifest{
		Cache:   f.cache,
		Fetcher: f.fetcher,
		Store:   f.store,
		Repo:    f.repo,
		Scratch: f.scratch,
		Events:  f.events,
		Prefix:  "audio/",
		Timeout: time.Minute,
		NewID:   sequentialIDs(),
		Logger:  quietLogger(),
	}
	return f
}

func TestInspectManifestSelectsAndCaches(t *testing.T) {
	cache := memory.NewManifestCache(time.Hour)
	raw := albumTorrent()
	res, err := InspectManifest{Cache: cache, Logger: quietLogger()}.Execute(context.Background(), raw)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Manifest.Name != "album" || res.Manifest.TotalSize != 12 {
		t.Fatalf("manifest = %+v", res.Manifest)
	}
	if len(res.Audio) != 2 || res.Audio[0].Path() != "a.flac" || res.Audio[1].Path() != "disc2/b.mp3" {
		t.Fatalf("audio = %+v", res.Audio)
	}
	if res.AudioBytes != 9 {
		t.Fatalf("AudioBytes = %d", res.AudioBytes)
	}
	cached, err := cache.Get(context.Background(), res.Manifest.ContentHash)
	if err != nil {
		t.Fatalf("cache Get: %v", err)
	}
	if string(cached.Metainfo) != string(raw) {
		t.Fatalf("cached metainfo differs")
	}
}

func TestInspectManifestDecodeError(t *testing.T) {
	_, err := InspectManifest{}.Execute(context.Background(), []byte("not bencode"))
	if !errors.Is(err, domain.ErrDecode) {
		t.Fatalf("err = %v", err)
	}
}

func TestIngestManifestUploadsAllAudio(t *testing.T) {
	f := newIngestFixture(t)
	rec, err := f.uc.Execute(context.Background(), IngestManifestInput{InfoHash: f.hash})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.Status != domain.IngestCompleted || rec.Source != domain.SourceTorrent || rec.InfoHash != f.hash {
		t.Fatalf("record = %+v", rec)
	}
	if rec.TotalBytes != 9 || len(rec.Objects) != 2 {
		t.Fatalf("record objects = %+v total=%d", rec.Objects, rec.TotalBytes)
	}
	wantKeys := []string{"audio/" + f.hash + "/a.flac", "audio/" + f.hash + "/disc2/b.mp3"}
	for i, key := range wantKeys {
		if rec.Objects[i].Key != key {
			t.Fatalf("object %d key = %q, want %q", i, rec.Objects[i].Key, key)
		}
		info, err := f.store.Head(context.Background(), key)
		if err != nil {
			t.Fatalf("Head(%s): %v", key, err)
		}
		if info.Size != rec.Objects[i].Length {
			t.Fatalf("%s size = %d", key, info.Size)
		}
	}
	if info, _ := f.store.Head(context.Background(), wantKeys[0]); info.ContentType != "audio/flac" {
		t.Fatalf("content type = %q", info.ContentType)
	}

	req := f.fetcher.reqs[0]
	if len(req.Metainfo) == 0 || len(req.Trackers) != 1 || req.Trackers[0] != "udp://tracker.example:80" {
		t.Fatalf("fetch request = %+v", req)
	}
	if _, err := os.Stat(req.Dir); !os.IsNotExist(err) {
		t.Fatalf("scratch dir not cleaned: %v", err)
	}

	want := []domain.IngestEventType{
		domain.EventIngestStarted, domain.EventIngestFile, domain.EventIngestFile, domain.EventIngestCompleted,
	}
	if got := f.events.types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v", got)
	}
	stored, err := f.repo.Get(context.Background(), rec.ID)
	if err != nil || stored.Status != domain.IngestCompleted {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
}

func TestIngestManifestSelection(t *testing.T) {
	f := newIngestFixture(t)
	rec, err := f.uc.Execute(context.Background(), IngestManifestInput{
		InfoHash: f.hash,
		Files:    []string{"disc2/b.mp3", "disc2/b.mp3"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rec.Objects) != 1 || rec.Objects[0].Path != "disc2/b.mp3" || rec.TotalBytes != 4 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestIngestManifestRejects(t *testing.T) {
	f := newIngestFixture(t)
	ctx := context.Background()

	if _, err := f.uc.Execute(ctx, IngestManifestInput{InfoHash: f.hash, Files: []string{"cover.jpg"}}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("non-audio err = %v", err)
	}
	if _, err := f.uc.Execute(ctx, IngestManifestInput{InfoHash: "xyz"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("bad hash err = %v", err)
	}
	if _, err := f.uc.Execute(ctx, IngestManifestInput{InfoHash: "0000000000000000000000000000000000000000"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown hash err = %v", err)
	}
	f.scratch.full = true
	if _, err := f.uc.Execute(ctx, IngestManifestInput{InfoHash: f.hash}); !errors.Is(err, domain.ErrStorageFull) {
		t.Fatalf("full err = %v", err)
	}

	list, _ := f.repo.List(ctx, 0)
	if len(list) != 0 {
		t.Fatalf("rejected requests created records: %+v", list)
	}
	if len(f.fetcher.reqs) != 0 {
		t.Fatalf("fetcher called on rejected request")
	}
}

func TestIngestManifestFetchFailure(t *testing.T) {
	f := newIngestFixture(t)
	f.fetcher.err = errors.New("no peers")

	rec, err := f.uc.Execute(context.Background(), IngestManifestInput{InfoHash: f.hash})
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("err = %v", err)
	}
	if rec.Status != domain.IngestFailed || rec.Error == "" {
		t.Fatalf("record = %+v", rec)
	}
	stored, _ := f.repo.Get(context.Background(), rec.ID)
	if stored.Status != domain.IngestFailed {
		t.Fatalf("stored status = %s", stored.Status)
	}
	types := f.events.types()
	if types[len(types)-1] != domain.EventIngestFailed {
		t.Fatalf("events = %v", types)
	}
	if len(f.scratch.cleaned) != 1 {
		t.Fatalf("cleanup calls = %v", f.scratch.cleaned)
	}
	if f.store.Len() != 0 {
		t.Fatalf("objects uploaded after failure")
	}
}

func TestIngestManifestStartRunsInBackground(t *testing.T) {
	f := newIngestFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	rec, err := f.uc.Start(ctx, IngestManifestInput{InfoHash: f.hash})
	cancel()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.Status != domain.IngestPending || rec.ID == "" {
		t.Fatalf("snapshot = %+v", rec)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		stored, err := f.repo.Get(context.Background(), rec.ID)
		if err == nil && stored.Status == domain.IngestCompleted && f.scratch.cleanedCount() == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ingest did not complete: %+v, %v", stored, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	body, err := f.store.Get(context.Background(), "audio/"+f.hash+"/a.flac", 0, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer body.Close()
	if b, _ := io.ReadAll(body); string(b) != "xxxxx" {
		t.Fatalf("body = %q", b)
	}
}
