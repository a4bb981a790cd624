package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo/options"

	"audiobridge/internal/domain"
)

// testMongoURI returns the MongoDB connection URI for integration tests.
// Set MONGO_TEST_URI to override.
func testMongoURI() string {
	if uri := os.Getenv("MONGO_TEST_URI"); uri != "" {
		return uri
	}
	return "mongodb://localhost:27017"
}

// setupTestRepo skips the test when MongoDB is unreachable.
func setupTestRepo(t *testing.T) *IngestRepository {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	uri := testMongoURI()
	client, err := Connect(ctx, uri, options.Client().SetConnectTimeout(3*time.Second).SetServerSelectionTimeout(3*time.Second))
	if err != nil {
		t.Skipf("MongoDB not available at %s: %v", uri, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		t.Skipf("MongoDB ping failed at %s: %v", uri, err)
	}

	dbName := fmt.Sprintf("audiobridge_test_%d", time.Now().UnixNano())
	repo := NewIngestRepository(client, dbName, "ingests")
	if err := repo.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		t.Fatalf("EnsureIndexes: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Database(dbName).Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return repo
}

func TestIntegrationIngestLifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	rec := sampleRecord()
	rec.Status = domain.IngestPending
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, rec); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate Create err = %v", err)
	}

	rec.Status = domain.IngestFailed
	rec.Error = "swarm timeout"
	if err := repo.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := repo.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.IngestFailed || got.Error != "swarm timeout" {
		t.Fatalf("got %+v", got)
	}

	missing := rec
	missing.ID = "nope"
	if err := repo.Update(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Update missing err = %v", err)
	}
	if _, err := repo.Get(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get missing err = %v", err)
	}
}

func TestIntegrationIngestListNewestFirst(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := sampleRecord()
		rec.ID = fmt.Sprintf("ing-%d", i)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	list, err := repo.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "ing-2" || list[1].ID != "ing-1" {
		t.Fatalf("list = %+v", list)
	}
}
