package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"audiobridge/internal/domain"
)

const manifestKeyPrefix = "audiobridge:manifest:"

// ManifestCache stores uploaded manifests in Redis as JSON with a TTL.
type ManifestCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewManifestCache(client *redis.Client, ttl time.Duration) *ManifestCache {
	return &ManifestCache{client: client, ttl: ttl}
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func manifestKey(hash domain.InfoHash) string {
	return manifestKeyPrefix + hash.String()
}

func (c *ManifestCache) Put(ctx context.Context, m domain.CachedManifest) error {
	if m.Manifest.ContentHash.IsZero() {
		return fmt.Errorf("%w: manifest has no info hash", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, manifestKey(m.Manifest.ContentHash), data, c.ttl).Err()
}

func (c *ManifestCache) Get(ctx context.Context, hash domain.InfoHash) (domain.CachedManifest, error) {
	data, err := c.client.Get(ctx, manifestKey(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CachedManifest{}, fmt.Errorf("%w: manifest %s", domain.ErrNotFound, hash)
		}
		return domain.CachedManifest{}, err
	}
	var m domain.CachedManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.CachedManifest{}, err
	}
	return m, nil
}

func (c *ManifestCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
