package ports

import (
	"context"
	"io"

	"audiobridge/internal/domain"
)

// ObjectStore is a flat key space with prefix/delimiter listing.
type ObjectStore interface {
	List(ctx context.Context, prefix, delimiter string) (domain.ListResult, error)
	Head(ctx context.Context, key string) (domain.ObjectInfo, error)
	// Get opens the object starting at offset. A length <= 0 reads to the end.
	Get(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// FileSystem is the capability set an FTP session needs from its backing
// storage. Paths are absolute and slash separated.
type FileSystem interface {
	List(ctx context.Context, path string) ([]domain.VirtualEntry, error)
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Write(ctx context.Context, path string, r io.Reader) error
	Delete(ctx context.Context, path string) error
	Mkdir(ctx context.Context, path string) error
	Rename(ctx context.Context, from, to string) error
}

// ScratchSpace hands out local working directories for in-flight transfers.
type ScratchSpace interface {
	CheckCapacity() error
	CreateDir(prefix string) (string, error)
	Cleanup(dir string)
}
