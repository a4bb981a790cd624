package ports

import (
	"context"
	"io"

	"audiobridge/internal/domain"
)

// RemoteTransfer is a single connection to a remote FTP endpoint. Calls must
// be serialized by the caller.
type RemoteTransfer interface {
	Connect(ctx context.Context, endpoint domain.RemoteEndpoint) error
	List(ctx context.Context, remotePath string) ([]domain.RemoteFile, error)
	Download(ctx context.Context, remotePath string, sink io.Writer) error
	Disconnect() error
}

// FetchRequest asks the download engine for a subset of a manifest's files.
// Metainfo, when set, is the raw manifest and spares a metadata exchange.
type FetchRequest struct {
	InfoHash domain.InfoHash
	Metainfo []byte
	Magnet   string
	Trackers []string
	Files    []domain.FileEntry
	Dir      string
}

// FetchedFile is a manifest entry materialized on local disk.
type FetchedFile struct {
	Entry     domain.FileEntry
	LocalPath string
}

type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) ([]FetchedFile, error)
}
