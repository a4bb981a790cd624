package domain

import (
	"errors"
	"time"
)

type IngestStatus string

const (
	IngestPending   IngestStatus = "pending"
	IngestFetching  IngestStatus = "fetching"
	IngestUploading IngestStatus = "uploading"
	IngestCompleted IngestStatus = "completed"
	IngestFailed    IngestStatus = "failed"
)

var ingestTransitions = map[IngestStatus][]IngestStatus{
	IngestPending:   {IngestFetching, IngestUploading, IngestFailed},
	IngestFetching:  {IngestUploading, IngestFailed},
	IngestUploading: {IngestCompleted, IngestFailed},
}

func CanTransitionIngest(from, to IngestStatus) bool {
	for _, t := range ingestTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

type IngestSource string

const (
	SourceTorrent IngestSource = "torrent"
	SourceFTP     IngestSource = "ftp"
)

// StoredObject is one file uploaded to the object store by an ingest.
type StoredObject struct {
	Path   string `json:"path"`
	Key    string `json:"key"`
	Length int64  `json:"length"`
}

type IngestRecord struct {
	ID         string         `json:"id"`
	Source     IngestSource   `json:"source"`
	Name       string         `json:"name"`
	InfoHash   string         `json:"infoHash,omitempty"`
	Status     IngestStatus   `json:"status"`
	Objects    []StoredObject `json:"objects"`
	TotalBytes int64          `json:"totalBytes"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Validate checks domain invariants for IngestRecord.
func (r IngestRecord) Validate() error {
	if r.ID == "" {
		return errors.New("ingest id is required")
	}
	if r.TotalBytes < 0 {
		return errors.New("totalBytes must not be negative")
	}
	switch r.Source {
	case SourceTorrent, SourceFTP:
	case "":
		return errors.New("source is required")
	default:
		return errors.New("invalid source: " + string(r.Source))
	}
	switch r.Status {
	case IngestPending, IngestFetching, IngestUploading, IngestCompleted, IngestFailed:
		// valid
	case "":
		return errors.New("status is required")
	default:
		return errors.New("invalid status: " + string(r.Status))
	}
	return nil
}
