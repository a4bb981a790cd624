package domain

import "time"

// ObjectInfo is the metadata of one object in the backing store.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	ContentType  string    `json:"contentType,omitempty"`
}

// ListResult is a single prefix/delimiter listing. Prefixes carry their
// trailing delimiter, exactly as the store reports them.
type ListResult struct {
	Prefixes []string
	Objects  []ObjectInfo
}

// RemoteEndpoint holds the connection settings for a remote FTP server.
type RemoteEndpoint struct {
	Host     string
	Port     int
	User     string
	Password string
	Secure   bool
}

type IngestEventType string

const (
	EventIngestStarted   IngestEventType = "ingest.started"
	EventIngestFile      IngestEventType = "ingest.file"
	EventIngestCompleted IngestEventType = "ingest.completed"
	EventIngestFailed    IngestEventType = "ingest.failed"
)

// IngestEvent is a progress notification published while an ingest runs.
type IngestEvent struct {
	Type     IngestEventType `json:"type"`
	IngestID string          `json:"ingestId"`
	File     string          `json:"file,omitempty"`
	Key      string          `json:"key,omitempty"`
	Bytes    int64           `json:"bytes,omitempty"`
	Error    string          `json:"error,omitempty"`
}
