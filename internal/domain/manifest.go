package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// InfoHash is the SHA-1 digest of a manifest's info dictionary.
type InfoHash [20]byte

func (h InfoHash) String() string {
	return hex.EncodeToString(h[:])
}

func (h InfoHash) IsZero() bool {
	return h == InfoHash{}
}

// ParseInfoHash accepts the 40 character hex form, case-insensitive.
func ParseInfoHash(s string) (InfoHash, error) {
	var h InfoHash
	s = strings.TrimSpace(s)
	if len(s) != 2*len(h) {
		return h, fmt.Errorf("%w: info hash must be %d hex characters", ErrInvalidInput, 2*len(h))
	}
	if _, err := hex.Decode(h[:], []byte(strings.ToLower(s))); err != nil {
		return InfoHash{}, fmt.Errorf("%w: info hash: %v", ErrInvalidInput, err)
	}
	return h, nil
}

func (h InfoHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *InfoHash) UnmarshalText(b []byte) error {
	parsed, err := ParseInfoHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

type FileEntry struct {
	Name         string   `json:"name"`
	Length       int64    `json:"length"`
	PathSegments []string `json:"pathSegments"`
	Offset       int64    `json:"offset"`
}

// Path joins the segments with "/".
func (f FileEntry) Path() string {
	return strings.Join(f.PathSegments, "/")
}

// Manifest is the decoded form of a .torrent file. It is never mutated after
// decoding.
type Manifest struct {
	Name         string      `json:"name"`
	Files        []FileEntry `json:"files"`
	TotalSize    int64       `json:"totalSize"`
	ContentHash  InfoHash    `json:"infoHash"`
	AnnounceURIs []string    `json:"announce"`
	MagnetURI    string      `json:"magnet"`
}

// Validate checks the structural invariants a decoder must uphold.
func (m Manifest) Validate() error {
	if len(m.Files) == 0 {
		return fmt.Errorf("%w: manifest has no files", ErrDecode)
	}
	var sum int64
	for i, f := range m.Files {
		if f.Length < 0 {
			return fmt.Errorf("%w: file %d has negative length", ErrDecode, i)
		}
		if len(f.PathSegments) == 0 {
			return fmt.Errorf("%w: file %d has no path", ErrDecode, i)
		}
		sum += f.Length
	}
	if sum != m.TotalSize {
		return fmt.Errorf("%w: total size %d does not match file lengths %d", ErrDecode, m.TotalSize, sum)
	}
	return nil
}

// FindFile looks up an entry by its joined path.
func (m Manifest) FindFile(path string) (FileEntry, bool) {
	for _, f := range m.Files {
		if f.Path() == path {
			return f, true
		}
	}
	return FileEntry{}, false
}

// CachedManifest pairs a decoded manifest with the bytes it came from.
type CachedManifest struct {
	Manifest Manifest `json:"manifest"`
	Metainfo []byte   `json:"metainfo"`
}
