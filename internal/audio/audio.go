// Package audio classifies files by extension.
package audio

import (
	"path"
	"strings"

	"audiobridge/internal/domain"
)

const defaultMediaType = "application/octet-stream"

var extensions = map[string]struct{}{
	".mp3":  {},
	".flac": {},
	".wav":  {},
	".ogg":  {},
	".aac":  {},
	".m4a":  {},
	".wma":  {},
}

// Ext returns the lower-cased extension of the final path segment,
// including the dot.
func Ext(name string) string {
	return strings.ToLower(path.Ext(name))
}

func IsAudio(name string) bool {
	_, ok := extensions[Ext(name)]
	return ok
}

// MediaType maps a file name to a MIME type by extension alone.
func MediaType(name string) string {
	switch Ext(name) {
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".aac":
		return "audio/aac"
	case ".m4a":
		return "audio/mp4"
	default:
		return defaultMediaType
	}
}

// Select keeps the manifest entries whose last path segment has an audio
// extension, in manifest order.
func Select(m domain.Manifest) []domain.FileEntry {
	out := make([]domain.FileEntry, 0, len(m.Files))
	for _, f := range m.Files {
		if len(f.PathSegments) == 0 {
			continue
		}
		if IsAudio(f.PathSegments[len(f.PathSegments)-1]) {
			out = append(out, f)
		}
	}
	return out
}
