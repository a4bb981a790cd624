// Package metainfo decodes .torrent files into domain manifests.
package metainfo

import (
	"crypto/sha1"
	"fmt"
	"strings"

	"audiobridge/internal/domain"
)

// Decode parses a .torrent file. The content hash is the SHA-1 of the info
// dictionary re-encoded in its original key order. Bytes after the top-level
// value are ignored.
func Decode(data []byte) (domain.Manifest, error) {
	root, _, err := Parse(data)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	if root.Kind != KindDict {
		return domain.Manifest{}, fmt.Errorf("%w: top-level value is a %s, want dict", domain.ErrDecode, root.Kind)
	}
	info, ok := root.Lookup("info")
	if !ok || info.Kind != KindDict {
		return domain.Manifest{}, fmt.Errorf("%w: missing info dictionary", domain.ErrDecode)
	}

	m := domain.Manifest{
		ContentHash:  domain.InfoHash(sha1.Sum(Encode(info))),
		AnnounceURIs: announceURIs(root),
	}
	if v, ok := info.Lookup("name"); ok && v.Kind == KindString {
		m.Name = strings.TrimSpace(text(v.Str))
	}

	if files, ok := info.Lookup("files"); ok && files.Kind == KindList {
		m.Files, err = multiFile(files.List)
		if err != nil {
			return domain.Manifest{}, err
		}
	} else {
		length, hasLength := info.Lookup("length")
		name, hasName := info.Lookup("name")
		if !hasLength || length.Kind != KindInt || !hasName || name.Kind != KindString {
			return domain.Manifest{}, fmt.Errorf("%w: info has neither a file list nor a length/name pair", domain.ErrDecode)
		}
		if length.Int < 0 {
			return domain.Manifest{}, fmt.Errorf("%w: negative length", domain.ErrDecode)
		}
		m.Files = []domain.FileEntry{{Name: m.Name, Length: length.Int, PathSegments: []string{m.Name}}}
	}

	for _, f := range m.Files {
		m.TotalSize += f.Length
	}
	m.MagnetURI = Magnet(m.ContentHash, m.Name)
	return m, nil
}

func multiFile(items []Value) ([]domain.FileEntry, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty file list", domain.ErrDecode)
	}
	out := make([]domain.FileEntry, 0, len(items))
	var offset int64
	for i, item := range items {
		if item.Kind != KindDict {
			return nil, fmt.Errorf("%w: file %d is a %s, want dict", domain.ErrDecode, i, item.Kind)
		}
		length, ok := item.Lookup("length")
		if !ok || length.Kind != KindInt {
			return nil, fmt.Errorf("%w: file %d has no length", domain.ErrDecode, i)
		}
		if length.Int < 0 {
			return nil, fmt.Errorf("%w: file %d has negative length", domain.ErrDecode, i)
		}
		path, ok := item.Lookup("path")
		if !ok || path.Kind != KindList || len(path.List) == 0 {
			return nil, fmt.Errorf("%w: file %d has no path", domain.ErrDecode, i)
		}
		segments := make([]string, 0, len(path.List))
		for _, seg := range path.List {
			if seg.Kind != KindString {
				return nil, fmt.Errorf("%w: file %d path segment is a %s", domain.ErrDecode, i, seg.Kind)
			}
			segments = append(segments, text(seg.Str))
		}
		out = append(out, domain.FileEntry{
			Name:         segments[len(segments)-1],
			Length:       length.Int,
			PathSegments: segments,
			Offset:       offset,
		})
		offset += length.Int
	}
	return out, nil
}

func announceURIs(root Value) []string {
	out := []string{}
	if v, ok := root.Lookup("announce"); ok && v.Kind == KindString {
		out = append(out, text(v.Str))
	}
	if v, ok := root.Lookup("announce-list"); ok && v.Kind == KindList {
		for _, tier := range v.List {
			if tier.Kind != KindList {
				continue
			}
			for _, u := range tier.List {
				if u.Kind == KindString {
					out = append(out, text(u.Str))
				}
			}
		}
	}
	return out
}

// text converts raw bytes to a string, replacing invalid UTF-8 instead of
// rejecting it.
func text(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
