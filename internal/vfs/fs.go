// Package vfs presents an object store as a read-only directory tree.
package vfs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"audiobridge/internal/audio"
	"audiobridge/internal/domain"
	"audiobridge/internal/domain/ports"
)

const delimiter = "/"

// ReadOnlyFS maps slash-separated virtual paths onto object keys under an
// optional root prefix. Only directories and audio files are listed; any
// key can still be opened by exact path.
type ReadOnlyFS struct {
	store ports.ObjectStore
	root  string
}

var _ ports.FileSystem = (*ReadOnlyFS)(nil)

// New roots the tree at prefix; an empty prefix exposes the whole bucket.
func New(store ports.ObjectStore, prefix string) *ReadOnlyFS {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += delimiter
	}
	return &ReadOnlyFS{store: store, root: prefix}
}

// Clean resolves p to an absolute virtual path without "." or ".." elements.
func Clean(p string) string {
	return path.Clean("/" + p)
}

// key maps a virtual path to its object key.
func (f *ReadOnlyFS) key(p string) string {
	return f.root + strings.TrimPrefix(Clean(p), "/")
}

// virtual maps an object key (or a common prefix) back to a virtual path.
func (f *ReadOnlyFS) virtual(key string) string {
	return Clean(strings.TrimSuffix(strings.TrimPrefix(key, f.root), delimiter))
}

func (f *ReadOnlyFS) List(ctx context.Context, p string) ([]domain.VirtualEntry, error) {
	prefix := f.key(p)
	if prefix != "" && !strings.HasSuffix(prefix, delimiter) {
		prefix += delimiter
	}
	res, err := f.store.List(ctx, prefix, delimiter)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.VirtualEntry, 0, len(res.Prefixes)+len(res.Objects))
	for _, cp := range res.Prefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(cp, prefix), delimiter)
		if name == "" {
			continue
		}
		entries = append(entries, domain.NewDirectoryEntry(name, f.virtual(cp)))
	}
	for _, obj := range res.Objects {
		name := strings.TrimPrefix(obj.Key, prefix)
		if name == "" || strings.Contains(name, delimiter) || !audio.IsAudio(name) {
			continue
		}
		entries = append(entries, domain.NewFileEntry(name, f.virtual(obj.Key), obj.Size, obj.LastModified))
	}
	return entries, nil
}

func (f *ReadOnlyFS) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	return f.store.Get(ctx, f.key(p), 0, 0)
}

// Stat finds p in the listing of its parent.
func (f *ReadOnlyFS) Stat(ctx context.Context, p string) (domain.VirtualEntry, error) {
	p = Clean(p)
	if p == "/" {
		return domain.NewDirectoryEntry("/", "/"), nil
	}
	entries, err := f.List(ctx, path.Dir(p))
	if err != nil {
		return domain.VirtualEntry{}, err
	}
	for _, e := range entries {
		if e.Path == p {
			return e, nil
		}
	}
	return domain.VirtualEntry{}, fmt.Errorf("%w: %s", domain.ErrNotFound, p)
}

func (f *ReadOnlyFS) Write(ctx context.Context, p string, r io.Reader) error {
	return readOnly("write", p)
}

func (f *ReadOnlyFS) Delete(ctx context.Context, p string) error {
	return readOnly("delete", p)
}

func (f *ReadOnlyFS) Mkdir(ctx context.Context, p string) error {
	return readOnly("mkdir", p)
}

func (f *ReadOnlyFS) Rename(ctx context.Context, from, to string) error {
	return readOnly("rename", from)
}

func readOnly(op, p string) error {
	return fmt.Errorf("%w: %s %s on read-only storage", domain.ErrUnsupported, op, Clean(p))
}
