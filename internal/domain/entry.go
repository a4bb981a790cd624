package domain

import "time"

type EntryKind string

const (
	EntryDirectory EntryKind = "directory"
	EntryFile      EntryKind = "file"
)

// VirtualEntry is one row of a directory listing synthesized from an object
// store. Directory entries leave Size and ModTime zero.
type VirtualEntry struct {
	Kind    EntryKind `json:"kind"`
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size,omitempty"`
	ModTime time.Time `json:"modTime,omitempty"`
}

func (e VirtualEntry) IsDir() bool {
	return e.Kind == EntryDirectory
}

func NewDirectoryEntry(name, path string) VirtualEntry {
	return VirtualEntry{Kind: EntryDirectory, Name: name, Path: path}
}

func NewFileEntry(name, path string, size int64, modTime time.Time) VirtualEntry {
	return VirtualEntry{Kind: EntryFile, Name: name, Path: path, Size: size, ModTime: modTime}
}
