package tempfs

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"audiobridge/internal/domain"
)

func newManager(t *testing.T, maxBytes int64) *Manager {
	t.Helper()
	m, err := New(t.TempDir(), maxBytes, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func writeFile(t *testing.T, path string, n int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, n), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestCreateDirAndCleanup(t *testing.T) {
	m := newManager(t, 0)
	dir, err := m.CreateDir("ingest/../x y")
	if err != nil {
		t.Fatalf("CreateDir: %v", err)
	}
	if filepath.Dir(dir) != m.Root {
		t.Fatalf("dir %s not under root %s", dir, m.Root)
	}
	if base := filepath.Base(dir); strings.ContainsAny(base, "/ .") {
		t.Fatalf("unsanitized dir name %q", base)
	}
	writeFile(t, filepath.Join(dir, "a", "b.mp3"), 10)

	m.Cleanup(dir)
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("dir still present: %v", err)
	}
	// Cleaning again is harmless.
	m.Cleanup(dir)
}

func TestCleanupRefusesOutsideRoot(t *testing.T) {
	m := newManager(t, 0)
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "keep.txt"), 1)

	m.Cleanup(outside)
	m.Cleanup(m.Root)
	if _, err := os.Stat(filepath.Join(outside, "keep.txt")); err != nil {
		t.Fatalf("outside file removed: %v", err)
	}
	if _, err := os.Stat(m.Root); err != nil {
		t.Fatalf("root removed: %v", err)
	}
}

func TestDirSize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a"), 100)
	writeFile(t, filepath.Join(root, "sub", "b"), 50)
	got, err := DirSize(root)
	if err != nil {
		t.Fatalf("DirSize: %v", err)
	}
	if got != 150 {
		t.Fatalf("DirSize = %d", got)
	}
	if n, err := DirSize(filepath.Join(root, "missing")); err != nil || n != 0 {
		t.Fatalf("missing root = %d, %v", n, err)
	}
}

func TestCheckCapacity(t *testing.T) {
	m := newManager(t, 1000)
	if err := m.CheckCapacity(); err != nil {
		t.Fatalf("empty root: %v", err)
	}
	writeFile(t, filepath.Join(m.Root, "x"), 799)
	if err := m.CheckCapacity(); err != nil {
		t.Fatalf("below threshold: %v", err)
	}
	writeFile(t, filepath.Join(m.Root, "y"), 1)
	if err := m.CheckCapacity(); !errors.Is(err, domain.ErrStorageFull) {
		t.Fatalf("at threshold err = %v", err)
	}

	unlimited := newManager(t, 0)
	writeFile(t, filepath.Join(unlimited.Root, "big"), 4096)
	if err := unlimited.CheckCapacity(); err != nil {
		t.Fatalf("unlimited: %v", err)
	}
}
