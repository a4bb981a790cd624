// Package tempfs manages scratch directories that hold downloaded payload
// between fetch and upload.
package tempfs

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"audiobridge/internal/domain"
	"audiobridge/internal/metrics"
)

// capacityRatio is the share of MaxBytes at which new work is refused.
const capacityRatio = 0.8

type Manager struct {
	Root     string
	MaxBytes int64
	Logger   *slog.Logger
}

func New(root string, maxBytes int64, logger *slog.Logger) (*Manager, error) {
	if strings.TrimSpace(root) == "" {
		root = filepath.Join(os.TempDir(), "audiobridge")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create temp root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{Root: root, MaxBytes: maxBytes, Logger: logger}, nil
}

// CreateDir makes a fresh directory under Root.
func (m *Manager) CreateDir(prefix string) (string, error) {
	dir, err := os.MkdirTemp(m.Root, sanitize(prefix)+"-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	return dir, nil
}

// Cleanup removes dir. Failures are logged and otherwise ignored. Paths
// outside Root are never touched.
func (m *Manager) Cleanup(dir string) {
	if dir == "" {
		return
	}
	rel, err := filepath.Rel(m.Root, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		m.Logger.Warn("tempfs: refusing to clean path outside root", slog.String("path", dir))
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		m.Logger.Warn("tempfs: cleanup failed",
			slog.String("path", dir),
			slog.String("error", err.Error()),
		)
	}
}

// Usage returns the bytes currently held under Root.
func (m *Manager) Usage() (int64, error) {
	return DirSize(m.Root)
}

// CheckCapacity refuses new work once usage reaches 80% of MaxBytes or the
// volume cannot fit the remaining headroom. A zero MaxBytes disables the
// check.
func (m *Manager) CheckCapacity() error {
	if m.MaxBytes <= 0 {
		return nil
	}
	used, err := m.Usage()
	if err != nil {
		return fmt.Errorf("measure temp usage: %w", err)
	}
	limit := int64(float64(m.MaxBytes) * capacityRatio)
	if used >= limit {
		return fmt.Errorf("%w: %d of %d bytes in use", domain.ErrStorageFull, used, m.MaxBytes)
	}
	if free, err := diskFreeBytes(m.Root); err == nil && free < limit-used {
		return fmt.Errorf("%w: %d bytes free on volume", domain.ErrStorageFull, free)
	}
	return nil
}

// Monitor publishes temp usage on a fixed interval until ctx is cancelled.
func (m *Manager) Monitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		m.observe()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) observe() {
	used, err := m.Usage()
	if err != nil {
		m.Logger.Warn("tempfs: usage check failed",
			slog.String("path", m.Root),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.TempStorageBytes.Set(float64(used))
	if m.MaxBytes > 0 && float64(used) >= float64(m.MaxBytes)*capacityRatio {
		m.Logger.Warn("tempfs: usage above threshold",
			slog.Int64("usedBytes", used),
			slog.Int64("maxBytes", m.MaxBytes),
		)
	}
}

// DirSize sums the sizes of regular files below root. A missing root is
// empty.
func DirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func sanitize(prefix string) string {
	prefix = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, prefix)
	if prefix == "" {
		return "work"
	}
	return prefix
}
