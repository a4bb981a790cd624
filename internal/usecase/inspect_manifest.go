package usecase

import (
	"context"
	"log/slog"

	"audiobridge/internal/audio"
	"audiobridge/internal/domain"
	"audiobridge/internal/domain/ports"
	"audiobridge/internal/metainfo"
)

// InspectManifest decodes an uploaded manifest, selects its audio files and
// keeps it cached for a later ingest.
type InspectManifest struct {
	Cache  ports.ManifestCache
	Logger *slog.Logger
}

type InspectResult struct {
	Manifest   domain.Manifest    `json:"manifest"`
	Audio      []domain.FileEntry `json:"audio"`
	AudioBytes int64              `json:"audioBytes"`
}

func (uc InspectManifest) Execute(ctx context.Context, raw []byte) (InspectResult, error) {
	m, err := metainfo.Decode(raw)
	if err != nil {
		return InspectResult{}, err
	}
	selected := audio.Select(m)
	var audioBytes int64
	for _, f := range selected {
		audioBytes += f.Length
	}
	if uc.Cache != nil {
		entry := domain.CachedManifest{Manifest: m, Metainfo: append([]byte(nil), raw...)}
		if err := uc.Cache.Put(ctx, entry); err != nil {
			return InspectResult{}, wrapRepo(err)
		}
	}
	if uc.Logger != nil {
		uc.Logger.Info("manifest inspected",
			slog.String("infoHash", m.ContentHash.String()),
			slog.String("name", m.Name),
			slog.Int("files", len(m.Files)),
			slog.Int("audioFiles", len(selected)),
		)
	}
	return InspectResult{Manifest: m, Audio: selected, AudioBytes: audioBytes}, nil
}
