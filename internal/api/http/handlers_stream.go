package apihttp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"audiobridge/internal/audio"
	"audiobridge/internal/metrics"
)

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	key := strings.TrimLeft(strings.TrimSpace(r.URL.Query().Get("key")), "/")
	if key == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "key is required")
		return
	}
	if s.cdnDomain != "" {
		http.Redirect(w, r, cdnURL(s.cdnDomain, key), http.StatusFound)
		return
	}

	resp, err := s.gateway.Serve(r.Context(), key, r.Header.Get("Range"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if resp.Body != nil {
		defer resp.Body.Close()
	}
	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.Status)
	if resp.Body == nil || r.Method == http.MethodHead {
		return
	}

	kind := "full"
	if resp.Status == http.StatusPartialContent {
		kind = "partial"
	}
	n, err := io.Copy(w, resp.Body)
	metrics.StreamBytesTotal.WithLabelValues(kind).Add(float64(n))
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("stream copy interrupted",
			slog.String("key", key),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()),
		)
	}
}

type fileItem struct {
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	MediaType    string    `json:"mediaType"`
	URL          string    `json:"url"`
}

type fileListResponse struct {
	Files []fileItem `json:"files"`
	Count int        `json:"count"`
}

// audioFiles lists every audio object below prefix, flattened.
func (s *Server) audioFiles(r *http.Request) ([]fileItem, error) {
	prefix := strings.TrimLeft(strings.TrimSpace(r.URL.Query().Get("prefix")), "/")
	if prefix == "" {
		prefix = s.audioPrefix
	}
	res, err := s.store.List(r.Context(), prefix, "")
	if err != nil {
		return nil, err
	}
	items := make([]fileItem, 0, len(res.Objects))
	for _, obj := range res.Objects {
		if !audio.IsAudio(obj.Key) {
			continue
		}
		items = append(items, fileItem{
			Key:          obj.Key,
			Name:         path.Base(obj.Key),
			Size:         obj.Size,
			LastModified: obj.LastModified.UTC(),
			MediaType:    audio.MediaType(obj.Key),
			URL:          s.objectURL(r, obj.Key),
		})
	}
	return items, nil
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	items, err := s.audioFiles(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fileListResponse{Files: items, Count: len(items)})
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "m3u"
	}
	if format != "m3u" && format != "json" {
		writeError(w, http.StatusBadRequest, "invalid_request", "format must be m3u or json")
		return
	}
	items, err := s.audioFiles(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if format == "json" {
		writeJSON(w, http.StatusOK, fileListResponse{Files: items, Count: len(items)})
		return
	}

	w.Header().Set("Content-Type", "audio/x-mpegurl")
	w.Header().Set("Content-Disposition", `attachment; filename="playlist.m3u"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, buildM3U(items))
}

// buildM3U renders an extended M3U playlist. Titles are file names without
// their extension.
func buildM3U(items []fileItem) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#PLAYLIST:Audio Stream Playlist\n")
	for _, item := range items {
		title := strings.TrimSuffix(item.Name, path.Ext(item.Name))
		title = strings.NewReplacer("\r", " ", "\n", " ").Replace(title)
		b.WriteString("\n#EXTINF:-1,")
		b.WriteString(title)
		b.WriteString("\n")
		b.WriteString(item.URL)
		b.WriteString("\n")
	}
	return b.String()
}
