package apihttp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"audiobridge/internal/audio"
	"audiobridge/internal/domain"
	"audiobridge/internal/ftpserver"
	"audiobridge/internal/usecase"
)

const maxManifestBytes = 10 << 20

func notConfigured(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, "not_configured", what+" is not configured")
}

func manifestTooLarge(w http.ResponseWriter) {
	writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "torrent file exceeds 10 MiB")
}

type manifestFile struct {
	Path      string `json:"path"`
	Length    int64  `json:"length"`
	MediaType string `json:"mediaType"`
}

type manifestResponse struct {
	Name       string         `json:"name"`
	TotalSize  int64          `json:"totalSize"`
	InfoHash   string         `json:"infoHash"`
	Magnet     string         `json:"magnet"`
	Announce   []string       `json:"announce"`
	FileCount  int            `json:"fileCount"`
	Audio      []manifestFile `json:"audio"`
	AudioBytes int64          `json:"audioBytes"`
}

func (s *Server) handleManifests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.inspect == nil {
		notConfigured(w, "manifest inspection")
		return
	}
	const bodyLimit = maxManifestBytes + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := r.ParseMultipartForm(maxManifestBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || r.ContentLength > bodyLimit {
			manifestTooLarge(w)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("torrent")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing torrent file")
		return
	}
	defer file.Close()
	if !strings.HasSuffix(strings.ToLower(strings.TrimSpace(header.Filename)), ".torrent") {
		writeError(w, http.StatusBadRequest, "invalid_request", "file must have a .torrent extension")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(file, maxManifestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read torrent file")
		return
	}
	if len(raw) > maxManifestBytes {
		manifestTooLarge(w)
		return
	}

	res, err := s.inspect.Execute(r.Context(), raw)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	m := res.Manifest
	out := manifestResponse{
		Name:       m.Name,
		TotalSize:  m.TotalSize,
		InfoHash:   m.ContentHash.String(),
		Magnet:     m.MagnetURI,
		Announce:   m.AnnounceURIs,
		FileCount:  len(m.Files),
		Audio:      make([]manifestFile, 0, len(res.Audio)),
		AudioBytes: res.AudioBytes,
	}
	if out.Announce == nil {
		out.Announce = []string{}
	}
	for _, f := range res.Audio {
		out.Audio = append(out.Audio, manifestFile{Path: f.Path(), Length: f.Length, MediaType: audio.MediaType(f.Path())})
	}
	writeJSON(w, http.StatusOK, out)
}

type ingestRequest struct {
	InfoHash string   `json:"infoHash"`
	Magnet   string   `json:"magnet,omitempty"`
	Files    []string `json:"files,omitempty"`
}

type ingestListResponse struct {
	Items []domain.IngestRecord `json:"items"`
	Count int                   `json:"count"`
}

func (s *Server) handleIngests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleStartIngest(w, r)
	case http.MethodGet:
		s.handleListIngests(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStartIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		notConfigured(w, "ingest")
		return
	}
	var body ingestRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}
	rec, err := s.ingest.Start(r.Context(), usecase.IngestManifestInput{
		InfoHash: body.InfoHash,
		Magnet:   body.Magnet,
		Files:    body.Files,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleListIngests(w http.ResponseWriter, r *http.Request) {
	if s.ingests == nil {
		notConfigured(w, "ingest repository")
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	const maxLimit = 1000
	if limit > maxLimit {
		limit = maxLimit
	}
	if limit < 0 {
		limit = 0
	}
	records, err := s.ingests.List(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestListResponse{Items: records, Count: len(records)})
}

func (s *Server) handleIngestByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.ingests == nil {
		notConfigured(w, "ingest repository")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin/ingests/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not_found", "ingest not found")
		return
	}
	rec, err := s.ingests.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRemoteFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.listRemote == nil {
		notConfigured(w, "remote endpoint")
		return
	}
	listing, err := s.listRemote.Execute(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

type importRequest struct {
	Files []string `json:"files"`
}

func (s *Server) handleRemoteImports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.importRemote == nil {
		notConfigured(w, "remote endpoint")
		return
	}
	var body importRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}
	rec, err := s.importRemote.Execute(r.Context(), body.Files)
	if err != nil {
		if rec.ID != "" {
			s.logger.Warn("remote import failed",
				slog.String("ingestId", rec.ID),
				slog.String("error", err.Error()),
			)
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type ftpServerRequest struct {
	Action string `json:"action"`
}

type ftpServerResponse struct {
	Message string `json:"message,omitempty"`
	ftpserver.Status
}

func (s *Server) handleFTPServer(w http.ResponseWriter, r *http.Request) {
	if s.ftp == nil {
		notConfigured(w, "ftp server")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, ftpServerResponse{Status: s.ftp.Status()})
	case http.MethodPost:
		var body ftpServerRequest
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
			return
		}
		switch strings.ToLower(strings.TrimSpace(body.Action)) {
		case "start":
			if _, err := s.ftp.Start(); err != nil {
				s.logger.Error("ftp server start failed", slog.String("error", err.Error()))
				writeError(w, http.StatusInternalServerError, "ftp_error", "failed to start ftp server")
				return
			}
			writeJSON(w, http.StatusOK, ftpServerResponse{Message: "ftp server started", Status: s.ftp.Status()})
		case "stop":
			ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
			defer cancel()
			if err := s.ftp.Stop(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				s.logger.Error("ftp server stop failed", slog.String("error", err.Error()))
				writeError(w, http.StatusInternalServerError, "ftp_error", "failed to stop ftp server")
				return
			}
			writeJSON(w, http.StatusOK, ftpServerResponse{Message: "ftp server stopped", Status: s.ftp.Status()})
		default:
			writeError(w, http.StatusBadRequest, "invalid_request", "action must be start or stop")
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
