package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"audiobridge/internal/domain"
	"audiobridge/internal/usecase"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeDomainError maps error kinds from the domain and usecase layers to
// HTTP statuses. Client errors echo the message; server errors do not.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrDecode):
		writeError(w, http.StatusBadRequest, "invalid_manifest", err.Error())
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrNotADirectory):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "forbidden")
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrUnsupported):
		writeError(w, http.StatusMethodNotAllowed, "unsupported", err.Error())
	case errors.Is(err, domain.ErrStorageFull):
		writeError(w, http.StatusInsufficientStorage, "storage_full", err.Error())
	case errors.Is(err, domain.ErrConnect), errors.Is(err, domain.ErrDownload):
		writeError(w, http.StatusBadGateway, "remote_error", err.Error())
	case errors.Is(err, usecase.ErrFetch):
		writeError(w, http.StatusBadGateway, "fetch_error", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "upstream timed out")
	case errors.Is(err, usecase.ErrStore):
		writeError(w, http.StatusInternalServerError, "store_error", "object store unavailable")
	case errors.Is(err, usecase.ErrRepository):
		writeError(w, http.StatusInternalServerError, "repository_error", "repository unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func parsePositiveInt(value string, requirePositive bool) (int, error) {
	if strings.TrimSpace(value) == "" {
		return -1, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if requirePositive && parsed <= 0 {
		return 0, errors.New("must be > 0")
	}
	if !requirePositive && parsed < 0 {
		return 0, errors.New("must be >= 0")
	}
	return parsed, nil
}

// baseURL is the externally visible origin of the request, honoring the
// usual reverse proxy headers.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	host := r.Host
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + host
}

// objectURL is where a player fetches key: the CDN when configured,
// otherwise this service's stream endpoint.
func (s *Server) objectURL(r *http.Request, key string) string {
	if s.cdnDomain != "" {
		return cdnURL(s.cdnDomain, key)
	}
	return baseURL(r) + "/stream?key=" + url.QueryEscape(key)
}

func cdnURL(cdnDomain, key string) string {
	base := cdnDomain
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return base + "/" + strings.Join(segments, "/")
}
