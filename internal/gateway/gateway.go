// Package gateway serves single objects from the store with HTTP range
// semantics for direct playback.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"audiobridge/internal/audio"
	"audiobridge/internal/domain"
	"audiobridge/internal/domain/ports"
)

var (
	ErrInvalidRange        = fmt.Errorf("%w: invalid range", domain.ErrInvalidInput)
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
)

const cacheControl = "public, max-age=31536000"

// Response is a transport-neutral stream reply. Body is nil when the status
// carries no payload; otherwise the caller must close it.
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
	Length int64
}

type Gateway struct {
	store ports.ObjectStore
}

func New(store ports.ObjectStore) *Gateway {
	return &Gateway{store: store}
}

// Serve resolves key and returns the whole object, or the window named by
// rangeHeader. The header may be "bytes=s-e" or a bare "s-e".
func (g *Gateway) Serve(ctx context.Context, key, rangeHeader string) (Response, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return Response{}, fmt.Errorf("%w: empty key", domain.ErrInvalidInput)
	}
	info, err := g.store.Head(ctx, key)
	if err != nil {
		return Response{}, err
	}
	size := info.Size

	header := http.Header{}
	header.Set("Content-Type", audio.MediaType(key))
	header.Set("Accept-Ranges", "bytes")
	header.Set("Cache-Control", cacheControl)
	header.Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": path.Base(key)}))
	if !info.LastModified.IsZero() {
		header.Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	}

	if strings.TrimSpace(rangeHeader) == "" {
		body, err := g.store.Get(ctx, key, 0, 0)
		if err != nil {
			return Response{}, err
		}
		header.Set("Content-Length", strconv.FormatInt(size, 10))
		return Response{Status: http.StatusOK, Header: header, Body: body, Length: size}, nil
	}

	start, end, err := ParseRange(rangeHeader, size)
	if errors.Is(err, ErrRangeNotSatisfiable) {
		header.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		return Response{Status: http.StatusRequestedRangeNotSatisfiable, Header: header}, nil
	}
	if err != nil {
		return Response{}, err
	}
	length := end - start + 1
	body, err := g.store.Get(ctx, key, start, length)
	if err != nil {
		return Response{}, err
	}
	header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	header.Set("Content-Length", strconv.FormatInt(length, 10))
	return Response{Status: http.StatusPartialContent, Header: header, Body: body, Length: length}, nil
}

// ParseRange resolves a single byte range against an object of the given
// size. A missing end means the last byte; an end past the object is
// clamped; "-n" selects the final n bytes.
func ParseRange(value string, size int64) (int64, int64, error) {
	value = strings.TrimSpace(value)
	if len(value) >= len("bytes=") && strings.EqualFold(value[:len("bytes=")], "bytes=") {
		value = strings.TrimSpace(value[len("bytes="):])
	}
	if value == "" || strings.Contains(value, ",") {
		return 0, 0, ErrInvalidRange
	}
	startStr, endStr, ok := strings.Cut(value, "-")
	if !ok {
		return 0, 0, ErrInvalidRange
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return 0, 0, ErrInvalidRange
		}
		if size <= 0 {
			return 0, 0, ErrRangeNotSatisfiable
		}
		if suffix > size {
			suffix = size
		}
		return size - suffix, size - 1, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, ErrInvalidRange
	}
	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return 0, 0, ErrInvalidRange
		}
	}
	if start >= size {
		return 0, 0, ErrRangeNotSatisfiable
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}
