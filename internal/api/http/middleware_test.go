package apihttp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"audiobridge/internal/auth"
	"audiobridge/internal/domain"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// ---------- CORS middleware tests ----------

func TestCorsMiddleware_AllowAll_WhenNoOriginsConfigured(t *testing.T) {
	handler := corsMiddleware(nil, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Errorf("expected origin reflected, got %q", got)
	}
}

func TestCorsMiddleware_WildcardWithoutOrigin(t *testing.T) {
	handler := corsMiddleware([]string{}, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard, got %q", got)
	}
}

func TestCorsMiddleware_AllowWhitelisted(t *testing.T) {
	handler := corsMiddleware([]string{"http://allowed.com", "  http://also-allowed.com/ "}, okHandler())

	for _, origin := range []string{"http://allowed.com", "http://also-allowed.com"} {
		req := httptest.NewRequest(http.MethodGet, "/files", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != origin {
			t.Errorf("origin %s: got ACAO %q", origin, got)
		}
		if got := rec.Header().Get("Vary"); got != "Origin" {
			t.Errorf("expected Vary: Origin, got %q", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Range") || !strings.Contains(got, "Authorization") {
			t.Errorf("Allow-Headers = %q", got)
		}
		if got := rec.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, "Content-Range") {
			t.Errorf("Expose-Headers = %q", got)
		}
	}
}

func TestCorsMiddleware_RejectNonWhitelisted(t *testing.T) {
	handler := corsMiddleware([]string{"http://allowed.com"}, okHandler())

	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	req.Header.Set("Origin", "http://evil.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no ACAO header for rejected origin, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected handler to still execute, got %d", rec.Code)
	}
}

func TestCorsMiddleware_PreflightReturns204(t *testing.T) {
	called := false
	handler := corsMiddleware(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/stream", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
	if called {
		t.Error("preflight should not call the next handler")
	}
}

// ---------- Admin middleware tests ----------

type fakeIdentity struct {
	identities map[string]domain.Identity
}

func (f fakeIdentity) Verify(ctx context.Context, token string) (domain.Identity, error) {
	id, ok := f.identities[token]
	if !ok {
		return domain.Identity{}, fmt.Errorf("%w: unknown token", domain.ErrUnauthorized)
	}
	return id, nil
}

func TestAdminMiddleware(t *testing.T) {
	identity := fakeIdentity{identities: map[string]domain.Identity{
		"admin-token": {Subject: "1", Email: "Admin@Example.com"},
		"user-token":  {Subject: "2", Email: "user@example.com"},
	}}
	var seen domain.Identity
	handler := adminMiddleware(identity, "admin@example.com", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.IdentityFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic admin-token", http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
		{"not admin", "Bearer user-token", http.StatusForbidden},
		{"admin", "Bearer admin-token", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/ingests", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
	if seen.Subject != "1" {
		t.Fatalf("identity not attached to context: %+v", seen)
	}
}

func TestAdminMiddleware_Disabled(t *testing.T) {
	handler := adminMiddleware(nil, "", okHandler())
	req := httptest.NewRequest(http.MethodGet, "/admin/ingests", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

// ---------- Rate limit middleware tests ----------

func TestRateLimitMiddleware_Returns429AfterBurst(t *testing.T) {
	handler := rateLimitMiddleware(0.001, 2, okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After: 1, got %q", got)
	}
	if !strings.Contains(rec.Body.String(), "rate_limited") {
		t.Errorf("expected rate_limited in body, got %q", rec.Body.String())
	}
}

func TestRateLimitMiddleware_SkipsProbes(t *testing.T) {
	handler := rateLimitMiddleware(0.001, 1, okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/files", nil))

	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected bypass, got %d", path, rec.Code)
		}
	}
}

// ---------- Recovery middleware tests ----------

func TestRecoveryMiddleware_CatchesPanic(t *testing.T) {
	for _, value := range []interface{}{"test panic", errors.New("something went wrong")} {
		handler := recoveryMiddleware(slog.Default(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(value)
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	}
}

func TestRecoveryMiddleware_NoPanicPassesThrough(t *testing.T) {
	handler := recoveryMiddleware(slog.Default(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files", nil))
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

// ---------- responseWriter tests ----------

func TestResponseWriter_CapturesStatusAndSize(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	rw.WriteHeader(http.StatusPartialContent)
	rw.Write([]byte("hello"))
	rw.Write([]byte(" world"))
	if rw.status != http.StatusPartialContent || rw.size != 11 {
		t.Fatalf("status=%d size=%d", rw.status, rw.size)
	}
}

type fakeHijacker struct {
	http.ResponseWriter
}

func (f *fakeHijacker) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return nil, nil, nil
}

func TestResponseWriter_Hijack(t *testing.T) {
	rw := &responseWriter{ResponseWriter: &fakeHijacker{ResponseWriter: httptest.NewRecorder()}}
	if _, _, err := rw.Hijack(); err != nil {
		t.Errorf("expected hijack to succeed, got %v", err)
	}
	rw = &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil {
		t.Error("expected error when underlying writer doesn't support Hijack")
	}
}

// ---------- helpers ----------

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		xRealIP    string
		remoteAddr string
		want       string
	}{
		{name: "X-Forwarded-For first hop", xff: "1.2.3.4, 5.6.7.8", remoteAddr: "9.9.9.9:1", want: "1.2.3.4"},
		{name: "X-Real-IP", xRealIP: "10.0.0.1", remoteAddr: "9.9.9.9:1", want: "10.0.0.1"},
		{name: "remote addr", remoteAddr: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "remote addr without port", remoteAddr: "192.168.1.1", want: "192.168.1.1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xRealIP != "" {
				req.Header.Set("X-Real-IP", tc.xRealIP)
			}
			if got := clientIP(req); got != tc.want {
				t.Errorf("clientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		value string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abcdef", 3, "abc"},
		{"abc", 0, "abc"},
	}
	for _, tc := range tests {
		if got := truncate(tc.value, tc.limit); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.value, tc.limit, got, tc.want)
		}
	}
}

func TestPickRequestLogLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/files", 500, slog.LevelError},
		{"/files", 404, slog.LevelWarn},
		{"/healthz", 200, slog.LevelDebug},
		{"/stream", 206, slog.LevelDebug},
		{"/files", 200, slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := pickRequestLogLevel(tc.path, tc.status); got != tc.want {
			t.Errorf("pickRequestLogLevel(%q, %d) = %v, want %v", tc.path, tc.status, got, tc.want)
		}
	}
}

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/metrics", "/metrics"},
		{"/stream", "/stream"},
		{"/playlist", "/playlist"},
		{"/admin/ingests", "/admin/ingests"},
		{"/admin/ingests/abc", "/admin/ingests/:id"},
		{"/admin/ftp/imports", "/admin/ftp"},
		{"/admin/manifests", "/admin"},
		{"/", "/other"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			if got := normalizeRoute(tc.path); got != tc.want {
				t.Errorf("normalizeRoute(%q) = %q, want %q", tc.path, got, tc.want)
			}
		})
	}
}

func TestMiddlewareChain_RecoveryOutermost(t *testing.T) {
	logger := slog.Default()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test chain panic")
	})
	chain := recoveryMiddleware(logger,
		rateLimitMiddleware(100, 200,
			metricsMiddleware(
				corsMiddleware(nil,
					loggingMiddleware(logger, inner)))))

	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 from recovery middleware, got %d", rec.Code)
	}
}
