package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"audiobridge/internal/domain"
	domainports "audiobridge/internal/domain/ports"
	"audiobridge/internal/ftpserver"
	"audiobridge/internal/gateway"
	"audiobridge/internal/usecase"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type InspectManifestUseCase interface {
	Execute(ctx context.Context, raw []byte) (usecase.InspectResult, error)
}

type IngestManifestUseCase interface {
	Start(ctx context.Context, in usecase.IngestManifestInput) (domain.IngestRecord, error)
}

type ListRemoteUseCase interface {
	Execute(ctx context.Context, dir string) (usecase.RemoteListing, error)
}

type ImportRemoteUseCase interface {
	Execute(ctx context.Context, paths []string) (domain.IngestRecord, error)
}

// FTPServerControl starts and stops the embedded FTP server.
type FTPServerControl interface {
	Start() (*ftpserver.Server, error)
	Stop(ctx context.Context) error
	Status() ftpserver.Status
}

type Server struct {
	store          domainports.ObjectStore
	gateway        *gateway.Gateway
	inspect        InspectManifestUseCase
	ingest         IngestManifestUseCase
	listRemote     ListRemoteUseCase
	importRemote   ImportRemoteUseCase
	ingests        domainports.IngestRepository
	ftp            FTPServerControl
	identity       domainports.IdentityProvider
	adminEmail     string
	audioPrefix    string
	cdnDomain      string
	allowedOrigins []string
	logger         *slog.Logger
	handler        http.Handler
	progress       *progressHub
	upgrader       websocket.Upgrader
}

type ServerOption func(*Server)

func WithInspectManifest(uc InspectManifestUseCase) ServerOption {
	return func(s *Server) {
		s.inspect = uc
	}
}

func WithIngestManifest(uc IngestManifestUseCase) ServerOption {
	return func(s *Server) {
		s.ingest = uc
	}
}

func WithListRemote(uc ListRemoteUseCase) ServerOption {
	return func(s *Server) {
		s.listRemote = uc
	}
}

func WithImportRemote(uc ImportRemoteUseCase) ServerOption {
	return func(s *Server) {
		s.importRemote = uc
	}
}

func WithIngestRepository(repo domainports.IngestRepository) ServerOption {
	return func(s *Server) {
		s.ingests = repo
	}
}

func WithFTPServer(ctrl FTPServerControl) ServerOption {
	return func(s *Server) {
		s.ftp = ctrl
	}
}

// WithAdmin enables the /admin routes. Requests must carry a bearer token
// that resolves to adminEmail.
func WithAdmin(identity domainports.IdentityProvider, adminEmail string) ServerOption {
	return func(s *Server) {
		s.identity = identity
		s.adminEmail = strings.TrimSpace(adminEmail)
	}
}

func WithAudioPrefix(prefix string) ServerOption {
	return func(s *Server) {
		s.audioPrefix = prefix
	}
}

// WithCDNDomain makes /stream redirect to the CDN and listings link there.
func WithCDNDomain(host string) ServerOption {
	return func(s *Server) {
		s.cdnDomain = strings.TrimRight(strings.TrimSpace(host), "/")
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(store domainports.ObjectStore, opts ...ServerOption) *Server {
	s := &Server{
		store:       store,
		gateway:     gateway.New(store),
		audioPrefix: "audio/",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.progress = newProgressHub(s.logger)
	go s.progress.run()
	origins := newOriginPolicy(s.allowedOrigins)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origins.allows(origin)
		},
	}

	admin := http.NewServeMux()
	admin.HandleFunc("/admin/manifests", s.handleManifests)
	admin.HandleFunc("/admin/ingests", s.handleIngests)
	admin.HandleFunc("/admin/ingests/", s.handleIngestByID)
	admin.HandleFunc("/admin/ftp/files", s.handleRemoteFiles)
	admin.HandleFunc("/admin/ftp/imports", s.handleRemoteImports)
	admin.HandleFunc("/admin/ftp/server", s.handleFTPServer)

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/files", s.handleFiles)
	mux.HandleFunc("/playlist", s.handlePlaylist)
	mux.Handle("/admin/", adminMiddleware(s.identity, s.adminEmail, admin))
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "audiobridge",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Publish implements ports.EventPublisher by fanning ingest progress out to
// websocket subscribers.
func (s *Server) Publish(event domain.IngestEvent) {
	if s.progress != nil {
		s.progress.publish(event)
	}
}

// handleWS streams ingest events. ?ingestId= narrows the stream to one
// ingest.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.progress == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	sub := &subscriber{
		hub:      s.progress,
		conn:     conn,
		send:     make(chan []byte, wsSendBuffer),
		ingestID: strings.TrimSpace(r.URL.Query().Get("ingestId")),
	}
	if !s.progress.subscribe(sub) {
		conn.Close()
		return
	}
	go sub.writePump()
	go sub.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Close disconnects all websocket subscribers.
func (s *Server) Close() {
	if s.progress != nil {
		s.progress.Close()
	}
}
