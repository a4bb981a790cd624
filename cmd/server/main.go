package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	apihttp "audiobridge/internal/api/http"
	"audiobridge/internal/app"
	"audiobridge/internal/auth"
	"audiobridge/internal/domain"
	"audiobridge/internal/domain/ports"
	"audiobridge/internal/ftpclient"
	"audiobridge/internal/ftpserver"
	"audiobridge/internal/metrics"
	memoryrepo "audiobridge/internal/repository/memory"
	mongorepo "audiobridge/internal/repository/mongo"
	redisrepo "audiobridge/internal/repository/redis"
	"audiobridge/internal/services/fetch/anacrolix"
	memorystore "audiobridge/internal/storage/memory"
	s3store "audiobridge/internal/storage/s3"
	"audiobridge/internal/telemetry"
	"audiobridge/internal/tempfs"
	"audiobridge/internal/usecase"
	"audiobridge/internal/vfs"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

const serviceName = "audiobridge"

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRate:  1,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("storeBackend", cfg.StoreBackend),
		slog.String("audioPrefix", cfg.AudioPrefix),
		slog.Bool("cdn", cfg.CDNDomain != ""),
		slog.Bool("remoteConfigured", cfg.RemoteConfigured()),
		slog.Int64("maxTempStorageBytes", cfg.MaxTempStorageBytes),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	store, err := openStore(initCtx, cfg)
	if err != nil {
		logger.Error("object store init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var (
		ingests   ports.IngestRepository = memoryrepo.NewIngestRepository()
		manifests ports.ManifestCache    = memoryrepo.NewManifestCache(cfg.ManifestCacheTTL)
		closers   []func(context.Context) error
	)

	if strings.TrimSpace(cfg.MongoURI) != "" {
		mongoClient, err := mongorepo.Connect(initCtx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
		if err != nil {
			logger.Error("mongo connect failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := mongoClient.Ping(initCtx, readpref.Primary()); err != nil {
			logger.Error("mongo ping failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		repo := mongorepo.NewIngestRepository(mongoClient, cfg.MongoDatabase, cfg.MongoCollection)
		if err := repo.EnsureIndexes(initCtx); err != nil {
			logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
		}
		ingests = repo
		closers = append(closers, mongoClient.Disconnect)
	} else {
		logger.Info("MONGO_URI not set, ingest records are kept in memory")
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisClient, err := redisrepo.Connect(initCtx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, using in-process manifest cache", slog.String("error", err.Error()))
		} else {
			manifests = redisrepo.NewManifestCache(redisClient, cfg.ManifestCacheTTL)
			closers = append(closers, func(context.Context) error { return redisClient.Close() })
		}
	}

	scratch, err := tempfs.New(cfg.TempDir, cfg.MaxTempStorageBytes, logger)
	if err != nil {
		logger.Error("temp storage init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	fetcher, err := anacrolix.New(anacrolix.Config{
		DataDir:    cfg.FetchDataDir,
		ListenPort: cfg.FetchListenPort,
		NoUpload:   true,
	}, logger)
	if err != nil {
		logger.Error("fetch engine init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ftpRegistry := ftpserver.NewRegistry(ftpserver.Config{
		Addr:           cfg.FTPServerAddr,
		Username:       cfg.FTPServerUsername,
		Password:       cfg.FTPServerPassword,
		PassiveHost:    cfg.FTPServerPasvHost,
		PassivePortMin: cfg.FTPServerPasvMin,
		PassivePortMax: cfg.FTPServerPasvMax,
		Greeting:       cfg.FTPServerGreeting,
	}, func() ports.FileSystem { return vfs.New(store, cfg.FTPServerRoot) }, logger)

	endpoint := domain.RemoteEndpoint{
		Host:     cfg.FTPHost,
		Port:     cfg.FTPPort,
		User:     cfg.FTPUser,
		Password: cfg.FTPPassword,
		Secure:   cfg.FTPSecure,
	}
	newRemoteClient := func() ports.RemoteTransfer {
		return ftpclient.New(ftpclient.WithLogger(logger), ftpclient.WithTimeout(cfg.FTPTimeout))
	}

	// Usecases publish through the relay; it is pointed at the HTTP server
	// once that exists.
	events := &eventRelay{}

	inspectUC := usecase.InspectManifest{Cache: manifests, Logger: logger}
	ingestUC := usecase.IngestManifest{
		Cache:   manifests,
		Fetcher: fetcher,
		Store:   store,
		Repo:    ingests,
		Scratch: scratch,
		Events:  events,
		Prefix:  cfg.AudioPrefix,
		Timeout: cfg.IngestTimeout,
		Now:     time.Now,
		Logger:  logger,
	}

	serverOpts := []apihttp.ServerOption{
		apihttp.WithLogger(logger),
		apihttp.WithAudioPrefix(cfg.AudioPrefix),
		apihttp.WithCDNDomain(cfg.CDNDomain),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithInspectManifest(inspectUC),
		apihttp.WithIngestManifest(ingestUC),
		apihttp.WithIngestRepository(ingests),
		apihttp.WithFTPServer(ftpRegistry),
	}
	if cfg.RemoteConfigured() {
		serverOpts = append(serverOpts,
			apihttp.WithListRemote(usecase.ListRemote{NewClient: newRemoteClient, Endpoint: endpoint}),
			apihttp.WithImportRemote(usecase.ImportRemote{
				NewClient: newRemoteClient,
				Endpoint:  endpoint,
				Store:     store,
				Repo:      ingests,
				Scratch:   scratch,
				Events:    events,
				Prefix:    cfg.AudioPrefix,
				Now:       time.Now,
				Logger:    logger,
			}),
		)
	}
	if strings.TrimSpace(cfg.JWTSecret) != "" && strings.TrimSpace(cfg.AdminEmail) != "" {
		provider, err := auth.NewProvider(cfg.JWTSecret)
		if err != nil {
			logger.Error("auth init failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		serverOpts = append(serverOpts, apihttp.WithAdmin(provider, cfg.AdminEmail))
	} else {
		logger.Warn("AUTH_JWT_SECRET or ADMIN_EMAIL not set, admin routes disabled")
	}

	handler := apihttp.NewServer(store, serverOpts...)
	events.target.Store(handler)

	if cfg.FTPServerAutostart {
		if _, err := ftpRegistry.Start(); err != nil {
			logger.Error("ftp server autostart failed", slog.String("error", err.Error()))
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		logger.Info("server started", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		scratch.Monitor(gctx, 30*time.Second)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		handler.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown error", slog.String("error", err.Error()))
		}
		if err := ftpRegistry.Stop(shutdownCtx); err != nil {
			logger.Warn("ftp server stop error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("http server error", slog.String("error", err.Error()))
	}

	if err := fetcher.Close(); err != nil {
		logger.Warn("fetch engine close error", slog.String("error", err.Error()))
	}
	for _, closeFn := range closers {
		if err := closeFn(context.Background()); err != nil {
			logger.Warn("close error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}

func openStore(ctx context.Context, cfg app.Config) (ports.ObjectStore, error) {
	switch cfg.StoreBackend {
	case app.StoreS3:
		store, err := s3store.New(ctx, s3store.Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKeyID,
			SecretKey:    cfg.S3SecretAccessKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case app.StoreMemory:
		slog.Default().Warn("using in-memory object store, uploads are lost on restart")
		return memorystore.New(), nil
	default:
		return nil, errors.New("unknown STORE_BACKEND " + cfg.StoreBackend)
	}
}

// eventRelay forwards ingest events to a publisher bound after construction.
type eventRelay struct {
	target atomic.Pointer[apihttp.Server]
}

func (r *eventRelay) Publish(event domain.IngestEvent) {
	if srv := r.target.Load(); srv != nil {
		srv.Publish(event)
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
