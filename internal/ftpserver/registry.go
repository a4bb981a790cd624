package ftpserver

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status is a snapshot of the managed server.
type Status struct {
	Running   bool      `json:"running"`
	Addr      string    `json:"addr,omitempty"`
	Sessions  int       `json:"sessions"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// Registry owns at most one running Server. Start and Stop are idempotent;
// administrative callers are expected to serialize them.
type Registry struct {
	cfg    Config
	newFS  FileSystemFactory
	logger *slog.Logger

	mu  sync.Mutex
	srv *Server
}

func NewRegistry(cfg Config, newFS FileSystemFactory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{cfg: cfg, newFS: newFS, logger: logger}
}

// Start returns the running server, launching one first if needed.
func (r *Registry) Start() (*Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.srv != nil {
		return r.srv, nil
	}
	srv := New(r.cfg, r.newFS, WithLogger(r.logger))
	if err := srv.Listen(); err != nil {
		return nil, err
	}
	go func() {
		if err := srv.Serve(nil); err != nil {
			r.logger.Error("ftp server stopped", slog.String("error", err.Error()))
		}
	}()
	r.srv = srv
	return srv, nil
}

// Stop shuts the running server down. It is a no-op when nothing runs.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	srv := r.srv
	r.srv = nil
	r.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	r.logger.Info("ftp server stopped")
	return err
}

// Current returns the running server, if any.
func (r *Registry) Current() (*Server, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.srv, r.srv != nil
}

func (r *Registry) Status() Status {
	srv, ok := r.Current()
	if !ok {
		return Status{}
	}
	st := Status{Running: true, Sessions: srv.SessionCount(), StartedAt: srv.StartedAt()}
	if addr := srv.Addr(); addr != nil {
		st.Addr = addr.String()
	}
	return st
}
