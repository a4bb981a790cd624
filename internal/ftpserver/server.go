// Package ftpserver serves a read-only FTP view of an object store to
// legacy clients. Only passive mode data connections are offered.
package ftpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"audiobridge/internal/domain/ports"
)

type Config struct {
	Addr     string
	Username string
	Password string
	// PassiveHost is the IPv4 address advertised in PASV replies. Empty
	// means the local address of the control connection.
	PassiveHost    string
	PassivePortMin int
	PassivePortMax int
	Greeting       string
	IdleTimeout    time.Duration
	DataTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Greeting == "" {
		c.Greeting = "Welcome to audiobridge FTP server"
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.DataTimeout <= 0 {
		c.DataTimeout = 30 * time.Second
	}
	if c.PassivePortMax < c.PassivePortMin {
		c.PassivePortMax = c.PassivePortMin
	}
	return c
}

// FileSystemFactory builds the storage view a session binds to at login.
type FileSystemFactory func() ports.FileSystem

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

type Server struct {
	cfg    Config
	newFS  FileSystemFactory
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	ln        net.Listener
	sessions  map[*session]struct{}
	closed    bool
	startedAt time.Time

	nextID atomic.Uint64
	wg     sync.WaitGroup
}

func New(cfg Config, newFS FileSystemFactory, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg.withDefaults(),
		newFS:    newFS,
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds the control port without accepting connections yet.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()
	return nil
}

// Serve accepts control connections until Shutdown. If Listen was not
// called, ln is used.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.ln == nil {
		s.ln = ln
		s.startedAt = time.Now().UTC()
	}
	ln = s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("ftp server: no listener")
	}

	s.logger.Info("ftp server listening", slog.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		sess := newSession(s, conn, s.nextID.Add(1))
		if !s.track(sess) {
			_ = conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(sess)
			sess.serve()
		}()
	}
}

// Addr is the bound control address, nil before Listen or Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown stops accepting, drops every open session and waits for their
// goroutines or ctx, whichever ends first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	open := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	s.cancel()
	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, sess := range open {
		// The session goroutine observes the closed socket and cleans up.
		_ = sess.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}
