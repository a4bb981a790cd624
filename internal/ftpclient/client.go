// Package ftpclient connects to remote FTP endpoints to browse and pull
// audio for import.
package ftpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"audiobridge/internal/audio"
	"audiobridge/internal/domain"
)

const (
	defaultPort    = 21
	defaultTimeout = 30 * time.Second
)

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client is a single-use connection to one remote endpoint. It moves from
// disconnected through connecting to connected or failed, and ends closed.
// Operations must not overlap: the control channel carries one command at a
// time.
type Client struct {
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	state domain.ClientState
	conn  *ftp.ServerConn
	addr  string
}

func New(opts ...Option) *Client {
	c := &Client{
		timeout: defaultTimeout,
		logger:  slog.Default(),
		state:   domain.ClientDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) State() domain.ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(to domain.ClientState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !domain.CanTransitionClient(c.state, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, c.state, to)
	}
	c.state = to
	return nil
}

// Connect dials the endpoint and performs the login handshake. A credential
// rejection wraps both ErrConnect and ErrAuth.
func (c *Client) Connect(ctx context.Context, ep domain.RemoteEndpoint) error {
	if err := c.setState(domain.ClientConnecting); err != nil {
		return err
	}
	port := ep.Port
	if port <= 0 {
		port = defaultPort
	}
	addr := net.JoinHostPort(ep.Host, strconv.Itoa(port))

	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(c.timeout),
	}
	if ep.Secure {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName: ep.Host,
			MinVersion: tls.VersionTLS12,
		}))
	}
	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		_ = c.setState(domain.ClientFailed)
		return fmt.Errorf("%w: dial %s: %w", domain.ErrConnect, addr, err)
	}
	if err := conn.Login(ep.User, ep.Password); err != nil {
		_ = conn.Quit()
		_ = c.setState(domain.ClientFailed)
		var te *textproto.Error
		if errors.As(err, &te) && te.Code == ftp.StatusNotLoggedIn {
			return fmt.Errorf("%w: %w: %s", domain.ErrConnect, domain.ErrAuth, te.Msg)
		}
		return fmt.Errorf("%w: login %s: %w", domain.ErrConnect, addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.addr = addr
	c.state = domain.ClientConnected
	c.mu.Unlock()
	c.logger.Info("ftp client connected", slog.String("addr", addr), slog.Bool("tls", ep.Secure))
	return nil
}

func (c *Client) connected() (*ftp.ServerConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.ClientConnected || c.conn == nil {
		return nil, fmt.Errorf("%w: client is %s", domain.ErrInvalidTransition, c.state)
	}
	return c.conn, nil
}

// List returns the regular files directly inside remotePath.
func (c *Client) List(ctx context.Context, remotePath string) ([]domain.RemoteFile, error) {
	conn, err := c.connected()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := remotePath
	if dir == "" {
		dir = "/"
	}
	entries, err := conn.List(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, mapRemoteError(err))
	}
	files := make([]domain.RemoteFile, 0, len(entries))
	for _, e := range entries {
		if e == nil || e.Type != ftp.EntryTypeFile {
			continue
		}
		files = append(files, domain.RemoteFile{
			Name:       e.Name,
			Size:       int64(e.Size),
			ModTime:    e.Time,
			RemotePath: path.Join(dir, e.Name),
			MediaType:  audio.MediaType(e.Name),
		})
	}
	return files, nil
}

// Download streams the whole remote file into sink. Bytes already written
// are left in place when the transfer fails.
func (c *Client) Download(ctx context.Context, remotePath string, sink io.Writer) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	resp, err := conn.Retr(remotePath)
	if err != nil {
		return fmt.Errorf("%w: retr %s: %w", domain.ErrDownload, remotePath, mapRemoteError(err))
	}
	n, copyErr := io.Copy(sink, &ctxReader{ctx: ctx, r: resp})
	closeErr := resp.Close()
	if copyErr != nil {
		return fmt.Errorf("%w: %s after %d bytes: %w", domain.ErrDownload, remotePath, n, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrDownload, remotePath, closeErr)
	}
	c.logger.Debug("ftp download complete", slog.String("path", remotePath), slog.Int64("bytes", n))
	return nil
}

// Disconnect releases the connection. Calling it again is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == domain.ClientClosed {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.state = domain.ClientClosed
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Quit(); err != nil {
		c.logger.Debug("ftp quit failed", slog.String("addr", c.addr), slog.String("error", err.Error()))
	}
	return nil
}

func mapRemoteError(err error) error {
	var te *textproto.Error
	if errors.As(err, &te) && te.Code == ftp.StatusFileUnavailable {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	return err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
