package ftpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"audiobridge/internal/domain"
	"audiobridge/internal/domain/ports"
	"audiobridge/internal/ftpserver"
	"audiobridge/internal/storage/memory"
	"audiobridge/internal/vfs"
)

var _ ports.RemoteTransfer = (*Client)(nil)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startRemote(t *testing.T) domain.RemoteEndpoint {
	t.Helper()
	store := memory.New()
	for k, v := range map[string]string{
		"music/a.mp3":       "first track",
		"music/notes.txt":   "hidden",
		"music/live/b.flac": "second track",
	} {
		if err := store.Put(context.Background(), k, strings.NewReader(v), int64(len(v)), ""); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	fs := vfs.New(store, "")
	srv := ftpserver.New(ftpserver.Config{
		Addr:     "127.0.0.1:0",
		Username: "admin",
		Password: "secret",
	}, func() ports.FileSystem { return fs }, ftpserver.WithLogger(quietLogger()))
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve(nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	host, port, _ := net.SplitHostPort(srv.Addr().String())
	p, _ := strconv.Atoi(port)
	return domain.RemoteEndpoint{Host: host, Port: p, User: "admin", Password: "secret"}
}

func newClient() *Client {
	return New(WithLogger(quietLogger()), WithTimeout(5*time.Second))
}

func TestConnectListDownload(t *testing.T) {
	ep := startRemote(t)
	c := newClient()
	ctx := context.Background()

	if err := c.Connect(ctx, ep); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != domain.ClientConnected {
		t.Fatalf("state = %s", c.State())
	}

	files, err := c.List(ctx, "/music")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("files = %+v", files)
	}
	f := files[0]
	if f.Name != "a.mp3" || f.RemotePath != "/music/a.mp3" || f.Size != 11 || f.MediaType != "audio/mpeg" {
		t.Fatalf("file = %+v", f)
	}

	var buf bytes.Buffer
	if err := c.Download(ctx, f.RemotePath, &buf); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if buf.String() != "first track" {
		t.Fatalf("downloaded %q", buf.String())
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if c.State() != domain.ClientClosed {
		t.Fatalf("state = %s", c.State())
	}
	if _, err := c.List(ctx, "/music"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("List after Disconnect err = %v", err)
	}
}

func TestDownloadMissing(t *testing.T) {
	ep := startRemote(t)
	c := newClient()
	if err := c.Connect(context.Background(), ep); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	err := c.Download(context.Background(), "/music/gone.mp3", io.Discard)
	if !errors.Is(err, domain.ErrDownload) || !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	// The session survives a failed command.
	if _, err := c.List(context.Background(), "/music/live"); err != nil {
		t.Fatalf("List after failure: %v", err)
	}
}

func TestConnectRejectedCredentials(t *testing.T) {
	ep := startRemote(t)
	ep.Password = "wrong"
	c := newClient()
	err := c.Connect(context.Background(), ep)
	if !errors.Is(err, domain.ErrConnect) || !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("err = %v", err)
	}
	if c.State() != domain.ClientFailed {
		t.Fatalf("state = %s", c.State())
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	c := newClient()
	err = c.Connect(context.Background(), domain.RemoteEndpoint{Host: "127.0.0.1", Port: addr.Port})
	if !errors.Is(err, domain.ErrConnect) || errors.Is(err, domain.ErrAuth) {
		t.Fatalf("err = %v", err)
	}
}

func TestConnectIsSingleUse(t *testing.T) {
	ep := startRemote(t)
	c := newClient()
	if err := c.Connect(context.Background(), ep); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Connect(context.Background(), ep); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second Connect err = %v", err)
	}
	c.Disconnect()
}
