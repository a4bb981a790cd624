package main

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"audiobridge/internal/app"
	"audiobridge/internal/domain"
	"audiobridge/internal/domain/ports"
	"audiobridge/internal/ftpclient"
	"audiobridge/internal/usecase"
)

type ftpFlags struct {
	host     string
	port     int
	user     string
	password string
	secure   bool
	timeout  time.Duration
}

func (f ftpFlags) endpoint() domain.RemoteEndpoint {
	return domain.RemoteEndpoint{
		Host:     f.host,
		Port:     f.port,
		User:     f.user,
		Password: f.password,
		Secure:   f.secure,
	}
}

func (f ftpFlags) newClient() ports.RemoteTransfer {
	return ftpclient.New(ftpclient.WithTimeout(f.timeout))
}

func newFTPCmd(cfg app.Config) *cobra.Command {
	flags := ftpFlags{}
	cmd := &cobra.Command{
		Use:   "ftp",
		Short: "Browse and fetch from the remote FTP endpoint",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.host, "host", cfg.FTPHost, "Remote host (FTP_HOST)")
	pf.IntVar(&flags.port, "port", cfg.FTPPort, "Remote port (FTP_PORT)")
	pf.StringVarP(&flags.user, "user", "u", cfg.FTPUser, "Login user (FTP_USER)")
	pf.StringVar(&flags.password, "password", cfg.FTPPassword, "Login password (FTP_PASSWORD)")
	pf.BoolVar(&flags.secure, "secure", cfg.FTPSecure, "Use explicit TLS (FTP_SECURE)")
	pf.DurationVar(&flags.timeout, "timeout", cfg.FTPTimeout, "Dial and command timeout")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "ls [path]",
			Short: "List audio files in a remote directory",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				dir := "/"
				if len(args) == 1 {
					dir = args[0]
				}
				uc := usecase.ListRemote{NewClient: flags.newClient, Endpoint: flags.endpoint()}
				listing, err := uc.Execute(cmd.Context(), dir)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, f := range listing.Files {
					printf(out, "%12d  %s  %s\n", f.Size, f.ModTime.UTC().Format(time.DateTime), f.RemotePath)
				}
				printf(out, "%d files, %d bytes\n", listing.Count, listing.TotalBytes)
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <remote> [local]",
			Short: "Download one remote file",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				remote := args[0]
				local := path.Base(remote)
				if len(args) == 2 {
					local = args[1]
				}
				n, err := download(cmd, flags, remote, local)
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "%s -> %s (%d bytes)\n", remote, local, n)
				return nil
			},
		},
	)
	return cmd
}

// download writes remote to local, removing local again on failure.
func download(cmd *cobra.Command, flags ftpFlags, remote, local string) (int64, error) {
	if flags.host == "" {
		return 0, fmt.Errorf("%w: --host or FTP_HOST is required", domain.ErrInvalidInput)
	}
	client := flags.newClient()
	defer client.Disconnect()
	if err := client.Connect(cmd.Context(), flags.endpoint()); err != nil {
		return 0, err
	}

	if dir := filepath.Dir(local); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, err
		}
	}
	f, err := os.Create(local)
	if err != nil {
		return 0, err
	}
	dlErr := client.Download(cmd.Context(), remote, f)
	closeErr := f.Close()
	if err := errors.Join(dlErr, closeErr); err != nil {
		_ = os.Remove(local)
		return 0, err
	}
	info, err := os.Stat(local)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
