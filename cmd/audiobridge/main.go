// Command audiobridge is the operator CLI: it inspects manifests, browses a
// remote FTP endpoint and mints admin tokens for local testing.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"audiobridge/internal/app"
)

func newRootCmd(cfg app.Config) *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "audiobridge",
		Short:         "audiobridge operator tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newInspectCmd(),
		newFTPCmd(cfg),
		newTokenCmd(cfg),
	)
	return root
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

func main() {
	if err := newRootCmd(app.LoadConfig()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
