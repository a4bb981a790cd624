package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"audiobridge/internal/audio"
	"audiobridge/internal/usecase"
)

func newInspectCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <file.torrent>",
		Short: "Print a manifest and its audio selection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read manifest: %w", err)
			}
			res, err := usecase.InspectManifest{}.Execute(cmd.Context(), raw)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			m := res.Manifest
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			printf(out, "Name:      %s\n", m.Name)
			printf(out, "InfoHash:  %s\n", m.ContentHash)
			printf(out, "TotalSize: %d\n", m.TotalSize)
			printf(out, "Files:     %d\n", len(m.Files))
			for _, a := range m.AnnounceURIs {
				printf(out, "Announce:  %s\n", a)
			}
			printf(out, "Magnet:    %s\n", m.MagnetURI)
			printf(out, "\nAudio (%d files, %d bytes):\n", len(res.Audio), res.AudioBytes)
			for _, f := range res.Audio {
				printf(out, "  %12d  %-10s  %s\n", f.Length, audio.MediaType(f.Path()), f.Path())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}
