package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scan2doc/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <files...>",
	Short: "Ingest files into the local store without starting the HTTP surface",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd, args)
	},
}

func runIngest(cmd *cobra.Command, paths []string) error {
	ctx := cmd.Context()
	log := newLogger()

	h, cfgMgr, err := loadHomeAndConfig(log)
	if err != nil {
		return err
	}

	svc, cleanup, err := buildApp(ctx, h, cfgMgr, log)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer cleanup()

	var files []ingest.File
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		mimeType := mime.TypeByExtension(filepath.Ext(path))
		files = append(files, ingest.File{Filename: filepath.Base(path), MimeType: mimeType, Content: content})
	}

	cfg := cfgMgr.Get()
	result := svc.Ingest.IngestFiles(ctx, files, ingest.Options{
		MaxImageBytes: cfg.Ingest.MaxImageBytes,
		MaxPDFBytes:   cfg.Ingest.MaxPDFBytes,
		ThumbnailMax:  cfg.Ingest.ThumbnailMax,
	})
	if !result.Success {
		return fmt.Errorf("ingest: %w", result.Err)
	}

	fmt.Printf("ingested %d page(s)\n", len(result.Pages))
	return nil
}
