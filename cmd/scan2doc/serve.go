package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scan2doc/internal/api"
	"github.com/jackzampolin/scan2doc/internal/config"
	"github.com/jackzampolin/scan2doc/internal/home"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Boot the page-lifecycle engine and its HTTP surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8420", "HTTP listen address")
}

func newLogger() *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: GetLogLevel()})
	return slog.New(h)
}

func loadHomeAndConfig(log *slog.Logger) (*home.Dir, *config.Manager, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve home directory: %w", err)
	}
	if err := h.EnsureExists(); err != nil {
		return nil, nil, fmt.Errorf("create home directory: %w", err)
	}

	cfgPath := cfgFile
	if cfgPath == "" && h.ConfigExists() {
		cfgPath = h.ConfigPath()
	}
	if cfgPath == "" {
		if err := config.WriteDefault(h.ConfigPath()); err != nil {
			log.Warn("serve: failed to write default config", "err", err)
		}
	}

	cfgMgr, err := config.NewManager(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfgMgr.WatchConfig()
	return h, cfgMgr, nil
}

func runServe(ctx context.Context) error {
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

	server := api.New(svc.Pages, svc.Ingest, svc.OCR, svc.DocGen, svc.Config, log)
	httpSrv := &http.Server{Addr: serveAddr, Handler: server.Handler()}

	errCh := make(chan error, 1)
	go func() {
		log.Info("serve: listening", "addr", serveAddr, "home", h.Path())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("serve: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("serve: http shutdown error", "err", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}
