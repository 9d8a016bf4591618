package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/scan2doc/internal/config"
	"github.com/jackzampolin/scan2doc/internal/docgen"
	"github.com/jackzampolin/scan2doc/internal/eventbus"
	"github.com/jackzampolin/scan2doc/internal/health"
	"github.com/jackzampolin/scan2doc/internal/home"
	"github.com/jackzampolin/scan2doc/internal/ingest"
	"github.com/jackzampolin/scan2doc/internal/ocr"
	"github.com/jackzampolin/scan2doc/internal/pagestore"
	"github.com/jackzampolin/scan2doc/internal/queue"
	"github.com/jackzampolin/scan2doc/internal/render"
	"github.com/jackzampolin/scan2doc/internal/resume"
	"github.com/jackzampolin/scan2doc/internal/store"
	"github.com/jackzampolin/scan2doc/internal/svcctx"
)

// buildApp wires every component together per the engine's component
// table (spec §2): Object Store, Page Store, event bus, Health Monitor,
// queue Manager, Ingestor, render Pool, OCR Coordinator, and Doc
// Generator, then runs the Resume Controller so an interrupted prior
// process's in-flight pages pick back up (spec §5).
func buildApp(ctx context.Context, h *home.Dir, cfgMgr *config.Manager, logger *slog.Logger) (*svcctx.Services, func(), error) {
	cfg := cfgMgr.Get()

	db, err := store.Open(ctx, h.DBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New()
	pages := pagestore.New(db, bus)
	if err := pages.LoadFromStore(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("load pages: %w", err)
	}

	healthMon := health.New(cfg.OCR.BaseURL, cfg.Health.PollInterval, cfg.Health.PollTimeout, bus, logger)
	healthMon.Start(ctx)

	queues := queue.NewManager(cfg.Queues.RenderConcurrency, cfg.Queues.OCRConcurrency, cfg.Queues.GenConcurrency)

	renderPool := render.New(queues.Render, render.UnimplementedRasterizer{}, db, pages, bus, cfg.Ingest.ThumbnailMax, logger)
	ingestor := ingest.New(db, pages, bus, renderPool, nil, logger)
	ocrCoord := ocr.New(cfg.OCR.BaseURL, config.ResolveEnvVars(cfg.OCR.APIKey), cfg.OCR.RequestTimeout, healthMon, queues.OCR, db, pages, bus, logger)
	docGen := docgen.New(queues.Gen, db, pages, bus, cfg.Export.Formats, logger)
	docGenUnsub := docGen.Start()

	resumeCtl := resume.New(db, pages, renderPool, ocrCoord, docGen, ocr.Mode(cfg.OCR.DefaultMode), logger)
	if err := resumeCtl.Run(ctx); err != nil {
		logger.Warn("resume: boot recovery incomplete", "err", err)
	}

	svc := &svcctx.Services{
		Store:  db,
		Pages:  pages,
		Bus:    bus,
		Health: healthMon,
		Queues: queues,
		Ingest: ingestor,
		Render: renderPool,
		OCR:    ocrCoord,
		DocGen: docGen,
		Config: cfgMgr,
		Logger: logger,
		Home:   h,
	}

	cleanup := func() {
		docGenUnsub()
		healthMon.Stop()
		queues.Shutdown()
		_ = db.Close()
	}
	return svc, cleanup, nil
}
