// Package resume implements the Resume Controller: on boot, after the
// Page Store has loaded from the Object Store, it finds pages left
// mid-pipeline by a prior process, folds their in-flight status back to
// a pending predecessor, and re-admits them onto the appropriate queue
// (spec §5 "Resume on boot").
package resume

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/scan2doc/internal/apperr"
	"github.com/jackzampolin/scan2doc/internal/docgen"
	"github.com/jackzampolin/scan2doc/internal/model"
	"github.com/jackzampolin/scan2doc/internal/ocr"
	"github.com/jackzampolin/scan2doc/internal/pagestore"
	"github.com/jackzampolin/scan2doc/internal/store"
)

// RenderEnqueuer is the render Pool's admission entry point; a narrow
// interface here avoids resume depending on render's Rasterizer wiring.
type RenderEnqueuer interface {
	EnqueueRender(pageID, sourceFileID string, pageNumber int) error
}

// Controller runs the boot resume algorithm once against the already
// loaded Page Store.
type Controller struct {
	db     *store.Store
	pages  *pagestore.Store
	render RenderEnqueuer
	ocr    *ocr.Coordinator
	gen    *docgen.Generator
	mode   ocr.Mode
	log    *slog.Logger
}

// New creates a Resume Controller. mode is the OCR mode used to re-admit
// pages that were mid-recognition.
func New(db *store.Store, pages *pagestore.Store, render RenderEnqueuer, ocrCoord *ocr.Coordinator, gen *docgen.Generator, mode ocr.Mode, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{db: db, pages: pages, render: render, ocr: ocrCoord, gen: gen, mode: mode, log: log}
}

// Run executes the resume algorithm. Callers must call
// pages.LoadFromStore(ctx) before Run (spec §5 "C5 calls loadFromStore;
// then the Resume Controller...").
func (c *Controller) Run(ctx context.Context) error {
	if err := c.resumeRendering(ctx); err != nil {
		return fmt.Errorf("resume rendering: %w", err)
	}
	if err := c.resumeRecognizing(ctx); err != nil {
		return fmt.Errorf("resume recognizing: %w", err)
	}
	if err := c.resumeGenerating(ctx); err != nil {
		return fmt.Errorf("resume generating: %w", err)
	}
	return nil
}

// resumeRendering folds rendering back to pending_render, then re-admits
// every pending_render page once; a page whose source file is gone (or whose
// source_file_id was cleared when its file was deleted) is marked error
// instead (spec §5).
func (c *Controller) resumeRendering(ctx context.Context) error {
	rendering, err := c.db.GetPagesByStatus(ctx, model.StatusRendering)
	if err != nil {
		return err
	}
	for _, p := range rendering {
		if err := c.pages.ResetStatus(ctx, p.ID, model.StatusPendingRender); err != nil {
			return fmt.Errorf("reset page %s: %w", p.ID, err)
		}
		p.Status = model.StatusPendingRender
	}

	pending, err := c.db.GetPagesByStatus(ctx, model.StatusPendingRender)
	if err != nil {
		return err
	}
	// pending already holds the pages just folded back from rendering.
	for _, p := range pending {
		missing := p.SourceFileID == ""
		if !missing {
			_, ferr := c.db.GetFile(ctx, p.SourceFileID)
			missing = ferr != nil
		}
		if missing {
			// pending_render -> error is not a CanTransition edge, so the
			// error status is written directly.
			_ = c.pages.UpdatePage(ctx, p.ID, func(pg *model.Page) {
				pg.PreErrorStatus = pg.Status
				pg.Status = model.StatusError
			})
			_ = c.pages.AppendLog(ctx, p.ID, model.LogError, "resume: source file missing, cannot re-render")
			continue
		}
		if err := c.render.EnqueueRender(p.ID, p.SourceFileID, p.PageNumber); err != nil && !apperr.Is(err, apperr.AlreadyInFlight) {
			c.log.Warn("resume: re-admit render failed", "page_id", p.ID, "err", err)
		}
	}
	return nil
}

// resumeRecognizing folds recognizing back to pending_ocr and re-admits
// onto the OCR queue directly, skipping Submit's ready-state admission
// check since the page is already at pending_ocr.
func (c *Controller) resumeRecognizing(ctx context.Context) error {
	recognizing, err := c.db.GetPagesByStatus(ctx, model.StatusRecognizing)
	if err != nil {
		return err
	}
	for _, p := range recognizing {
		if err := c.pages.ResetStatus(ctx, p.ID, model.StatusPendingOCR); err != nil {
			return fmt.Errorf("reset page %s: %w", p.ID, err)
		}
	}

	pending, err := c.db.GetPagesByStatus(ctx, model.StatusPendingOCR)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if err := c.ocr.Resume(ctx, p.ID, c.mode); err != nil {
			c.log.Warn("resume: re-admit ocr failed", "page_id", p.ID, "err", err)
		}
	}
	return nil
}

// resumeGenerating folds each generating_* status back to its pending
// predecessor and re-admits the Doc Generator's chain from that stage
// (spec §5 "generating_* ... reset to their pending predecessors and
// re-admitted if pre-conditions still hold").
func (c *Controller) resumeGenerating(ctx context.Context) error {
	foldBack := []struct {
		from model.Status
		to   model.Status
	}{
		{model.StatusGeneratingMarkdown, model.StatusPendingGen},
		{model.StatusGeneratingPDF, model.StatusMarkdownSuccess},
		{model.StatusGeneratingDocx, model.StatusPDFSuccess},
	}
	for _, fb := range foldBack {
		pages, err := c.db.GetPagesByStatus(ctx, fb.from)
		if err != nil {
			return err
		}
		for _, p := range pages {
			if err := c.pages.ResetStatus(ctx, p.ID, fb.to); err != nil {
				return fmt.Errorf("reset page %s: %w", p.ID, err)
			}
		}
	}

	resumable := []model.Status{model.StatusPendingGen, model.StatusMarkdownSuccess, model.StatusPDFSuccess}
	for _, status := range resumable {
		pages, err := c.db.GetPagesByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, p := range pages {
			if err := c.gen.Resume(p.ID, status); err != nil {
				c.log.Warn("resume: re-admit generation failed", "page_id", p.ID, "err", err)
			}
		}
	}
	return nil
}
