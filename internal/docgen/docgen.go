// Package docgen implements the Doc Generator (C9): turns an OCR result
// into per-page Markdown/DOCX/searchable-PDF artifacts, and concatenates
// per-page artifacts into whole-document exports (spec §4.10). Grounded
// on the teacher's internal/epub Builder, which assembles a structured
// document (chapters -> container format) from plain fields rather than
// an external document-generation library; the same shape generalizes to
// assembling OCR text -> Markdown/DOCX/PDF here.
package docgen

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/scan2doc/internal/eventbus"
	"github.com/jackzampolin/scan2doc/internal/model"
	"github.com/jackzampolin/scan2doc/internal/pagestore"
	"github.com/jackzampolin/scan2doc/internal/queue"
	"github.com/jackzampolin/scan2doc/internal/store"
)

// Generator is the C9 coordinator. It subscribes to ocr:success and walks
// each page through the generating_markdown -> markdown_success ->
// generating_pdf -> pdf_success -> generating_docx -> completed chain
// (spec §4.2 state diagram): one Gen-queue task per page runs the whole
// chain, not one task per format, since the statuses are a single
// sequential path rather than independent branches.
type Generator struct {
	q       *queue.Queue
	db      *store.Store
	pages   *pagestore.Store
	bus     *eventbus.Bus
	log     *slog.Logger
	formats map[model.ArtifactFormat]bool
}

// New creates a Doc Generator. formats controls which of
// markdown/pdf/docx actually run; a format absent from the set is skipped
// and the chain advances straight to the next stage.
func New(q *queue.Queue, db *store.Store, pages *pagestore.Store, bus *eventbus.Bus, formats []string, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	set := make(map[model.ArtifactFormat]bool, len(formats))
	for _, f := range formats {
		set[model.ArtifactFormat(f)] = true
	}
	return &Generator{q: q, db: db, pages: pages, bus: bus, log: log, formats: set}
}

// Start subscribes to ocr:success and returns the unsubscribe func.
func (g *Generator) Start() func() {
	return g.bus.Subscribe(eventbus.OCRSuccess, func(payload any) {
		p, ok := payload.(eventbus.OCRSuccessPayload)
		if !ok {
			return
		}
		if err := g.Enqueue(context.Background(), p.PageID); err != nil {
			g.log.Warn("docgen: enqueue failed", "page_id", p.PageID, "err", err)
		}
	})
}

// genStage is one link of the generation chain: it runs from a known
// predecessor status, marks inProgress while running, and lands on
// success. Modeling the chain as data lets Resume restart partway through
// without redoing already-persisted artifacts (spec §5 "generating_* on
// boot are ... reset to their pending predecessors").
type genStage struct {
	format     model.ArtifactFormat
	from       model.Status
	inProgress model.Status
	success    model.Status
	fn         func(ctx context.Context, pageID string) error
}

func (g *Generator) stages() []genStage {
	return []genStage{
		{model.FormatMarkdown, model.StatusPendingGen, model.StatusGeneratingMarkdown, model.StatusMarkdownSuccess, g.generateMarkdown},
		{model.FormatPDF, model.StatusMarkdownSuccess, model.StatusGeneratingPDF, model.StatusPDFSuccess, g.generateSandwichPDF},
		{model.FormatDocx, model.StatusPDFSuccess, model.StatusGeneratingDocx, model.StatusCompleted, g.generateDocx},
	}
}

// Enqueue transitions a page into pending_gen and schedules its
// generation chain on the Gen queue (concurrency 1, spec §4.5).
func (g *Generator) Enqueue(ctx context.Context, pageID string) error {
	if err := g.pages.UpdateStatus(ctx, pageID, model.StatusPendingGen); err != nil {
		return fmt.Errorf("docgen enqueue %s: %w", pageID, err)
	}
	return g.schedule(pageID, 0)
}

// Resume re-admits a page left at a pending-generation predecessor status
// across a restart, continuing the chain from the matching stage without
// rerunning stages whose artifacts already persisted (spec §5).
func (g *Generator) Resume(pageID string, status model.Status) error {
	for i, st := range g.stages() {
		if st.from == status {
			return g.schedule(pageID, i)
		}
	}
	return fmt.Errorf("docgen resume %s: status %s has no pending generation stage", pageID, status)
}

func (g *Generator) schedule(pageID string, startIdx int) error {
	return g.q.Add(pageID, func(taskCtx context.Context) error {
		g.runChain(taskCtx, pageID, startIdx)
		return nil
	})
}

func (g *Generator) runChain(ctx context.Context, pageID string, startIdx int) {
	for _, st := range g.stages()[startIdx:] {
		if !g.step(ctx, pageID, st.format, st.inProgress, st.success, st.fn) {
			return
		}
	}
}

// step runs one format's generation. If the format isn't configured it
// still walks the state machine's legal from->inProgress->success edges
// (spec §4.2's diagram has no "skip" edge) but never calls fn, so no
// artifact is written for a format the caller didn't ask for. Returns
// false if the chain should stop (page now in error, or cancelled).
func (g *Generator) step(ctx context.Context, pageID string, format model.ArtifactFormat, inProgress, success model.Status, fn func(ctx context.Context, pageID string) error) bool {
	if err := g.pages.UpdateStatus(ctx, pageID, inProgress); err != nil {
		g.log.Warn("docgen: cannot enter stage", "page_id", pageID, "format", format, "err", err)
		return false
	}

	if !g.formats[format] {
		if err := g.pages.UpdateStatus(ctx, pageID, success); err != nil {
			g.log.Warn("docgen: cannot skip to next stage", "page_id", pageID, "format", format, "err", err)
			return false
		}
		return true
	}

	g.bus.Publish(eventbus.GenStart, eventbus.GenPayload{PageID: pageID, Format: format})

	if errCancelled(ctx) {
		return false
	}

	if err := fn(ctx, pageID); err != nil {
		_ = g.pages.UpdateStatus(ctx, pageID, model.StatusError)
		_ = g.pages.AppendLog(ctx, pageID, model.LogError, fmt.Sprintf("%s generation failed: %v", format, err))
		g.bus.Publish(eventbus.GenError, eventbus.GenPayload{PageID: pageID, Format: format, Err: err})
		return false
	}

	if err := g.pages.UpdateStatus(ctx, pageID, success); err != nil {
		g.log.Warn("docgen: cannot leave stage", "page_id", pageID, "format", format, "err", err)
		return false
	}
	g.bus.Publish(eventbus.GenSuccess, eventbus.GenPayload{PageID: pageID, Format: format})
	return true
}

func errCancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
