// Package ingest implements the Ingestor (C6): validates incoming files,
// fans PDFs out into pending pages, persists originals, and seeds queues
// (spec §4.7). Grounded on the teacher's internal/ingest/ingest.go for the
// overall shape (validate paths, derive metadata, single Ingest entry
// point returning a Result) and internal/jobs/job.go's Result/done
// reporting idiom, generalized from a DefraDB Book record to the
// page-lifecycle engine's Page/SourceFile rows.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/jackzampolin/scan2doc/internal/apperr"
	"github.com/jackzampolin/scan2doc/internal/eventbus"
	"github.com/jackzampolin/scan2doc/internal/model"
	"github.com/jackzampolin/scan2doc/internal/pagestore"
	"github.com/jackzampolin/scan2doc/internal/store"
)

// RenderEnqueuer enqueues a render task for one PDF-origin page. Supplied
// by the caller (cmd/scan2doc wiring) so this package does not import the
// render worker pool (C7) directly — cross-component coupling stays on
// the documented API/queue boundary (spec §4.3).
type RenderEnqueuer interface {
	EnqueueRender(pageID, sourceFileID string, pageNumber int) error
}

// ThumbnailGenerator produces a bounded-size, aspect-preserving thumbnail
// from decoded image bytes. Supplied by the caller so this package does
// not depend on golang.org/x/image/draw directly (that lives with the
// render package, which owns thumbnailing for rendered pages too).
type ThumbnailGenerator func(img image.Image, maxDim int) []byte

// File is one input to IngestFiles.
type File struct {
	Filename string
	MimeType string
	Content  []byte
}

// Options configures a single IngestFiles call (spec §4.7 "configurable
// per-call via opts").
type Options struct {
	MaxImageBytes int64
	MaxPDFBytes   int64
	ThumbnailMax  int
}

// Result reports the outcome of IngestFiles (spec §4.7 "{success, pages, error}").
type Result struct {
	Success bool
	Pages   []*model.Page
	Err     error
}

// Ingestor validates and admits files into the page-lifecycle engine.
type Ingestor struct {
	db       *store.Store
	pages    *pagestore.Store
	bus      *eventbus.Bus
	render   RenderEnqueuer
	thumb    ThumbnailGenerator
	log      *slog.Logger
}

// New creates an Ingestor.
func New(db *store.Store, pages *pagestore.Store, bus *eventbus.Bus, render RenderEnqueuer, thumb ThumbnailGenerator, log *slog.Logger) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{db: db, pages: pages, bus: bus, render: render, thumb: thumb, log: log}
}

// IngestFiles validates, persists, and enqueues work for a batch of
// files, preserving argument order across both images and PDFs (spec
// §4.7 ordering invariant). Partial success is reported as
// Result{Success:false, Pages: <non-empty>}.
func (ig *Ingestor) IngestFiles(ctx context.Context, files []File, opts Options) Result {
	var pages []*model.Page

	for _, f := range files {
		switch {
		case isPDF(f.MimeType, f.Filename):
			pdfPages, err := ig.ingestPDF(ctx, f, opts)
			if err != nil {
				return Result{Success: false, Pages: pages, Err: err}
			}
			pages = append(pages, pdfPages...)

		case isImage(f.MimeType, f.Filename):
			p, err := ig.ingestImage(ctx, f, opts)
			if err != nil {
				return Result{Success: false, Pages: pages, Err: err}
			}
			pages = append(pages, p)

		default:
			err := fmt.Errorf("%s: %w: unsupported media type %q", f.Filename, apperr.Validation, f.MimeType)
			return Result{Success: false, Pages: pages, Err: err}
		}
	}

	return Result{Success: true, Pages: pages}
}

// ingestImage measures dimensions, generates a thumbnail, and writes a
// ready page row (spec §4.7).
func (ig *Ingestor) ingestImage(ctx context.Context, f File, opts Options) (*model.Page, error) {
	maxBytes := opts.MaxImageBytes
	if int64(len(f.Content)) > maxBytes {
		return nil, fmt.Errorf("%s: %w: image exceeds %d bytes", f.Filename, apperr.Validation, maxBytes)
	}

	decoded, _, err := image.Decode(bytes.NewReader(f.Content))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: cannot decode image: %v", f.Filename, apperr.Validation, err)
	}
	bounds := decoded.Bounds()

	var thumb []byte
	if ig.thumb != nil {
		// Thumbnail failure is non-fatal (spec §4.8); the page still
		// transitions to ready with an empty thumbnail.
		func() {
			defer func() { _ = recover() }()
			thumb = ig.thumb(decoded, opts.ThumbnailMax)
		}()
	}

	p := &model.Page{
		ID:        uuid.New().String(),
		Filename:  f.Filename,
		Size:      int64(len(f.Content)),
		MimeType:  f.MimeType,
		Origin:    model.OriginUploadImage,
		Status:    model.StatusReady,
		Progress:  100,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Thumbnail: thumb,
		CreatedAt: time.Now(),
	}

	order, err := ig.db.GetNextOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Filename, err)
	}
	p.Order = order

	if err := ig.db.SavePageImage(ctx, &model.PageImage{PageID: p.ID, Blob: f.Content, Width: bounds.Dx(), Height: bounds.Dy()}); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Filename, err)
	}
	if err := ig.pages.AddPage(ctx, p); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Filename, err)
	}

	return p, nil
}

// ingestPDF persists the source file, reads the page count, reserves a
// contiguous order range, and inserts one pending_render page per PDF
// page (spec §4.7).
func (ig *Ingestor) ingestPDF(ctx context.Context, f File, opts Options) ([]*model.Page, error) {
	maxBytes := opts.MaxPDFBytes
	if int64(len(f.Content)) > maxBytes {
		return nil, fmt.Errorf("%s: %w: pdf exceeds %d bytes", f.Filename, apperr.Validation, maxBytes)
	}

	pageCount, err := api.PageCount(bytes.NewReader(f.Content), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: cannot read pdf: %v", f.Filename, apperr.Validation, err)
	}
	if pageCount <= 0 {
		return nil, fmt.Errorf("%s: %w: pdf has no pages", f.Filename, apperr.Validation)
	}

	sourceFileID := uuid.New().String()
	sf := &model.SourceFile{ID: sourceFileID, Filename: f.Filename, Size: int64(len(f.Content)), Content: f.Content}
	if err := ig.db.SaveFile(ctx, sf); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Filename, err)
	}

	firstOrder, err := ig.db.ReserveOrderRange(ctx, pageCount)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Filename, err)
	}

	pages := make([]*model.Page, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		pageNumber := i + 1
		p := &model.Page{
			ID:           uuid.New().String(),
			Filename:     fmt.Sprintf("%s (page %d)", f.Filename, pageNumber),
			Size:         0,
			MimeType:     "application/pdf",
			Origin:       model.OriginPDFGenerated,
			Status:       model.StatusPendingRender,
			Progress:     0,
			Order:        firstOrder + i,
			SourceFileID: sourceFileID,
			PageNumber:   pageNumber,
			CreatedAt:    time.Now(),
		}

		if err := ig.pages.AddPage(ctx, p); err != nil {
			return pages, fmt.Errorf("%s: page %d: %w", f.Filename, pageNumber, err)
		}
		pages = append(pages, p)

		if ig.render != nil {
			if err := ig.render.EnqueueRender(p.ID, sourceFileID, pageNumber); err != nil {
				ig.log.Warn("ingest: failed to enqueue render", "page_id", p.ID, "err", err)
			}
		}
	}

	return pages, nil
}

func isPDF(mimeType, filename string) bool {
	return mimeType == "application/pdf" || hasSuffix(filename, ".pdf")
}

func isImage(mimeType, filename string) bool {
	switch mimeType {
	case "image/png", "image/jpeg", "image/jpg", "image/gif":
		return true
	}
	return hasSuffix(filename, ".png") || hasSuffix(filename, ".jpg") || hasSuffix(filename, ".jpeg") || hasSuffix(filename, ".gif")
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
