// Package render implements the Render Worker Pool (C7): off-main-thread
// raster rendering for PDF pages, communicated with via messages (spec
// §4.8). The rasterization primitive itself is out of scope (spec §1);
// Rasterizer is shaped after Nitro-lazypdf's SaveToPNG/PageCount
// signatures (context + io.Reader payload in, error out) so a real cgo
// mupdf backend could implement it without changing this package, while
// the pure-Go test double in render_test.go needs no cgo dependency.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/image/draw"

	"github.com/jackzampolin/scan2doc/internal/apperr"
	"github.com/jackzampolin/scan2doc/internal/eventbus"
	"github.com/jackzampolin/scan2doc/internal/model"
	"github.com/jackzampolin/scan2doc/internal/pagestore"
	"github.com/jackzampolin/scan2doc/internal/queue"
	"github.com/jackzampolin/scan2doc/internal/store"
)

// Rasterizer turns one PDF page into raster bytes. rawPayload is the full
// PDF content; output receives an encoded image (PNG). Implementations
// MUST honor ctx cancellation as their suspension point (spec §5).
type Rasterizer interface {
	SaveToPNG(ctx context.Context, page int, scale float32, rawPayload io.Reader, output io.Writer) error
	PageCount(ctx context.Context, rawPayload io.Reader) (int, error)
}

// docCache caches a loaded document's raw bytes keyed by sourceFileId to
// amortize loading across pages of the same file, reference-counted by
// outstanding render tasks and destroyed at zero (spec §4.8, §5).
type docCache struct {
	mu    sync.Mutex
	bytes map[string][]byte
	refs  map[string]int
}

func newDocCache() *docCache {
	return &docCache{bytes: make(map[string][]byte), refs: make(map[string]int)}
}

func (c *docCache) acquire(id string, loader func() ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.bytes[id]; ok {
		c.refs[id]++
		return b, nil
	}
	b, err := loader()
	if err != nil {
		return nil, err
	}
	c.bytes[id] = b
	c.refs[id] = 1
	return b, nil
}

// release decrements the reference count and destroys the cached bytes
// once no render task still needs them (spec §4.8 cleanup policy).
func (c *docCache) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs[id]--
	if c.refs[id] <= 0 {
		delete(c.bytes, id)
		delete(c.refs, id)
	}
}

// Pool is the C7 coordinator: it owns the per-pageId task correlation
// implicitly via queue.Queue's cancellation map, the document cache, and
// thumbnail generation.
type Pool struct {
	q          *queue.Queue
	rasterizer Rasterizer
	db         *store.Store
	pages      *pagestore.Store
	bus        *eventbus.Bus
	cache      *docCache
	log        *slog.Logger

	scale       float32
	thumbnailMax int
}

// New creates a render Pool that enqueues work onto q (the render queue
// from queue.Manager, concurrency 2 per spec §4.5).
func New(q *queue.Queue, rasterizer Rasterizer, db *store.Store, pages *pagestore.Store, bus *eventbus.Bus, thumbnailMax int, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		q:            q,
		rasterizer:   rasterizer,
		db:           db,
		pages:        pages,
		bus:          bus,
		cache:        newDocCache(),
		log:          log,
		scale:        2.0,
		thumbnailMax: thumbnailMax,
	}
}

// EnqueueRender implements ingest.RenderEnqueuer.
func (p *Pool) EnqueueRender(pageID, sourceFileID string, pageNumber int) error {
	return p.q.Add(pageID, func(ctx context.Context) error {
		p.runOne(ctx, pageID, sourceFileID, pageNumber)
		return nil
	})
}

func (p *Pool) runOne(ctx context.Context, pageID, sourceFileID string, pageNumber int) {
	if err := p.pages.UpdateStatus(ctx, pageID, model.StatusRendering); err != nil {
		p.log.Warn("render: cannot enter rendering", "page_id", pageID, "err", err)
		return
	}
	p.bus.Publish(eventbus.RenderStart, eventbus.RenderStartPayload{PageID: pageID})

	blob, width, height, err := p.render(ctx, sourceFileID, pageNumber)
	if err != nil {
		if errCancelled(ctx) {
			// Cancellation before/mid work: put the page back to its
			// pre-submit status, no error (spec §4.2, §5). ctx is already
			// cancelled, so the write uses a context without cancellation.
			_ = p.pages.UpdatePage(context.WithoutCancel(ctx), pageID, func(pg *model.Page) {
				pg.Status = model.StatusPendingRender
			})
			return
		}
		_ = p.pages.UpdateStatus(ctx, pageID, model.StatusError)
		_ = p.pages.AppendLog(ctx, pageID, model.LogError, fmt.Sprintf("render failed: %v", err))
		p.bus.Publish(eventbus.RenderError, eventbus.RenderErrorPayload{PageID: pageID, Err: err})
		p.releaseIfDone(ctx, sourceFileID)
		return
	}

	if err := p.db.SavePageImage(ctx, &model.PageImage{PageID: pageID, Blob: blob, Width: width, Height: height}); err != nil {
		_ = p.pages.UpdateStatus(ctx, pageID, model.StatusError)
		p.bus.Publish(eventbus.RenderError, eventbus.RenderErrorPayload{PageID: pageID, Err: err})
		p.releaseIfDone(ctx, sourceFileID)
		return
	}

	thumb := p.makeThumbnail(blob)
	_ = p.pages.UpdatePage(ctx, pageID, func(pg *model.Page) {
		pg.Width = width
		pg.Height = height
		pg.Thumbnail = thumb
	})
	if err := p.pages.UpdateStatus(ctx, pageID, model.StatusReady); err != nil {
		p.log.Warn("render: cannot enter ready", "page_id", pageID, "err", err)
	}
	p.bus.Publish(eventbus.RenderDone, eventbus.RenderDonePayload{PageID: pageID, Thumbnail: thumb, Width: width, Height: height, Size: int64(len(blob))})

	p.releaseIfDone(ctx, sourceFileID)
}

func (p *Pool) render(ctx context.Context, sourceFileID string, pageNumber int) (blob []byte, width, height int, err error) {
	content, err := p.cache.acquire(sourceFileID, func() ([]byte, error) {
		f, err := p.db.GetFile(ctx, sourceFileID)
		if err != nil {
			return nil, fmt.Errorf("%w: source file missing", apperr.PermanentIO)
		}
		return f.Content, nil
	})
	if err != nil {
		return nil, 0, 0, err
	}
	defer p.cache.release(sourceFileID)

	var buf bytes.Buffer
	if err := p.rasterizer.SaveToPNG(ctx, pageNumber, p.scale, bytes.NewReader(content), &buf); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", apperr.TransientIO, err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: decode rendered page: %v", apperr.PermanentIO, err)
	}
	return buf.Bytes(), cfg.Width, cfg.Height, nil
}

// makeThumbnail downscales the rendered blob, preserving aspect ratio and
// never upscaling (spec §4.7). Failure is non-fatal (spec §4.8): returns
// nil rather than erroring.
func (p *Pool) makeThumbnail(blob []byte) []byte {
	if p.thumbnailMax <= 0 {
		return nil
	}
	src, _, err := image.Decode(bytes.NewReader(blob))
	if err != nil {
		p.log.Debug("render: thumbnail decode failed", "err", err)
		return nil
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= p.thumbnailMax && h <= p.thumbnailMax {
		return blob
	}

	scale := float64(p.thumbnailMax) / float64(w)
	if hScale := float64(p.thumbnailMax) / float64(h); hScale < scale {
		scale = hScale
	}
	dstW := int(float64(w) * scale)
	dstH := int(float64(h) * scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := encodePNG(&out, dst); err != nil {
		p.log.Debug("render: thumbnail encode failed", "err", err)
		return nil
	}
	return out.Bytes()
}

// DestroyDocument evicts sourceFileID from the cache unconditionally,
// called once the last page of that file has left pending_render/rendering
// (spec §4.8 cleanup policy).
func (p *Pool) DestroyDocument(sourceFileID string) {
	p.cache.mu.Lock()
	delete(p.cache.bytes, sourceFileID)
	delete(p.cache.refs, sourceFileID)
	p.cache.mu.Unlock()
}

// releaseIfDone checks whether any page for sourceFileID is still
// pending_render/rendering and, if not, destroys the cached document and
// the source file row (spec §4.8).
func (p *Pool) releaseIfDone(ctx context.Context, sourceFileID string) {
	if sourceFileID == "" {
		return
	}
	for _, st := range []model.Status{model.StatusPendingRender, model.StatusRendering} {
		pages, err := p.db.GetPagesByStatus(ctx, st)
		if err != nil {
			return
		}
		for _, pg := range pages {
			if pg.SourceFileID == sourceFileID {
				return
			}
		}
	}
	p.DestroyDocument(sourceFileID)
	_ = p.db.DeleteFile(ctx, sourceFileID)
}

func errCancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
