package resume

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/scan2doc/internal/docgen"
	"github.com/jackzampolin/scan2doc/internal/eventbus"
	"github.com/jackzampolin/scan2doc/internal/health"
	"github.com/jackzampolin/scan2doc/internal/model"
	"github.com/jackzampolin/scan2doc/internal/ocr"
	"github.com/jackzampolin/scan2doc/internal/pagestore"
	"github.com/jackzampolin/scan2doc/internal/queue"
	"github.com/jackzampolin/scan2doc/internal/store"
)

type fakeHealth struct{ status health.Status }

func (f *fakeHealth) Current() health.Status { return f.status }

type fakeRenderEnqueuer struct {
	enqueued []string
}

func (f *fakeRenderEnqueuer) EnqueueRender(pageID, sourceFileID string, pageNumber int) error {
	f.enqueued = append(f.enqueued, pageID)
	return nil
}

func setup(t *testing.T) (*store.Store, *pagestore.Store, *eventbus.Bus) {
	t.Helper()
	db, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	bus := eventbus.New()
	ps := pagestore.New(db, bus)
	return db, ps, bus
}

func TestRun_ResumesRenderingPageWithSourceFile(t *testing.T) {
	db, ps, bus := setup(t)
	ctx := context.Background()

	require.NoError(t, db.SaveFile(ctx, &model.SourceFile{ID: "f1", Filename: "book.pdf", Content: []byte("pdf")}))
	require.NoError(t, ps.AddPage(ctx, &model.Page{ID: "p1", Status: model.StatusRendering, SourceFileID: "f1", PageNumber: 1}))

	renderFake := &fakeRenderEnqueuer{}
	hs := &fakeHealth{status: health.Status{IsAvailable: true}}
	ocrCoord := ocr.New("http://unused.invalid", "", time.Second, hs, queue.New("ocr", 1), db, ps, bus, nil)
	gen := docgen.New(queue.New("gen", 1), db, ps, bus, nil, nil)

	ctrl := New(db, ps, renderFake, ocrCoord, gen, ocr.ModeDocument, nil)
	require.NoError(t, ctrl.Run(ctx))

	p := ps.Get("p1")
	require.Equal(t, model.StatusPendingRender, p.Status)
	require.Equal(t, []string{"p1"}, renderFake.enqueued)
}

func TestRun_MarksErrorWhenSourceFileMissing(t *testing.T) {
	db, ps, bus := setup(t)
	ctx := context.Background()

	// The pages table's foreign key rejects a page whose file was never
	// stored, so the file is stored, the page added, then the file deleted;
	// the projection is then reloaded from the store as on boot.
	require.NoError(t, db.SaveFile(ctx, &model.SourceFile{ID: "missing-file", Filename: "book.pdf", Content: []byte("pdf")}))
	require.NoError(t, ps.AddPage(ctx, &model.Page{ID: "p1", Status: model.StatusRendering, SourceFileID: "missing-file", PageNumber: 1}))
	require.NoError(t, db.DeleteFile(ctx, "missing-file"))
	require.NoError(t, ps.LoadFromStore(ctx))

	renderFake := &fakeRenderEnqueuer{}
	hs := &fakeHealth{status: health.Status{IsAvailable: true}}
	ocrCoord := ocr.New("http://unused.invalid", "", time.Second, hs, queue.New("ocr", 1), db, ps, bus, nil)
	gen := docgen.New(queue.New("gen", 1), db, ps, bus, nil, nil)

	ctrl := New(db, ps, renderFake, ocrCoord, gen, ocr.ModeDocument, nil)
	require.NoError(t, ctrl.Run(ctx))

	p := ps.Get("p1")
	require.Equal(t, model.StatusError, p.Status)
	require.Empty(t, renderFake.enqueued)
}

func TestRun_ResumesRecognizingPageOntoOCRQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"text": "resumed"})
	}))
	defer srv.Close()

	db, ps, bus := setup(t)
	ctx := context.Background()
	require.NoError(t, ps.AddPage(ctx, &model.Page{ID: "p1", Status: model.StatusRecognizing}))
	require.NoError(t, db.SavePageImage(ctx, &model.PageImage{PageID: "p1", Blob: []byte("png"), Width: 1, Height: 1}))

	renderFake := &fakeRenderEnqueuer{}
	hs := &fakeHealth{status: health.Status{IsAvailable: true}}
	ocrCoord := ocr.New(srv.URL, "", 2*time.Second, hs, queue.New("ocr", 1), db, ps, bus, nil)
	gen := docgen.New(queue.New("gen", 1), db, ps, bus, nil, nil)

	ctrl := New(db, ps, renderFake, ocrCoord, gen, ocr.ModeDocument, nil)
	require.NoError(t, ctrl.Run(ctx))

	require.Eventually(t, func() bool {
		p := ps.Get("p1")
		return p != nil && p.Status == model.StatusOCRSuccess
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRun_ResumesGeneratingMarkdownBackToPendingGen(t *testing.T) {
	db, ps, bus := setup(t)
	ctx := context.Background()
	require.NoError(t, ps.AddPage(ctx, &model.Page{ID: "p1", Status: model.StatusGeneratingMarkdown}))
	require.NoError(t, db.SavePageImage(ctx, &model.PageImage{PageID: "p1", Blob: []byte("png"), Width: 1, Height: 1}))

	renderFake := &fakeRenderEnqueuer{}
	hs := &fakeHealth{status: health.Status{IsAvailable: true}}
	ocrCoord := ocr.New("http://unused.invalid", "", time.Second, hs, queue.New("ocr", 1), db, ps, bus, nil)
	gen := docgen.New(queue.New("gen", 1), db, ps, bus, []string{}, nil)

	ctrl := New(db, ps, renderFake, ocrCoord, gen, ocr.ModeDocument, nil)
	require.NoError(t, ctrl.Run(ctx))

	require.Eventually(t, func() bool {
		p := ps.Get("p1")
		return p != nil && p.Status != model.StatusGeneratingMarkdown
	}, 2*time.Second, 10*time.Millisecond)
}
