package docgen

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/scan2doc/internal/eventbus"
	"github.com/jackzampolin/scan2doc/internal/model"
	"github.com/jackzampolin/scan2doc/internal/pagestore"
	"github.com/jackzampolin/scan2doc/internal/queue"
	"github.com/jackzampolin/scan2doc/internal/store"
)

func setup(t *testing.T) (*store.Store, *pagestore.Store, *eventbus.Bus) {
	t.Helper()
	db, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	bus := eventbus.New()
	ps := pagestore.New(db, bus)
	return db, ps, bus
}

func fakePageImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func addOCRSuccessPage(t *testing.T, db *store.Store, ps *pagestore.Store, id string) {
	t.Helper()
	ctx := context.Background()
	order, err := db.GetNextOrder(ctx)
	require.NoError(t, err)
	page := &model.Page{ID: id, Filename: id, Status: model.StatusReady, Order: order}
	require.NoError(t, ps.AddPage(ctx, page))
	require.NoError(t, db.SavePageImage(ctx, &model.PageImage{PageID: id, Blob: fakePageImage(t, 200, 300), Width: 200, Height: 300}))

	result := &model.OCRResult{
		Text: "Hello world",
		RawText: []model.OCRToken{
			{Token: "Hello", Box: [4]float64{0.1, 0.1, 0.3, 0.15}},
			{Token: "world", Box: [4]float64{0.35, 0.1, 0.5, 0.15}},
		},
		Boxes: []model.OCRBox{
			{Type: "figure", Box: [4]float64{0.1, 0.5, 0.6, 0.8}},
		},
		Raw: map[string]any{"text": "Hello world"},
	}
	require.NoError(t, ps.SetOCRResult(ctx, id, result))
}

func TestGenerator_RunsFullChainToCompleted(t *testing.T) {
	db, ps, bus := setup(t)
	addOCRSuccessPage(t, db, ps, "p1")

	q := queue.New("gen-test", 1)
	defer q.Shutdown()

	var successes []model.ArtifactFormat
	bus.Subscribe(eventbus.GenSuccess, func(payload any) {
		p := payload.(eventbus.GenPayload)
		successes = append(successes, p.Format)
	})

	gen := New(q, db, ps, bus, []string{"markdown", "pdf", "docx"}, nil)
	require.NoError(t, gen.Enqueue(context.Background(), "p1"))

	require.Eventually(t, func() bool {
		p := ps.Get("p1")
		return p != nil && p.Status == model.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, []model.ArtifactFormat{model.FormatMarkdown, model.FormatPDF, model.FormatDocx}, successes)

	md, err := db.GetArtifact(context.Background(), "p1", model.FormatMarkdown)
	require.NoError(t, err)
	require.Contains(t, string(md.Bytes), "Hello world")
	require.Contains(t, string(md.Bytes), "extracted:p1:0")

	images, err := db.ListExtractedImages(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, images, 1)

	pdfArtifact, err := db.GetArtifact(context.Background(), "p1", model.FormatPDF)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(pdfArtifact.Bytes, []byte("%PDF-1.7")))

	docx, err := db.GetArtifact(context.Background(), "p1", model.FormatDocx)
	require.NoError(t, err)
	require.NotEmpty(t, docx.Bytes)
}

func TestGenerator_SkipsUnconfiguredFormats(t *testing.T) {
	db, ps, bus := setup(t)
	addOCRSuccessPage(t, db, ps, "p2")

	q := queue.New("gen-test-skip", 1)
	defer q.Shutdown()

	gen := New(q, db, ps, bus, []string{"markdown"}, nil)
	require.NoError(t, gen.Enqueue(context.Background(), "p2"))

	require.Eventually(t, func() bool {
		p := ps.Get("p2")
		return p != nil && p.Status == model.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	_, err := db.GetArtifact(context.Background(), "p2", model.FormatPDF)
	require.Error(t, err)
	_, err = db.GetArtifact(context.Background(), "p2", model.FormatDocx)
	require.Error(t, err)
}

func TestExportDocument_MarkdownConcatenation(t *testing.T) {
	db, ps, bus := setup(t)
	addOCRSuccessPage(t, db, ps, "p1")
	addOCRSuccessPage(t, db, ps, "p2")

	q := queue.New("gen-test-export", 1)
	defer q.Shutdown()
	gen := New(q, db, ps, bus, []string{"markdown"}, nil)

	ctx := context.Background()
	require.NoError(t, gen.Enqueue(ctx, "p1"))
	require.NoError(t, gen.Enqueue(ctx, "p2"))
	require.Eventually(t, func() bool {
		return ps.Get("p1").Status == model.StatusCompleted && ps.Get("p2").Status == model.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	res, err := gen.ExportDocument(ctx, []string{"p1", "p2"}, model.FormatMarkdown, "2026-07-31_12-00-00")
	require.NoError(t, err)
	require.False(t, res.SomeNotReady)
	require.Equal(t, "document_2026-07-31_12-00-00.md", res.Filename)
	require.Contains(t, string(res.Bytes), "\n\n---\n\n")
}

func TestExportDocument_SomeNotReady(t *testing.T) {
	db, ps, bus := setup(t)
	addOCRSuccessPage(t, db, ps, "p1")

	ctx := context.Background()
	order, err := db.GetNextOrder(ctx)
	require.NoError(t, err)
	require.NoError(t, ps.AddPage(ctx, &model.Page{ID: "p2", Filename: "p2", Status: model.StatusPendingRender, Order: order}))

	q := queue.New("gen-test-notready", 1)
	defer q.Shutdown()
	gen := New(q, db, ps, bus, []string{"markdown"}, nil)
	require.NoError(t, gen.Enqueue(ctx, "p1"))
	require.Eventually(t, func() bool { return ps.Get("p1").Status == model.StatusCompleted }, 2*time.Second, 10*time.Millisecond)

	res, err := gen.ExportDocument(ctx, []string{"p1", "p2"}, model.FormatMarkdown, "2026-07-31_12-00-00")
	require.NoError(t, err)
	require.True(t, res.SomeNotReady)
	require.Equal(t, []string{"p2"}, res.NotReadyIDs)
}
