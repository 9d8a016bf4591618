package ingest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/scan2doc/internal/eventbus"
	"github.com/jackzampolin/scan2doc/internal/model"
	"github.com/jackzampolin/scan2doc/internal/pagestore"
	"github.com/jackzampolin/scan2doc/internal/store"
)

type fakeRenderEnqueuer struct {
	calls []string
}

func (f *fakeRenderEnqueuer) EnqueueRender(pageID, sourceFileID string, pageNumber int) error {
	f.calls = append(f.calls, pageID)
	return nil
}

func newTestIngestor(t *testing.T) (*Ingestor, *fakeRenderEnqueuer) {
	t.Helper()
	db, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := eventbus.New()
	ps := pagestore.New(db, bus)
	renderer := &fakeRenderEnqueuer{}
	return New(db, ps, bus, renderer, nil, nil), renderer
}

func fakePNG(t *testing.T, w, h int) []byte {
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

func TestIngestFiles_TwoImages(t *testing.T) {
	ig, _ := newTestIngestor(t)

	files := []File{
		{Filename: "A.png", MimeType: "image/png", Content: fakePNG(t, 10, 10)},
		{Filename: "B.png", MimeType: "image/png", Content: fakePNG(t, 20, 20)},
	}

	res := ig.IngestFiles(context.Background(), files, Options{MaxImageBytes: 10 << 20, MaxPDFBytes: 100 << 20, ThumbnailMax: 256})

	require.True(t, res.Success)
	require.Len(t, res.Pages, 2)
	require.Equal(t, 0, res.Pages[0].Order)
	require.Equal(t, 1, res.Pages[1].Order)
	require.Equal(t, model.StatusReady, res.Pages[0].Status)
	require.Equal(t, model.StatusReady, res.Pages[1].Status)
	require.Equal(t, 100, res.Pages[0].Progress)
}

func TestIngestFiles_OversizeImageRejected(t *testing.T) {
	ig, _ := newTestIngestor(t)

	files := []File{{Filename: "big.png", MimeType: "image/png", Content: fakePNG(t, 4, 4)}}
	res := ig.IngestFiles(context.Background(), files, Options{MaxImageBytes: 1, MaxPDFBytes: 100 << 20})

	require.False(t, res.Success)
	require.Error(t, res.Err)
	require.Empty(t, res.Pages)
}

func TestIngestFiles_UnsupportedMediaType(t *testing.T) {
	ig, _ := newTestIngestor(t)

	files := []File{{Filename: "readme.txt", MimeType: "text/plain", Content: []byte("hi")}}
	res := ig.IngestFiles(context.Background(), files, Options{MaxImageBytes: 10 << 20, MaxPDFBytes: 100 << 20})

	require.False(t, res.Success)
	require.Error(t, res.Err)
}

func TestIngestFiles_PartialSuccessPreservesPriorPages(t *testing.T) {
	ig, _ := newTestIngestor(t)

	files := []File{
		{Filename: "A.png", MimeType: "image/png", Content: fakePNG(t, 10, 10)},
		{Filename: "bad.txt", MimeType: "text/plain", Content: []byte("nope")},
	}
	res := ig.IngestFiles(context.Background(), files, Options{MaxImageBytes: 10 << 20, MaxPDFBytes: 100 << 20})

	require.False(t, res.Success)
	require.Len(t, res.Pages, 1)
	require.Equal(t, "A.png", res.Pages[0].Filename)
}
