package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/scan2doc/internal/eventbus"
	"github.com/jackzampolin/scan2doc/internal/model"
	"github.com/jackzampolin/scan2doc/internal/pagestore"
	"github.com/jackzampolin/scan2doc/internal/queue"
	"github.com/jackzampolin/scan2doc/internal/store"
)

// fakeRasterizer is the test double for the out-of-scope rendering
// primitive (spec §1 "the rendering primitives ... out of scope").
type fakeRasterizer struct {
	pages int
	fail  bool
}

func (f *fakeRasterizer) SaveToPNG(ctx context.Context, page int, scale float32, rawPayload io.Reader, output io.Writer) error {
	if f.fail {
		return context.DeadlineExceeded
	}
	img := image.NewRGBA(image.Rect(0, 0, 100, 140))
	for x := 0; x < 100; x++ {
		for y := 0; y < 140; y++ {
			img.Set(x, y, color.White)
		}
	}
	return png.Encode(output, img)
}

func (f *fakeRasterizer) PageCount(ctx context.Context, rawPayload io.Reader) (int, error) {
	return f.pages, nil
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

func TestPool_RenderSuccess(t *testing.T) {
	db, ps, bus := setup(t)
	ctx := context.Background()

	sf := &model.SourceFile{ID: "sf1", Filename: "doc.pdf", Content: []byte("%PDF-fake")}
	require.NoError(t, db.SaveFile(ctx, sf))

	page := &model.Page{
		ID: "p1", Origin: model.OriginPDFGenerated, Status: model.StatusPendingRender,
		SourceFileID: "sf1", PageNumber: 1, Filename: "doc.pdf (page 1)",
	}
	order, err := db.GetNextOrder(ctx)
	require.NoError(t, err)
	page.Order = order
	require.NoError(t, ps.AddPage(ctx, page))

	var gotDone bool
	bus.Subscribe(eventbus.RenderDone, func(payload any) { gotDone = true })

	q := queue.New("render-test", 1)
	defer q.Shutdown()
	pool := New(q, &fakeRasterizer{pages: 1}, db, ps, bus, 64, nil)

	require.NoError(t, pool.EnqueueRender("p1", "sf1", 1))

	require.Eventually(t, func() bool {
		p := ps.Get("p1")
		return p != nil && p.Status == model.StatusReady
	}, 2*time.Second, 10*time.Millisecond)

	require.True(t, gotDone)

	img, err := db.GetPageImage(ctx, "p1")
	require.NoError(t, err)
	require.NotEmpty(t, img.Blob)
}

func TestPool_RenderFailureSetsError(t *testing.T) {
	db, ps, bus := setup(t)
	ctx := context.Background()

	sf := &model.SourceFile{ID: "sf2", Filename: "doc.pdf", Content: []byte("%PDF-fake")}
	require.NoError(t, db.SaveFile(ctx, sf))

	page := &model.Page{ID: "p2", Origin: model.OriginPDFGenerated, Status: model.StatusPendingRender, SourceFileID: "sf2", PageNumber: 1, Filename: "x"}
	order, err := db.GetNextOrder(ctx)
	require.NoError(t, err)
	page.Order = order
	require.NoError(t, ps.AddPage(ctx, page))

	q := queue.New("render-test-fail", 1)
	defer q.Shutdown()
	pool := New(q, &fakeRasterizer{fail: true}, db, ps, bus, 64, nil)

	require.NoError(t, pool.EnqueueRender("p2", "sf2", 1))

	require.Eventually(t, func() bool {
		p := ps.Get("p2")
		return p != nil && p.Status == model.StatusError
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMakeThumbnail_SmallImagePassesThrough(t *testing.T) {
	pool := &Pool{thumbnailMax: 256}
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	thumb := pool.makeThumbnail(buf.Bytes())
	require.Equal(t, buf.Bytes(), thumb)
}
