package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/scan2doc/internal/eventbus"
	"github.com/jackzampolin/scan2doc/internal/health"
	"github.com/jackzampolin/scan2doc/internal/model"
	"github.com/jackzampolin/scan2doc/internal/pagestore"
	"github.com/jackzampolin/scan2doc/internal/queue"
	"github.com/jackzampolin/scan2doc/internal/store"
)

type fakeHealth struct {
	status health.Status
}

func (f *fakeHealth) Current() health.Status { return f.status }

func setup(t *testing.T) (*store.Store, *pagestore.Store, *eventbus.Bus) {
	t.Helper()
	db, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	bus := eventbus.New()
	ps := pagestore.New(db, bus)
	return db, ps, bus
}

func addReadyPage(t *testing.T, db *store.Store, ps *pagestore.Store, id string) {
	t.Helper()
	ctx := context.Background()
	order, err := db.GetNextOrder(ctx)
	require.NoError(t, err)
	page := &model.Page{ID: id, Filename: id, Status: model.StatusReady, Progress: 100, Order: order}
	require.NoError(t, ps.AddPage(ctx, page))
	require.NoError(t, db.SavePageImage(ctx, &model.PageImage{PageID: id, Blob: []byte("fake-png"), Width: 10, Height: 10}))
}

func TestSubmit_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text": "hello world",
			"raw_text": []map[string]any{
				{"token": "hello", "box": []float64{0, 0, 1, 1}},
			},
			"boxes":  []map[string]any{{"type": "paragraph", "box": []float64{0, 0, 1, 1}}},
			"extra":  "preserved",
		})
	}))
	defer srv.Close()

	db, ps, bus := setup(t)
	addReadyPage(t, db, ps, "p1")

	hs := &fakeHealth{status: health.Status{IsAvailable: true}}
	q := queue.New("ocr-test", 1)
	defer q.Shutdown()

	var success bool
	bus.Subscribe(eventbus.OCRSuccess, func(payload any) { success = true })

	coord := New(srv.URL, "", 5*time.Second, hs, q, db, ps, bus, nil)
	require.NoError(t, coord.Submit(context.Background(), "p1", ModeDocument))

	require.Eventually(t, func() bool {
		p := ps.Get("p1")
		return p != nil && p.Status == model.StatusOCRSuccess
	}, 2*time.Second, 10*time.Millisecond)

	require.True(t, success)
	p := ps.Get("p1")
	require.NotNil(t, p.OCR)
	require.Equal(t, "hello world", p.OCR.Text)
	require.Equal(t, "preserved", p.OCR.Raw["extra"])
}

func TestSubmit_ServiceUnavailable(t *testing.T) {
	db, ps, bus := setup(t)
	addReadyPage(t, db, ps, "p1")

	hs := &fakeHealth{status: health.Status{IsAvailable: false}}
	q := queue.New("ocr-test-unavail", 1)
	defer q.Shutdown()

	coord := New("http://unused.invalid", "", 5*time.Second, hs, q, db, ps, bus, nil)
	err := coord.Submit(context.Background(), "p1", ModeDocument)
	require.Error(t, err)

	p := ps.Get("p1")
	require.Equal(t, model.StatusReady, p.Status)
}

func TestSubmitBatch_FiltersToReadyOnly(t *testing.T) {
	db, ps, bus := setup(t)
	addReadyPage(t, db, ps, "ready1")

	ctx := context.Background()
	order, err := db.GetNextOrder(ctx)
	require.NoError(t, err)
	other := &model.Page{ID: "pending1", Filename: "x", Status: model.StatusPendingRender, Order: order}
	require.NoError(t, ps.AddPage(ctx, other))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"text": "ok"})
	}))
	defer srv.Close()

	hs := &fakeHealth{status: health.Status{IsAvailable: true}}
	q := queue.New("ocr-test-batch", 1)
	defer q.Shutdown()

	coord := New(srv.URL, "", 5*time.Second, hs, q, db, ps, bus, nil)
	res := coord.SubmitBatch(ctx, []string{"ready1", "pending1", "missing"}, ModeDocument)

	require.False(t, res.NothingEligible)
	require.Equal(t, []string{"ready1"}, res.Accepted)
}

func TestSubmitBatch_NothingEligible(t *testing.T) {
	db, ps, bus := setup(t)
	hs := &fakeHealth{status: health.Status{IsAvailable: true}}
	q := queue.New("ocr-test-nothing", 1)
	defer q.Shutdown()

	coord := New("http://unused.invalid", "", 5*time.Second, hs, q, db, ps, bus, nil)
	res := coord.SubmitBatch(context.Background(), []string{"nope"}, ModeDocument)

	require.True(t, res.NothingEligible)
}

func TestDoRequest_ServerErrorIsTransient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	db, ps, bus := setup(t)
	addReadyPage(t, db, ps, "p1")

	hs := &fakeHealth{status: health.Status{IsAvailable: true}}
	q := queue.New("ocr-test-fail", 1)
	defer q.Shutdown()

	coord := New(srv.URL, "", 2*time.Second, hs, q, db, ps, bus, nil)
	require.NoError(t, coord.Submit(context.Background(), "p1", ModeDocument))

	require.Eventually(t, func() bool {
		p := ps.Get("p1")
		return p != nil && p.Status == model.StatusError
	}, 3*time.Second, 10*time.Millisecond)
	// A 5xx is transient, so the request was retried once before failing.
	require.Equal(t, int32(2), hits.Load())
}
