package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/scan2doc/internal/config"
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

func setup(t *testing.T) *Server {
	t.Helper()
	db, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := eventbus.New()
	pages := pagestore.New(db, bus)
	hs := &fakeHealth{status: health.Status{IsAvailable: true}}
	ocrCoord := ocr.New("http://unused.invalid", "", 0, hs, queue.New("ocr", 1), db, pages, bus, nil)
	gen := docgen.New(queue.New("gen", 1), db, pages, bus, []string{"markdown"}, nil)

	cfgMgr, err := config.NewManager("")
	require.NoError(t, err)

	return New(pages, nil, ocrCoord, gen, cfgMgr, nil)
}

func TestHandleHealthz_ReturnsOK(t *testing.T) {
	s := setup(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleListPages_ReturnsEmptyList(t *testing.T) {
	s := setup(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pages", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, float64(0), body["progress"])
}

func TestHandleGetPage_NotFoundReturns404(t *testing.T) {
	s := setup(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pages/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetPage_FoundReturnsPage(t *testing.T) {
	s := setup(t)
	require.NoError(t, s.pages.AddPage(context.Background(), &model.Page{ID: "p1", Status: model.StatusReady}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pages/p1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var p model.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.Equal(t, "p1", p.ID)
}

func TestHandleRetry_OnNonErrorPageReturnsBadRequest(t *testing.T) {
	s := setup(t)
	require.NoError(t, s.pages.AddPage(context.Background(), &model.Page{ID: "p1", Status: model.StatusReady}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pages/p1/retry", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRetry_OnErrorPageAccepts(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	require.NoError(t, s.pages.AddPage(ctx, &model.Page{ID: "p1", Status: model.StatusRendering}))
	require.NoError(t, s.pages.UpdateStatus(ctx, "p1", model.StatusError))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pages/p1/retry", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandleExport_NotReadyPageReturnsConflict(t *testing.T) {
	s := setup(t)
	require.NoError(t, s.pages.AddPage(context.Background(), &model.Page{ID: "p1", Status: model.StatusReady}))

	body := strings.NewReader(`{"page_ids": ["p1"], "format": "markdown"}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/export", body)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleOCRSubmit_AcceptsRequestWithoutMode(t *testing.T) {
	s := setup(t)
	body := strings.NewReader(`{"page_ids": []}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ocr/submit", body)
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
}
