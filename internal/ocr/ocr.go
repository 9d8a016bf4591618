// Package ocr implements the OCR Coordinator (C8): health-gated
// submission to the remote OCR endpoint, with retries, cancellation, and
// result persistence (spec §4.9). Grounded on the teacher's provider
// worker pattern (internal/jobs/worker.go wraps a remote call with a
// rate limiter and concurrency control) and on other_examples'
// wudi-pdfkit ocr-types.go for the request/response wire shape (Region,
// TextWord/TextLine/TextBlock). Retries use avast/retry-go/v4, present in
// the teacher's go.mod.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/scan2doc/internal/apperr"
	"github.com/jackzampolin/scan2doc/internal/eventbus"
	"github.com/jackzampolin/scan2doc/internal/health"
	"github.com/jackzampolin/scan2doc/internal/model"
	"github.com/jackzampolin/scan2doc/internal/pagestore"
	"github.com/jackzampolin/scan2doc/internal/queue"
	"github.com/jackzampolin/scan2doc/internal/store"
)

// Mode is the OCR processing mode sent to the remote endpoint (spec §6).
type Mode string

const (
	ModeDocument Mode = "document"
	ModeOCR      Mode = "ocr"
	ModeFree     Mode = "free"
	ModeFigure   Mode = "figure"
	ModeDescribe Mode = "describe"
	ModeFreeform Mode = "freeform"
)

// remoteOCRResponse mirrors the endpoint's minimum JSON shape (spec §6).
// Unknown extra fields are preserved via Raw.
type remoteOCRResponse struct {
	Text    string `json:"text"`
	RawText []struct {
		Token string     `json:"token"`
		Box   [4]float64 `json:"box"`
	} `json:"raw_text"`
	Boxes []struct {
		Type string     `json:"type"`
		Box  [4]float64 `json:"box"`
	} `json:"boxes"`
}

// BatchResult reports the outcome of submitBatch (spec §4.9).
type BatchResult struct {
	Accepted        []string
	Skipped         []string
	NothingEligible bool
	Err             error
}

// HealthSource is the synchronous read of remote availability the
// Coordinator pre-checks before admission (spec §4.9 step 1). Satisfied
// by *health.Monitor; an interface here lets tests inject a fixed status
// without running a real poll loop.
type HealthSource interface {
	Current() health.Status
}

// Coordinator is the C8 component.
type Coordinator struct {
	endpoint string
	apiKey   string
	client   *http.Client
	health   HealthSource
	q        *queue.Queue
	db       *store.Store
	pages    *pagestore.Store
	bus      *eventbus.Bus
	log      *slog.Logger
}

// New creates an OCR Coordinator.
func New(endpoint, apiKey string, timeout time.Duration, healthMon HealthSource, q *queue.Queue, db *store.Store, pages *pagestore.Store, bus *eventbus.Bus, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout}, // 0 = no hard client timeout, per spec §5
		health:   healthMon,
		q:        q,
		db:       db,
		pages:    pages,
		bus:      bus,
		log:      log,
	}
}

// Submit performs the admission check, transitions the page, and enqueues
// the OCR task (spec §4.9 submit(pageId, mode)).
func (c *Coordinator) Submit(ctx context.Context, pageID string, mode Mode) error {
	status := c.health.Current()
	if !status.IsAvailable {
		return fmt.Errorf("page %s: %w", pageID, apperr.ServiceUnavailable)
	}
	if status.IsFull {
		return fmt.Errorf("page %s: %w", pageID, apperr.QueueFull)
	}

	if err := c.pages.UpdateStatus(ctx, pageID, model.StatusPendingOCR); err != nil {
		return fmt.Errorf("submit %s: %w", pageID, err)
	}
	c.bus.Publish(eventbus.OCRQueued, eventbus.OCRQueuedPayload{PageID: pageID})

	return c.q.Add(pageID, func(taskCtx context.Context) error {
		c.runOne(taskCtx, pageID, mode)
		return nil
	})
}

// Resume re-admits a page already left in pending_ocr from a prior
// process's in-flight recognizing task, without the admission check or
// ready->pending_ocr transition Submit performs (the page is already
// sitting at pending_ocr; spec §5 "re-admits ... if pre-conditions still
// hold").
func (c *Coordinator) Resume(ctx context.Context, pageID string, mode Mode) error {
	return c.q.Add(pageID, func(taskCtx context.Context) error {
		c.runOne(taskCtx, pageID, mode)
		return nil
	})
}

// SubmitBatch filters to ready pages and submits each, reporting
// acceptance counts (spec §4.9 submitBatch).
func (c *Coordinator) SubmitBatch(ctx context.Context, pageIDs []string, mode Mode) BatchResult {
	var eligible []string
	for _, id := range pageIDs {
		p := c.pages.Get(id)
		if p != nil && p.Status == model.StatusReady {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		return BatchResult{NothingEligible: true}
	}

	status := c.health.Current()
	if !status.IsAvailable || status.IsFull {
		return BatchResult{Skipped: eligible}
	}

	var accepted, skipped []string
	for _, id := range eligible {
		if err := c.Submit(ctx, id, mode); err != nil {
			skipped = append(skipped, id)
			continue
		}
		accepted = append(accepted, id)
	}
	return BatchResult{Accepted: accepted, Skipped: skipped}
}

func (c *Coordinator) runOne(ctx context.Context, pageID string, mode Mode) {
	if err := c.pages.UpdateStatus(ctx, pageID, model.StatusRecognizing); err != nil {
		c.log.Warn("ocr: cannot enter recognizing", "page_id", pageID, "err", err)
		return
	}
	c.bus.Publish(eventbus.OCRStart, eventbus.OCRQueuedPayload{PageID: pageID})

	if errCancelled(ctx) {
		c.revertToPreSubmit(ctx, pageID)
		return
	}

	img, err := c.db.GetPageImage(ctx, pageID)
	if err != nil {
		c.fail(ctx, pageID, fmt.Errorf("%w: %v", apperr.PermanentIO, err))
		return
	}

	result, err := c.request(ctx, img.Blob, mode)
	if err != nil {
		if errCancelled(ctx) {
			c.revertToPreSubmit(ctx, pageID)
			c.bus.Publish(eventbus.OCRCancel, eventbus.OCRQueuedPayload{PageID: pageID})
			return
		}
		c.fail(ctx, pageID, err)
		return
	}

	if err := c.pages.SetOCRResult(ctx, pageID, result); err != nil {
		c.fail(ctx, pageID, err)
		return
	}
	c.bus.Publish(eventbus.OCRSuccess, eventbus.OCRSuccessPayload{PageID: pageID, Result: result})
}

func (c *Coordinator) fail(ctx context.Context, pageID string, err error) {
	_ = c.pages.UpdateStatus(ctx, pageID, model.StatusError)
	_ = c.pages.AppendLog(ctx, pageID, model.LogError, fmt.Sprintf("ocr failed: %v", err))
	c.bus.Publish(eventbus.OCRError, eventbus.OCRErrorPayload{PageID: pageID, Err: err})
}

// revertToPreSubmit restores the page to ready, its pre-submit status,
// without surfacing an error (spec §4.9 step 6, §7 Cancellation). It runs
// only once ctx is cancelled, so the write uses a context without
// cancellation.
func (c *Coordinator) revertToPreSubmit(ctx context.Context, pageID string) {
	_ = c.pages.UpdatePage(context.WithoutCancel(ctx), pageID, func(p *model.Page) {
		p.Status = model.StatusReady
		p.Progress = 100
	})
}

// request opens a cancellation-aware HTTP request to the OCR endpoint,
// retrying transient failures (spec §7 "transient errors are retried
// locally only when the retry is safe").
func (c *Coordinator) request(ctx context.Context, image []byte, mode Mode) (*model.OCRResult, error) {
	var result *model.OCRResult

	err := retry.Do(
		func() error {
			r, err := c.doRequest(ctx, image, mode)
			if err != nil {
				return err
			}
			result = r
			return nil
		},
		retry.Attempts(2),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return apperr.Is(err, apperr.TransientIO)
		}),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Coordinator) doRequest(ctx context.Context, image []byte, mode Mode) (*model.OCRResult, error) {
	url := fmt.Sprintf("%s?mode=%s", c.endpoint, mode)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.PermanentIO, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", apperr.TransientIO, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.TransientIO, err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: ocr endpoint returned %d", apperr.TransientIO, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: ocr endpoint returned %d", apperr.PermanentIO, resp.StatusCode)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed ocr response: %v", apperr.PermanentIO, err)
	}
	var parsed remoteOCRResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed ocr response: %v", apperr.PermanentIO, err)
	}

	result := &model.OCRResult{Text: parsed.Text, Raw: raw}
	for _, t := range parsed.RawText {
		result.RawText = append(result.RawText, model.OCRToken{Token: t.Token, Box: t.Box})
	}
	for _, b := range parsed.Boxes {
		result.Boxes = append(result.Boxes, model.OCRBox{Type: b.Type, Box: b.Box})
	}
	return result, nil
}

func errCancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
