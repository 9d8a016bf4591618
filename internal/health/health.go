// Package health implements the Health Monitor (C3): a periodic poll of
// the remote OCR service that exposes {available, full, degraded} and
// publishes health:change only on edge transitions (spec §4.4). Grounded
// on the teacher's internal/providers/ratelimit.go: a mutex-guarded state
// struct with a point-in-time Status() snapshot, generalized from a token
// bucket to a polled remote-health cache.
package health

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/scan2doc/internal/eventbus"
)

// Status is a point-in-time snapshot of remote service health.
type Status struct {
	IsAvailable bool
	IsFull      bool
	QueueDepth  int
	MaxSize     int
}

// remoteHealthResponse mirrors the endpoint's JSON shape (spec §6).
type remoteHealthResponse struct {
	Status    string `json:"status"`
	QueueInfo *struct {
		Depth    int  `json:"depth"`
		MaxSize  int  `json:"max_size"`
		IsFull   bool `json:"is_full"`
	} `json:"queueInfo"`
}

// Monitor polls a health endpoint on an interval and caches the result for
// synchronous reads. A stale read up to one poll cycle old is acceptable
// per spec.
type Monitor struct {
	url     string
	client  *http.Client
	bus     *eventbus.Bus
	log     *slog.Logger
	interval time.Duration

	mu     sync.RWMutex
	status Status

	stop chan struct{}
	once sync.Once
}

// New creates a Monitor that polls url every interval with the given
// per-request timeout.
func New(url string, interval, timeout time.Duration, bus *eventbus.Bus, log *slog.Logger) *Monitor {
	return &Monitor{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		bus:      bus,
		log:      log,
		interval: interval,
		stop:     make(chan struct{}),
		// Recovery requires a single successful healthy response, so start
		// unavailable rather than assuming health before the first poll.
		status: Status{IsAvailable: false},
	}
}

// Start begins polling in a background goroutine until ctx is cancelled
// or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

// Stop halts polling. Idempotent.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	next := m.fetch(ctx)

	m.mu.Lock()
	prev := m.status
	m.status = next
	m.mu.Unlock()

	if prev != next {
		m.bus.Publish(eventbus.HealthChange, eventbus.HealthChangePayload{
			Available: next.IsAvailable,
			Full:      next.IsFull,
			Degraded:  !next.IsAvailable,
		})
	}
}

// fetch performs one HTTP probe. Transport errors degrade to
// isAvailable=false; recovery requires one successful healthy response
// (spec §4.4 failure policy).
func (m *Monitor) fetch(ctx context.Context) Status {
	reqCtx, cancel := context.WithTimeout(ctx, m.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, m.url, nil)
	if err != nil {
		m.log.Warn("health monitor: build request failed", "err", err)
		return Status{IsAvailable: false}
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.log.Debug("health monitor: transport error", "err", err)
		return Status{IsAvailable: false}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode >= 300 {
		return Status{IsAvailable: false}
	}

	var parsed remoteHealthResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		m.log.Warn("health monitor: malformed response", "err", err)
		return Status{IsAvailable: false}
	}

	s := Status{IsAvailable: parsed.Status == "healthy" || parsed.Status == "full"}
	if parsed.Status == "full" {
		s.IsFull = true
	}
	if parsed.QueueInfo != nil {
		s.QueueDepth = parsed.QueueInfo.Depth
		s.MaxSize = parsed.QueueInfo.MaxSize
		if parsed.QueueInfo.IsFull {
			s.IsFull = true
		}
	}
	return s
}

// Current returns the last-polled status synchronously (spec §4.4
// "synchronous read of the current status for pre-submission checks").
func (m *Monitor) Current() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}
