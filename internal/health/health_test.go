package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/scan2doc/internal/eventbus"
)

func TestCurrent_StartsUnavailableBeforeFirstPoll(t *testing.T) {
	bus := eventbus.New()
	m := New("http://unused.invalid", time.Hour, time.Second, bus, slog.Default())
	require.False(t, m.Current().IsAvailable)
}

func TestPoll_HealthyResponseBecomesAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "healthy"})
	}))
	defer srv.Close()

	bus := eventbus.New()
	m := New(srv.URL, time.Hour, time.Second, bus, slog.Default())
	m.poll(context.Background())

	require.True(t, m.Current().IsAvailable)
}

func TestPoll_FullResponseSetsIsFull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    "full",
			"queueInfo": map[string]any{"depth": 10, "max_size": 10, "is_full": true},
		})
	}))
	defer srv.Close()

	bus := eventbus.New()
	m := New(srv.URL, time.Hour, time.Second, bus, slog.Default())
	m.poll(context.Background())

	status := m.Current()
	require.True(t, status.IsAvailable)
	require.True(t, status.IsFull)
	require.Equal(t, 10, status.QueueDepth)
}

func TestPoll_TransportErrorIsUnavailable(t *testing.T) {
	bus := eventbus.New()
	m := New("http://127.0.0.1:0", time.Hour, time.Second, bus, slog.Default())
	m.poll(context.Background())
	require.False(t, m.Current().IsAvailable)
}

func TestPoll_PublishesHealthChangeOnlyOnEdge(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := "unhealthy"
		if healthy {
			status = "healthy"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status})
	}))
	defer srv.Close()

	bus := eventbus.New()
	var changes int
	bus.Subscribe(eventbus.HealthChange, func(payload any) { changes++ })

	m := New(srv.URL, time.Hour, time.Second, bus, slog.Default())
	m.poll(context.Background()) // unavailable -> available: 1 edge
	m.poll(context.Background()) // available -> available: no edge
	require.Equal(t, 1, changes)

	healthy = false
	m.poll(context.Background()) // available -> unavailable: 1 edge
	require.Equal(t, 2, changes)
}
