package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/scan2doc/internal/apperr"
)

func TestAdd_RunsTask(t *testing.T) {
	q := New("test", 1)
	defer q.Shutdown()

	done := make(chan struct{})
	require.NoError(t, q.Add("p1", func(ctx context.Context) error {
		close(done)
		return nil
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestAdd_RejectsDuplicatePageWhileInFlight(t *testing.T) {
	q := New("test", 1)
	defer q.Shutdown()

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, q.Add("p1", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	err := q.Add("p1", func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, apperr.AlreadyInFlight)

	close(release)
}

func TestAdd_FIFOWithinOneQueue(t *testing.T) {
	q := New("test", 1)
	defer q.Shutdown()

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(3)

	for _, id := range []string{"a", "b", "c"} {
		id := id
		require.NoError(t, q.Add(id, func(ctx context.Context) error {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			wg.Done()
			return nil
		}))
	}
	wg.Wait()

	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestCancel_PreventsUnstartedTaskFromRunning(t *testing.T) {
	q := New("test", 1)
	defer q.Shutdown()

	blockerRelease := make(chan struct{})
	require.NoError(t, q.Add("blocker", func(ctx context.Context) error {
		<-blockerRelease
		return nil
	}))

	ran := make(chan struct{}, 1)
	require.NoError(t, q.Add("p1", func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}))
	q.Cancel("p1")
	close(blockerRelease)

	select {
	case <-ran:
		t.Fatal("cancelled task should not have run")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancel_CancelsRunningTaskContext(t *testing.T) {
	q := New("test", 1)
	defer q.Shutdown()

	started := make(chan struct{})
	var cancelled bool
	done := make(chan struct{})
	require.NoError(t, q.Add("p1", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled = true
		close(done)
		return nil
	}))

	<-started
	q.Cancel("p1")
	<-done
	require.True(t, cancelled)
}

func TestStats_ReportsQueuedAndInFlight(t *testing.T) {
	q := New("test", 1)
	defer q.Shutdown()

	release := make(chan struct{})
	require.NoError(t, q.Add("a", func(ctx context.Context) error {
		<-release
		return nil
	}))
	require.NoError(t, q.Add("b", func(ctx context.Context) error { return nil }))

	time.Sleep(20 * time.Millisecond)
	stats := q.Stats()
	require.Equal(t, 1, stats.InFlight)
	require.Equal(t, 1, stats.Queued)

	close(release)
}

func TestPauseResume_BlocksAndUnblocksDispatch(t *testing.T) {
	q := New("test", 1)
	defer q.Shutdown()

	q.Pause()
	ran := make(chan struct{}, 1)
	require.NoError(t, q.Add("p1", func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}))

	select {
	case <-ran:
		t.Fatal("task ran while paused")
	case <-time.After(50 * time.Millisecond):
	}

	q.Resume()
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task never ran after resume")
	}
}

func TestAdd_AllowsReAdmissionAfterCompletion(t *testing.T) {
	q := New("test", 1)
	defer q.Shutdown()

	done1 := make(chan struct{})
	require.NoError(t, q.Add("p1", func(ctx context.Context) error {
		close(done1)
		return nil
	}))
	<-done1
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, q.Add("p1", func(ctx context.Context) error { return nil }))
}
