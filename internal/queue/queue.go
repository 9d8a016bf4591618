// Package queue implements the Queue Manager (C4): three independent
// bounded work queues (render, OCR, generation) with per-page cancellation
// handles (spec §4.5). Grounded on the teacher's internal/jobs package —
// the mutex-guarded slice + buffered notify channel of priority_queue.go
// (generalized from a priority heap to plain FIFO, since spec §4.5 only
// requires "submission order within one queue is FIFO") and the
// fixed-worker-pool dispatch loop of cpu_worker.go.
package queue

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/jackzampolin/scan2doc/internal/apperr"
)

// TaskFunc is the unit of work a queue runs for one page. It must respect
// ctx cancellation as its sole cooperative-cancellation checkpoint (spec §5
// "every await on store/worker/network is a cancellation checkpoint").
type TaskFunc func(ctx context.Context) error

// Stats reports a queue's current depth and in-flight count (spec §4.5
// stats(); SPEC_FULL §6 "Queue stats endpoint").
type Stats struct {
	Queued   int
	InFlight int
	Paused   bool
}

type task struct {
	pageID string
	fn     TaskFunc
	cancel context.CancelFunc
}

// Queue is one bounded, FIFO, cancellable work queue running with fixed
// concurrency.
type Queue struct {
	name        string
	concurrency int

	mu      sync.Mutex
	pending *list.List // of *task, FIFO
	tokens  map[string]*task // pageID -> task, covers both pending and running
	running int
	paused  bool
	notify  chan struct{}

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

// New creates a queue with the given name (for logging) and worker
// concurrency.
func New(name string, concurrency int) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	q := &Queue{
		name:        name,
		concurrency: concurrency,
		pending:     list.New(),
		tokens:      make(map[string]*task),
		notify:      make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
	for i := 0; i < concurrency; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Add enqueues fn for pageID. Re-admission of a pageID that already has a
// pending or running task in this queue is rejected (spec §5 "at most one
// task in flight ... re-admission ... is rejected").
func (q *Queue) Add(pageID string, fn TaskFunc) error {
	q.mu.Lock()
	if _, exists := q.tokens[pageID]; exists {
		q.mu.Unlock()
		return fmt.Errorf("%w: page %s", apperr.AlreadyInFlight, pageID)
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	t := &task{pageID: pageID, fn: wrapWithCtx(fn, taskCtx), cancel: cancel}
	q.tokens[pageID] = t
	q.pending.PushBack(t)
	q.mu.Unlock()

	q.signal()
	return nil
}

func wrapWithCtx(fn TaskFunc, ctx context.Context) TaskFunc {
	return func(_ context.Context) error { return fn(ctx) }
}

// Cancel revokes pageID's token. If the task has not started, it is
// removed from the pending list and never runs; if running, the task's
// context is cancelled so it can observe and clean up. Idempotent.
func (q *Queue) Cancel(pageID string) {
	q.mu.Lock()
	t, exists := q.tokens[pageID]
	if !exists {
		q.mu.Unlock()
		return
	}
	delete(q.tokens, pageID)

	for e := q.pending.Front(); e != nil; e = e.Next() {
		if e.Value.(*task) == t {
			q.pending.Remove(e)
			break
		}
	}
	q.mu.Unlock()

	t.cancel()
}

// Pause stops new tasks from starting; tasks already running continue.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume re-enables starting new tasks.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.signal()
}

// Clear cancels every pending and running task and empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	var toCancel []*task
	for e := q.pending.Front(); e != nil; e = e.Next() {
		toCancel = append(toCancel, e.Value.(*task))
	}
	q.pending.Init()
	for id, t := range q.tokens {
		found := false
		for _, c := range toCancel {
			if c == t {
				found = true
				break
			}
		}
		if !found {
			toCancel = append(toCancel, t)
		}
		delete(q.tokens, id)
	}
	q.mu.Unlock()

	for _, t := range toCancel {
		t.cancel()
	}
}

// Stats reports current depth and in-flight count.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Queued:   q.pending.Len(),
		InFlight: q.running,
		Paused:   q.paused,
	}
}

// Shutdown stops accepting new dispatch and waits for workers to exit.
// In-flight tasks are cancelled first.
func (q *Queue) Shutdown() {
	q.once.Do(func() {
		q.Clear()
		close(q.stop)
	})
	q.wg.Wait()
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		t := q.dequeue()
		if t == nil {
			return
		}
		q.runOne(t)
	}
}

// dequeue blocks until a task is available, the queue is unpaused, and
// shutdown has not been requested; returns nil on shutdown.
func (q *Queue) dequeue() *task {
	for {
		q.mu.Lock()
		if !q.paused {
			if e := q.pending.Front(); e != nil {
				t := e.Value.(*task)
				q.pending.Remove(e)
				q.running++
				q.mu.Unlock()
				return t
			}
		}
		q.mu.Unlock()

		select {
		case <-q.stop:
			return nil
		case <-q.notify:
		}
	}
}

func (q *Queue) runOne(t *task) {
	defer func() {
		q.mu.Lock()
		q.running--
		delete(q.tokens, t.pageID)
		q.mu.Unlock()
	}()
	_ = t.fn(context.Background())
}
