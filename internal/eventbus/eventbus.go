// Package eventbus implements the process-wide typed publish/subscribe
// object that is the sole coupling between producers and consumers (spec
// §4.3). Grounded on the teacher's internal/defra/sink.go dispatch
// pattern, generalized from a single write-op type to an arbitrary typed
// event name plus payload.
package eventbus

import "sync"

// Event names, per spec §4.3.
const (
	PageQueued = "page:queued"

	RenderStart    = "render:start"
	RenderDone     = "render:done"
	RenderError    = "render:error"
	RenderProgress = "render:progress"

	OCRQueued  = "ocr:queued"
	OCRStart   = "ocr:start"
	OCRSuccess = "ocr:success"
	OCRError   = "ocr:error"
	OCRCancel  = "ocr:cancel"

	GenStart   = "gen:start"
	GenSuccess = "gen:success"
	GenError   = "gen:error"

	ExportStart = "export:start"
	ExportDone  = "export:done"
	ExportError = "export:error"

	HealthChange = "health:change"
)

// Handler receives an event's payload. Payload shapes are documented per
// event constant above; callers type-assert.
type Handler func(payload any)

// Bus is a single process-wide typed pub/sub object. Subscribers are
// invoked synchronously, in registration order (spec: "synchronous fan-out
// ordering"), on the goroutine that calls Publish.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Handler
}

// New creates an empty event bus. Modeled as a constructible service
// rather than a package-level singleton so tests can instantiate fresh
// copies (spec §9 "Global singletons ... explicit init()/teardown()").
func New() *Bus {
	return &Bus{subs: make(map[string][]Handler)}
}

// Subscribe registers fn to be invoked for every Publish of event, in the
// order Subscribe was called relative to other subscribers of the same
// event. Returns an unsubscribe function.
func (b *Bus) Subscribe(event string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[event] = append(b.subs[event], fn)
	idx := len(b.subs[event]) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subs[event]
		if idx >= len(handlers) {
			return
		}
		// Replace with a no-op rather than reslice, so indices recorded by
		// earlier/later Subscribe calls on this event stay valid.
		handlers[idx] = nil
	}
}

// Publish fans payload out to every subscriber of event, synchronously, in
// registration order. At-least-one dispatch per subscriber: a handler that
// panics does not prevent later handlers in the same Publish from running.
func (b *Bus) Publish(event string, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.subs[event]))
	copy(handlers, b.subs[event])
	b.mu.RUnlock()

	for _, h := range handlers {
		if h == nil {
			continue
		}
		b.dispatch(h, payload)
	}
}

func (b *Bus) dispatch(h Handler, payload any) {
	defer func() { _ = recover() }()
	h(payload)
}
