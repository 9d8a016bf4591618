// Package pagestore implements the Page Store (C5): the single source of
// truth for the in-memory projection of pages and selection, reconciled
// with the Object Store on load and on every state transition (spec §4.6).
// Grounded on the teacher's internal/jobs/common state/state_store
// pattern: a single writer serializes every mutation, persists first, then
// updates the projection, then publishes — never the other order.
package pagestore

import (
	"container/ring"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jackzampolin/scan2doc/internal/apperr"
	"github.com/jackzampolin/scan2doc/internal/eventbus"
	"github.com/jackzampolin/scan2doc/internal/model"
	"github.com/jackzampolin/scan2doc/internal/store"
)

// globalLogCapacity bounds the in-memory activity ring so a long-running
// process never grows it unboundedly (SPEC_FULL §6 supplemented feature).
const globalLogCapacity = 500

// Store is the single writer over the in-memory page projection.
type Store struct {
	db  *store.Store
	bus *eventbus.Bus

	mu          sync.Mutex
	pages       map[string]*model.Page
	order       []string // page IDs, kept sorted by Page.Order
	selected    map[string]struct{}
	globalLog   *ring.Ring
	globalLogN  int
}

// New creates a Page Store over db, publishing through bus.
func New(db *store.Store, bus *eventbus.Bus) *Store {
	return &Store{
		db:        db,
		bus:       bus,
		pages:     make(map[string]*model.Page),
		selected:  make(map[string]struct{}),
		globalLog: ring.New(globalLogCapacity),
	}
}

// Pages returns an immutable snapshot of all pages, ordered.
func (s *Store) Pages() []*model.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Page, 0, len(s.order))
	for _, id := range s.order {
		p := *s.pages[id]
		out = append(out, &p)
	}
	return out
}

// SelectedIDs returns the currently selected page IDs.
func (s *Store) SelectedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	return ids
}

// PagesByStatus returns every page with the given status, in order.
func (s *Store) PagesByStatus(status model.Status) []*model.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Page
	for _, id := range s.order {
		if p := s.pages[id]; p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// Get returns a snapshot of one page, or nil if absent.
func (s *Store) Get(id string) *model.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// OverallProgress returns the mean progress across all pages, 0 if empty.
func (s *Store) OverallProgress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pages) == 0 {
		return 0
	}
	total := 0
	for _, p := range s.pages {
		total += p.Progress
	}
	return total / len(s.pages)
}

// GlobalLog returns a snapshot of the most recent global log lines, oldest
// first (SPEC_FULL §6).
func (s *Store) GlobalLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lines []string
	s.globalLog.Do(func(v any) {
		if v != nil {
			lines = append(lines, v.(string))
		}
	})
	return lines
}

func (s *Store) appendGlobalLog(line string) {
	s.globalLog.Value = line
	s.globalLog = s.globalLog.Next()
}

// LoadFromStore replaces the in-memory list with store rows sorted by
// order. Idempotent, emits no events (spec §4.6 loadFromStore()).
func (s *Store) LoadFromStore(ctx context.Context) error {
	pages, err := s.db.GetAllPagesForDisplay(ctx)
	if err != nil {
		return fmt.Errorf("load pages: %w", err)
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Order < pages[j].Order })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = make(map[string]*model.Page, len(pages))
	s.order = s.order[:0]
	for _, p := range pages {
		s.pages[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	return nil
}

// AddPage persists p, then inserts it into the projection, then publishes
// page:queued. On store failure the projection is left unchanged.
func (s *Store) AddPage(ctx context.Context, p *model.Page) error {
	if err := s.db.SavePage(ctx, p); err != nil {
		return fmt.Errorf("add page %s: %w", p.ID, err)
	}

	s.mu.Lock()
	s.pages[p.ID] = p
	s.insertSorted(p.ID)
	s.appendGlobalLog(fmt.Sprintf("page %s queued (order %d)", p.ID, p.Order))
	s.mu.Unlock()

	s.bus.Publish(eventbus.PageQueued, eventbus.PageQueuedPayload{PageID: p.ID})
	return nil
}

func (s *Store) insertSorted(id string) {
	order := s.pages[id].Order
	i := sort.Search(len(s.order), func(i int) bool {
		return s.pages[s.order[i]].Order >= order
	})
	s.order = append(s.order, "")
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = id
}

// UpdatePage applies patch to the page's in-memory copy, persists, then
// updates the projection. patch receives a pointer to a working copy; it
// must not retain it.
func (s *Store) UpdatePage(ctx context.Context, id string, patch func(*model.Page)) error {
	s.mu.Lock()
	cur, ok := s.pages[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update page %s: %w", id, apperr.ProgrammerError)
	}
	working := *cur
	s.mu.Unlock()

	patch(&working)

	if err := s.db.SavePage(ctx, &working); err != nil {
		return fmt.Errorf("update page %s: %w", id, err)
	}

	s.mu.Lock()
	s.pages[id] = &working
	s.mu.Unlock()
	return nil
}

// UpdateStatus transitions a page to newStatus, rejecting illegal moves
// (spec §4.2 "reject illegal transitions with InvalidTransition"). Resets
// progress on entering rendering/recognizing (spec §4.2).
func (s *Store) UpdateStatus(ctx context.Context, id string, newStatus model.Status) error {
	s.mu.Lock()
	cur, ok := s.pages[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update status %s: %w", id, apperr.ProgrammerError)
	}
	from := cur.Status
	s.mu.Unlock()

	if !model.CanTransition(from, newStatus) {
		return fmt.Errorf("page %s: %s -> %s: %w", id, from, newStatus, apperr.InvalidTransition)
	}

	return s.UpdatePage(ctx, id, func(p *model.Page) {
		if newStatus == model.StatusError {
			p.PreErrorStatus = from
		}
		p.Status = newStatus
		if model.ResetsProgress(newStatus) {
			p.Progress = 0
		}
		if model.IsFullProgress(newStatus) {
			p.Progress = 100
		}
	})
}

// ResetStatus force-sets a page's status without legality checks, used
// only by the Resume Controller on boot to fold an interrupted in-flight
// status (rendering, recognizing, generating_*) back to its pending
// predecessor before re-admission (spec §5 "Resume on boot").
func (s *Store) ResetStatus(ctx context.Context, id string, newStatus model.Status) error {
	return s.UpdatePage(ctx, id, func(p *model.Page) {
		p.Status = newStatus
		if model.ResetsProgress(p.Status) {
			p.Progress = 0
		}
	})
}

// Retry replays the page's last attempted transition from error back to
// its pre-error status (spec §4.2 "retry ... resets to the prior
// pre-transition state"). Retry count is tracked in memory only.
func (s *Store) Retry(ctx context.Context, id string) error {
	s.mu.Lock()
	cur, ok := s.pages[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("retry page %s: %w", id, apperr.ProgrammerError)
	}
	if cur.Status != model.StatusError {
		s.mu.Unlock()
		return fmt.Errorf("retry page %s: not in error: %w", id, apperr.ProgrammerError)
	}
	target := cur.PreErrorStatus
	s.mu.Unlock()

	return s.UpdatePage(ctx, id, func(p *model.Page) {
		p.Status = target
		p.RetryCount++
	})
}

// AppendLog appends a log line to a page and to the global activity log.
func (s *Store) AppendLog(ctx context.Context, id string, level model.LogLevel, message string) error {
	err := s.UpdatePage(ctx, id, func(p *model.Page) {
		p.AppendLog(level, message)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.appendGlobalLog(fmt.Sprintf("[%s] %s: %s", level, id, message))
	s.mu.Unlock()
	return nil
}

// SetOCRResult persists the OCR result and transitions the page to
// ocr_success (spec §4.9 step 4).
func (s *Store) SetOCRResult(ctx context.Context, id string, result *model.OCRResult) error {
	return s.UpdatePage(ctx, id, func(p *model.Page) {
		p.OCR = result
		p.Status = model.StatusOCRSuccess
		p.Progress = 100
	})
}

// DeletePages removes pages from the store and projection, cancelling any
// in-flight work is the caller's responsibility (queue.Manager), since the
// Page Store has no knowledge of queues per spec's layering (§4 "no
// component may invoke another component directly except through its
// documented API").
func (s *Store) DeletePages(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := s.db.DeletePage(ctx, id); err != nil {
			return fmt.Errorf("delete page %s: %w", id, err)
		}
	}

	s.mu.Lock()
	for _, id := range ids {
		delete(s.pages, id)
		delete(s.selected, id)
	}
	remaining := s.order[:0]
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	for _, id := range s.order {
		if _, deleted := idSet[id]; !deleted {
			remaining = append(remaining, id)
		}
	}
	s.order = remaining
	s.mu.Unlock()
	return nil
}

// Reorder applies a batch of (pageID, newOrder) pairs atomically (spec
// §4.1 updatePagesOrder), then reindexes the in-memory projection.
func (s *Store) Reorder(ctx context.Context, updates []store.OrderUpdate) error {
	if err := s.db.UpdatePagesOrder(ctx, updates); err != nil {
		return fmt.Errorf("reorder: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		if p, ok := s.pages[u.PageID]; ok {
			p.Order = u.NewOrder
		}
	}
	sort.Slice(s.order, func(i, j int) bool {
		return s.pages[s.order[i]].Order < s.pages[s.order[j]].Order
	})
	return nil
}

// ClearSelection empties the selection set.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = make(map[string]struct{})
}

// SelectAll selects every page currently in the projection.
func (s *Store) SelectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		s.selected[id] = struct{}{}
	}
}

// ToggleSelect flips the selection state of one page.
func (s *Store) ToggleSelect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.selected[id]; ok {
		delete(s.selected, id)
	} else {
		s.selected[id] = struct{}{}
	}
}

// SubscribeResume installs the resume hook: for pages the store has but
// the in-memory list lacks, lazily insert them (spec §4.6 "handles the
// case where an Ingestor inserts rows while the UI is paused").
func (s *Store) SubscribeResume(ctx context.Context) {
	s.bus.Subscribe(eventbus.PageQueued, func(payload any) {
		pl, ok := payload.(eventbus.PageQueuedPayload)
		if !ok {
			return
		}
		s.mu.Lock()
		_, have := s.pages[pl.PageID]
		s.mu.Unlock()
		if have {
			return
		}
		p, err := s.db.GetPage(ctx, pl.PageID)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.pages[p.ID] = p
		s.insertSorted(p.ID)
		s.mu.Unlock()
	})
}
