package queue

// Manager owns the three bounded queues the engine schedules work onto
// (spec §4.5): render (concurrency 2), OCR (concurrency 2), generation
// (concurrency 1). Cross-queue scheduling is independent; only within a
// queue is there a concurrency bound and cancellation-token map.
type Manager struct {
	Render *Queue
	OCR    *Queue
	Gen    *Queue
}

// NewManager builds a Manager with the given per-queue concurrency.
func NewManager(renderConcurrency, ocrConcurrency, genConcurrency int) *Manager {
	return &Manager{
		Render: New("render", renderConcurrency),
		OCR:    New("ocr", ocrConcurrency),
		Gen:    New("gen", genConcurrency),
	}
}

// Shutdown stops every queue: pending tasks are cancelled without running,
// running tasks are cancelled, and each call waits for that queue's workers
// to exit.
func (m *Manager) Shutdown() {
	m.Render.Shutdown()
	m.OCR.Shutdown()
	m.Gen.Shutdown()
}

// ManagerStats aggregates Stats across all three queues (SPEC_FULL §6).
type ManagerStats struct {
	Render Stats
	OCR    Stats
	Gen    Stats
}

// Stats returns a snapshot of all three queues.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		Render: m.Render.Stats(),
		OCR:    m.OCR.Stats(),
		Gen:    m.Gen.Stats(),
	}
}
