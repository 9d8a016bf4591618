package eventbus

import "github.com/jackzampolin/scan2doc/internal/model"

// PageQueuedPayload accompanies PageQueued.
type PageQueuedPayload struct {
	PageID string
}

// RenderStartPayload accompanies RenderStart.
type RenderStartPayload struct {
	PageID string
}

// RenderDonePayload accompanies RenderDone.
type RenderDonePayload struct {
	PageID    string
	Thumbnail []byte
	Width     int
	Height    int
	Size      int64
}

// RenderErrorPayload accompanies RenderError.
type RenderErrorPayload struct {
	PageID string
	Err    error
}

// RenderProgressPayload accompanies RenderProgress.
type RenderProgressPayload struct {
	Done  int
	Total int
}

// OCRQueuedPayload accompanies OCRQueued, OCRStart, OCRCancel.
type OCRQueuedPayload struct {
	PageID string
}

// OCRSuccessPayload accompanies OCRSuccess.
type OCRSuccessPayload struct {
	PageID string
	Result *model.OCRResult
}

// OCRErrorPayload accompanies OCRError.
type OCRErrorPayload struct {
	PageID string
	Err    error
}

// GenPayload accompanies GenStart, GenSuccess, GenError.
type GenPayload struct {
	PageID string
	Format model.ArtifactFormat
	Err    error
}

// ExportPayload accompanies ExportStart, ExportDone, ExportError.
type ExportPayload struct {
	DocumentID string
	Format     model.ArtifactFormat
	Err        error
}

// HealthChangePayload accompanies HealthChange.
type HealthChangePayload struct {
	Available bool
	Full      bool
	Degraded  bool
}
