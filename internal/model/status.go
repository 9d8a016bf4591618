// Package model defines the page-lifecycle engine's core entities: Page,
// SourceFile, PageImage, PageArtifact, and ExtractedImage.
package model

// Status is a page's position in the lifecycle state machine (spec §4.2).
type Status string

const (
	StatusPendingRender      Status = "pending_render"
	StatusRendering          Status = "rendering"
	StatusReady              Status = "ready"
	StatusPendingOCR         Status = "pending_ocr"
	StatusRecognizing        Status = "recognizing"
	StatusOCRSuccess         Status = "ocr_success"
	StatusPendingGen         Status = "pending_gen"
	StatusGeneratingMarkdown Status = "generating_markdown"
	StatusMarkdownSuccess    Status = "markdown_success"
	StatusGeneratingPDF      Status = "generating_pdf"
	StatusPDFSuccess         Status = "pdf_success"
	StatusGeneratingDocx     Status = "generating_docx"
	StatusCompleted          Status = "completed"
	StatusError              Status = "error"
)

// transitions maps each status to the set of statuses it may legally move
// to. error is reachable only from the in-progress statuses (rendering,
// recognizing, generating_*) and is listed explicitly per predecessor so
// retries can replay the exact prior edge.
var transitions = map[Status][]Status{
	StatusPendingRender:      {StatusRendering},
	StatusRendering:          {StatusReady, StatusError},
	StatusReady:              {StatusPendingOCR},
	StatusPendingOCR:         {StatusRecognizing},
	StatusRecognizing:        {StatusOCRSuccess, StatusError},
	StatusOCRSuccess:         {StatusPendingGen},
	StatusPendingGen:         {StatusGeneratingMarkdown},
	StatusGeneratingMarkdown: {StatusMarkdownSuccess, StatusError},
	StatusMarkdownSuccess:    {StatusGeneratingPDF},
	StatusGeneratingPDF:      {StatusPDFSuccess, StatusError},
	StatusPDFSuccess:         {StatusGeneratingDocx},
	StatusGeneratingDocx:     {StatusCompleted, StatusError},
	StatusCompleted:          {},
	StatusError:              {}, // only reachable again via explicit Retry, not CanTransition
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no further legal transitions
// outside of an explicit retry from error.
func IsTerminal(s Status) bool {
	return s == StatusCompleted
}

// IsFullProgress reports whether a status satisfies progress=100 per the
// spec's open question: ready and completed both count (source behavior).
func IsFullProgress(s Status) bool {
	return s == StatusReady || s == StatusCompleted
}

// ResetsProgress reports whether entering this status resets progress to 0.
func ResetsProgress(s Status) bool {
	return s == StatusRendering || s == StatusRecognizing
}

// ordinal gives each status a position in the overall pipeline so callers
// can ask "has this page reached at least X" without re-deriving the graph.
// error has no ordinal, so "at least X" checks such as AtLeastOCRSuccess
// report false for a page in error.
var ordinal = map[Status]int{
	StatusPendingRender:      0,
	StatusRendering:          1,
	StatusReady:              2,
	StatusPendingOCR:         3,
	StatusRecognizing:        4,
	StatusOCRSuccess:         5,
	StatusPendingGen:         6,
	StatusGeneratingMarkdown: 7,
	StatusMarkdownSuccess:    8,
	StatusGeneratingPDF:      9,
	StatusPDFSuccess:         10,
	StatusGeneratingDocx:     11,
	StatusCompleted:          12,
}

// AtLeastOCRSuccess reports whether status represents a page that has
// completed OCR, used by exportDocument's readiness check (spec §4.10).
func AtLeastOCRSuccess(s Status) bool {
	o, ok := ordinal[s]
	return ok && o >= ordinal[StatusOCRSuccess]
}
