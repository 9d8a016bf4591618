package model

import "time"

// Origin identifies how a page entered the system.
type Origin string

const (
	OriginUploadImage  Origin = "upload_image"
	OriginPDFGenerated Origin = "pdf_generated"
)

// LogLevel is the severity of a LogEntry.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one appended line of a page's history (spec §3 Page.log).
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
}

// OCRResult is the raw decoded payload persisted under pageOCRs (spec §6).
// Extra fields the remote endpoint returns are preserved in Raw verbatim.
type OCRResult struct {
	Text       string
	Confidence float64
	RawText    []OCRToken
	Boxes      []OCRBox
	Raw        map[string]any
}

// OCRToken is one recognized word/token with its bounding box.
type OCRToken struct {
	Token string
	Box   [4]float64 // x0, y0, x1, y1
}

// OCRBox is a detected region (figure, table, etc.) with a type label.
type OCRBox struct {
	Type string
	Box  [4]float64
}

// Page is the primary aggregate of the lifecycle engine (spec §3).
type Page struct {
	ID       string
	Filename string
	Size     int64
	MimeType string
	Origin   Origin
	Status   Status
	Progress int

	Order int

	SourceFileID string // empty unless Origin == OriginPDFGenerated
	PageNumber   int    // 1-based; 0 unless Origin == OriginPDFGenerated

	Width  int
	Height int

	Thumbnail []byte // small preview, always inlined

	OCR *OCRResult

	Log []LogEntry

	// PreErrorStatus records the status the page was transitioning out of
	// when it landed on Error, so Retry can replay exactly that edge.
	// Persisted alongside Status in the store row so Retry still works after
	// a process restart with the page still sitting in error.
	PreErrorStatus Status

	// RetryCount is tracked in memory only per process lifetime, for UI
	// display; supplemented feature, never persisted (SPEC_FULL §4).
	RetryCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppendLog appends a log entry with the given level and message.
func (p *Page) AppendLog(level LogLevel, message string) {
	p.Log = append(p.Log, LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	})
}

// SourceFile is the raw bytes of an imported PDF (spec §3 SourceFile).
type SourceFile struct {
	ID       string
	Filename string
	Size     int64
	Content  []byte
}

// PageImage is the full-resolution rendered bytes for one page (spec §3).
type PageImage struct {
	PageID string
	Blob   []byte
	Width  int
	Height int
}

// ArtifactFormat enumerates the generated derivative kinds.
type ArtifactFormat string

const (
	FormatMarkdown ArtifactFormat = "markdown"
	FormatDocx     ArtifactFormat = "docx"
	FormatPDF      ArtifactFormat = "pdf"
)

// PageArtifact is one generated derivative, keyed by (PageID, Format).
type PageArtifact struct {
	PageID   string
	Format   ArtifactFormat
	Bytes    []byte
	MimeType string
}

// ExtractedImage is a sub-region cropped from a page's image during
// Markdown assembly, keyed by (PageID, Index).
type ExtractedImage struct {
	PageID string
	Index  int
	Bytes  []byte
	MimeType string
}
