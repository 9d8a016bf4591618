// Package api exposes the thin HTTP surface `scan2doc serve` offers a
// browser-only UI/CLI collaborator (SPEC_FULL.md §2): list pages, ingest
// files, submit OCR, and export a document. It is a direct net/http
// ServeMux handler, not a separate framework — no HTTP router library
// appears anywhere in the retrieval pack, so this stays on the standard
// library rather than introducing an unfounded dependency (DESIGN.md).
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/jackzampolin/scan2doc/internal/config"
	"github.com/jackzampolin/scan2doc/internal/docgen"
	"github.com/jackzampolin/scan2doc/internal/ingest"
	"github.com/jackzampolin/scan2doc/internal/model"
	"github.com/jackzampolin/scan2doc/internal/ocr"
	"github.com/jackzampolin/scan2doc/internal/pagestore"
)

// Server holds the dependencies the HTTP surface dispatches onto; every
// handler just translates JSON in/out and calls straight into the engine's
// components, mirroring the teacher's thin internal/api translation layer.
type Server struct {
	pages  *pagestore.Store
	ingest *ingest.Ingestor
	ocr    *ocr.Coordinator
	gen    *docgen.Generator
	cfg    *config.Manager
	log    *slog.Logger
}

// New creates a Server and wires its routes onto mux.
func New(pages *pagestore.Store, ingestor *ingest.Ingestor, ocrCoord *ocr.Coordinator, gen *docgen.Generator, cfg *config.Manager, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{pages: pages, ingest: ingestor, ocr: ocrCoord, gen: gen, cfg: cfg, log: log}
}

// Handler builds the ServeMux for this server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /pages", s.handleListPages)
	mux.HandleFunc("GET /pages/{id}", s.handleGetPage)
	mux.HandleFunc("POST /pages/{id}/retry", s.handleRetry)
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("POST /ocr/submit", s.handleOCRSubmit)
	mux.HandleFunc("POST /export", s.handleExport)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListPages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"pages":    s.pages.Pages(),
		"progress": s.pages.OverallProgress(),
	})
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p := s.pages.Get(id)
	if p == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("page %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.pages.Retry(r.Context(), id); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retrying"})
}

// handleIngest accepts a multipart/form-data upload of one or more
// image/PDF files under the "files" field (spec §4.7).
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.cfg.Get().Ingest.MaxPDFBytes); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var files []ingest.File
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		content := make([]byte, fh.Size)
		if _, err := f.Read(content); err != nil && err.Error() != "EOF" {
			f.Close()
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f.Close()

		mimeType := fh.Header.Get("Content-Type")
		if mimeType == "" {
			mimeType = mime.TypeByExtension(fh.Filename)
		}
		files = append(files, ingest.File{Filename: fh.Filename, MimeType: mimeType, Content: content})
	}

	cfg := s.cfg.Get()
	result := s.ingest.IngestFiles(r.Context(), files, ingest.Options{
		MaxImageBytes: cfg.Ingest.MaxImageBytes,
		MaxPDFBytes:   cfg.Ingest.MaxPDFBytes,
		ThumbnailMax:  cfg.Ingest.ThumbnailMax,
	})
	if !result.Success {
		writeError(w, http.StatusUnprocessableEntity, result.Err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"pages": result.Pages})
}

type ocrSubmitRequest struct {
	PageIDs []string `json:"page_ids"`
	Mode    string   `json:"mode"`
}

func (s *Server) handleOCRSubmit(w http.ResponseWriter, r *http.Request) {
	var req ocrSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	mode := ocr.Mode(req.Mode)
	if mode == "" {
		mode = ocr.ModeDocument
	}
	result := s.ocr.SubmitBatch(r.Context(), req.PageIDs, mode)
	writeJSON(w, http.StatusAccepted, result)
}

type exportRequest struct {
	PageIDs []string `json:"page_ids"`
	Format  string   `json:"format"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	now := time.Now().Format("2006-01-02_15-04-05")
	result, err := s.gen.ExportDocument(r.Context(), req.PageIDs, model.ArtifactFormat(req.Format), now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if result.SomeNotReady {
		writeJSON(w, http.StatusConflict, map[string]any{"not_ready": result.NotReadyIDs})
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Bytes)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
