package docgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackzampolin/scan2doc/internal/eventbus"
	"github.com/jackzampolin/scan2doc/internal/model"
)

// ExportResult is the outcome of ExportDocument.
type ExportResult struct {
	Filename    string
	Bytes       []byte
	SomeNotReady bool
	NotReadyIDs  []string
}

// ExportDocument concatenates per-page artifacts for pageIDs, in order,
// into a single document (spec §4.10). now is injected by the caller so
// the filename template can be given a fixed instant in tests.
func (g *Generator) ExportDocument(ctx context.Context, pageIDs []string, format model.ArtifactFormat, now string) (*ExportResult, error) {
	g.bus.Publish(eventbus.ExportStart, eventbus.ExportPayload{Format: format})

	var notReady []string
	for _, id := range pageIDs {
		p := g.pages.Get(id)
		if p == nil || !model.AtLeastOCRSuccess(p.Status) {
			notReady = append(notReady, id)
		}
	}
	if len(notReady) > 0 {
		return &ExportResult{SomeNotReady: true, NotReadyIDs: notReady}, nil
	}

	var out []byte
	var err error
	switch format {
	case model.FormatMarkdown:
		out, err = g.exportMarkdown(ctx, pageIDs)
	case model.FormatDocx:
		out, err = g.exportDocx(ctx, pageIDs)
	case model.FormatPDF:
		out, err = g.exportPDF(ctx, pageIDs)
	default:
		err = fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		g.bus.Publish(eventbus.ExportError, eventbus.ExportPayload{Format: format, Err: err})
		return nil, err
	}

	filename := fmt.Sprintf("document_%s.%s", now, extensionFor(format))
	g.bus.Publish(eventbus.ExportDone, eventbus.ExportPayload{DocumentID: filename, Format: format})
	return &ExportResult{Filename: filename, Bytes: out}, nil
}

func extensionFor(format model.ArtifactFormat) string {
	switch format {
	case model.FormatMarkdown:
		return "md"
	case model.FormatDocx:
		return "docx"
	case model.FormatPDF:
		return "pdf"
	default:
		return "bin"
	}
}

// exportMarkdown joins each page's Markdown artifact with the spec's
// "\n\n---\n\n" separator.
func (g *Generator) exportMarkdown(ctx context.Context, pageIDs []string) ([]byte, error) {
	var parts []string
	for _, id := range pageIDs {
		a, err := g.db.GetArtifact(ctx, id, model.FormatMarkdown)
		if err != nil {
			return nil, fmt.Errorf("page %s: %w", id, err)
		}
		parts = append(parts, string(a.Bytes))
	}
	return []byte(strings.Join(parts, "\n\n---\n\n")), nil
}

// exportDocx merges every page's Markdown + extracted images into one
// DOCX, each page becoming its own run of paragraphs (spec §4.10 "merged
// document with each page as a section").
func (g *Generator) exportDocx(ctx context.Context, pageIDs []string) ([]byte, error) {
	b := newDocxBuilder()
	for i, id := range pageIDs {
		md, err := g.db.GetArtifact(ctx, id, model.FormatMarkdown)
		if err != nil {
			return nil, fmt.Errorf("page %s: %w", id, err)
		}
		images, err := g.db.ListExtractedImages(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("page %s images: %w", id, err)
		}
		imgs := make([]model.ExtractedImage, 0, len(images))
		for _, img := range images {
			imgs = append(imgs, *img)
		}
		b.images = append(b.images, imgs...)
		b.addMarkdown(string(md.Bytes), imgs)
		if i < len(pageIDs)-1 {
			b.paragraphs = append(b.paragraphs, docxParagraph{})
		}
	}
	return b.build()
}

// exportPDF concatenates every page's rendered image + text layer into
// one multi-page searchable PDF (spec §4.10 "PDF: concatenated pages").
// It re-derives each page's layer from the stored PageImage/OCR record
// rather than parsing the already-built per-page PDF bytes back apart,
// since this package owns both representations directly.
func (g *Generator) exportPDF(ctx context.Context, pageIDs []string) ([]byte, error) {
	b := newPDFBuilder()
	for _, id := range pageIDs {
		page := g.pages.Get(id)
		if page == nil || page.OCR == nil {
			return nil, fmt.Errorf("page %s: no ocr result", id)
		}
		img, err := g.renderJPEGPage(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("page %s: %w", id, err)
		}
		b.addPage(img.bytes, img.width, img.height, page.OCR.RawText)
	}
	return b.build()
}
