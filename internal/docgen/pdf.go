package docgen

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/jackzampolin/scan2doc/internal/model"
)

// pdfBuilder hand-assembles a PDF by writing objects and an xref table
// directly, grounded on gopdfsuit's internal/pdf generator (raw object/
// xref construction with an image XObject per page) rather than a
// higher-level PDF library: no library in the corpus exposes the
// "image plus independently positioned invisible text layer" primitive a
// sandwich/searchable PDF needs, so the wire format is built by hand the
// way gopdfsuit does for its own image-bearing pages.
type pdfBuilder struct {
	pages []pdfPage
}

type pdfPage struct {
	jpeg         []byte
	width        int
	height       int
	tokens       []model.OCRToken
}

func newPDFBuilder() *pdfBuilder { return &pdfBuilder{} }

func (b *pdfBuilder) addPage(jpegBytes []byte, width, height int, tokens []model.OCRToken) {
	b.pages = append(b.pages, pdfPage{jpeg: jpegBytes, width: width, height: height, tokens: tokens})
}

// build emits the PDF bytes. Page geometry uses PDF points 1:1 with pixel
// dimensions, which is adequate for a searchable-overlay PDF where visual
// fidelity of the original render matters more than physical page size.
func (b *pdfBuilder) build() ([]byte, error) {
	var buf bytes.Buffer
	offsets := map[int]int{}
	nextID := 1

	writeObj := func(id int, body string) {
		offsets[id] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", id, body)
	}

	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	catalogID := nextID
	nextID++
	pagesID := nextID
	nextID++
	fontID := nextID
	nextID++

	type pageIDs struct {
		pageID, imageID, contentID int
	}
	var ids []pageIDs
	for range b.pages {
		ids = append(ids, pageIDs{pageID: nextID, imageID: nextID + 1, contentID: nextID + 2})
		nextID += 3
	}

	kids := ""
	for _, p := range ids {
		kids += fmt.Sprintf("%d 0 R ", p.pageID)
	}
	writeObj(catalogID, fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesID))
	writeObj(pagesID, fmt.Sprintf("<< /Type /Pages /Kids [ %s] /Count %d >>", kids, len(b.pages)))
	writeObj(fontID, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	for i, page := range b.pages {
		pi := ids[i]

		writeObj(pi.imageID, fmt.Sprintf(
			"<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /DCTDecode /Length %d >>\nstream\n%s\nendstream",
			page.width, page.height, len(page.jpeg), string(page.jpeg)))

		content := sandwichContentStream(page)
		writeObj(pi.contentID, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))

		resources := fmt.Sprintf("<< /XObject << /Im0 %d 0 R >> /Font << /F1 %d 0 R >> >>", pi.imageID, fontID)
		writeObj(pi.pageID, fmt.Sprintf(
			"<< /Type /Page /Parent %d 0 R /MediaBox [0 0 %d %d] /Resources %s /Contents %d 0 R >>",
			pagesID, page.width, page.height, resources, pi.contentID))
	}

	xrefStart := buf.Len()
	totalObjs := nextID
	fmt.Fprintf(&buf, "xref\n0 %d\n", totalObjs)
	buf.WriteString("0000000000 65535 f \n")
	for id := 1; id < totalObjs; id++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[id])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF", totalObjs, catalogID, xrefStart)

	return buf.Bytes(), nil
}

// sandwichContentStream draws the page image full-bleed, then an
// invisible (render mode 3) text layer positioned at each OCR token's
// bounding box, so the page both looks like the scan and is selectable/
// searchable (spec §4.10 "composes the original page image with a
// transparent text layer positioned from the OCR's per-token coordinates").
func sandwichContentStream(p pdfPage) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "q %d 0 0 %d 0 0 cm /Im0 Do Q\n", p.width, p.height)

	buf.WriteString("BT /F1 1 Tf 3 Tr\n")
	for _, tok := range p.tokens {
		if tok.Token == "" {
			continue
		}
		x0 := tok.Box[0] * float64(p.width)
		y1 := (1 - tok.Box[3]) * float64(p.height) // PDF y grows upward
		boxW := (tok.Box[2] - tok.Box[0]) * float64(p.width)
		boxH := (tok.Box[3] - tok.Box[1]) * float64(p.height)
		fontSize := boxH
		if fontSize <= 0 {
			fontSize = 1
		}
		// Scale horizontally so the invisible run spans the token's box
		// width regardless of Helvetica's actual metrics for this text.
		hScale := 100.0
		if estWidth := fontSize * 0.5 * float64(len(tok.Token)); estWidth > 0 {
			hScale = boxW / estWidth * 100
		}
		fmt.Fprintf(&buf, "%.2f Tz /F1 %.2f Tf 1 0 0 1 %.2f %.2f Tm (%s) Tj\n",
			hScale, fontSize, x0, y1, escapePDFString(tok.Token))
	}
	buf.WriteString("ET\n")
	return buf.String()
}

func escapePDFString(s string) string {
	out := make([]byte, 0, len(s)+4)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', ')', '\\':
			out = append(out, '\\', s[i])
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

// jpegPage is a page's rendered image re-encoded as JPEG for PDF
// embedding via DCTDecode, alongside its pixel dimensions.
type jpegPage struct {
	bytes  []byte
	width  int
	height int
}

// renderJPEGPage loads and re-encodes a page's rendered image, shared by
// generateSandwichPDF (one page) and exportPDF (every page).
func (g *Generator) renderJPEGPage(ctx context.Context, pageID string) (jpegPage, error) {
	img, err := g.db.GetPageImage(ctx, pageID)
	if err != nil {
		return jpegPage{}, fmt.Errorf("read page image: %w", err)
	}
	decoded, _, err := image.Decode(bytes.NewReader(img.Blob))
	if err != nil {
		return jpegPage{}, fmt.Errorf("decode page image: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, decoded, &jpeg.Options{Quality: 85}); err != nil {
		return jpegPage{}, fmt.Errorf("encode page image as jpeg: %w", err)
	}
	return jpegPage{bytes: buf.Bytes(), width: img.Width, height: img.Height}, nil
}

// generateSandwichPDF builds a single-page searchable PDF from the page's
// rendered image and OCR token boxes.
func (g *Generator) generateSandwichPDF(ctx context.Context, pageID string) error {
	page := g.pages.Get(pageID)
	if page == nil || page.OCR == nil {
		return fmt.Errorf("page %s: no ocr result", pageID)
	}
	img, err := g.renderJPEGPage(ctx, pageID)
	if err != nil {
		return err
	}

	b := newPDFBuilder()
	b.addPage(img.bytes, img.width, img.height, page.OCR.RawText)

	out, err := b.build()
	if err != nil {
		return fmt.Errorf("build pdf: %w", err)
	}
	return g.db.SaveArtifact(ctx, &model.PageArtifact{PageID: pageID, Format: model.FormatPDF, Bytes: out, MimeType: "application/pdf"})
}
