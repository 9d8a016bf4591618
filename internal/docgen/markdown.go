package docgen

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"strings"

	"github.com/jackzampolin/scan2doc/internal/model"
)

// figureBoxTypes are the OCRBox.Type values that indicate an embeddable
// image region rather than a text region (spec §4.10 "extracts image
// regions indicated by OCR boxes").
var figureBoxTypes = map[string]bool{
	"figure": true,
	"image":  true,
	"table":  true,
}

// generateMarkdown assembles the page's Markdown from its OCR text,
// cropping any figure/image/table boxes into pageExtractedImages and
// replacing their span with a stable reference (spec §4.10).
func (g *Generator) generateMarkdown(ctx context.Context, pageID string) error {
	page := g.pages.Get(pageID)
	if page == nil || page.OCR == nil {
		return fmt.Errorf("page %s: no ocr result", pageID)
	}

	md := page.OCR.Text
	var figures []model.OCRBox
	for _, b := range page.OCR.Boxes {
		if figureBoxTypes[b.Type] {
			figures = append(figures, b)
		}
	}

	if len(figures) > 0 {
		img, err := g.db.GetPageImage(ctx, pageID)
		if err != nil {
			return fmt.Errorf("read page image for figure extraction: %w", err)
		}
		src, _, err := image.Decode(bytes.NewReader(img.Blob))
		if err != nil {
			return fmt.Errorf("decode page image: %w", err)
		}

		var refs []string
		for i, box := range figures {
			cropped, err := cropNormalized(src, box.Box)
			if err != nil {
				continue // a single bad box doesn't fail the whole page
			}
			var buf bytes.Buffer
			if err := png.Encode(&buf, cropped); err != nil {
				continue
			}
			if err := g.db.SaveExtractedImage(ctx, &model.ExtractedImage{
				PageID: pageID, Index: i, Bytes: buf.Bytes(), MimeType: "image/png",
			}); err != nil {
				return fmt.Errorf("save extracted image %d: %w", i, err)
			}
			refs = append(refs, fmt.Sprintf("![%s %d](extracted:%s:%d)", box.Type, i, pageID, i))
		}
		if len(refs) > 0 {
			md = strings.TrimRight(md, "\n") + "\n\n" + strings.Join(refs, "\n") + "\n"
		}
	}

	return g.db.SaveArtifact(ctx, &model.PageArtifact{
		PageID: pageID, Format: model.FormatMarkdown, Bytes: []byte(md), MimeType: "text/markdown",
	})
}

// cropNormalized crops src to the rectangle described by box, whose
// coordinates are fractions of the image's width/height in [0,1]
// (x0, y0, x1, y1), per the remote OCR endpoint's coordinate convention.
func cropNormalized(src image.Image, box [4]float64) (image.Image, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	x0 := int(box[0] * float64(w))
	y0 := int(box[1] * float64(h))
	x1 := int(box[2] * float64(w))
	y1 := int(box[3] * float64(h))
	if x1 <= x0 || y1 <= y0 {
		return nil, fmt.Errorf("degenerate box %v", box)
	}
	rect := image.Rect(0, 0, x1-x0, y1-y0)
	dst := image.NewRGBA(rect)
	draw.Draw(dst, rect, src, image.Pt(b.Min.X+x0, b.Min.Y+y0), draw.Src)
	return dst, nil
}
