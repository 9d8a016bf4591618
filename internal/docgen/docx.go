package docgen

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/jackzampolin/scan2doc/internal/model"
)

// docxBuilder assembles a minimal OOXML WordprocessingML package: a zip
// container of [Content_Types].xml, _rels, and word/document.xml, with
// embedded images under word/media. Grounded on the teacher's epub.Builder
// container-format assembly (mimetype/container.xml/package.opf written
// directly rather than via a document-generation library); no third-party
// OOXML library is present anywhere in the corpus, so this follows the
// same "write the container format by hand" idiom the teacher uses for
// ePub.
type docxBuilder struct {
	paragraphs []docxParagraph
	images     []model.ExtractedImage
}

type docxParagraph struct {
	style string // "Heading1", "Heading2", "Heading3", or "" for body text
	text  string
	image *model.ExtractedImage
}

func newDocxBuilder() *docxBuilder {
	return &docxBuilder{}
}

// addMarkdown splits a page's rendered Markdown into headings/paragraphs,
// resolving `extracted:pageId:index` image references against images.
func (d *docxBuilder) addMarkdown(md string, images []model.ExtractedImage) {
	byIndex := make(map[int]model.ExtractedImage, len(images))
	for _, img := range images {
		byIndex[img.Index] = img
	}

	for _, line := range strings.Split(md, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if idx, ok := parseExtractedRef(line); ok {
			if img, ok := byIndex[idx]; ok {
				d.paragraphs = append(d.paragraphs, docxParagraph{image: &img})
				continue
			}
		}
		switch {
		case strings.HasPrefix(line, "### "):
			d.paragraphs = append(d.paragraphs, docxParagraph{style: "Heading3", text: line[4:]})
		case strings.HasPrefix(line, "## "):
			d.paragraphs = append(d.paragraphs, docxParagraph{style: "Heading2", text: line[3:]})
		case strings.HasPrefix(line, "# "):
			d.paragraphs = append(d.paragraphs, docxParagraph{style: "Heading1", text: line[2:]})
		case line == "---":
			d.paragraphs = append(d.paragraphs, docxParagraph{style: "", text: ""})
		default:
			d.paragraphs = append(d.paragraphs, docxParagraph{text: line})
		}
	}
}

// parseExtractedRef recognizes the `![... ](extracted:pageId:index)`
// reference emitted by generateMarkdown.
func parseExtractedRef(line string) (int, bool) {
	open := strings.Index(line, "(extracted:")
	if open < 0 {
		return 0, false
	}
	close := strings.Index(line[open:], ")")
	if close < 0 {
		return 0, false
	}
	ref := line[open+len("(extracted:") : open+close]
	parts := strings.Split(ref, ":")
	if len(parts) != 2 {
		return 0, false
	}
	var idx int
	if _, err := fmt.Sscanf(parts[1], "%d", &idx); err != nil {
		return 0, false
	}
	return idx, true
}

func (d *docxBuilder) build() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if err := writeZipFile(zw, "[Content_Types].xml", docxContentTypes(d.hasImages())); err != nil {
		return nil, err
	}
	if err := writeZipFile(zw, "_rels/.rels", docxRootRels); err != nil {
		return nil, err
	}
	if err := writeZipFile(zw, "word/_rels/document.xml.rels", d.documentRels()); err != nil {
		return nil, err
	}
	if err := writeZipFile(zw, "word/document.xml", d.documentXML()); err != nil {
		return nil, err
	}
	for i, img := range d.images {
		name := fmt.Sprintf("word/media/image%d.png", i+1)
		if err := writeZipBytes(zw, name, img.Bytes); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close docx zip: %w", err)
	}
	return buf.Bytes(), nil
}

func (d *docxBuilder) hasImages() bool { return len(d.images) > 0 }

func (d *docxBuilder) documentRels() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	sb.WriteString(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	for i := range d.images {
		fmt.Fprintf(&sb, `<Relationship Id="rId%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="media/image%d.png"/>`, i+1, i+1)
	}
	sb.WriteString(`</Relationships>`)
	return sb.String()
}

func (d *docxBuilder) documentXML() string {
	var body strings.Builder
	imgCount := 0
	for _, p := range d.paragraphs {
		if p.image != nil {
			imgCount++
			body.WriteString(docxImageParagraph(imgCount))
			continue
		}
		if p.text == "" {
			body.WriteString(`<w:p/>`)
			continue
		}
		style := ""
		if p.style != "" {
			style = fmt.Sprintf(`<w:pPr><w:pStyle w:val="%s"/></w:pPr>`, p.style)
		}
		fmt.Fprintf(&body, `<w:p>%s<w:r><w:t xml:space="preserve">%s</w:t></w:r></w:p>`, style, html.EscapeString(p.text))
	}

	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main" ` +
		`xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" ` +
		`xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing" ` +
		`xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" ` +
		`xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture">` +
		`<w:body>` + body.String() + `<w:sectPr/></w:body></w:document>`
}

func docxImageParagraph(rID int) string {
	return fmt.Sprintf(`<w:p><w:r><w:drawing><wp:inline><wp:extent cx="4000000" cy="3000000"/>`+
		`<a:graphic><a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/picture">`+
		`<pic:pic><pic:blipFill><a:blip r:embed="rId%d"/></pic:blipFill></pic:pic>`+
		`</a:graphicData></a:graphic></wp:inline></w:drawing></w:r></w:p>`, rID)
}

func docxContentTypes(hasImages bool) string {
	img := ""
	if hasImages {
		img = `<Default Extension="png" ContentType="image/png"/>`
	}
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
		`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
		img +
		`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
		`</Types>`
}

const docxRootRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

func writeZipFile(zw *zip.Writer, name, content string) error {
	return writeZipBytes(zw, name, []byte(content))
}

func writeZipBytes(zw *zip.Writer, name string, content []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	_, err = w.Write(content)
	return err
}

// generateDocx builds a single-page DOCX from the page's Markdown artifact.
func (g *Generator) generateDocx(ctx context.Context, pageID string) error {
	md, err := g.db.GetArtifact(ctx, pageID, model.FormatMarkdown)
	if err != nil {
		return fmt.Errorf("read markdown artifact: %w", err)
	}
	images, err := g.db.ListExtractedImages(ctx, pageID)
	if err != nil {
		return fmt.Errorf("list extracted images: %w", err)
	}
	imgs := make([]model.ExtractedImage, 0, len(images))
	for _, img := range images {
		imgs = append(imgs, *img)
	}

	b := newDocxBuilder()
	b.images = imgs
	b.addMarkdown(string(md.Bytes), imgs)

	out, err := b.build()
	if err != nil {
		return fmt.Errorf("build docx: %w", err)
	}
	return g.db.SaveArtifact(ctx, &model.PageArtifact{
		PageID: pageID, Format: model.FormatDocx, Bytes: out,
		MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	})
}
