// Package extract reads PDF bytes into positioned text lines, image counts and
// quality metrics. It is the content-extraction collaborator behind the
// classification and text extraction stages.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/listenupapp/pagesync-server/internal/logger"
)

// ErrNotPDF is returned when neither parser can open the input.
var ErrNotPDF = errors.New("input is not a readable PDF")

// Line is a run of text on one baseline. Coordinates use a top-left origin.
type Line struct {
	Text     string  `json:"text"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	FontSize float64 `json:"font_size"`
	Font     string  `json:"font,omitempty"`
}

// Page is the extracted content of one page.
type Page struct {
	Number int     `json:"number"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Lines  []Line  `json:"lines"`
	Images int     `json:"images"`
	// Positioned is false when only unpositioned stream text was recovered.
	Positioned bool `json:"positioned"`
}

// Text joins the page lines.
func (p *Page) Text() string {
	var buf bytes.Buffer
	for i, l := range p.Lines {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(l.Text)
	}
	return buf.String()
}

// Info is the document information dictionary.
type Info struct {
	Title   string `json:"title,omitempty"`
	Author  string `json:"author,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// Document is a fully extracted PDF.
type Document struct {
	Info    Info     `json:"info"`
	Pages   []Page   `json:"pages"`
	Quality *Quality `json:"quality"`
}

// Extractor turns raw PDF bytes into a Document.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (*Document, error)
}

// PDFExtractor uses pdfcpu for validation, metadata, page geometry and image
// detection, and rsc.io/pdf for positioned glyphs.
type PDFExtractor struct {
	logger *slog.Logger
}

// New creates a PDFExtractor.
func New(log *slog.Logger) *PDFExtractor {
	return &PDFExtractor{logger: logger.OrDiscard(log)}
}

// Extract implements Extractor.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (*Document, error) {
	structural, cpuErr := readPDFDoc(data)
	if cpuErr != nil {
		e.logger.Debug("pdfcpu could not read document, falling back", "error", cpuErr)
	}

	glyphs, rscErr := openGlyphReader(data)
	if cpuErr != nil && rscErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPDF, errors.Join(cpuErr, rscErr))
	}

	pageCount := 0
	if structural != nil {
		pageCount = structural.pageCount
	} else {
		pageCount = glyphs.numPages()
	}

	doc := &Document{Pages: make([]Page, 0, pageCount)}
	if structural != nil {
		doc.Info = structural.info
	}

	for n := 1; n <= pageCount; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := Page{Number: n}
		if structural != nil {
			page.Width, page.Height = structural.dims(n)
			page.Images = structural.images(n)
		}
		if glyphs != nil {
			lines, w, h, err := glyphs.lines(n, page.Height)
			if err != nil {
				e.logger.Debug("positioned extraction failed", "page", n, "error", err)
			} else {
				page.Lines = lines
				page.Positioned = true
				if page.Width == 0 {
					page.Width, page.Height = w, h
				}
			}
		}
		if !page.Positioned && structural != nil {
			if text := structural.streamText(n); text != "" {
				page.Lines = []Line{{Text: text}}
			}
		}
		doc.Pages = append(doc.Pages, page)
	}

	doc.Quality = Assess(doc)
	e.logger.Debug("pdf extracted",
		"pages", len(doc.Pages),
		"chars_per_page", doc.Quality.CharsPerPage,
		"needs_ocr", doc.Quality.NeedsOCR())
	return doc, nil
}

// PageCount returns the page count, trying pdfcpu first and rsc.io/pdf second.
func PageCount(data []byte) (int, error) {
	if s, err := readPDFDoc(data); err == nil {
		return s.pageCount, nil
	}
	g, err := openGlyphReader(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotPDF, err)
	}
	return g.numPages(), nil
}
