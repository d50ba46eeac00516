package stages

import (
	"context"
	"errors"
	"strings"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/extract"
	"github.com/listenupapp/pagesync-server/internal/id"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

// TextExtraction turns extracted lines into text blocks. Pages without a
// usable text layer become empty, zero-confidence scanned pages.
type TextExtraction struct{}

// NewTextExtraction creates the text extraction stage.
func NewTextExtraction() *TextExtraction { return &TextExtraction{} }

// Name implements Stage.
func (*TextExtraction) Name() domain.StageName { return domain.StageTextExtraction }

// Run implements Stage.
func (*TextExtraction) Run(ctx context.Context, in Input) (*Output, error) {
	if in.Source == nil {
		return nil, errors.New("no source document")
	}
	doc, err := in.Source.Extract(ctx)
	if err != nil {
		return nil, err
	}

	s := in.Structure
	s.Pages = make([]structure.Page, 0, len(doc.Pages))
	s.Images = nil
	confs := make([]float64, 0, len(doc.Pages))
	for i := range doc.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := buildPage(&doc.Pages[i], s.Metadata.SourceKind == structure.SourceScanned)
		for _, img := range p.ImageBlocks {
			s.Images = append(s.Images, structure.BlockRef{BlockID: img.ID, Page: p.Number})
		}
		confs = append(confs, p.Confidence)
		s.Pages = append(s.Pages, p)
	}
	if s.Metadata.PageCount == 0 {
		s.Metadata.PageCount = len(s.Pages)
	}

	out := &Output{Structure: s, Confidence: score(mean(confs, 0))}
	if n := countScanned(s.Pages); n > 0 {
		out.Warnings = append(out.Warnings, plural(n, "page has", "pages have")+" no text layer")
	}
	return out, nil
}

func buildPage(src *extract.Page, scannedDoc bool) structure.Page {
	text := strings.TrimSpace(src.Text())
	scanned := text == "" && (src.Images > 0 || scannedDoc)
	if scannedDoc && len([]rune(text)) < 50 {
		scanned = true
	}

	var blocks []structure.TextBlock
	if !scanned {
		for _, g := range extract.GroupBlocks(src.Lines) {
			b := structure.NewTextBlock(id.MustGenerate(id.PrefixBlock), g.Text())
			if b.WordCount == 0 {
				continue
			}
			b.BBox = g.BBox
			b.Font = g.Font
			if !src.Positioned {
				b.Confidence = 0.7
			}
			blocks = append(blocks, b)
		}
	}

	p := structure.NewPage(src.Number, blocks...)
	p.Width, p.Height = src.Width, src.Height
	switch {
	case scanned:
		p.Scanned = true
		p.Confidence = 0
	case !src.Positioned && len(blocks) > 0:
		p.Confidence = 0.7
	}
	for k := 0; k < src.Images; k++ {
		img := structure.ImageBlock{ID: id.MustGenerate(id.PrefixImage), Confidence: 0.5}
		p.ImageBlocks = append(p.ImageBlocks, img)
		p.ReadingOrder.BlockIDs = append(p.ReadingOrder.BlockIDs, img.ID)
	}
	return p
}

func countScanned(pages []structure.Page) int {
	n := 0
	for _, p := range pages {
		if p.Scanned {
			n++
		}
	}
	return n
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return itoa(n) + " " + many
}
