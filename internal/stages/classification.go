package stages

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

// Classification decides whether the document is a scan or born-digital and
// records document metadata.
type Classification struct{}

// NewClassification creates the classification stage.
func NewClassification() *Classification { return &Classification{} }

// Name implements Stage.
func (*Classification) Name() domain.StageName { return domain.StageClassification }

var authorSplit = regexp.MustCompile(`\s*(?:;|,|\band\b|&)\s*`)

// Run implements Stage.
func (*Classification) Run(ctx context.Context, in Input) (*Output, error) {
	if in.Source == nil {
		return nil, errors.New("no source document")
	}
	doc, err := in.Source.Extract(ctx)
	if err != nil {
		return nil, err
	}
	if len(doc.Pages) == 0 {
		return nil, errors.New("document has no pages")
	}

	s := in.Structure
	q := doc.Quality
	s.Metadata.PageCount = len(doc.Pages)
	s.Metadata.Subject = doc.Info.Subject
	s.Metadata.Title = doc.Info.Title
	if s.Metadata.Title == "" {
		s.Metadata.Title = firstLine(doc.Pages[0].Text())
	}
	s.Metadata.Authors = nil
	if doc.Info.Author != "" {
		for _, a := range authorSplit.Split(doc.Info.Author, -1) {
			if a = strings.TrimSpace(a); a != "" {
				s.Metadata.Authors = append(s.Metadata.Authors, a)
			}
		}
	}

	var conf float64
	if q.NeedsOCR() {
		s.Metadata.SourceKind = structure.SourceScanned
		// An empty text layer over images is an unambiguous scan.
		conf = 0.6
		if q.CharsPerPage < 5 || q.PrintableRatio < 0.5 {
			conf = 0.95
		}
	} else {
		s.Metadata.SourceKind = structure.SourceDigital
		conf = q.Confidence()
	}
	return &Output{Structure: s, Confidence: score(conf)}, nil
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			if r := []rune(line); len(r) > 200 {
				line = string(r[:200])
			}
			return line
		}
	}
	return ""
}
