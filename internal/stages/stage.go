// Package stages implements the nine conversion pipeline stages. Each stage
// receives a private copy of the previous structure and returns the next one.
package stages

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/listenupapp/pagesync-server/internal/ai"
	"github.com/listenupapp/pagesync-server/internal/chapters"
	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/extract"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

// Source is the raw document of one pipeline run. Extraction is memoized so
// classification and text extraction parse the PDF once.
type Source struct {
	Data        []byte
	ContentType string

	extractor extract.Extractor
	once      sync.Once
	doc       *extract.Document
	err       error
}

// NewSource wraps raw document bytes.
func NewSource(data []byte, contentType string, extractor extract.Extractor) *Source {
	return &Source{Data: data, ContentType: contentType, extractor: extractor}
}

// Extract returns the extracted document, parsing on first use.
func (s *Source) Extract(ctx context.Context) (*extract.Document, error) {
	s.once.Do(func() {
		s.doc, s.err = s.extractor.Extract(ctx, s.Data)
	})
	return s.doc, s.err
}

// Input is what a stage receives.
type Input struct {
	JobID      int64
	DocumentID int64
	Source     *Source
	// Structure is a private copy; stages may mutate and return it.
	Structure *structure.Structure
	// JobConfidence is the job's running mean confidence, nil before any stage reported one.
	JobConfidence *float64
}

// Output is what a stage produces.
type Output struct {
	Structure *structure.Structure
	// Confidence is nil for stages that do not score their work.
	Confidence *float64
	// Review, when set, asks for human review regardless of confidence.
	Review string
	// ArtifactKey is set by the packaging stage.
	ArtifactKey string
	Warnings    []string
}

// Stage is one step of the conversion pipeline.
type Stage interface {
	Name() domain.StageName
	Run(ctx context.Context, in Input) (*Output, error)
}

// Descriptor pairs a stage with the confidence below which it pauses the job.
type Descriptor struct {
	Stage           Stage
	ReviewThreshold float64
}

// ArtifactStore persists packaged artifacts.
type ArtifactStore interface {
	NewKey(prefix, ext string) string
	Put(ctx context.Context, key string, r io.Reader) error
}

// Deps are the collaborators the built-in stages need.
type Deps struct {
	Classifier      ai.Classifier
	Packager        Packager
	Artifacts       ArtifactStore
	ChapterOptions  chapters.Options
	ReviewThreshold float64
	QAThreshold     float64
	Logger          *slog.Logger
}

// Default returns the nine built-in stages in pipeline order.
func Default(d Deps) []Descriptor {
	if d.Classifier == nil {
		d.Classifier = ai.Noop{}
	}
	if d.Packager == nil {
		d.Packager = ManifestPackager{}
	}
	list := []Stage{
		NewClassification(),
		NewTextExtraction(),
		NewLayoutAnalysis(),
		NewSemanticStructuring(d.Classifier, d.ChapterOptions, d.Logger),
		NewAccessibility(d.Classifier, d.Logger),
		NewContentCleanup(),
		NewSpecialContent(),
		NewEPUBGeneration(d.Packager, d.Artifacts),
		NewQAReview(d.QAThreshold),
	}
	out := make([]Descriptor, len(list))
	for i, s := range list {
		out[i] = Descriptor{Stage: s, ReviewThreshold: d.ReviewThreshold}
	}
	return out
}

func score(v float64) *float64 {
	switch {
	case v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	v = float64(int(v*1000+0.5)) / 1000
	return &v
}

func mean(vals []float64, empty float64) float64 {
	if len(vals) == 0 {
		return empty
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
