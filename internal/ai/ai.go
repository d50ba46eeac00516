// Package ai adapts generative models to the content-classification contract
// used by the pipeline and the chapter detector. Every call may fail with
// errors.ErrUnavailable; callers degrade to heuristics.
package ai

import (
	"context"

	"github.com/listenupapp/pagesync-server/internal/chapters"
	domainerrors "github.com/listenupapp/pagesync-server/internal/errors"
)

// BlockText is a block offered for semantic classification.
type BlockText struct {
	ID   string `json:"id"`
	Page int    `json:"page"`
	Text string `json:"text"`
}

// BlockLabel is the model's semantic type for a block.
type BlockLabel struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	HeadingLevel int     `json:"heading_level,omitempty"`
	Confidence   float64 `json:"confidence"`
}

// Figure describes an image by its surroundings, for alt text generation.
type Figure struct {
	Page     int    `json:"page"`
	Caption  string `json:"caption,omitempty"`
	Context  string `json:"context,omitempty"`
	Language string `json:"language,omitempty"`
}

// Classifier is the content-classification collaborator.
type Classifier interface {
	chapters.Suggester
	ClassifyBlocks(ctx context.Context, blocks []BlockText) ([]BlockLabel, error)
	DescribeFigure(ctx context.Context, fig Figure) (string, error)
}

// Noop is the classifier used when no provider is configured.
type Noop struct{}

var errNoProvider = domainerrors.Unavailable("no AI provider configured")

// SuggestChapters implements Classifier.
func (Noop) SuggestChapters(context.Context, []chapters.PageText) ([]chapters.Suggestion, error) {
	return nil, errNoProvider
}

// ClassifyBlocks implements Classifier.
func (Noop) ClassifyBlocks(context.Context, []BlockText) ([]BlockLabel, error) {
	return nil, errNoProvider
}

// DescribeFigure implements Classifier.
func (Noop) DescribeFigure(context.Context, Figure) (string, error) {
	return "", errNoProvider
}

// Available reports whether c is a real provider.
func Available(c Classifier) bool {
	if c == nil {
		return false
	}
	_, noop := c.(Noop)
	return !noop
}
