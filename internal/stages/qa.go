package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

// QAReview validates the finished structure and checks overall confidence.
type QAReview struct {
	threshold float64
}

// NewQAReview creates the QA stage. Jobs whose running confidence is below
// threshold are flagged for review.
func NewQAReview(threshold float64) *QAReview {
	return &QAReview{threshold: threshold}
}

// Name implements Stage.
func (*QAReview) Name() domain.StageName { return domain.StageQAReview }

// Run implements Stage.
func (q *QAReview) Run(_ context.Context, in Input) (*Output, error) {
	s := in.Structure
	out := &Output{Structure: s}

	conf := coverage(s)
	if err := structure.Validate(s); err != nil {
		var verr *structure.ValidationError
		if !errors.As(err, &verr) {
			return nil, err
		}
		conf *= 0.5
		out.Review = fmt.Sprintf("structure validation found %d issue(s): %s", len(verr.Issues), verr.Issues[0])
		out.Warnings = verr.Issues
	}
	if out.Review == "" && in.JobConfidence != nil && *in.JobConfidence < q.threshold {
		out.Review = fmt.Sprintf("overall confidence %.2f below %.2f", *in.JobConfidence, q.threshold)
	}
	out.Confidence = score(conf)
	return out, nil
}

// coverage is the share of pages that carry text.
func coverage(s *structure.Structure) float64 {
	if len(s.Pages) == 0 {
		return 0
	}
	n := 0
	for _, p := range s.Pages {
		if p.WordCount() > 0 {
			n++
		}
	}
	return float64(n) / float64(len(s.Pages))
}
