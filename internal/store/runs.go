package store

import (
	"context"
	"slices"
	"strconv"

	"github.com/listenupapp/pagesync-server/internal/domain"
)

const runPrefix = "run:"

func (s *Store) runs() *Entity[domain.AlignmentRun] {
	return NewEntity[domain.AlignmentRun](s, runPrefix).
		WithIndex("job", func(r *domain.AlignmentRun) []string {
			return []string{strconv.FormatInt(r.JobID, 10)}
		})
}

// SaveRun creates or replaces an alignment run.
func (s *Store) SaveRun(ctx context.Context, run *domain.AlignmentRun) error {
	return s.runs().Save(ctx, run.ID, run)
}

// GetRun returns an alignment run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*domain.AlignmentRun, error) {
	return s.runs().Get(ctx, id)
}

// ListRuns returns the job's alignment runs, newest first.
func (s *Store) ListRuns(ctx context.Context, jobID int64) ([]*domain.AlignmentRun, error) {
	var out []*domain.AlignmentRun
	for run, err := range s.runs().ListByIndex(ctx, "job", strconv.FormatInt(jobID, 10)) {
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	slices.SortFunc(out, func(a, b *domain.AlignmentRun) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return out, nil
}
