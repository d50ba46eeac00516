package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/listenupapp/pagesync-server/internal/domain"
	domainerrors "github.com/listenupapp/pagesync-server/internal/errors"
	"github.com/listenupapp/pagesync-server/internal/logger"
	"github.com/listenupapp/pagesync-server/internal/search"
	"github.com/listenupapp/pagesync-server/internal/store"
)

// SearchService bridges the block index with the job and snapshot stores.
type SearchService struct {
	index     *search.SearchIndex
	jobs      store.JobStore
	snapshots store.SnapshotStore
	logger    *slog.Logger
}

// NewSearchService creates a new search service.
func NewSearchService(index *search.SearchIndex, jobs store.JobStore, snapshots store.SnapshotStore, log *slog.Logger) *SearchService {
	return &SearchService{
		index:     index,
		jobs:      jobs,
		snapshots: snapshots,
		logger:    logger.OrDiscard(log),
	}
}

// Search runs a block search. A JobID in params scopes it to one job.
func (s *SearchService) Search(ctx context.Context, params search.SearchParams) (*search.SearchResult, error) {
	if params.JobID != 0 {
		if _, err := s.jobs.GetJob(ctx, params.JobID); err != nil {
			return nil, storeError(err, "job", params.JobID)
		}
	}
	if params.Query == "" {
		return nil, domainerrors.Validation("query is required")
	}
	return s.index.Search(ctx, params)
}

// IndexJob indexes the text blocks of a job's last snapshot, replacing any
// blocks indexed for it before.
func (s *SearchService) IndexJob(ctx context.Context, job *domain.ConversionJob) error {
	pages, err := s.snapshots.LoadPages(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load pages: %w", err)
	}
	meta, err := s.snapshots.LoadMetadata(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}

	n, err := s.index.IndexJob(ctx, job.ID, job.DocumentID, meta.Title, pages)
	if err != nil {
		return fmt.Errorf("index job: %w", err)
	}

	s.logger.Debug("indexed job", slog.Int64("job_id", job.ID), slog.Int("blocks", n))
	return nil
}

// DeleteJob removes a job's blocks from the index.
func (s *SearchService) DeleteJob(ctx context.Context, jobID int64) error {
	return s.index.DeleteJob(ctx, jobID)
}

// DocumentCount returns the number of indexed blocks.
func (s *SearchService) DocumentCount() (uint64, error) {
	return s.index.DocumentCount()
}

// ReindexAll rebuilds the index from every completed job.
func (s *SearchService) ReindexAll(ctx context.Context) error {
	s.logger.Info("starting full reindex")

	const page = 100
	indexed := 0
	for offset := 0; ; offset += page {
		jobs, total, err := s.jobs.ListJobs(ctx, domain.JobFilter{
			Statuses: []domain.JobStatus{domain.JobStatusCompleted},
			Limit:    page,
			Offset:   offset,
		})
		if err != nil {
			return fmt.Errorf("list completed jobs: %w", err)
		}
		for _, job := range jobs {
			if err := s.IndexJob(ctx, job); err != nil {
				s.logger.Warn("failed to reindex job", slog.Int64("job_id", job.ID), slog.Any("error", err))
				continue
			}
			indexed++
		}
		if offset+page >= total || len(jobs) == 0 {
			break
		}
	}

	s.logger.Info("reindex complete", slog.Int("jobs", indexed))
	return nil
}
