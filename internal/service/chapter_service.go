package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/listenupapp/pagesync-server/internal/chapters"
	"github.com/listenupapp/pagesync-server/internal/domain"
	domainerrors "github.com/listenupapp/pagesync-server/internal/errors"
	"github.com/listenupapp/pagesync-server/internal/logger"
	"github.com/listenupapp/pagesync-server/internal/store"
)

// ChapterService detects, validates and persists chapter configurations.
type ChapterService struct {
	chapters  store.ChapterStore
	documents store.DocumentStore
	jobs      store.JobStore
	snapshots store.SnapshotStore
	detector  *chapters.Detector
	logger    *slog.Logger
	now       func() time.Time
}

// NewChapterService creates a new chapter service.
func NewChapterService(
	chapterStore store.ChapterStore,
	documents store.DocumentStore,
	jobs store.JobStore,
	snapshots store.SnapshotStore,
	detector *chapters.Detector,
	log *slog.Logger,
) *ChapterService {
	return &ChapterService{
		chapters:  chapterStore,
		documents: documents,
		jobs:      jobs,
		snapshots: snapshots,
		detector:  detector,
		logger:    logger.OrDiscard(log),
		now:       time.Now,
	}
}

// Detect runs boundary detection over the pages of a job's latest structure.
func (s *ChapterService) Detect(ctx context.Context, jobID int64, strategy chapters.Strategy) (*chapters.DetectionResult, error) {
	if strategy == "" {
		strategy = chapters.StrategyHeuristic
	}
	if !strategy.Valid() {
		return nil, domainerrors.Validationf("unknown strategy %q", strategy)
	}
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, storeError(err, "job", jobID)
	}
	if !job.StructureReady() {
		return nil, domainerrors.Conflictf("job %d has no finished structure (status %s)", jobID, job.Status)
	}

	pages, err := s.snapshots.LoadPages(ctx, jobID)
	if err != nil && !domainerrors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, domainerrors.Conflictf("job %d has no extracted pages yet", jobID)
	}

	res, err := s.detector.Detect(ctx, pages, strategy)
	if err != nil {
		return nil, fmt.Errorf("detect chapters: %w", err)
	}

	s.logger.Info("chapters detected",
		slog.Int64("job_id", jobID),
		slog.String("strategy", string(res.Strategy)),
		slog.Int("chapters", len(res.Chapters)),
		slog.Bool("needs_review", res.NeedsReview),
	)
	return res, nil
}

// Validate checks a configuration without persisting it.
func (s *ChapterService) Validate(list []domain.Chapter, totalPages int) chapters.ValidationResult {
	return chapters.Validate(list, totalPages)
}

// Generate partitions totalPages into equal windows titled "Chapter N".
func (s *ChapterService) Generate(totalPages, pagesPerChapter int) ([]domain.Chapter, error) {
	list, err := chapters.Generate(totalPages, pagesPerChapter)
	if err != nil {
		return nil, domainerrors.Validation(err.Error())
	}
	return list, nil
}

// Save validates and persists the document's chapter configuration. An
// invalid configuration is rejected and the stored one is left untouched.
func (s *ChapterService) Save(ctx context.Context, documentID int64, list []domain.Chapter, totalPages int) (*domain.ChapterConfiguration, *chapters.ValidationResult, error) {
	if _, err := s.documents.GetDocument(ctx, documentID); err != nil {
		return nil, nil, storeError(err, "document", documentID)
	}

	res := chapters.Validate(list, totalPages)
	if !res.IsValid {
		return nil, &res, domainerrors.ValidationWithDetails(
			"invalid chapter configuration: "+strings.Join(res.Errors, "; "), res)
	}

	cfg := &domain.ChapterConfiguration{
		DocumentID: documentID,
		Chapters:   list,
		TotalPages: totalPages,
		UpdatedAt:  s.now(),
	}
	if err := s.chapters.SaveChapterConfiguration(ctx, cfg); err != nil {
		return nil, nil, fmt.Errorf("save chapter configuration: %w", err)
	}

	s.logger.Info("chapter configuration saved",
		slog.Int64("document_id", documentID),
		slog.Int("chapters", len(list)),
		slog.Float64("coverage", res.Coverage),
	)
	return cfg, &res, nil
}

// Get returns the stored configuration of a document.
func (s *ChapterService) Get(ctx context.Context, documentID int64) (*domain.ChapterConfiguration, error) {
	cfg, err := s.chapters.GetChapterConfiguration(ctx, documentID)
	if err != nil {
		return nil, storeError(err, "chapter configuration for document", documentID)
	}
	return cfg, nil
}
