package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/listenupapp/pagesync-server/internal/config"
	"github.com/listenupapp/pagesync-server/internal/domain"
	domainerrors "github.com/listenupapp/pagesync-server/internal/errors"
	"github.com/listenupapp/pagesync-server/internal/extract"
	"github.com/listenupapp/pagesync-server/internal/logger"
	"github.com/listenupapp/pagesync-server/internal/sse"
	"github.com/listenupapp/pagesync-server/internal/stages"
	"github.com/listenupapp/pagesync-server/internal/store"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

const (
	// bulkConcurrency bounds how many documents a bulk submission registers at once.
	bulkConcurrency = 8
	// claimBatch is how many pending ids a worker inspects per poll.
	claimBatch = 16
)

// ConversionDeps are the collaborators of the conversion orchestrator.
type ConversionDeps struct {
	Jobs      store.JobStore
	Documents store.DocumentStore
	Snapshots store.SnapshotStore
	Blobs     BlobStore
	Extractor extract.Extractor
	Stages    []stages.Descriptor
	Emitter   Emitter
	Indexer   JobIndexer
}

// ConversionService drives conversion jobs through the nine-stage pipeline.
type ConversionService struct {
	jobs      store.JobStore
	documents store.DocumentStore
	snapshots store.SnapshotStore
	blobs     BlobStore
	extractor extract.Extractor
	stages    []stages.Descriptor
	emitter   Emitter
	indexer   JobIndexer
	config    config.ConversionConfig
	logger    *slog.Logger
	now       func() time.Time

	locks *keyedMutex

	// running holds the cancel func of every job a worker is executing.
	runMu   sync.Mutex
	running map[int64]context.CancelFunc

	// Worker management
	ctx       context.Context //nolint:containedctx // Context needed for worker lifecycle management
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	jobNotify chan struct{}
}

// NewConversionService creates the orchestrator. The stage list must match
// domain.Pipeline in length and order.
func NewConversionService(deps ConversionDeps, cfg config.ConversionConfig, log *slog.Logger) (*ConversionService, error) {
	if len(deps.Stages) != len(domain.Pipeline) {
		return nil, fmt.Errorf("pipeline needs %d stages, got %d", len(domain.Pipeline), len(deps.Stages))
	}
	for i, d := range deps.Stages {
		if d.Stage == nil || d.Stage.Name() != domain.Pipeline[i] {
			return nil, fmt.Errorf("stage %d must be %s", i, domain.Pipeline[i])
		}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if deps.Emitter == nil {
		deps.Emitter = noopEmitter{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ConversionService{
		jobs:      deps.Jobs,
		documents: deps.Documents,
		snapshots: deps.Snapshots,
		blobs:     deps.Blobs,
		extractor: deps.Extractor,
		stages:    deps.Stages,
		emitter:   deps.Emitter,
		indexer:   deps.Indexer,
		config:    cfg,
		logger:    logger.OrDiscard(log),
		now:       time.Now,
		locks:     newKeyedMutex(),
		running:   make(map[int64]context.CancelFunc),
		ctx:       ctx,
		cancel:    cancel,
		jobNotify: make(chan struct{}, 1),
	}, nil
}

// Start resets jobs stalled by a previous process and begins the worker pool.
func (s *ConversionService) Start() {
	s.logger.Info("starting conversion workers",
		slog.Int("workers", s.config.Workers),
		slog.Duration("stage_timeout", s.config.StageTimeout),
	)

	s.recoverStalledJobs()

	for i := range s.config.Workers {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop cancels in-flight work and waits for the workers. Jobs interrupted
// here stay IN_PROGRESS and are recovered on the next Start.
func (s *ConversionService) Stop() {
	s.logger.Info("stopping conversion service")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("conversion service stopped")
}

// NotifyNewJob signals workers that a new job is available.
func (s *ConversionService) NotifyNewJob() {
	select {
	case s.jobNotify <- struct{}{}:
	default:
		// Already notified
	}
}

// StartJob creates a PENDING job for the document and queues it. It returns
// without waiting for any stage to run.
func (s *ConversionService) StartJob(ctx context.Context, documentID int64) (*domain.ConversionJob, error) {
	if _, err := s.documents.GetDocument(ctx, documentID); err != nil {
		return nil, storeError(err, "document", documentID)
	}

	job := domain.NewConversionJob(documentID, s.now())
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.logger.Info("conversion job created", jobAttrs(job)...)
	s.NotifyNewJob()
	return job, nil
}

// BulkStart starts one job per document. A failure for one document is
// recorded and never prevents the others from starting.
func (s *ConversionService) BulkStart(ctx context.Context, documentIDs []int64) *domain.BulkResult {
	jobs := make([]*domain.ConversionJob, len(documentIDs))
	errs := make([]error, len(documentIDs))

	var g errgroup.Group
	g.SetLimit(bulkConcurrency)
	for i, docID := range documentIDs {
		g.Go(func() error {
			jobs[i], errs[i] = s.StartJob(ctx, docID)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines never return errors

	res := &domain.BulkResult{
		Started: make([]*domain.ConversionJob, 0, len(documentIDs)),
		Failed:  []domain.BulkFailure{},
	}
	for i, docID := range documentIDs {
		if errs[i] != nil {
			res.Failed = append(res.Failed, domain.BulkFailure{DocumentID: docID, Message: errs[i].Error()})
			continue
		}
		res.Started = append(res.Started, jobs[i])
	}

	s.logger.Info("bulk conversion submitted",
		slog.Int("started", len(res.Started)),
		slog.Int("failed", len(res.Failed)),
	)
	return res
}

// GetJob returns a job by id.
func (s *ConversionService) GetJob(ctx context.Context, id int64) (*domain.ConversionJob, error) {
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, storeError(err, "job", id)
	}
	return job, nil
}

// ListJobs returns jobs matching filter plus the unpaged total.
func (s *ConversionService) ListJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.ConversionJob, int, error) {
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, 0, domainerrors.Validationf("unknown job status %q", st)
		}
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, 0, domainerrors.Validation("limit and offset must not be negative")
	}
	jobs, total, err := s.jobs.ListJobs(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

// Cancel moves a non-terminal job to CANCELLED and abandons its in-flight
// stage. Structure snapshots already written are kept.
func (s *ConversionService) Cancel(ctx context.Context, id int64) (*domain.ConversionJob, error) {
	job, err := s.mutate(ctx, id, func(job *domain.ConversionJob) error {
		if !job.CanCancel() {
			return domainerrors.Conflictf("job %d is %s and cannot be cancelled", id, job.Status)
		}
		job.Cancel(s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.abort(id)
	s.logger.Info("conversion job cancelled", jobAttrs(job)...)
	s.emitter.Emit(sse.NewJobEvent(sse.EventJobCancelled, job))
	return job, nil
}

// Retry restarts a FAILED, REVIEW_REQUIRED or COMPLETED job from the first stage.
func (s *ConversionService) Retry(ctx context.Context, id int64) (*domain.ConversionJob, error) {
	job, err := s.mutate(ctx, id, func(job *domain.ConversionJob) error {
		if !job.CanRetry() {
			return domainerrors.Conflictf("job %d is %s and cannot be retried", id, job.Status)
		}
		job.ResetForRetry(s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversion job queued for retry", append(jobAttrs(job), slog.Int("attempt", job.Attempt))...)
	s.emitter.Emit(sse.NewJobEvent(sse.EventJobProgress, job))
	s.NotifyNewJob()
	return job, nil
}

// MarkReviewed records a human review. The pipeline is not resumed.
func (s *ConversionService) MarkReviewed(ctx context.Context, id int64, reviewer string) (*domain.ConversionJob, error) {
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return nil, domainerrors.Validation("reviewer is required")
	}
	job, err := s.mutate(ctx, id, func(job *domain.ConversionJob) error {
		if !job.RequiresReview {
			return domainerrors.Conflictf("job %d does not require review", id)
		}
		job.MarkReviewed(reviewer, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversion job reviewed", append(jobAttrs(job), slog.String("reviewer", reviewer))...)
	return job, nil
}

// OpenArtifact opens the packaged artifact of a job.
func (s *ConversionService) OpenArtifact(ctx context.Context, id int64) (io.ReadCloser, *domain.ConversionJob, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if job.ArtifactKey == "" {
		return nil, nil, domainerrors.NotFoundf("job %d has no artifact", id)
	}
	rc, err := s.blobs.Get(ctx, job.ArtifactKey)
	if err != nil {
		return nil, nil, err
	}
	return rc, job, nil
}

// Structure returns the last persisted structure of a job.
func (s *ConversionService) Structure(ctx context.Context, id int64) (*structure.Structure, error) {
	if _, err := s.GetJob(ctx, id); err != nil {
		return nil, err
	}
	st, err := s.snapshots.LoadStructure(ctx, id)
	if err != nil {
		return nil, storeError(err, "structure for job", id)
	}
	return st, nil
}

// mutate runs fn on a freshly loaded job under the job lock and persists it.
func (s *ConversionService) mutate(ctx context.Context, id int64, fn func(*domain.ConversionJob) error) (*domain.ConversionJob, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, storeError(err, "job", id)
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, storeError(err, "job", id)
	}
	return job, nil
}

func (s *ConversionService) abort(id int64) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if cancel, ok := s.running[id]; ok {
		cancel()
	}
}

func (s *ConversionService) setRunning(id int64, cancel context.CancelFunc) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.running[id] = cancel
}

func (s *ConversionService) clearRunning(id int64) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	delete(s.running, id)
}

// worker is the main loop for a conversion worker.
func (s *ConversionService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("conversion worker started", slog.Int("worker_id", id))

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("conversion worker stopping", slog.Int("worker_id", id))
			return
		case <-s.jobNotify:
		case <-time.After(s.config.PollInterval):
		}

		for s.processNextJob(id) {
		}
	}
}

// processNextJob claims and runs one pending job. It reports whether a job ran.
func (s *ConversionService) processNextJob(workerID int) bool {
	if s.ctx.Err() != nil {
		return false
	}

	ids, err := s.jobs.PendingJobIDs(s.ctx, claimBatch)
	if err != nil {
		if s.ctx.Err() == nil {
			s.logger.Error("failed to list pending jobs", slog.Any("error", err))
		}
		return false
	}

	for _, id := range ids {
		job, ok := s.claim(id)
		if !ok {
			continue
		}
		// Wake another worker in case more jobs are waiting.
		s.NotifyNewJob()
		s.logger.Info("conversion job claimed", append(jobAttrs(job), slog.Int("worker_id", workerID))...)
		s.execute(job)
		return true
	}
	return false
}

func (s *ConversionService) claim(id int64) (*domain.ConversionJob, bool) {
	unlock := s.locks.Lock(id)
	defer unlock()

	job, err := s.jobs.GetJob(s.ctx, id)
	if err != nil || job.Status != domain.JobStatusPending {
		return nil, false
	}
	job.MarkRunning(s.now())
	ok, err := s.jobs.ClaimJob(s.ctx, id, job)
	if err != nil {
		s.logger.Error("failed to claim job", slog.Int64("job_id", id), slog.Any("error", err))
		return nil, false
	}
	return job, ok
}

// execute runs the job's remaining stages in order.
func (s *ConversionService) execute(job *domain.ConversionJob) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.setRunning(job.ID, cancel)
	defer func() {
		s.clearRunning(job.ID)
		cancel()
	}()

	log := s.logger.With(slog.Int64("job_id", job.ID), slog.Int64("document_id", job.DocumentID))

	start := 0
	if job.CurrentStep != nil {
		start = max(domain.StageIndex(*job.CurrentStep), 0)
	}
	current, start := s.initialStructure(ctx, job.ID, start, log)

	source, err := s.loadSource(ctx, job.DocumentID)
	if err != nil {
		s.handleStageError(ctx, job.ID, s.stages[start].Stage.Name(), err, log)
		return
	}

	for i := start; i < len(s.stages); i++ {
		desc := s.stages[i]
		name := desc.Stage.Name()
		begin := time.Now()

		out, err := s.runStage(ctx, desc.Stage, stages.Input{
			JobID:         job.ID,
			DocumentID:    job.DocumentID,
			Source:        source,
			Structure:     current.Clone(),
			JobConfidence: job.ConfidenceScore,
		})
		if err != nil {
			s.handleStageError(ctx, job.ID, name, err, log)
			return
		}
		if out.Structure == nil {
			out.Structure = current.Clone()
		}
		for _, w := range out.Warnings {
			log.Warn("stage warning", slog.String("stage", string(name)), slog.String("warning", w))
		}
		log.Debug("stage finished", slog.String("stage", string(name)), slog.Duration("took", time.Since(begin)))

		next, cont := s.advance(ctx, job.ID, i, desc, out, log)
		if next == nil || !cont {
			return
		}
		job = next
		current = out.Structure
	}
}

// initialStructure returns the structure a run starts from. A run resuming
// past the first stage needs the snapshot of the previous one; without it the
// run starts over.
func (s *ConversionService) initialStructure(ctx context.Context, jobID int64, start int, log *slog.Logger) (*structure.Structure, int) {
	if start == 0 {
		return structure.New(), 0
	}
	st, err := s.snapshots.LoadStructure(ctx, jobID)
	if err != nil {
		log.Warn("no usable snapshot, restarting from first stage", slog.Any("error", err))
		return structure.New(), 0
	}
	return st, start
}

func (s *ConversionService) loadSource(ctx context.Context, documentID int64) (*stages.Source, error) {
	doc, err := s.documents.GetDocument(ctx, documentID)
	if err != nil {
		return nil, storeError(err, "document", documentID)
	}
	data, err := s.blobs.ReadAll(ctx, doc.SourceKey)
	if err != nil {
		return nil, fmt.Errorf("read source %s: %w", doc.SourceKey, err)
	}
	return stages.NewSource(data, doc.ContentType, s.extractor), nil
}

type stageResult struct {
	out *stages.Output
	err error
}

// runStage runs st under the per-stage wall-clock bound. The stage runs on its
// own goroutine so an overrun is reported even when the stage ignores ctx.
func (s *ConversionService) runStage(ctx context.Context, st stages.Stage, in stages.Input) (*stages.Output, error) {
	stageCtx, cancel := context.WithTimeout(ctx, s.config.StageTimeout)
	defer cancel()

	done := make(chan stageResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stageResult{err: fmt.Errorf("stage panicked: %v", r)}
			}
		}()
		out, err := st.Run(stageCtx, in)
		if err == nil && out == nil {
			err = errors.New("stage returned no output")
		}
		done <- stageResult{out: out, err: err}
	}()

	timedOut := func() bool {
		return ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded)
	}

	select {
	case r := <-done:
		if r.err != nil && timedOut() {
			return nil, domainerrors.Timeout(string(st.Name()), r.err)
		}
		return r.out, r.err
	case <-stageCtx.Done():
		if timedOut() {
			return nil, domainerrors.Timeout(string(st.Name()), stageCtx.Err())
		}
		return nil, stageCtx.Err()
	}
}

// advance persists the stage output and moves the job forward. It reports the
// updated job and whether the next stage should run.
func (s *ConversionService) advance(ctx context.Context, jobID int64, index int, desc stages.Descriptor, out *stages.Output, log *slog.Logger) (*domain.ConversionJob, bool) {
	name := desc.Stage.Name()

	unlock := s.locks.Lock(jobID)
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		unlock()
		log.Error("failed to reload job", slog.String("stage", string(name)), slog.Any("error", err))
		return nil, false
	}
	if job.Status != domain.JobStatusInProgress {
		unlock()
		log.Info("job left execution, discarding stage result",
			slog.String("stage", string(name)), slog.String("status", string(job.Status)))
		return nil, false
	}

	now := s.now()
	// An invalid structure is never persisted; the previous snapshot stays.
	if err := structure.Validate(out.Structure); err != nil {
		job.Fail(domain.ErrorKindStage, domainerrors.StageFailure(string(name), err).Error(), now)
	} else if err := s.snapshots.SaveStructure(ctx, jobID, out.Structure); err != nil {
		job.Fail(domain.ErrorKindStage, fmt.Sprintf("persist structure after %s: %v", name, err), now)
	} else {
		if out.Confidence != nil {
			job.RecordConfidence(name, *out.Confidence)
		}
		if out.ArtifactKey != "" {
			job.ArtifactKey = out.ArtifactKey
		}
		reason := reviewReason(desc, out)
		switch {
		case reason != "" && !job.Reviewed():
			job.PauseForReview(index, reason, now)
		default:
			if reason != "" {
				log.Info("review condition on reviewed job, continuing",
					slog.String("stage", string(name)), slog.String("reason", reason))
			}
			job.CompleteStage(index, now)
		}
	}

	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		unlock()
		log.Error("failed to update job", slog.String("stage", string(name)), slog.Any("error", err))
		return nil, false
	}
	unlock()

	switch job.Status {
	case domain.JobStatusCompleted:
		log.Info("conversion completed", jobAttrs(job)...)
		s.index(ctx, job, log)
		s.emitter.Emit(sse.NewJobEvent(sse.EventJobCompleted, job))
		return job, false
	case domain.JobStatusReviewRequired:
		log.Info("conversion paused for review", append(jobAttrs(job), slog.String("reason", job.ReviewReason))...)
		s.emitter.Emit(sse.NewJobEvent(sse.EventJobReviewRequired, job))
		return job, false
	case domain.JobStatusFailed:
		log.Error("conversion failed", append(jobAttrs(job), slog.String("error", job.ErrorMessage))...)
		s.emitter.Emit(sse.NewJobEvent(sse.EventJobFailed, job))
		return job, false
	}

	log.Info("stage completed", append(jobAttrs(job),
		slog.String("completed_stage", string(name)),
		slog.Int("progress", job.ProgressPercentage))...)
	s.emitter.Emit(sse.NewJobEvent(sse.EventJobProgress, job))
	return job, true
}

// reviewReason returns why a stage output needs human review, or "".
func reviewReason(desc stages.Descriptor, out *stages.Output) string {
	if out.Review != "" {
		return out.Review
	}
	if out.Confidence != nil && *out.Confidence < desc.ReviewThreshold {
		return fmt.Sprintf("%s confidence %.2f below threshold %.2f",
			desc.Stage.Name(), *out.Confidence, desc.ReviewThreshold)
	}
	return ""
}

// handleStageError fails the job unless the error comes from cancellation or shutdown.
func (s *ConversionService) handleStageError(ctx context.Context, jobID int64, stage domain.StageName, err error, log *slog.Logger) {
	if ctx.Err() != nil {
		if s.ctx.Err() != nil {
			log.Info("conversion interrupted by shutdown", slog.String("stage", string(stage)))
		} else {
			log.Info("conversion abandoned after cancel", slog.String("stage", string(stage)))
		}
		return
	}

	kind := domain.ErrorKindStage
	var msg string
	if domainerrors.Is(err, domainerrors.ErrTimeout) {
		kind = domain.ErrorKindTimeout
		msg = err.Error()
	} else {
		msg = domainerrors.StageFailure(string(stage), err).Error()
	}

	job, mErr := s.mutate(s.ctx, jobID, func(job *domain.ConversionJob) error {
		if job.Status != domain.JobStatusInProgress {
			return domainerrors.Conflictf("job %d is %s", jobID, job.Status)
		}
		job.Fail(kind, msg, s.now())
		return nil
	})
	if mErr != nil {
		log.Warn("could not record stage failure", slog.String("stage", string(stage)), slog.Any("error", mErr))
		return
	}

	log.Error("conversion failed", append(jobAttrs(job),
		slog.String("error_kind", string(kind)),
		slog.String("error", msg))...)
	s.emitter.Emit(sse.NewJobEvent(sse.EventJobFailed, job))
}

func (s *ConversionService) index(ctx context.Context, job *domain.ConversionJob, log *slog.Logger) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.IndexJob(ctx, job); err != nil {
		log.Warn("failed to index completed job", slog.Any("error", err))
	}
}

// recoverStalledJobs resets jobs a previous process left IN_PROGRESS.
func (s *ConversionService) recoverStalledJobs() {
	n, err := s.jobs.ResetStalledJobs(s.ctx)
	if err != nil {
		s.logger.Error("failed to recover stalled jobs", slog.Any("error", err))
		return
	}
	if n > 0 {
		s.logger.Info("recovered stalled conversion jobs", slog.Int("count", n))
	}
}
