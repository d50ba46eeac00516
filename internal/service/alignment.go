package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/listenupapp/pagesync-server/internal/domain"
	domainerrors "github.com/listenupapp/pagesync-server/internal/errors"
	"github.com/listenupapp/pagesync-server/internal/id"
	"github.com/listenupapp/pagesync-server/internal/logger"
	"github.com/listenupapp/pagesync-server/internal/narration"
	"github.com/listenupapp/pagesync-server/internal/sse"
	"github.com/listenupapp/pagesync-server/internal/store"
)

// alignmentQueueSize bounds how many runs may wait for a worker.
const alignmentQueueSize = 64

// AlignRequest asks for narration alignment of a job. Word timings select the
// timing strategy; otherwise the audio file is analysed by estimation.
type AlignRequest struct {
	AudioKey    string
	WordTimings []narration.WordTiming
	// Duration overrides the probed audio duration when positive.
	Duration float64
}

// AlignmentDeps are the collaborators of the alignment service.
type AlignmentDeps struct {
	Jobs      store.JobStore
	Syncs     store.SyncStore
	Runs      store.RunStore
	Snapshots store.SnapshotStore
	Blobs     BlobStore
	Aligner   *narration.Aligner
	Emitter   Emitter
}

type alignmentTask struct {
	run *domain.AlignmentRun
	job *domain.ConversionJob
	req AlignRequest
}

// AlignmentService runs narration alignment on a bounded worker pool and
// manages the resulting sync records.
type AlignmentService struct {
	jobs      store.JobStore
	syncs     store.SyncStore
	runs      store.RunStore
	snapshots store.SnapshotStore
	blobs     BlobStore
	aligner   *narration.Aligner
	emitter   Emitter
	workers   int
	logger    *slog.Logger
	now       func() time.Time

	ctx    context.Context //nolint:containedctx // Context needed for worker lifecycle management
	cancel context.CancelFunc
	wg     sync.WaitGroup
	queue  chan alignmentTask
}

// NewAlignmentService creates the alignment service.
func NewAlignmentService(deps AlignmentDeps, workers int, log *slog.Logger) *AlignmentService {
	if workers < 1 {
		workers = 1
	}
	if deps.Emitter == nil {
		deps.Emitter = noopEmitter{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AlignmentService{
		jobs:      deps.Jobs,
		syncs:     deps.Syncs,
		runs:      deps.Runs,
		snapshots: deps.Snapshots,
		blobs:     deps.Blobs,
		aligner:   deps.Aligner,
		emitter:   deps.Emitter,
		workers:   workers,
		logger:    logger.OrDiscard(log),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		queue:     make(chan alignmentTask, alignmentQueueSize),
	}
}

// Start begins the alignment workers.
func (s *AlignmentService) Start() {
	s.logger.Info("starting alignment workers", slog.Int("workers", s.workers))
	for i := range s.workers {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop cancels running alignments and waits for the workers.
func (s *AlignmentService) Stop() {
	s.logger.Info("stopping alignment service")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("alignment service stopped")
}

// Align validates the request, records a running AlignmentRun and queues the
// work. It returns before any audio is analysed.
func (s *AlignmentService) Align(ctx context.Context, jobID int64, req AlignRequest) (*domain.AlignmentRun, error) {
	strategy := domain.AlignmentEstimation
	if len(req.WordTimings) > 0 {
		strategy = domain.AlignmentTiming
		if err := narration.ValidateTimings(req.WordTimings); err != nil {
			return nil, domainerrors.Validationf("invalid word timings: %v", err)
		}
	} else if req.AudioKey == "" {
		return nil, domainerrors.Validation("either word_timings or audio_key is required")
	}
	if req.Duration < 0 {
		return nil, domainerrors.Validation("duration must not be negative")
	}
	if req.AudioKey != "" && strategy == domain.AlignmentEstimation && !s.blobs.Exists(req.AudioKey) {
		return nil, domainerrors.NotFoundf("audio %q not found", req.AudioKey)
	}

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, storeError(err, "job", jobID)
	}
	if !job.StructureReady() {
		return nil, domainerrors.Conflictf("job %d has no finished structure (status %s)", jobID, job.Status)
	}

	runID, err := id.Generate(id.PrefixRun)
	if err != nil {
		return nil, err
	}
	run := &domain.AlignmentRun{
		ID:        runID,
		JobID:     jobID,
		Strategy:  strategy,
		Status:    domain.AlignmentRunning,
		StartedAt: s.now(),
	}
	if err := s.runs.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save alignment run: %w", err)
	}

	select {
	case s.queue <- alignmentTask{run: run, job: job, req: req}:
	default:
		s.finishRun(run, nil, domainerrors.Unavailable("alignment queue is full"))
		return nil, domainerrors.Unavailable("alignment queue is full")
	}

	s.logger.Info("alignment queued",
		slog.String("run_id", run.ID),
		slog.Int64("job_id", jobID),
		slog.String("strategy", string(strategy)),
	)
	return run, nil
}

// audioExtensions are the narration containers accepted by UploadAudio.
var audioExtensions = map[string]bool{
	"mp3": true, "m4a": true, "m4b": true, "aac": true,
	"ogg": true, "opus": true, "flac": true, "wav": true,
}

// UploadAudio stores narration audio and returns its key for Align.
func (s *AlignmentService) UploadAudio(ctx context.Context, filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !audioExtensions[ext] {
		return "", domainerrors.Validationf("unsupported audio file %q", filename)
	}
	if r == nil {
		return "", domainerrors.Validation("audio body is required")
	}

	key := s.blobs.NewKey("audio", ext)
	cr := &countingReader{r: r}
	if err := s.blobs.Put(ctx, key, cr); err != nil {
		return "", fmt.Errorf("store audio: %w", err)
	}
	if cr.n == 0 {
		_ = s.blobs.Delete(key) //nolint:errcheck // Best-effort cleanup of an empty blob
		return "", domainerrors.Validation("audio is empty")
	}

	s.logger.Info("narration audio stored", slog.String("key", key), slog.Int64("size", cr.n))
	return key, nil
}

// GetRun returns an alignment run by id.
func (s *AlignmentService) GetRun(ctx context.Context, runID string) (*domain.AlignmentRun, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, storeError(err, "alignment run", runID)
	}
	return run, nil
}

// ListRuns returns a job's alignment runs, newest first.
func (s *AlignmentService) ListRuns(ctx context.Context, jobID int64) ([]*domain.AlignmentRun, error) {
	return s.runs.ListRuns(ctx, jobID)
}

// ListSyncs returns a job's sync records in time order.
func (s *AlignmentService) ListSyncs(ctx context.Context, jobID int64) ([]*domain.AudioSync, error) {
	if _, err := s.jobs.GetJob(ctx, jobID); err != nil {
		return nil, storeError(err, "job", jobID)
	}
	return s.syncs.ListSyncs(ctx, jobID)
}

// EditSync applies a user edit. The record becomes user-edited and survives
// later alignment runs.
func (s *AlignmentService) EditSync(ctx context.Context, syncID int64, edit domain.SyncEdit) (*domain.AudioSync, error) {
	rec, err := s.syncs.GetSync(ctx, syncID)
	if err != nil {
		return nil, storeError(err, "sync", syncID)
	}
	rec.Apply(edit, s.now())
	if err := rec.Validate(); err != nil {
		return nil, domainerrors.Validation(err.Error())
	}
	if err := s.syncs.UpdateSync(ctx, rec); err != nil {
		return nil, storeError(err, "sync", syncID)
	}
	s.logger.Info("sync edited", slog.Int64("sync_id", syncID), slog.Int64("job_id", rec.JobID))
	return rec, nil
}

func (s *AlignmentService) worker(workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case task := <-s.queue:
			s.logger.Debug("alignment worker picked run", slog.Int("worker_id", workerID), slog.String("run_id", task.run.ID))
			res, err := s.align(s.ctx, task)
			s.finishRun(task.run, res, err)
		}
	}
}

type alignOutcome struct {
	result *narration.Result
	syncs  int
}

func (s *AlignmentService) align(ctx context.Context, task alignmentTask) (*alignOutcome, error) {
	pages, err := s.snapshots.LoadPages(ctx, task.job.ID)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, domainerrors.Conflictf("job %d has no extracted pages", task.job.ID)
	}

	var res *narration.Result
	if task.run.Strategy == domain.AlignmentTiming {
		res, err = s.aligner.AlignTimings(pages, task.req.WordTimings)
	} else {
		var path string
		path, err = s.blobs.LocalPath(task.req.AudioKey)
		if err == nil {
			res, err = s.aligner.EstimateFile(ctx, pages, path, task.req.Duration)
		}
	}
	if err != nil {
		return nil, err
	}

	existing, err := s.syncs.ListSyncs(ctx, task.job.ID)
	if err != nil {
		return nil, fmt.Errorf("list syncs: %w", err)
	}
	edited := make(map[string]bool)
	for _, e := range existing {
		if e.UserEdited {
			edited[syncKey(e.PageNumber, e.BlockID)] = true
		}
	}

	now := s.now()
	records := make([]*domain.AudioSync, 0, len(res.Segments))
	for _, seg := range res.Segments {
		rec := &domain.AudioSync{
			DocumentID: task.job.DocumentID,
			JobID:      task.job.ID,
			PageNumber: seg.Page,
			StartTime:  seg.Start,
			EndTime:    seg.End,
			AudioKey:   task.req.AudioKey,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if seg.BlockID != "" {
			blockID := seg.BlockID
			rec.BlockID = &blockID
		}
		if edited[syncKey(rec.PageNumber, rec.BlockID)] || rec.Validate() != nil {
			continue
		}
		records = append(records, rec)
	}

	if err := s.syncs.ReplaceGeneratedSyncs(ctx, task.job.ID, records); err != nil {
		return nil, fmt.Errorf("replace syncs: %w", err)
	}
	return &alignOutcome{result: res, syncs: len(records)}, nil
}

func syncKey(page int, blockID *string) string {
	if blockID == nil {
		return fmt.Sprintf("%d:", page)
	}
	return fmt.Sprintf("%d:%s", page, *blockID)
}

// finishRun records the outcome of a run and announces it.
func (s *AlignmentService) finishRun(run *domain.AlignmentRun, out *alignOutcome, err error) {
	now := s.now()
	run.FinishedAt = &now
	log := s.logger.With(slog.String("run_id", run.ID), slog.Int64("job_id", run.JobID))

	if err != nil {
		run.Status = domain.AlignmentFailed
		run.Error = err.Error()
		log.Error("alignment failed", slog.Any("error", err))
	} else {
		run.Status = domain.AlignmentCompleted
		run.SyncCount = out.syncs
		run.Duration = out.result.Duration
		run.Degraded = out.result.Degraded
		run.Warning = strings.Join(out.result.Warnings, "; ")
		log.Info("alignment completed",
			slog.String("strategy", string(run.Strategy)),
			slog.Int("syncs", run.SyncCount),
			slog.Bool("degraded", run.Degraded),
		)
	}

	// The run record must land even when shutdown cancelled the work.
	if saveErr := s.runs.SaveRun(context.WithoutCancel(s.ctx), run); saveErr != nil {
		log.Error("failed to save alignment run", slog.Any("error", saveErr))
	}
	s.emitter.Emit(sse.NewAlignmentEvent(run))
}
