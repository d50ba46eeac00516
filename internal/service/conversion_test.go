package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/pagesync-server/internal/config"
	"github.com/listenupapp/pagesync-server/internal/domain"
	domainerrors "github.com/listenupapp/pagesync-server/internal/errors"
	"github.com/listenupapp/pagesync-server/internal/sse"
	"github.com/listenupapp/pagesync-server/internal/stages"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

type conversionFixture struct {
	env     *testEnv
	svc     *ConversionService
	events  *recordingEmitter
	indexer *recordingIndexer
}

func newConversionFixture(t *testing.T, overrides map[domain.StageName]stageFunc, timeout time.Duration) *conversionFixture {
	t.Helper()
	env := newTestEnv(t)
	events := &recordingEmitter{}
	indexer := &recordingIndexer{}

	svc, err := NewConversionService(ConversionDeps{
		Jobs:      env.db,
		Documents: env.db,
		Snapshots: env.kv,
		Blobs:     env.blobs,
		Stages:    fakePipeline(overrides),
		Emitter:   events,
		Indexer:   indexer,
	}, config.ConversionConfig{
		Workers:      1,
		StageTimeout: timeout,
		PollInterval: 20 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	return &conversionFixture{env: env, svc: svc, events: events, indexer: indexer}
}

func (f *conversionFixture) start(t *testing.T) {
	t.Helper()
	f.svc.Start()
	t.Cleanup(f.svc.Stop)
}

func (f *conversionFixture) waitForStatus(t *testing.T, jobID int64, status domain.JobStatus) *domain.ConversionJob {
	t.Helper()
	var job *domain.ConversionJob
	require.Eventually(t, func() bool {
		var err error
		job, err = f.svc.GetJob(context.Background(), jobID)
		return err == nil && job.Status == status
	}, 5*time.Second, 10*time.Millisecond, "job %d never reached %s", jobID, status)
	return job
}

func TestNewConversionService_RejectsOutOfOrderStages(t *testing.T) {
	list := fakePipeline(nil)
	list[1], list[2] = list[2], list[1]

	_, err := NewConversionService(ConversionDeps{Stages: list}, config.ConversionConfig{}, nil)
	assert.Error(t, err)

	_, err = NewConversionService(ConversionDeps{Stages: list[:8]}, config.ConversionConfig{}, nil)
	assert.Error(t, err)
}

func TestStartJob_UnknownDocument(t *testing.T) {
	f := newConversionFixture(t, nil, time.Second)

	_, err := f.svc.StartJob(context.Background(), 4242)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))
}

func TestStartJob_ReturnsPendingJob(t *testing.T) {
	f := newConversionFixture(t, nil, time.Second)
	doc := f.env.createDocument(t, "Biology")

	job, err := f.svc.StartJob(context.Background(), doc.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusPending, job.Status)
	require.NotNil(t, job.CurrentStep)
	assert.Equal(t, domain.StageClassification, *job.CurrentStep)
	assert.Zero(t, job.ProgressPercentage)
	assert.Nil(t, job.ConfidenceScore)
}

func TestConversion_RunsAllStagesToCompletion(t *testing.T) {
	f := newConversionFixture(t, nil, time.Second)
	f.start(t)
	doc := f.env.createDocument(t, "Biology")

	job, err := f.svc.StartJob(context.Background(), doc.ID)
	require.NoError(t, err)

	done := f.waitForStatus(t, job.ID, domain.JobStatusCompleted)
	assert.Equal(t, 100, done.ProgressPercentage)
	assert.NotNil(t, done.CompletedAt)
	assert.False(t, done.RequiresReview)
	require.NotNil(t, done.ConfidenceScore)
	assert.InDelta(t, 0.9, *done.ConfidenceScore, 1e-9)

	pages, err := f.env.kv.LoadPages(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, pages, 1)

	require.Eventually(t, func() bool { return f.events.count(sse.EventJobCompleted) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, len(domain.Pipeline)-1, f.events.count(sse.EventJobProgress))
	assert.Equal(t, []int64{job.ID}, f.indexer.indexed())
}

func TestConversion_StageFailureKeepsLastStructure(t *testing.T) {
	f := newConversionFixture(t, map[domain.StageName]stageFunc{
		domain.StageTextExtraction: func(context.Context, stages.Input) (*stages.Output, error) {
			return nil, errors.New("corrupt xref table")
		},
	}, time.Second)
	f.start(t)
	doc := f.env.createDocument(t, "Broken")

	job, err := f.svc.StartJob(context.Background(), doc.ID)
	require.NoError(t, err)

	failed := f.waitForStatus(t, job.ID, domain.JobStatusFailed)
	assert.Equal(t, domain.ErrorKindStage, failed.ErrorKind)
	assert.Contains(t, failed.ErrorMessage, "corrupt xref table")
	require.NotNil(t, failed.CurrentStep)
	assert.Equal(t, domain.StageTextExtraction, *failed.CurrentStep)
	assert.Equal(t, domain.ProgressAfter(0), failed.ProgressPercentage)
	assert.Nil(t, failed.CompletedAt)

	// Classification's output is still readable for diagnosis.
	pages, err := f.env.kv.LoadPages(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}

func TestConversion_InvalidStageOutputFailsJob(t *testing.T) {
	f := newConversionFixture(t, map[domain.StageName]stageFunc{
		domain.StageLayoutAnalysis: func(_ context.Context, in stages.Input) (*stages.Output, error) {
			page := &in.Structure.Pages[0]
			page.TextBlocks[0].WordCount = 99
			page.ReadingOrder.BlockIDs = append(page.ReadingOrder.BlockIDs, "ghost")
			return &stages.Output{Structure: in.Structure}, nil
		},
	}, time.Second)
	f.start(t)
	doc := f.env.createDocument(t, "Corrupted")

	job, err := f.svc.StartJob(context.Background(), doc.ID)
	require.NoError(t, err)

	failed := f.waitForStatus(t, job.ID, domain.JobStatusFailed)
	assert.Equal(t, domain.ErrorKindStage, failed.ErrorKind)
	assert.Contains(t, failed.ErrorMessage, "layout_analysis")
	assert.Contains(t, failed.ErrorMessage, "ghost")
	require.NotNil(t, failed.CurrentStep)
	assert.Equal(t, domain.StageLayoutAnalysis, *failed.CurrentStep)
	assert.Equal(t, domain.ProgressAfter(1), failed.ProgressPercentage)

	// The snapshot from text extraction is kept and still valid.
	st, err := f.env.kv.LoadStructure(context.Background(), job.ID)
	require.NoError(t, err)
	require.NoError(t, structure.Validate(st))
	assert.Equal(t, 5, st.Pages[0].TextBlocks[0].WordCount)
}

func TestConversion_StageTimeout(t *testing.T) {
	f := newConversionFixture(t, map[domain.StageName]stageFunc{
		domain.StageLayoutAnalysis: func(ctx context.Context, _ stages.Input) (*stages.Output, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}, 50*time.Millisecond)
	f.start(t)
	doc := f.env.createDocument(t, "Slow")

	job, err := f.svc.StartJob(context.Background(), doc.ID)
	require.NoError(t, err)

	failed := f.waitForStatus(t, job.ID, domain.JobStatusFailed)
	assert.Equal(t, domain.ErrorKindTimeout, failed.ErrorKind)
	assert.Contains(t, failed.ErrorMessage, "layout_analysis")
}

func TestConversion_LowConfidencePausesUntilReviewedAndRetried(t *testing.T) {
	f := newConversionFixture(t, map[domain.StageName]stageFunc{
		domain.StageLayoutAnalysis: func(_ context.Context, in stages.Input) (*stages.Output, error) {
			low := 0.2
			return &stages.Output{Structure: in.Structure, Confidence: &low}, nil
		},
	}, time.Second)
	f.start(t)
	doc := f.env.createDocument(t, "Ambiguous")
	ctx := context.Background()

	job, err := f.svc.StartJob(ctx, doc.ID)
	require.NoError(t, err)

	paused := f.waitForStatus(t, job.ID, domain.JobStatusReviewRequired)
	assert.True(t, paused.RequiresReview)
	assert.Contains(t, paused.ReviewReason, "layout_analysis")
	assert.Equal(t, domain.ProgressAfter(domain.StageIndex(domain.StageLayoutAnalysis)), paused.ProgressPercentage)

	reviewed, err := f.svc.MarkReviewed(ctx, job.ID, "editor@example.com")
	require.NoError(t, err)
	assert.False(t, reviewed.RequiresReview)
	assert.Equal(t, domain.JobStatusReviewRequired, reviewed.Status, "review does not resume the pipeline")

	_, err = f.svc.Retry(ctx, job.ID)
	require.NoError(t, err)

	done := f.waitForStatus(t, job.ID, domain.JobStatusCompleted)
	assert.Equal(t, "editor@example.com", done.ReviewedBy)
	assert.Equal(t, 2, done.Attempt)
	assert.False(t, done.RequiresReview)
}

func TestRetry_ResetsFailedJob(t *testing.T) {
	f := newConversionFixture(t, nil, time.Second)
	doc := f.env.createDocument(t, "Retry")
	job := f.env.createJob(t, doc, func(j *domain.ConversionJob) {
		step := domain.StageSpecialContent
		j.CurrentStep = &step
		j.ProgressPercentage = 67
		j.Fail(domain.ErrorKindStage, "boom", time.Now())
	})

	retried, err := f.svc.Retry(context.Background(), job.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusPending, retried.Status)
	require.NotNil(t, retried.CurrentStep)
	assert.Equal(t, domain.StageClassification, *retried.CurrentStep)
	assert.Zero(t, retried.ProgressPercentage)
	assert.Empty(t, retried.ErrorMessage)

	stored, err := f.svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
}

func TestRetry_RejectsPendingJob(t *testing.T) {
	f := newConversionFixture(t, nil, time.Second)
	doc := f.env.createDocument(t, "Pending")
	job := f.env.createJob(t, doc, nil)

	_, err := f.svc.Retry(context.Background(), job.ID)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrConflict))
}

func TestCancel_CompletedJobIsRejected(t *testing.T) {
	f := newConversionFixture(t, nil, time.Second)
	doc := f.env.createDocument(t, "Done")
	job := f.env.createJob(t, doc, func(j *domain.ConversionJob) {
		j.CompleteStage(len(domain.Pipeline)-1, time.Now())
	})

	_, err := f.svc.Cancel(context.Background(), job.ID)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrConflict))

	stored, err := f.svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
}

func TestCancel_AbandonsInFlightStage(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan struct{})
	f := newConversionFixture(t, map[domain.StageName]stageFunc{
		domain.StageSemantic: func(ctx context.Context, in stages.Input) (*stages.Output, error) {
			close(started)
			<-ctx.Done()
			close(finished)
			return &stages.Output{Structure: in.Structure}, nil
		},
	}, 5*time.Second)
	f.start(t)
	doc := f.env.createDocument(t, "Cancelled")
	ctx := context.Background()

	job, err := f.svc.StartJob(ctx, doc.ID)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("semantic stage never started")
	}

	cancelled, err := f.svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, cancelled.Status)

	<-finished
	require.Eventually(t, func() bool {
		f.svc.runMu.Lock()
		defer f.svc.runMu.Unlock()
		return len(f.svc.running) == 0
	}, time.Second, 10*time.Millisecond)

	stored, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, stored.Status)
	assert.Zero(t, f.events.count(sse.EventJobFailed))
	assert.Equal(t, 1, f.events.count(sse.EventJobCancelled))
}

func TestBulkStart_IsolatesFailures(t *testing.T) {
	f := newConversionFixture(t, nil, time.Second)
	a := f.env.createDocument(t, "A")
	b := f.env.createDocument(t, "B")

	res := f.svc.BulkStart(context.Background(), []int64{a.ID, 9999, b.ID})

	require.Len(t, res.Started, 2)
	assert.Equal(t, a.ID, res.Started[0].DocumentID)
	assert.Equal(t, b.ID, res.Started[1].DocumentID)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, int64(9999), res.Failed[0].DocumentID)
	assert.Contains(t, res.Failed[0].Message, "not found")
}

func TestListJobs_FiltersByReviewFlag(t *testing.T) {
	f := newConversionFixture(t, nil, time.Second)
	doc := f.env.createDocument(t, "List")
	f.env.createJob(t, doc, nil)
	flagged := f.env.createJob(t, doc, func(j *domain.ConversionJob) {
		j.RequireReview("low confidence", time.Now())
	})

	yes := true
	jobs, total, err := f.svc.ListJobs(context.Background(), domain.JobFilter{RequiresReview: &yes})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, flagged.ID, jobs[0].ID)

	_, _, err = f.svc.ListJobs(context.Background(), domain.JobFilter{Statuses: []domain.JobStatus{"DONE"}})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))
}

func TestMarkReviewed_Rules(t *testing.T) {
	f := newConversionFixture(t, nil, time.Second)
	doc := f.env.createDocument(t, "Review")
	job := f.env.createJob(t, doc, nil)
	ctx := context.Background()

	_, err := f.svc.MarkReviewed(ctx, job.ID, "  ")
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))

	_, err = f.svc.MarkReviewed(ctx, job.ID, "editor")
	assert.True(t, domainerrors.Is(err, domainerrors.ErrConflict))
}

func TestOpenArtifact_MissingArtifact(t *testing.T) {
	f := newConversionFixture(t, nil, time.Second)
	doc := f.env.createDocument(t, "NoArtifact")
	job := f.env.createJob(t, doc, nil)

	_, _, err := f.svc.OpenArtifact(context.Background(), job.ID)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))
}
