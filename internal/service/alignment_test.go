package service

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/pagesync-server/internal/domain"
	domainerrors "github.com/listenupapp/pagesync-server/internal/errors"
	"github.com/listenupapp/pagesync-server/internal/narration"
	"github.com/listenupapp/pagesync-server/internal/sse"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

type alignmentFixture struct {
	env    *testEnv
	svc    *AlignmentService
	events *recordingEmitter
	job    *domain.ConversionJob
}

func newAlignmentFixture(t *testing.T, pages ...structure.Page) *alignmentFixture {
	t.Helper()
	env := newTestEnv(t)
	events := &recordingEmitter{}

	svc := NewAlignmentService(AlignmentDeps{
		Jobs:      env.db,
		Syncs:     env.db,
		Runs:      env.kv,
		Snapshots: env.kv,
		Blobs:     env.blobs,
		Aligner:   narration.NewAligner(narration.DefaultConfig(), 16000, nil, nil, nil),
		Emitter:   events,
	}, 2, nil)
	svc.Start()
	t.Cleanup(svc.Stop)

	doc := env.createDocument(t, "Narrated")
	job := env.createJob(t, doc, completed)
	if len(pages) > 0 {
		env.saveStructure(t, job.ID, pages...)
	}
	return &alignmentFixture{env: env, svc: svc, events: events, job: job}
}

func (f *alignmentFixture) waitForRun(t *testing.T, runID string) *domain.AlignmentRun {
	t.Helper()
	var run *domain.AlignmentRun
	require.Eventually(t, func() bool {
		var err error
		run, err = f.svc.GetRun(context.Background(), runID)
		return err == nil && run.Status != domain.AlignmentRunning
	}, 5*time.Second, 10*time.Millisecond)
	return run
}

func twoBlockPage() structure.Page {
	return structure.NewPage(1,
		structure.NewTextBlock("blk-a", "one two three"),
		structure.NewTextBlock("blk-b", "four five"),
	)
}

func fiveWordTimings() []narration.WordTiming {
	return []narration.WordTiming{
		{Word: "one", Start: 0},
		{Word: "two", Start: 1},
		{Word: "three", Start: 2},
		{Word: "four", Start: 3},
		{Word: "five", Start: 4},
	}
}

func TestAlign_TimingStrategyCreatesSyncs(t *testing.T) {
	f := newAlignmentFixture(t, twoBlockPage())
	ctx := context.Background()

	run, err := f.svc.Align(ctx, f.job.ID, AlignRequest{WordTimings: fiveWordTimings()})
	require.NoError(t, err)
	assert.Equal(t, domain.AlignmentTiming, run.Strategy)
	assert.Equal(t, domain.AlignmentRunning, run.Status)

	done := f.waitForRun(t, run.ID)
	require.Equal(t, domain.AlignmentCompleted, done.Status, done.Error)
	assert.Equal(t, 2, done.SyncCount)

	syncs, err := f.svc.ListSyncs(ctx, f.job.ID)
	require.NoError(t, err)
	require.Len(t, syncs, 2)
	assert.Equal(t, "blk-a", *syncs[0].BlockID)
	assert.InDelta(t, 0.0, syncs[0].StartTime, 1e-9)
	assert.InDelta(t, 3.0, syncs[0].EndTime, 1e-9)
	assert.Equal(t, "blk-b", *syncs[1].BlockID)
	assert.InDelta(t, 4.25, syncs[1].EndTime, 1e-9)
	assert.False(t, syncs[0].UserEdited)

	require.Eventually(t, func() bool { return f.events.count(sse.EventAlignmentCompleted) == 1 }, time.Second, 10*time.Millisecond)
}

func TestAlign_RerunKeepsUserEditedSyncs(t *testing.T) {
	f := newAlignmentFixture(t, twoBlockPage())
	ctx := context.Background()

	run, err := f.svc.Align(ctx, f.job.ID, AlignRequest{WordTimings: fiveWordTimings()})
	require.NoError(t, err)
	f.waitForRun(t, run.ID)

	syncs, err := f.svc.ListSyncs(ctx, f.job.ID)
	require.NoError(t, err)
	require.Len(t, syncs, 2)

	end := 2.5
	note := "narrator pauses"
	edited, err := f.svc.EditSync(ctx, syncs[0].ID, domain.SyncEdit{EndTime: &end, Notes: &note})
	require.NoError(t, err)
	assert.True(t, edited.UserEdited)

	run, err = f.svc.Align(ctx, f.job.ID, AlignRequest{WordTimings: fiveWordTimings()})
	require.NoError(t, err)
	done := f.waitForRun(t, run.ID)
	assert.Equal(t, 1, done.SyncCount)

	syncs, err = f.svc.ListSyncs(ctx, f.job.ID)
	require.NoError(t, err)
	require.Len(t, syncs, 2)
	assert.True(t, syncs[0].UserEdited)
	assert.InDelta(t, 2.5, syncs[0].EndTime, 1e-9)
	require.NotNil(t, syncs[0].Notes)
	assert.Equal(t, note, *syncs[0].Notes)
	assert.False(t, syncs[1].UserEdited)
}

func TestEditSync_RejectsEndBeforeStart(t *testing.T) {
	f := newAlignmentFixture(t, twoBlockPage())
	ctx := context.Background()

	run, err := f.svc.Align(ctx, f.job.ID, AlignRequest{WordTimings: fiveWordTimings()})
	require.NoError(t, err)
	f.waitForRun(t, run.ID)
	syncs, err := f.svc.ListSyncs(ctx, f.job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, syncs)

	end := syncs[0].StartTime
	_, err = f.svc.EditSync(ctx, syncs[0].ID, domain.SyncEdit{EndTime: &end})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))

	stored, err := f.env.db.GetSync(ctx, syncs[0].ID)
	require.NoError(t, err)
	assert.False(t, stored.UserEdited)
	assert.InDelta(t, syncs[0].EndTime, stored.EndTime, 1e-9)
}

func TestAlign_EstimationWithKnownDuration(t *testing.T) {
	words := strings.TrimSpace(strings.Repeat("word ", 100))
	f := newAlignmentFixture(t, structure.NewPage(1, structure.NewTextBlock("blk-1", words)))
	ctx := context.Background()

	key := "audio/narration.mp3"
	require.NoError(t, f.env.blobs.Put(ctx, key, bytes.NewReader([]byte("ID3 fake"))))

	run, err := f.svc.Align(ctx, f.job.ID, AlignRequest{AudioKey: key, Duration: 100})
	require.NoError(t, err)
	assert.Equal(t, domain.AlignmentEstimation, run.Strategy)

	done := f.waitForRun(t, run.ID)
	require.Equal(t, domain.AlignmentCompleted, done.Status, done.Error)
	assert.False(t, done.Degraded)

	syncs, err := f.svc.ListSyncs(ctx, f.job.ID)
	require.NoError(t, err)
	require.Len(t, syncs, 1)
	assert.InDelta(t, 0.0, syncs[0].StartTime, 1e-9)
	assert.InDelta(t, 100.0, syncs[0].EndTime, 1e-9)
	assert.Equal(t, key, syncs[0].AudioKey)
}

func TestAlign_RequestValidation(t *testing.T) {
	f := newAlignmentFixture(t, twoBlockPage())
	ctx := context.Background()

	_, err := f.svc.Align(ctx, f.job.ID, AlignRequest{})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))

	_, err = f.svc.Align(ctx, f.job.ID, AlignRequest{WordTimings: []narration.WordTiming{{Word: "a", Start: 2}, {Word: "b", Start: 1}}})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))

	_, err = f.svc.Align(ctx, f.job.ID, AlignRequest{AudioKey: "audio/missing.mp3"})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))

	_, err = f.svc.Align(ctx, 777, AlignRequest{WordTimings: fiveWordTimings()})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))
}

func TestAlign_NoPagesFailsRun(t *testing.T) {
	f := newAlignmentFixture(t)

	run, err := f.svc.Align(context.Background(), f.job.ID, AlignRequest{WordTimings: fiveWordTimings()})
	require.NoError(t, err)

	done := f.waitForRun(t, run.ID)
	assert.Equal(t, domain.AlignmentFailed, done.Status)
	assert.NotEmpty(t, done.Error)

	runs, err := f.svc.ListRuns(context.Background(), f.job.ID)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestUploadAudio(t *testing.T) {
	f := newAlignmentFixture(t)
	ctx := context.Background()

	key, err := f.svc.UploadAudio(ctx, "Chapter 1.MP3", strings.NewReader("ID3 narration"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "audio/"))
	assert.True(t, strings.HasSuffix(key, ".mp3"))
	data, err := f.env.blobs.ReadAll(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "ID3 narration", string(data))

	_, err = f.svc.UploadAudio(ctx, "notes.txt", strings.NewReader("x"))
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))

	_, err = f.svc.UploadAudio(ctx, "empty.wav", strings.NewReader(""))
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))
}

func TestAlign_RequiresFinishedStructure(t *testing.T) {
	env := newTestEnv(t)
	svc := NewAlignmentService(AlignmentDeps{
		Jobs:      env.db,
		Syncs:     env.db,
		Runs:      env.kv,
		Snapshots: env.kv,
		Blobs:     env.blobs,
		Aligner:   narration.NewAligner(narration.DefaultConfig(), 16000, nil, nil, nil),
	}, 1, nil)
	svc.Start()
	t.Cleanup(svc.Stop)
	ctx := context.Background()
	doc := env.createDocument(t, "Half done")

	running := env.createJob(t, doc, func(job *domain.ConversionJob) {
		now := time.Now()
		job.MarkRunning(now)
		for i := 0; i < domain.StageIndex(domain.StageLayoutAnalysis); i++ {
			job.CompleteStage(i, now)
		}
	})
	env.saveStructure(t, running.ID, twoBlockPage())

	_, err := svc.Align(ctx, running.ID, AlignRequest{WordTimings: fiveWordTimings()})
	require.Error(t, err)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrConflict))

	runs, err := svc.ListRuns(ctx, running.ID)
	require.NoError(t, err)
	assert.Empty(t, runs)
	syncs, err := env.db.ListSyncs(ctx, running.ID)
	require.NoError(t, err)
	assert.Empty(t, syncs)

	paused := env.createJob(t, doc, func(job *domain.ConversionJob) {
		now := time.Now()
		job.MarkRunning(now)
		semantic := domain.StageIndex(domain.StageSemantic)
		for i := 0; i < semantic; i++ {
			job.CompleteStage(i, now)
		}
		job.PauseForReview(semantic, "low confidence", now)
	})
	env.saveStructure(t, paused.ID, twoBlockPage())

	run, err := svc.Align(ctx, paused.ID, AlignRequest{WordTimings: fiveWordTimings()})
	require.NoError(t, err)
	assert.Equal(t, paused.ID, run.JobID)
}
