package store

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleStructure() *structure.Structure {
	s := structure.New()
	s.Metadata.Title = "Biology"
	s.Metadata.PageCount = 2
	s.Pages = []structure.Page{
		structure.NewPage(1, structure.NewTextBlock("blk_a", "Chapter 1 Cells")),
		structure.NewPage(2, structure.NewTextBlock("blk_b", "Cells divide.")),
	}
	s.TOC = []structure.TOCEntry{{Title: "Chapter 1 Cells", Page: 1, Level: 1, BlockID: "blk_a"}}
	return s
}

func TestSnapshot_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveStructure(ctx, 7, sampleStructure()))

	got, err := s.LoadStructure(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Biology", got.Metadata.Title)
	require.Len(t, got.Pages, 2)
	assert.Equal(t, "Cells divide.", got.Pages[1].TextBlocks[0].Text)
	assert.Equal(t, 2, got.Pages[1].TextBlocks[0].WordCount)
}

func TestSnapshot_PartialReads(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveStructure(ctx, 3, sampleStructure()))

	pages, err := s.LoadPages(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, pages, 2)

	toc, err := s.LoadTOC(ctx, 3)
	require.NoError(t, err)
	require.Len(t, toc, 1)
	assert.Equal(t, "blk_a", toc[0].BlockID)

	md, err := s.LoadMetadata(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, md.PageCount)
}

func TestSnapshot_SaveReplacesPrevious(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveStructure(ctx, 1, sampleStructure()))

	next := sampleStructure()
	next.TOC = nil
	next.Pages = next.Pages[:1]
	require.NoError(t, s.SaveStructure(ctx, 1, next))

	got, err := s.LoadStructure(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got.Pages, 1)
	assert.Empty(t, got.TOC)
}

func TestSnapshot_Missing(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.LoadPages(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshot_RejectsUnknownVersion(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveStructure(ctx, 5, sampleStructure()))

	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(5, "version"), []byte("2"))
	}))

	_, err := s.LoadStructure(ctx, 5)
	assert.ErrorIs(t, err, ErrSchemaVersion)
}

func TestSnapshot_Delete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveStructure(ctx, 4, sampleStructure()))

	require.NoError(t, s.DeleteStructure(ctx, 4))
	require.NoError(t, s.DeleteStructure(ctx, 4))

	_, err := s.LoadStructure(ctx, 4)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRuns_SaveGetList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := &domain.AlignmentRun{ID: "run_a", JobID: 1, Status: domain.AlignmentRunning, StartedAt: base}
	second := &domain.AlignmentRun{ID: "run_b", JobID: 1, Status: domain.AlignmentRunning, StartedAt: base.Add(time.Minute)}
	other := &domain.AlignmentRun{ID: "run_c", JobID: 2, Status: domain.AlignmentRunning, StartedAt: base}
	for _, r := range []*domain.AlignmentRun{first, second, other} {
		require.NoError(t, s.SaveRun(ctx, r))
	}

	first.Status = domain.AlignmentCompleted
	first.SyncCount = 12
	require.NoError(t, s.SaveRun(ctx, first))

	got, err := s.GetRun(ctx, "run_a")
	require.NoError(t, err)
	assert.Equal(t, domain.AlignmentCompleted, got.Status)
	assert.Equal(t, 12, got.SyncCount)

	runs, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run_b", runs[0].ID)
	assert.Equal(t, "run_a", runs[1].ID)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEntity_DeleteRemovesIndex(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	runs := s.runs()
	require.NoError(t, runs.Save(ctx, "run_x", &domain.AlignmentRun{ID: "run_x", JobID: 9}))

	require.NoError(t, runs.Delete(ctx, "run_x"))

	list, err := s.ListRuns(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestErrorIs_MatchesWrappedSentinel(t *testing.T) {
	err := ErrNotFound.WithCause(assert.AnError)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrAlreadyExists)
}

func TestNew_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveStructure(ctx, 9, sampleStructure()))
	require.NoError(t, s.Close())

	s, err = New(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	pages, err := s.LoadPages(ctx, 9)
	require.NoError(t, err)
	assert.NotEmpty(t, pages)
}
