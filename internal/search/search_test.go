package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/pagesync-server/internal/structure"
)

// setupTestIndex creates a temporary search index for testing.
func setupTestIndex(t *testing.T) *SearchIndex {
	t.Helper()
	index, err := NewSearchIndex(Options{DataPath: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })
	return index
}

func testPages() []structure.Page {
	heading := structure.NewTextBlock("blk1", "Photosynthesis")
	heading.Type = structure.BlockHeading
	return []structure.Page{
		structure.NewPage(1, heading, structure.NewTextBlock("blk2", "Plants convert sunlight into chemical energy.")),
		structure.NewPage(2, structure.NewTextBlock("blk3", "Mitochondria release energy in cells."), structure.NewTextBlock("blk4", "")),
	}
}

func TestNewSearchIndex_Empty(t *testing.T) {
	index := setupTestIndex(t)

	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestIndexJob_SkipsEmptyBlocks(t *testing.T) {
	index := setupTestIndex(t)

	n, err := index.IndexJob(context.Background(), 1, 10, "Biology", testPages())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
}

func TestSearch_ScopedToJob(t *testing.T) {
	index := setupTestIndex(t)
	ctx := context.Background()

	_, err := index.IndexJob(ctx, 1, 10, "Biology", testPages())
	require.NoError(t, err)
	_, err = index.IndexJob(ctx, 2, 11, "Physics", []structure.Page{
		structure.NewPage(1, structure.NewTextBlock("blk1", "Energy is conserved.")),
	})
	require.NoError(t, err)

	res, err := index.Search(ctx, SearchParams{Query: "energy", JobID: 1})
	require.NoError(t, err)
	require.Equal(t, uint64(2), res.Total)
	for _, h := range res.Hits {
		assert.Equal(t, int64(1), h.JobID)
		assert.Contains(t, []string{"blk2", "blk3"}, h.BlockID)
	}

	all, err := index.Search(ctx, SearchParams{Query: "energy"})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), all.Total)
}

func TestSearch_TypeFilterAndFields(t *testing.T) {
	index := setupTestIndex(t)
	ctx := context.Background()
	_, err := index.IndexJob(ctx, 5, 1, "Biology", testPages())
	require.NoError(t, err)

	res, err := index.Search(ctx, SearchParams{Query: "photosynthesis", JobID: 5, Type: "heading"})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, 1, res.Hits[0].Page)
	assert.Equal(t, "Photosynthesis", res.Hits[0].Text)
	assert.NotEmpty(t, res.Hits[0].Highlight)
}

func TestIndexJob_ReplacesPreviousBlocks(t *testing.T) {
	index := setupTestIndex(t)
	ctx := context.Background()
	_, err := index.IndexJob(ctx, 1, 10, "Biology", testPages())
	require.NoError(t, err)

	_, err = index.IndexJob(ctx, 1, 10, "Biology", testPages()[:1])
	require.NoError(t, err)

	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	require.NoError(t, index.DeleteJob(ctx, 1))
	count, err = index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestNewSearchIndex_Reopens(t *testing.T) {
	dir := t.TempDir()
	index, err := NewSearchIndex(Options{DataPath: dir})
	require.NoError(t, err)
	_, err = index.IndexJob(context.Background(), 1, 1, "", testPages())
	require.NoError(t, err)
	require.NoError(t, index.Close())

	reopened, err := NewSearchIndex(Options{DataPath: dir})
	require.NoError(t, err)
	defer reopened.Close()
	count, err := reopened.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
}
