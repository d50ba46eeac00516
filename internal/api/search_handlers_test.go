package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/pagesync-server/internal/search"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

func TestSearchJob(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	job := ts.createJob(t)
	ts.saveStructure(t, job.ID,
		structure.NewPage(1, structure.NewTextBlock("blk-1", "Photosynthesis converts light into chemical energy")),
		structure.NewPage(2, structure.NewTextBlock("blk-2", "Mitochondria release that energy")),
	)
	require.NoError(t, ts.services.Search.IndexJob(t.Context(), job))

	resp := ts.api.Get(fmt.Sprintf("/api/v1/jobs/%d/search?q=photosynthesis", job.ID))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var res search.SearchResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &res))
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "blk-1", res.Hits[0].BlockID)
	assert.Equal(t, 1, res.Hits[0].Page)

	resp = ts.api.Get("/api/v1/search?q=energy")
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &res))
	assert.Len(t, res.Hits, 2)
}

func TestSearchJob_Errors(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	job := ts.createJob(t)

	resp := ts.api.Get(fmt.Sprintf("/api/v1/jobs/%d/search", job.ID))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = ts.api.Get("/api/v1/jobs/999/search?q=cells")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = ts.api.Get(fmt.Sprintf("/api/v1/jobs/%d/search?q=nothing", job.ID))
	require.Equal(t, http.StatusOK, resp.Code)
	var res search.SearchResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &res))
	assert.Empty(t, res.Hits)
	assert.NotNil(t, res.Hits)
}
