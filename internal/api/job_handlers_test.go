package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

func TestStartJob(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	job := ts.createJob(t)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.ProgressPercentage)
	require.NotNil(t, job.CurrentStep)
	assert.Equal(t, domain.StageClassification, *job.CurrentStep)

	resp := ts.api.Get(fmt.Sprintf("/api/v1/jobs/%d", job.ID))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, job.ID, decodeJob(t, resp).ID)
}

func TestStartJob_Errors(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	resp := ts.api.Post("/api/v1/jobs", map[string]any{"document_id": 999})
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Code)

	resp = ts.api.Post("/api/v1/jobs", map[string]any{"document_id": 0})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "VALIDATION", decodeError(t, resp).Code)
}

func TestBulkStartJobs_IsolatesFailures(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	doc := ts.createDocument(t, "Physics")
	resp := ts.api.Post("/api/v1/jobs/bulk", map[string]any{"document_ids": []int64{doc.ID, 4242}})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var result domain.BulkResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Len(t, result.Started, 1)
	assert.Equal(t, doc.ID, result.Started[0].DocumentID)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, int64(4242), result.Failed[0].DocumentID)
}

func TestListJobs(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	first := ts.createJob(t)
	ts.createJob(t)

	cancel := ts.api.Post(fmt.Sprintf("/api/v1/jobs/%d/cancel", first.ID))
	require.Equal(t, http.StatusOK, cancel.Code)

	resp := ts.api.Get("/api/v1/jobs?status=pending")
	require.Equal(t, http.StatusOK, resp.Code)
	var list ListJobsResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Jobs, 1)
	assert.NotEqual(t, first.ID, list.Jobs[0].ID)
	assert.Equal(t, DefaultPageSize, list.Limit)

	resp = ts.api.Get("/api/v1/jobs?status=CANCELLED,PENDING&limit=1")
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Total)
	assert.Len(t, list.Jobs, 1)

	resp = ts.api.Get("/api/v1/jobs?requires_review=true")
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	assert.Equal(t, 0, list.Total)
	assert.NotNil(t, list.Jobs)

	resp = ts.api.Get("/api/v1/jobs?status=PENDING,SLEEPING")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "must be a known job status")
}

func TestCancelJob(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	job := ts.createJob(t)

	resp := ts.api.Post(fmt.Sprintf("/api/v1/jobs/%d/cancel", job.ID))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, domain.JobStatusCancelled, decodeJob(t, resp).Status)

	// Cancelled is terminal.
	resp = ts.api.Post(fmt.Sprintf("/api/v1/jobs/%d/cancel", job.ID))
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "CONFLICT", decodeError(t, resp).Code)
}

func TestRetryAndReview_RejectPendingJob(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	job := ts.createJob(t)

	resp := ts.api.Post(fmt.Sprintf("/api/v1/jobs/%d/retry", job.ID))
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = ts.api.Post(fmt.Sprintf("/api/v1/jobs/%d/review", job.ID), map[string]any{"reviewer": "editor@example.com"})
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = ts.api.Post(fmt.Sprintf("/api/v1/jobs/%d/review", job.ID), map[string]any{"reviewer": ""})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRetryJob_AfterCancel(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	job := ts.createJob(t)
	require.Equal(t, http.StatusOK, ts.api.Post(fmt.Sprintf("/api/v1/jobs/%d/cancel", job.ID)).Code)

	// Only failed, completed and review-required jobs can be retried.
	resp := ts.api.Post(fmt.Sprintf("/api/v1/jobs/%d/retry", job.ID))
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestGetJobStructure(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	job := ts.createJob(t)

	resp := ts.api.Get(fmt.Sprintf("/api/v1/jobs/%d/structure", job.ID))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	ts.saveStructure(t, job.ID, structure.NewPage(1, structure.NewTextBlock("blk-1", "Cells are the unit of life")))

	resp = ts.api.Get(fmt.Sprintf("/api/v1/jobs/%d/structure", job.ID))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var st structure.Structure
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &st))
	require.Len(t, st.Pages, 1)
	assert.Equal(t, "Biology", st.Metadata.Title)
}

func TestDownloadArtifact_Missing(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	job := ts.createJob(t)

	resp := ts.api.Get(fmt.Sprintf("/api/v1/jobs/%d/artifact", job.ID))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = ts.api.Get("/api/v1/jobs/777/artifact")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestArtifactContentType(t *testing.T) {
	assert.Equal(t, "application/epub+zip", artifactContentType(".epub"))
	assert.Equal(t, "application/vnd.pagesync.structure+json", artifactContentType(".json"))
	assert.Equal(t, "application/octet-stream", artifactContentType(".unknownext"))
}
