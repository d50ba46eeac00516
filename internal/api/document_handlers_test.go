package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/pagesync-server/internal/domain"
)

func TestUploadDocument(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	resp := ts.api.Post("/api/v1/documents?filename=cells.pdf", "Content-Type: application/pdf", pdfBody())
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var body DocumentResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotNil(t, body.Document)
	assert.Equal(t, "cells", body.Document.Title)
	assert.Equal(t, "application/pdf", body.Document.ContentType)
	assert.Positive(t, body.Document.SizeBytes)
	assert.Nil(t, body.Job)
	assert.True(t, ts.blobs.Exists(body.Document.SourceKey))

	get := ts.api.Get(fmt.Sprintf("/api/v1/documents/%d", body.Document.ID))
	require.Equal(t, http.StatusOK, get.Code)
}

func TestUploadDocument_StartsJob(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	resp := ts.api.Post("/api/v1/documents?title=Chemistry&start=true", "Content-Type: application/pdf", pdfBody())
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var body DocumentResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotNil(t, body.Job)
	assert.Equal(t, domain.JobStatusPending, body.Job.Status)
	assert.Equal(t, body.Document.ID, body.Job.DocumentID)
}

func TestUploadDocument_Rejections(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	resp := ts.api.Post("/api/v1/documents?filename=notes.txt", "Content-Type: text/plain", bytes.NewReader([]byte("hello")))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "VALIDATION", decodeError(t, resp).Code)

	resp = ts.api.Post("/api/v1/documents?filename=empty.pdf", "Content-Type: application/pdf", bytes.NewReader(nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetDocument_NotFound(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	resp := ts.api.Get("/api/v1/documents/404")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, resp).Code)
}
