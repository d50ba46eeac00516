package api

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

func (s *Server) registerJobRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "startJob",
		Method:        http.MethodPost,
		Path:          "/api/v1/jobs",
		Summary:       "Start conversion",
		Description:   "Creates a PENDING conversion job for a document",
		Tags:          []string{"Jobs"},
		DefaultStatus: http.StatusCreated,
	}, s.handleStartJob)

	huma.Register(s.api, huma.Operation{
		OperationID: "bulkStartJobs",
		Method:      http.MethodPost,
		Path:        "/api/v1/jobs/bulk",
		Summary:     "Start conversions in bulk",
		Description: "Starts one job per document. Failures are reported per document and do not affect the others.",
		Tags:        []string{"Jobs"},
	}, s.handleBulkStartJobs)

	huma.Register(s.api, huma.Operation{
		OperationID: "listJobs",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs",
		Summary:     "List jobs",
		Description: "Lists conversion jobs filtered by status, review flag or document",
		Tags:        []string{"Jobs"},
	}, s.handleListJobs)

	huma.Register(s.api, huma.Operation{
		OperationID: "getJob",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get job",
		Description: "Returns a conversion job with its progress",
		Tags:        []string{"Jobs"},
	}, s.handleGetJob)

	huma.Register(s.api, huma.Operation{
		OperationID: "cancelJob",
		Method:      http.MethodPost,
		Path:        "/api/v1/jobs/{id}/cancel",
		Summary:     "Cancel job",
		Description: "Cancels a job that has not reached a terminal status",
		Tags:        []string{"Jobs"},
	}, s.handleCancelJob)

	huma.Register(s.api, huma.Operation{
		OperationID: "retryJob",
		Method:      http.MethodPost,
		Path:        "/api/v1/jobs/{id}/retry",
		Summary:     "Retry job",
		Description: "Restarts a failed, completed or review-required job from the first stage",
		Tags:        []string{"Jobs"},
	}, s.handleRetryJob)

	huma.Register(s.api, huma.Operation{
		OperationID: "reviewJob",
		Method:      http.MethodPost,
		Path:        "/api/v1/jobs/{id}/review",
		Summary:     "Mark job reviewed",
		Description: "Records a reviewer on a job that requires review",
		Tags:        []string{"Jobs"},
	}, s.handleReviewJob)

	huma.Register(s.api, huma.Operation{
		OperationID: "getJobStructure",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/{id}/structure",
		Summary:     "Get job structure",
		Description: "Returns the last persisted document structure of a job",
		Tags:        []string{"Jobs"},
	}, s.handleGetJobStructure)

	huma.Register(s.api, huma.Operation{
		OperationID: "downloadJobArtifact",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/{id}/artifact",
		Summary:     "Download artifact",
		Description: "Streams the packaged artifact of a completed job",
		Tags:        []string{"Jobs"},
	}, s.handleDownloadArtifact)
}

// === DTOs ===

// StartJobRequest is the request body for starting a conversion.
type StartJobRequest struct {
	DocumentID int64 `json:"document_id" validate:"required,gt=0" doc:"Document to convert"`
}

// StartJobInput wraps the start job request for Huma.
type StartJobInput struct {
	Body StartJobRequest
}

// JobOutput wraps a job for Huma.
type JobOutput struct {
	Body *domain.ConversionJob
}

// BulkStartRequest is the request body for bulk starts.
type BulkStartRequest struct {
	DocumentIDs []int64 `json:"document_ids" validate:"required,min=1,max=500,dive,gt=0" doc:"Documents to convert"`
}

// BulkStartInput wraps the bulk start request for Huma.
type BulkStartInput struct {
	Body BulkStartRequest
}

// BulkStartOutput wraps the bulk result for Huma.
type BulkStartOutput struct {
	Body *domain.BulkResult
}

// ListJobsInput contains filters for listing jobs.
type ListJobsInput struct {
	Status         string `query:"status" doc:"Comma-separated statuses, e.g. FAILED,REVIEW_REQUIRED"`
	RequiresReview string `query:"requires_review" enum:"true,false" doc:"Filter by the review flag"`
	DocumentID     int64  `query:"document_id" minimum:"0" doc:"Filter by document"`
	Limit          int    `query:"limit" minimum:"0" maximum:"500" doc:"Page size (default 50)"`
	Offset         int    `query:"offset" minimum:"0" doc:"Page offset"`
}

// statusFilter validates the parsed status query.
type statusFilter struct {
	Statuses []domain.JobStatus `json:"status" validate:"dive,jobstatus"`
}

// ListJobsResponse contains a page of jobs.
type ListJobsResponse struct {
	Jobs   []*domain.ConversionJob `json:"jobs" doc:"Matching jobs, newest first"`
	Total  int                     `json:"total" doc:"Total matching jobs"`
	Limit  int                     `json:"limit" doc:"Page size"`
	Offset int                     `json:"offset" doc:"Page offset"`
}

// ListJobsOutput wraps the list jobs response for Huma.
type ListJobsOutput struct {
	Body ListJobsResponse
}

// JobIDInput identifies a job by path.
type JobIDInput struct {
	ID int64 `path:"id" minimum:"1" doc:"Job ID"`
}

// ReviewJobRequest is the request body for marking a job reviewed.
type ReviewJobRequest struct {
	Reviewer string `json:"reviewer" validate:"required,max=200" doc:"Who reviewed the job"`
}

// ReviewJobInput wraps the review request for Huma.
type ReviewJobInput struct {
	ID   int64 `path:"id" minimum:"1" doc:"Job ID"`
	Body ReviewJobRequest
}

// StructureOutput wraps a document structure for Huma.
type StructureOutput struct {
	Body *structure.Structure
}

// === Handlers ===

func (s *Server) handleStartJob(ctx context.Context, input *StartJobInput) (*JobOutput, error) {
	if err := s.validate(input.Body); err != nil {
		return nil, err
	}
	job, err := s.services.Conversion.StartJob(ctx, input.Body.DocumentID)
	if err != nil {
		return nil, err
	}
	return &JobOutput{Body: job}, nil
}

func (s *Server) handleBulkStartJobs(ctx context.Context, input *BulkStartInput) (*BulkStartOutput, error) {
	if err := s.validate(input.Body); err != nil {
		return nil, err
	}
	return &BulkStartOutput{Body: s.services.Conversion.BulkStart(ctx, input.Body.DocumentIDs)}, nil
}

func (s *Server) handleListJobs(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	filter := domain.JobFilter{
		DocumentID: input.DocumentID,
		Limit:      input.Limit,
		Offset:     input.Offset,
	}
	if filter.Limit == 0 {
		filter.Limit = DefaultPageSize
	}
	if filter.Limit > MaxPageSize {
		filter.Limit = MaxPageSize
	}
	for raw := range strings.SplitSeq(input.Status, ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			filter.Statuses = append(filter.Statuses, domain.JobStatus(strings.ToUpper(raw)))
		}
	}
	if err := s.validate(statusFilter{Statuses: filter.Statuses}); err != nil {
		return nil, err
	}
	if input.RequiresReview != "" {
		v := input.RequiresReview == "true"
		filter.RequiresReview = &v
	}

	jobs, total, err := s.services.Conversion.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*domain.ConversionJob{}
	}

	return &ListJobsOutput{
		Body: ListJobsResponse{
			Jobs:   jobs,
			Total:  total,
			Limit:  filter.Limit,
			Offset: filter.Offset,
		},
	}, nil
}

func (s *Server) handleGetJob(ctx context.Context, input *JobIDInput) (*JobOutput, error) {
	job, err := s.services.Conversion.GetJob(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &JobOutput{Body: job}, nil
}

func (s *Server) handleCancelJob(ctx context.Context, input *JobIDInput) (*JobOutput, error) {
	job, err := s.services.Conversion.Cancel(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &JobOutput{Body: job}, nil
}

func (s *Server) handleRetryJob(ctx context.Context, input *JobIDInput) (*JobOutput, error) {
	job, err := s.services.Conversion.Retry(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &JobOutput{Body: job}, nil
}

func (s *Server) handleReviewJob(ctx context.Context, input *ReviewJobInput) (*JobOutput, error) {
	if err := s.validate(input.Body); err != nil {
		return nil, err
	}
	job, err := s.services.Conversion.MarkReviewed(ctx, input.ID, input.Body.Reviewer)
	if err != nil {
		return nil, err
	}
	return &JobOutput{Body: job}, nil
}

func (s *Server) handleGetJobStructure(ctx context.Context, input *JobIDInput) (*StructureOutput, error) {
	st, err := s.services.Conversion.Structure(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &StructureOutput{Body: st}, nil
}

func (s *Server) handleDownloadArtifact(ctx context.Context, input *JobIDInput) (*huma.StreamResponse, error) {
	rc, job, err := s.services.Conversion.OpenArtifact(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	ext := path.Ext(job.ArtifactKey)
	return &huma.StreamResponse{
		Body: func(hctx huma.Context) {
			defer rc.Close()
			hctx.SetHeader("Content-Type", artifactContentType(ext))
			hctx.SetHeader("Content-Disposition", fmt.Sprintf("attachment; filename=\"job-%d%s\"", job.ID, ext))
			hctx.SetHeader("Cache-Control", CacheNoStore)
			if _, err := io.Copy(hctx.BodyWriter(), rc); err != nil {
				s.logger.Warn("artifact stream interrupted",
					"job_id", job.ID,
					"error", err,
				)
			}
		},
	}, nil
}

func artifactContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".epub":
		return "application/epub+zip"
	case ".json":
		return "application/vnd.pagesync.structure+json"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
