package domain

import (
	"slices"
	"time"
)

// JobStatus is the lifecycle state of a conversion job.
type JobStatus string

const (
	JobStatusPending        JobStatus = "PENDING"
	JobStatusInProgress     JobStatus = "IN_PROGRESS"
	JobStatusCompleted      JobStatus = "COMPLETED"
	JobStatusFailed         JobStatus = "FAILED"
	JobStatusReviewRequired JobStatus = "REVIEW_REQUIRED"
	JobStatusCancelled      JobStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusInProgress, JobStatusCompleted,
		JobStatusFailed, JobStatusReviewRequired, JobStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further automatic or cancel transition applies.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ErrorKind classifies why a job failed.
type ErrorKind string

const (
	ErrorKindStage   ErrorKind = "stage_failure"
	ErrorKindTimeout ErrorKind = "timeout"
)

// ConversionJob drives one document through the pipeline. The intermediate
// structure itself lives in the snapshot store keyed by job id.
type ConversionJob struct {
	ID         int64 `json:"id"`
	DocumentID int64 `json:"document_id"`

	Status             JobStatus  `json:"status"`
	CurrentStep        *StageName `json:"current_step,omitempty"`
	ProgressPercentage int        `json:"progress_percentage"`
	Attempt            int        `json:"attempt"`

	// ConfidenceScore is the mean of StageConfidences; nil until a stage reports one.
	ConfidenceScore  *float64              `json:"confidence_score,omitempty"`
	StageConfidences map[StageName]float64 `json:"stage_confidences,omitempty"`

	RequiresReview bool       `json:"requires_review"`
	ReviewReason   string     `json:"review_reason,omitempty"`
	ReviewedBy     string     `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`

	ErrorMessage string    `json:"error_message,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`

	ArtifactKey string `json:"artifact_key,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewConversionJob returns a job at PENDING, first stage, zero progress.
func NewConversionJob(documentID int64, now time.Time) *ConversionJob {
	first := FirstStage()
	return &ConversionJob{
		DocumentID:  documentID,
		Status:      JobStatusPending,
		CurrentStep: &first,
		Attempt:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CanCancel reports whether cancel is legal from the current status.
func (j *ConversionJob) CanCancel() bool {
	return !j.Status.Terminal()
}

// CanRetry reports whether retry is legal from the current status.
func (j *ConversionJob) CanRetry() bool {
	return j.Status == JobStatusFailed || j.Status == JobStatusReviewRequired || j.Status == JobStatusCompleted
}

// Reviewed reports whether a human has acknowledged a review request on this job.
func (j *ConversionJob) Reviewed() bool {
	return j.ReviewedAt != nil
}

// StructureReady reports whether semantic structuring has finished, so chapter
// detection and alignment can read the snapshot. A job paused for review
// qualifies once CurrentStep is past semantic structuring.
func (j *ConversionJob) StructureReady() bool {
	switch j.Status {
	case JobStatusCompleted:
		return true
	case JobStatusReviewRequired:
		return j.CurrentStep != nil && StageIndex(*j.CurrentStep) > StageIndex(StageSemantic)
	default:
		return false
	}
}

// MarkRunning moves a pending job into execution.
func (j *ConversionJob) MarkRunning(now time.Time) {
	j.Status = JobStatusInProgress
	if j.CurrentStep == nil {
		first := FirstStage()
		j.CurrentStep = &first
	}
	j.StartedAt = &now
	j.UpdatedAt = now
}

// RecordConfidence stores a stage confidence and recomputes the job mean.
func (j *ConversionJob) RecordConfidence(stage StageName, confidence float64) {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	if j.StageConfidences == nil {
		j.StageConfidences = make(map[StageName]float64)
	}
	j.StageConfidences[stage] = confidence

	var sum float64
	for _, c := range j.StageConfidences {
		sum += c
	}
	mean := sum / float64(len(j.StageConfidences))
	j.ConfidenceScore = &mean
}

// CompleteStage records success of the stage at index: progress moves to the
// derived percentage (never backwards) and the job moves to the next stage,
// or to COMPLETED after the last one.
func (j *ConversionJob) CompleteStage(index int, now time.Time) {
	if p := ProgressAfter(index); p > j.ProgressPercentage {
		j.ProgressPercentage = p
	}
	j.UpdatedAt = now
	if index+1 < len(Pipeline) {
		next := Pipeline[index+1]
		j.CurrentStep = &next
		return
	}
	j.Status = JobStatusCompleted
	j.ProgressPercentage = 100
	j.CompletedAt = &now
}

// Fail moves the job to FAILED, keeping CurrentStep on the stage that failed.
func (j *ConversionJob) Fail(kind ErrorKind, message string, now time.Time) {
	j.Status = JobStatusFailed
	j.ErrorKind = kind
	j.ErrorMessage = message
	j.CompletedAt = nil
	j.UpdatedAt = now
}

// RequireReview pauses the job for a human.
func (j *ConversionJob) RequireReview(reason string, now time.Time) {
	j.Status = JobStatusReviewRequired
	j.RequiresReview = true
	j.ReviewReason = reason
	j.UpdatedAt = now
}

// PauseForReview records success of the stage at index and pauses the job.
// Unlike CompleteStage it never moves the job to COMPLETED, even after the last stage.
func (j *ConversionJob) PauseForReview(index int, reason string, now time.Time) {
	if p := ProgressAfter(index); p > j.ProgressPercentage {
		j.ProgressPercentage = p
	}
	if index+1 < len(Pipeline) {
		next := Pipeline[index+1]
		j.CurrentStep = &next
	}
	j.RequireReview(reason, now)
}

// MarkReviewed clears the review flag. It does not resume the pipeline.
func (j *ConversionJob) MarkReviewed(reviewer string, now time.Time) {
	j.RequiresReview = false
	j.ReviewedBy = reviewer
	j.ReviewedAt = &now
	j.UpdatedAt = now
}

// Cancel moves the job to CANCELLED.
func (j *ConversionJob) Cancel(now time.Time) {
	j.Status = JobStatusCancelled
	j.UpdatedAt = now
}

// ResetForRetry rewinds the job to the first stage for a full restart.
// Reviewer acknowledgement is kept.
func (j *ConversionJob) ResetForRetry(now time.Time) {
	first := FirstStage()
	j.Status = JobStatusPending
	j.CurrentStep = &first
	j.ProgressPercentage = 0
	j.ErrorMessage = ""
	j.ErrorKind = ""
	j.RequiresReview = false
	j.ReviewReason = ""
	j.ConfidenceScore = nil
	j.StageConfidences = nil
	j.ArtifactKey = ""
	j.CompletedAt = nil
	j.StartedAt = nil
	j.Attempt++
	j.UpdatedAt = now
}

// JobFilter selects jobs for listing.
type JobFilter struct {
	Statuses       []JobStatus
	RequiresReview *bool
	DocumentID     int64
	Limit          int
	Offset         int
}

// Matches reports whether j satisfies the filter (ignores paging).
func (f JobFilter) Matches(j *ConversionJob) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, j.Status) {
		return false
	}
	if f.RequiresReview != nil && j.RequiresReview != *f.RequiresReview {
		return false
	}
	if f.DocumentID != 0 && j.DocumentID != f.DocumentID {
		return false
	}
	return true
}

// BulkFailure records why one document in a bulk submission did not start.
type BulkFailure struct {
	DocumentID int64  `json:"document_id"`
	Message    string `json:"message"`
}

// BulkResult is the outcome of a bulk submission.
type BulkResult struct {
	Started []*ConversionJob `json:"started"`
	Failed  []BulkFailure    `json:"failed"`
}
