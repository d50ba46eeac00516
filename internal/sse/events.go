// Package sse implements Server-Sent Events for conversion and alignment progress.
package sse

import (
	"time"

	"github.com/listenupapp/pagesync-server/internal/domain"
)

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventJobProgress is sent after every completed stage.
	EventJobProgress EventType = "job.progress"
	// EventJobCompleted is sent when the last stage finishes.
	EventJobCompleted EventType = "job.completed"
	// EventJobFailed is sent when a stage fails or times out.
	EventJobFailed EventType = "job.failed"
	// EventJobReviewRequired is sent when a job pauses for a human.
	EventJobReviewRequired EventType = "job.review_required"
	// EventJobCancelled is sent when a job is cancelled.
	EventJobCancelled EventType = "job.cancelled"

	EventAlignmentCompleted EventType = "alignment.completed"
	EventAlignmentFailed    EventType = "alignment.failed"

	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
)

// Event represents an SSE event to be sent to clients.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`
	// JobID routes the event to clients subscribed to one job. Zero means all clients.
	JobID int64 `json:"-"`
}

// JobEventData is the payload of every job.* event.
type JobEventData struct {
	JobID              int64             `json:"job_id"`
	DocumentID         int64             `json:"document_id"`
	Status             domain.JobStatus  `json:"status"`
	CurrentStep        *domain.StageName `json:"current_step,omitempty"`
	ProgressPercentage int               `json:"progress_percentage"`
	ConfidenceScore    *float64          `json:"confidence_score,omitempty"`
	RequiresReview     bool              `json:"requires_review"`
	ReviewReason       string            `json:"review_reason,omitempty"`
	ErrorMessage       string            `json:"error_message,omitempty"`
}

// AlignmentEventData is the payload of alignment.* events.
type AlignmentEventData struct {
	RunID     string                   `json:"run_id"`
	JobID     int64                    `json:"job_id"`
	Strategy  domain.AlignmentStrategy `json:"strategy"`
	SyncCount int                      `json:"sync_count"`
	Degraded  bool                     `json:"degraded"`
	Error     string                   `json:"error,omitempty"`
}

// NewJobEvent builds a job event from the job's current state.
func NewJobEvent(t EventType, job *domain.ConversionJob) Event {
	return Event{
		Type:      t,
		JobID:     job.ID,
		Timestamp: time.Now(),
		Data: JobEventData{
			JobID:              job.ID,
			DocumentID:         job.DocumentID,
			Status:             job.Status,
			CurrentStep:        job.CurrentStep,
			ProgressPercentage: job.ProgressPercentage,
			ConfidenceScore:    job.ConfidenceScore,
			RequiresReview:     job.RequiresReview,
			ReviewReason:       job.ReviewReason,
			ErrorMessage:       job.ErrorMessage,
		},
	}
}

// NewAlignmentEvent builds an alignment event for run.
func NewAlignmentEvent(run *domain.AlignmentRun) Event {
	t := EventAlignmentCompleted
	if run.Status == domain.AlignmentFailed {
		t = EventAlignmentFailed
	}
	return Event{
		Type:      t,
		JobID:     run.JobID,
		Timestamp: time.Now(),
		Data: AlignmentEventData{
			RunID:     run.ID,
			JobID:     run.JobID,
			Strategy:  run.Strategy,
			SyncCount: run.SyncCount,
			Degraded:  run.Degraded,
			Error:     run.Error,
		},
	}
}

// NewHeartbeatEvent creates a keepalive event.
func NewHeartbeatEvent() Event {
	return Event{
		Type:      EventHeartbeat,
		Timestamp: time.Now(),
		Data:      struct{}{},
	}
}
