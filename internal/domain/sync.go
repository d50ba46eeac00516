package domain

import (
	"fmt"
	"time"
)

// AudioSync maps a span of narration audio to a page or a single block.
type AudioSync struct {
	ID         int64   `json:"id"`
	DocumentID int64   `json:"document_id"`
	JobID      int64   `json:"job_id"`
	PageNumber int     `json:"page_number"`
	BlockID    *string `json:"block_id,omitempty"` // nil means page granularity
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	AudioKey   string  `json:"audio_key"`
	Notes      *string `json:"notes,omitempty"`
	CustomText *string `json:"custom_text,omitempty"`
	UserEdited bool    `json:"user_edited"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration returns EndTime - StartTime.
func (s *AudioSync) Duration() float64 {
	return s.EndTime - s.StartTime
}

// Validate enforces end > start and a 1-based page.
func (s *AudioSync) Validate() error {
	if s.PageNumber < 1 {
		return fmt.Errorf("page number must be >= 1, got %d", s.PageNumber)
	}
	if s.StartTime < 0 {
		return fmt.Errorf("start time must not be negative, got %.3f", s.StartTime)
	}
	if s.EndTime <= s.StartTime {
		return fmt.Errorf("end time %.3f must be after start time %.3f", s.EndTime, s.StartTime)
	}
	return nil
}

// SyncEdit is a partial user edit of a sync record.
type SyncEdit struct {
	StartTime  *float64
	EndTime    *float64
	Notes      *string
	CustomText *string
}

// Apply mutates s with the edit and marks it user-edited.
func (s *AudioSync) Apply(edit SyncEdit, now time.Time) {
	if edit.StartTime != nil {
		s.StartTime = *edit.StartTime
	}
	if edit.EndTime != nil {
		s.EndTime = *edit.EndTime
	}
	if edit.Notes != nil {
		s.Notes = edit.Notes
	}
	if edit.CustomText != nil {
		s.CustomText = edit.CustomText
	}
	s.UserEdited = true
	s.UpdatedAt = now
}

// AlignmentStrategy names how timestamps were produced.
type AlignmentStrategy string

const (
	AlignmentTiming     AlignmentStrategy = "timing"
	AlignmentEstimation AlignmentStrategy = "estimation"
)

// AlignmentRunStatus is the lifecycle of an asynchronous alignment.
type AlignmentRunStatus string

const (
	AlignmentRunning   AlignmentRunStatus = "running"
	AlignmentCompleted AlignmentRunStatus = "completed"
	AlignmentFailed    AlignmentRunStatus = "failed"
)

// AlignmentRun tracks one alignment request.
type AlignmentRun struct {
	ID         string             `json:"id"`
	JobID      int64              `json:"job_id"`
	Strategy   AlignmentStrategy  `json:"strategy"`
	Status     AlignmentRunStatus `json:"status"`
	Degraded   bool               `json:"degraded"`
	Warning    string             `json:"warning,omitempty"`
	SyncCount  int                `json:"sync_count"`
	Duration   float64            `json:"duration_seconds"`
	Error      string             `json:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}
