package domain

import "time"

// Document is an uploaded source file awaiting or undergoing conversion.
type Document struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	SourceKey   string    `json:"source_key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}
