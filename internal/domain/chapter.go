package domain

import "time"

// Chapter is a chapter boundary with inclusive 1-based pages.
type Chapter struct {
	Title      string   `json:"title"`
	StartPage  int      `json:"start_page"`
	EndPage    int      `json:"end_page"`
	Confidence *float64 `json:"confidence,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// ChapterConfiguration is an ordered chapter set validated against TotalPages.
type ChapterConfiguration struct {
	DocumentID int64     `json:"document_id"`
	Chapters   []Chapter `json:"chapters"`
	TotalPages int       `json:"total_pages"`
	UpdatedAt  time.Time `json:"updated_at"`
}
