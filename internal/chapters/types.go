// Package chapters detects, validates and generates chapter boundaries over a
// document structure.
package chapters

import "github.com/listenupapp/pagesync-server/internal/domain"

// Chapter is the domain chapter type.
type Chapter = domain.Chapter

// Strategy selects how boundaries are detected.
type Strategy string

const (
	StrategyHeuristic Strategy = "heuristic"
	StrategyAI        Strategy = "ai"
	StrategyHybrid    Strategy = "hybrid"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyHeuristic || s == StrategyAI || s == StrategyHybrid
}

// Signal is an independent piece of evidence that a block opens a chapter.
type Signal string

const (
	SignalIndicator Signal = "indicator"
	SignalLargeFont Signal = "large_font"
	SignalTopOfPage Signal = "top_of_page"
	SignalLevelOne  Signal = "heading_level_1"
)

// Candidate is a block that may open a chapter.
type Candidate struct {
	Page    int      `json:"page"`
	BlockID string   `json:"block_id"`
	Title   string   `json:"title"`
	Signals []Signal `json:"signals"`
}

// PageText is the per-page input handed to an AI suggester.
type PageText struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Suggestion is a boundary proposed by an AI suggester.
type Suggestion struct {
	Title      string  `json:"title"`
	StartPage  int     `json:"start_page"`
	Confidence float64 `json:"confidence"`
}

// Conflict is a boundary the heuristic and AI strategies disagree on.
type Conflict struct {
	StartPage  int     `json:"start_page"`
	Source     string  `json:"source"`
	Title      string  `json:"title"`
	Confidence float64 `json:"confidence"`
}

// DetectionResult is the outcome of Detect.
type DetectionResult struct {
	Strategy    Strategy   `json:"strategy"`
	Chapters    []Chapter  `json:"chapters"`
	NeedsReview bool       `json:"needs_review"`
	Conflicts   []Conflict `json:"conflicts,omitempty"`
	// Degraded is set when AI was requested but unavailable and heuristics were used.
	Degraded bool   `json:"degraded,omitempty"`
	Warning  string `json:"warning,omitempty"`
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Coverage float64  `json:"coverage"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}
