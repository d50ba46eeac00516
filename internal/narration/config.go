// Package narration aligns narration audio with document text blocks.
//
// Two strategies produce the same Segment output: timing-driven alignment when
// word-level timestamps exist, and estimation-driven alignment when only the
// audio itself is available.
package narration

import "math"

// SilenceConfig tunes silence detection.
type SilenceConfig struct {
	// Window is the RMS analysis window in seconds.
	Window float64
	// Threshold is the RMS level (samples normalized to [-1,1]) below which a window is silent.
	Threshold float64
	// MinDuration is the shortest silent run, in seconds, that counts as a break.
	MinDuration float64
}

// Config carries every alignment constant. Nothing here is process-global.
type Config struct {
	// TailSeconds is the duration given to the final word of a timing list.
	TailSeconds float64
	// BlockFloorSeconds is the minimum estimated block duration.
	BlockFloorSeconds float64
	// PauseBufferSeconds is added to a page's estimate for each silence inside it.
	PauseBufferSeconds float64
	// SnapWindowSeconds is how far a block end may move to reach a silence point.
	SnapWindowSeconds float64
	// EmptyPageSeconds is the flat duration given to pages without text.
	EmptyPageSeconds float64
	Silence          SilenceConfig
}

// DefaultConfig returns the standard alignment constants.
func DefaultConfig() Config {
	return Config{
		TailSeconds:        0.25,
		BlockFloorSeconds:  0.3,
		PauseBufferSeconds: 0.2,
		SnapWindowSeconds:  0.5,
		EmptyPageSeconds:   1.0,
		Silence: SilenceConfig{
			Window:      0.05,
			Threshold:   0.02,
			MinDuration: 0.3,
		},
	}
}

// Segment is one aligned span. An empty BlockID means page granularity.
type Segment struct {
	Page    int     `json:"page"`
	BlockID string  `json:"block_id,omitempty"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// roundMillis rounds seconds to the nearest millisecond.
func roundMillis(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// roundWithin rounds v to the millisecond without exceeding limit. Rounding
// alone can push a clamped end up to half a millisecond past limit.
func roundWithin(v, limit float64) float64 {
	return math.Min(roundMillis(v), limit)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
