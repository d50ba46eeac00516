package domain

import "math"

// StageName identifies one step of the conversion pipeline.
type StageName string

const (
	StageClassification StageName = "classification"
	StageTextExtraction StageName = "text_extraction"
	StageLayoutAnalysis StageName = "layout_analysis"
	StageSemantic       StageName = "semantic_structuring"
	StageAccessibility  StageName = "accessibility"
	StageContentCleanup StageName = "content_cleanup"
	StageSpecialContent StageName = "special_content"
	StageEPUBGeneration StageName = "epub_generation"
	StageQAReview       StageName = "qa_review"
)

// Pipeline is the strict stage order. Progress and "next stage" are derived from it.
var Pipeline = []StageName{
	StageClassification,
	StageTextExtraction,
	StageLayoutAnalysis,
	StageSemantic,
	StageAccessibility,
	StageContentCleanup,
	StageSpecialContent,
	StageEPUBGeneration,
	StageQAReview,
}

// StageIndex returns the position of name in Pipeline, or -1.
func StageIndex(name StageName) int {
	for i, s := range Pipeline {
		if s == name {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a pipeline stage.
func (s StageName) Valid() bool {
	return StageIndex(s) >= 0
}

// FirstStage returns the stage every run starts from.
func FirstStage() StageName {
	return Pipeline[0]
}

// NextStage returns the stage after s and false when s is the last stage.
func NextStage(s StageName) (StageName, bool) {
	i := StageIndex(s)
	if i < 0 || i+1 >= len(Pipeline) {
		return "", false
	}
	return Pipeline[i+1], true
}

// ProgressAfter returns the progress percentage once the stage at index has succeeded.
func ProgressAfter(index int) int {
	if index < 0 {
		return 0
	}
	if index >= len(Pipeline) {
		return 100
	}
	return int(math.Round(100 * float64(index+1) / float64(len(Pipeline))))
}
