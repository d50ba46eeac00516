package chapters

import (
	"regexp"
	"strings"
)

// maxIndicatorLength keeps body paragraphs that happen to open with
// "Introduction of..." from being treated as boundaries.
const maxIndicatorLength = 100

var indicatorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(chapter|part|section|unit|lesson|module|book)\s+([0-9]+|[ivxlcdm]+|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)\b`),
	regexp.MustCompile(`(?i)^(introduction|conclusion|appendix|bibliography|preface|prologue|epilogue|glossary|references|afterword|foreword)\b`),
	regexp.MustCompile(`^\d{1,2}\.?\s+\p{Lu}`),
	regexp.MustCompile(`^[IVXLC]{1,6}\.\s+\S`),
}

var genericPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(chapter|part|section|unit|lesson)\s+(\d+|[ivxlcdm]+)\.?$`),
	regexp.MustCompile(`(?i)^(chapter|part)\s+(one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)$`),
	regexp.MustCompile(`^\d+\.?$`),
}

// IsChapterIndicator reports whether text opens like a chapter boundary.
func IsChapterIndicator(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > maxIndicatorLength {
		return false
	}
	for _, p := range indicatorPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// IsGenericName reports whether a chapter title is only a placeholder such as
// "Chapter 3" or "Part IV".
func IsGenericName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return true
	}
	for _, p := range genericPatterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

// cleanTitle collapses whitespace and trims long titles.
func cleanTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	if r := []rune(title); len(r) > 120 {
		title = string(r[:120])
	}
	return title
}
