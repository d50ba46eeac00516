package extract

import (
	"strings"
	"unicode"
)

// Quality captures how much usable text the extraction produced.
type Quality struct {
	PageCount      int     `json:"page_count"`
	CharsPerPage   float64 `json:"chars_per_page"`
	PrintableRatio float64 `json:"printable_ratio"`
	WordlikeRatio  float64 `json:"wordlike_ratio"`
	ImagePages     int     `json:"image_pages"`
	EmptyPages     int     `json:"empty_pages"`
}

// HasImages reports whether any page carries image XObjects.
func (q *Quality) HasImages() bool {
	return q.ImagePages > 0
}

// NeedsOCR reports whether the text layer is missing or garbage, i.e. the
// document is a scan.
func (q *Quality) NeedsOCR() bool {
	return (q.CharsPerPage < 50 && q.HasImages()) || q.PrintableRatio < 0.85
}

// Confidence is a 0..1 estimate of how trustworthy the text layer is.
func (q *Quality) Confidence() float64 {
	if q.PageCount == 0 {
		return 0
	}
	density := q.CharsPerPage / 500
	if density > 1 {
		density = 1
	}
	filled := 1 - float64(q.EmptyPages)/float64(q.PageCount)
	c := 0.4*q.PrintableRatio + 0.3*q.WordlikeRatio + 0.15*density + 0.15*filled
	return float64(int(c*1000+0.5)) / 1000
}

// Assess computes quality metrics for doc.
func Assess(doc *Document) *Quality {
	q := &Quality{PageCount: len(doc.Pages)}
	var all strings.Builder
	chars := 0
	for i := range doc.Pages {
		p := &doc.Pages[i]
		text := p.Text()
		n := len([]rune(strings.TrimSpace(text)))
		chars += n
		if n == 0 {
			q.EmptyPages++
		}
		if p.Images > 0 {
			q.ImagePages++
		}
		all.WriteString(text)
		all.WriteByte('\n')
	}
	if q.PageCount > 0 {
		q.CharsPerPage = float64(chars) / float64(q.PageCount)
	}
	q.PrintableRatio = printableRatio(all.String())
	q.WordlikeRatio = wordlikeRatio(all.String())
	return q
}

func printableRatio(text string) float64 {
	total, good := 0, 0
	for _, r := range text {
		total++
		if garbage(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			good++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(good) / float64(total)
}

func garbage(r rune) bool {
	return (r >= 0xE000 && r <= 0xF8FF) || r == unicode.ReplacementChar ||
		(r < 0x20 && r != '\n' && r != '\r' && r != '\t')
}

func wordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	n := 0
	for _, f := range fields {
		if l := len([]rune(f)); l >= 2 && l <= 15 {
			n++
		}
	}
	return float64(n) / float64(len(fields))
}
