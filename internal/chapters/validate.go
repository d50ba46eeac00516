package chapters

import (
	"fmt"
	"math"
	"sort"
)

// Validate checks a chapter configuration against totalPages. Overlaps and
// out-of-range chapters are errors; gaps between chapters are warnings.
// Coverage is the percentage of pages covered by at least one chapter.
func Validate(chapters []Chapter, totalPages int) ValidationResult {
	res := ValidationResult{Errors: []string{}, Warnings: []string{}}
	if totalPages < 1 {
		res.Errors = append(res.Errors, fmt.Sprintf("total pages must be positive, got %d", totalPages))
		return res
	}

	sorted := make([]Chapter, len(chapters))
	copy(sorted, chapters)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartPage < sorted[j].StartPage })

	covered := make([]bool, totalPages+1)
	for _, c := range sorted {
		if c.StartPage > c.EndPage {
			res.Errors = append(res.Errors, fmt.Sprintf("chapter %q starts at page %d after its end page %d", c.Title, c.StartPage, c.EndPage))
			continue
		}
		if c.StartPage < 1 || c.EndPage > totalPages {
			res.Errors = append(res.Errors, fmt.Sprintf("chapter %q pages %d-%d outside document range 1-%d", c.Title, c.StartPage, c.EndPage, totalPages))
		}
		for p := max(c.StartPage, 1); p <= min(c.EndPage, totalPages); p++ {
			covered[p] = true
		}
	}

	for i := 1; i < len(sorted); i++ {
		prev, next := sorted[i-1], sorted[i]
		switch {
		case next.StartPage <= prev.EndPage:
			res.Errors = append(res.Errors, fmt.Sprintf("chapters %q and %q overlap on pages %d-%d",
				prev.Title, next.Title, next.StartPage, min(prev.EndPage, next.EndPage)))
		case next.StartPage > prev.EndPage+1:
			res.Warnings = append(res.Warnings, fmt.Sprintf("pages %d-%d between %q and %q are not in any chapter",
				prev.EndPage+1, next.StartPage-1, prev.Title, next.Title))
		}
	}

	n := 0
	for p := 1; p <= totalPages; p++ {
		if covered[p] {
			n++
		}
	}
	res.Coverage = math.Round(10000*float64(n)/float64(totalPages)) / 100
	res.IsValid = len(res.Errors) == 0
	return res
}

// Generate partitions totalPages into consecutive windows of pagesPerChapter;
// the last window holds whatever remains.
func Generate(totalPages, pagesPerChapter int) ([]Chapter, error) {
	if totalPages < 1 {
		return nil, fmt.Errorf("total pages must be positive, got %d", totalPages)
	}
	if pagesPerChapter < 1 {
		return nil, fmt.Errorf("pages per chapter must be positive, got %d", pagesPerChapter)
	}
	out := make([]Chapter, 0, (totalPages+pagesPerChapter-1)/pagesPerChapter)
	for start := 1; start <= totalPages; start += pagesPerChapter {
		out = append(out, Chapter{
			Title:     fmt.Sprintf("Chapter %d", len(out)+1),
			StartPage: start,
			EndPage:   min(start+pagesPerChapter-1, totalPages),
			Reason:    "generated",
		})
	}
	return out, nil
}
