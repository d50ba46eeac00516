package chapters

import (
	"sort"
)

// Merge combines heuristic chapters with AI suggestions. Boundaries both
// strategies find take the AI title and a boosted confidence. A boundary only
// one side found is kept when that side is confident; otherwise it is recorded
// as a conflict and the result needs review.
func Merge(heuristic []Chapter, suggestions []Suggestion, lastPage int, opts Options) *DetectionResult {
	res := &DetectionResult{}

	type start struct {
		page   int
		title  string
		conf   float64
		reason string
	}
	var starts []start
	matched := make([]bool, len(suggestions))

	for _, h := range heuristic {
		hc := confidenceOf(h)
		idx := closestSuggestion(suggestions, matched, h.StartPage, opts.PageTolerance)
		if idx < 0 {
			starts = append(starts, start{page: h.StartPage, title: h.Title, conf: hc, reason: h.Reason})
			if hc < opts.ReviewThreshold {
				res.Conflicts = append(res.Conflicts, Conflict{StartPage: h.StartPage, Source: "heuristic", Title: h.Title, Confidence: hc})
			}
			continue
		}
		matched[idx] = true
		s := suggestions[idx]
		title := s.Title
		if title == "" || (!IsGenericName(h.Title) && IsGenericName(s.Title)) {
			title = h.Title
		}
		starts = append(starts, start{
			page:   s.StartPage,
			title:  title,
			conf:   1 - (1-hc)*(1-clamp01(s.Confidence)),
			reason: "hybrid: heuristic and AI agree",
		})
	}

	for i, s := range suggestions {
		if matched[i] || s.StartPage < 1 || (lastPage > 0 && s.StartPage > lastPage) {
			continue
		}
		c := clamp01(s.Confidence)
		if c >= opts.ReviewThreshold {
			starts = append(starts, start{page: s.StartPage, title: s.Title, conf: c, reason: "ai"})
			continue
		}
		res.Conflicts = append(res.Conflicts, Conflict{StartPage: s.StartPage, Source: "ai", Title: s.Title, Confidence: c})
	}

	sort.SliceStable(starts, func(i, j int) bool { return starts[i].page < starts[j].page })

	// Two sources can land on the same page; keep the more confident one.
	deduped := starts[:0]
	for _, s := range starts {
		if n := len(deduped); n > 0 && deduped[n-1].page == s.page {
			if s.conf > deduped[n-1].conf {
				deduped[n-1] = s
			}
			continue
		}
		deduped = append(deduped, s)
	}

	res.Chapters = make([]Chapter, 0, len(deduped))
	for i, s := range deduped {
		end := lastPage
		if i+1 < len(deduped) {
			end = deduped[i+1].page - 1
		}
		conf := s.conf
		res.Chapters = append(res.Chapters, Chapter{
			Title:      s.title,
			StartPage:  s.page,
			EndPage:    end,
			Confidence: &conf,
			Reason:     s.reason,
		})
	}
	res.NeedsReview = len(res.Conflicts) > 0
	return res
}

// closestSuggestion returns the index of the unmatched suggestion nearest to
// page within tolerance, or -1.
func closestSuggestion(suggestions []Suggestion, matched []bool, page, tolerance int) int {
	best, bestDist := -1, tolerance+1
	for i, s := range suggestions {
		if matched[i] {
			continue
		}
		d := s.StartPage - page
		if d < 0 {
			d = -d
		}
		if d <= tolerance && d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// fromSuggestions turns AI suggestions into contiguous chapters.
func fromSuggestions(suggestions []Suggestion, lastPage int) []Chapter {
	sorted := make([]Suggestion, 0, len(suggestions))
	for _, s := range suggestions {
		if s.StartPage >= 1 && (lastPage == 0 || s.StartPage <= lastPage) {
			sorted = append(sorted, s)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartPage < sorted[j].StartPage })

	out := make([]Chapter, 0, len(sorted))
	for i, s := range sorted {
		if i > 0 && s.StartPage == sorted[i-1].StartPage {
			continue
		}
		end := lastPage
		for _, next := range sorted[i+1:] {
			if next.StartPage > s.StartPage {
				end = next.StartPage - 1
				break
			}
		}
		conf := clamp01(s.Confidence)
		out = append(out, Chapter{Title: s.Title, StartPage: s.StartPage, EndPage: end, Confidence: &conf, Reason: "ai"})
	}
	return out
}

func confidenceOf(c Chapter) float64 {
	if c.Confidence == nil {
		return 0
	}
	return *c.Confidence
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
