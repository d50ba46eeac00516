package narration

import (
	"fmt"
	"sort"

	"github.com/listenupapp/pagesync-server/internal/structure"
)

// Estimate distributes totalDuration across pages and blocks in proportion to
// word counts, stretching pages that contain silences and snapping block ends
// to nearby silence points. silences must be midpoints in seconds.
//
// Emitted segments are sequential, never overlap, and lie within [0, totalDuration].
func Estimate(pages []structure.Page, totalDuration float64, silences []float64, cfg Config) ([]Segment, error) {
	if totalDuration <= 0 {
		return nil, fmt.Errorf("total duration must be positive, got %.3f", totalDuration)
	}

	totalWords := 0
	for i := range pages {
		totalWords += pages[i].WordCount()
	}
	if totalWords == 0 {
		return PageSplit(pages, totalDuration, false), nil
	}

	points := append([]float64(nil), silences...)
	sort.Float64s(points)

	var out []Segment
	cursor := 0.0
	for i := range pages {
		if cursor >= totalDuration {
			break
		}
		p := &pages[i]
		pageWords := p.WordCount()
		if pageWords == 0 {
			start := roundWithin(cursor, totalDuration)
			end := roundWithin(clamp(cursor+cfg.EmptyPageSeconds, 0, totalDuration), totalDuration)
			if end > start {
				out = append(out, Segment{Page: p.Number, Start: start, End: end})
			}
			cursor = end
			continue
		}

		pageDuration := float64(pageWords) / float64(totalWords) * totalDuration
		pageDuration += float64(countInRange(points, cursor, cursor+pageDuration)) * cfg.PauseBufferSeconds

		for _, b := range p.OrderedTextBlocks() {
			if b.WordCount == 0 {
				continue
			}
			if cursor >= totalDuration {
				break
			}
			start := cursor
			dur := pageDuration * float64(b.WordCount) / float64(pageWords)
			if dur < cfg.BlockFloorSeconds {
				dur = cfg.BlockFloorSeconds
			}
			end := start + dur
			if s, ok := nearestAfter(points, end, start, cfg.SnapWindowSeconds); ok {
				end = s
			}
			end = clamp(end, 0, totalDuration)

			seg := Segment{Page: p.Number, BlockID: b.ID, Start: roundWithin(start, totalDuration), End: roundWithin(end, totalDuration)}
			if seg.End <= seg.Start {
				break
			}
			out = append(out, seg)
			cursor = seg.End
		}
	}
	return out, nil
}

// PageSplit emits one page-level segment per page. When proportional is set
// and the document has words, durations follow page word counts; otherwise
// every page gets an equal share.
func PageSplit(pages []structure.Page, totalDuration float64, proportional bool) []Segment {
	if len(pages) == 0 || totalDuration <= 0 {
		return nil
	}
	totalWords := 0
	for i := range pages {
		totalWords += pages[i].WordCount()
	}
	proportional = proportional && totalWords > 0

	out := make([]Segment, 0, len(pages))
	cursor := 0.0
	for i := range pages {
		share := totalDuration / float64(len(pages))
		if proportional {
			share = totalDuration * float64(pages[i].WordCount()) / float64(totalWords)
		}
		end := cursor + share
		if i == len(pages)-1 {
			end = totalDuration
		}
		seg := Segment{Page: pages[i].Number, Start: roundWithin(cursor, totalDuration), End: roundWithin(clamp(end, 0, totalDuration), totalDuration)}
		cursor = end
		if seg.End <= seg.Start {
			continue
		}
		out = append(out, seg)
	}
	return out
}

// countInRange counts sorted points with lo <= p < hi.
func countInRange(points []float64, lo, hi float64) int {
	i := sort.SearchFloat64s(points, lo)
	j := sort.SearchFloat64s(points, hi)
	return j - i
}

// nearestAfter returns the point closest to target within window that lies strictly after floor.
func nearestAfter(points []float64, target, floor, window float64) (float64, bool) {
	best, found := 0.0, false
	bestDist := window
	for _, p := range points {
		if p <= floor {
			continue
		}
		d := p - target
		if d < 0 {
			d = -d
		}
		if d <= bestDist {
			best, bestDist, found = p, d, true
		}
		if p > target+window {
			break
		}
	}
	return best, found
}
