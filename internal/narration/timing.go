package narration

import (
	"fmt"

	"github.com/listenupapp/pagesync-server/internal/structure"
)

// WordTiming is a narrated word and the second it starts at.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
}

// AlignTimings assigns clips to blocks from word-level timings. Blocks are
// consumed in reading order and each claims as many consecutive words as its
// word count. Alignment stops, without error, when the timings run out.
func AlignTimings(pages []structure.Page, timings []WordTiming, cfg Config) ([]Segment, error) {
	if err := ValidateTimings(timings); err != nil {
		return nil, err
	}

	ends := make([]float64, len(timings))
	for i := range timings {
		if i+1 < len(timings) {
			ends[i] = timings[i+1].Start
		} else {
			ends[i] = timings[i].Start + cfg.TailSeconds
		}
	}

	var out []Segment
	cursor := 0
	for _, p := range pages {
		for _, b := range p.OrderedTextBlocks() {
			n := len(structure.Words(b.Text))
			if n == 0 {
				continue
			}
			if cursor+n > len(timings) {
				return out, nil
			}
			begin := roundMillis(timings[cursor].Start)
			end := roundMillis(ends[cursor+n-1])
			if end <= begin {
				end = begin + 0.001
			}
			out = append(out, Segment{Page: p.Number, BlockID: b.ID, Start: begin, End: end})
			cursor += n
		}
	}
	return out, nil
}

// ValidateTimings checks that starts are non-negative and non-decreasing.
func ValidateTimings(timings []WordTiming) error {
	for i, t := range timings {
		if t.Start < 0 {
			return fmt.Errorf("word %d (%q) has negative start %.3f", i, t.Word, t.Start)
		}
		if i > 0 && t.Start < timings[i-1].Start {
			return fmt.Errorf("word %d (%q) starts at %.3f before previous word at %.3f", i, t.Word, t.Start, timings[i-1].Start)
		}
	}
	return nil
}
