package structure

import (
	"fmt"
	"strings"
)

// ValidationError lists every invariant violation found in a structure.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid document structure: %s", strings.Join(e.Issues, "; "))
}

// Validate checks the structural invariants:
//   - page numbers start at 1 or later, are unique, and are contiguous unless the
//     previous page is flagged as a two-page spread (which consumes two numbers)
//   - reading order ids exist on their page and are not repeated
//   - semantic block related ids exist somewhere in the document
//   - word/sentence/phrase counts equal the segmentation lengths
//   - block ids are unique across the document
func Validate(s *Structure) error {
	if s == nil {
		return &ValidationError{Issues: []string{"structure is nil"}}
	}
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	seenPage := make(map[int]bool, len(s.Pages))
	seenBlock := make(map[string]int)
	for i := range s.Pages {
		p := &s.Pages[i]
		if p.Number < 1 {
			add("page at index %d has number %d (must be >= 1)", i, p.Number)
		}
		if seenPage[p.Number] {
			add("page number %d is duplicated", p.Number)
		}
		seenPage[p.Number] = true

		if i > 0 {
			prev := s.Pages[i-1]
			want := prev.Number + 1
			if prev.Number >= p.Number {
				add("page %d follows page %d out of order", p.Number, prev.Number)
			} else if p.Number != want && !(prev.TwoPageSpread && p.Number == prev.Number+2) {
				add("page %d follows page %d without a two-page spread flag", p.Number, prev.Number)
			}
		}

		checkID := func(id string) {
			if id == "" {
				add("page %d has a block with an empty id", p.Number)
				return
			}
			if other, dup := seenBlock[id]; dup {
				add("block id %q on page %d already used on page %d", id, p.Number, other)
			}
			seenBlock[id] = p.Number
		}
		for _, b := range p.TextBlocks {
			checkID(b.ID)
			if b.WordCount != len(b.Words) {
				add("block %q word count %d != %d words", b.ID, b.WordCount, len(b.Words))
			}
			if b.SentenceCount != len(b.Sentences) {
				add("block %q sentence count %d != %d sentences", b.ID, b.SentenceCount, len(b.Sentences))
			}
			if b.PhraseCount != len(b.Phrases) {
				add("block %q phrase count %d != %d phrases", b.ID, b.PhraseCount, len(b.Phrases))
			}
		}
		for _, b := range p.ImageBlocks {
			checkID(b.ID)
		}
		for _, b := range p.TableBlocks {
			checkID(b.ID)
		}

		inOrder := make(map[string]bool, len(p.ReadingOrder.BlockIDs))
		for _, id := range p.ReadingOrder.BlockIDs {
			if !p.HasBlock(id) {
				add("reading order on page %d references unknown block %q", p.Number, id)
			}
			if inOrder[id] {
				add("reading order on page %d repeats block %q", p.Number, id)
			}
			inOrder[id] = true
		}
	}

	for _, sb := range s.SemanticBlocks {
		for _, id := range sb.RelatedBlockIDs {
			if _, ok := seenBlock[id]; !ok {
				add("semantic block %q references unknown block %q", sb.ID, id)
			}
		}
	}
	for _, ref := range s.Images {
		if _, ok := seenBlock[ref.BlockID]; !ok {
			add("image reference to unknown block %q", ref.BlockID)
		}
	}
	for _, ref := range s.Tables {
		if _, ok := seenBlock[ref.BlockID]; !ok {
			add("table reference to unknown block %q", ref.BlockID)
		}
	}
	for _, eq := range s.Equations {
		if eq.BlockID != "" {
			if _, ok := seenBlock[eq.BlockID]; !ok {
				add("equation %q references unknown block %q", eq.ID, eq.BlockID)
			}
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
