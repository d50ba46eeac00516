package chapters

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/listenupapp/pagesync-server/internal/logger"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

// Suggester is the AI collaborator. Implementations return an error wrapping
// errors.ErrUnavailable when they have no credentials.
type Suggester interface {
	SuggestChapters(ctx context.Context, pages []PageText) ([]Suggestion, error)
}

// Options tunes the heuristic and the merge.
type Options struct {
	// FontRatio is the multiple of the median font size that counts as large.
	FontRatio float64
	// TopFraction is the share of the page height that counts as "top of page".
	TopFraction float64
	// ReviewThreshold is the confidence below which a disagreement needs review.
	ReviewThreshold float64
	// PageTolerance lets AI and heuristic starts differ by this many pages and still agree.
	PageTolerance int
	// MaxPageChars caps the text sent per page to the suggester.
	MaxPageChars int
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		FontRatio:       1.25,
		TopFraction:     0.2,
		ReviewThreshold: 0.6,
		PageTolerance:   0,
		MaxPageChars:    1500,
	}
}

// Detector finds chapter boundaries.
type Detector struct {
	opts      Options
	suggester Suggester
	logger    *slog.Logger
}

// NewDetector creates a detector. suggester may be nil.
func NewDetector(opts Options, suggester Suggester, log *slog.Logger) *Detector {
	return &Detector{opts: opts, suggester: suggester, logger: logger.OrDiscard(log)}
}

// Detect runs the requested strategy. AI failures degrade to the heuristic result.
func (d *Detector) Detect(ctx context.Context, pages []structure.Page, strategy Strategy) (*DetectionResult, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown chapter strategy %q", strategy)
	}

	heuristic := Heuristic(pages, d.opts)
	if strategy == StrategyHeuristic {
		return &DetectionResult{Strategy: strategy, Chapters: heuristic}, nil
	}

	if d.suggester == nil {
		return &DetectionResult{
			Strategy: StrategyHeuristic,
			Chapters: heuristic,
			Degraded: true,
			Warning:  "AI suggester not configured",
		}, nil
	}

	suggestions, err := d.suggester.SuggestChapters(ctx, PageTexts(pages, d.opts.MaxPageChars))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Warn("AI chapter suggestion failed, using heuristics", "error", err)
		return &DetectionResult{
			Strategy: StrategyHeuristic,
			Chapters: heuristic,
			Degraded: true,
			Warning:  err.Error(),
		}, nil
	}

	lastPage := lastPageNumber(pages)
	if strategy == StrategyAI {
		return &DetectionResult{
			Strategy: strategy,
			Chapters: fromSuggestions(suggestions, lastPage),
		}, nil
	}

	res := Merge(heuristic, suggestions, lastPage, d.opts)
	res.Strategy = StrategyHybrid
	return res, nil
}

// Heuristic scans pages in order and returns chapters opened by candidate blocks.
func Heuristic(pages []structure.Page, opts Options) []Chapter {
	if len(pages) == 0 {
		return nil
	}
	threshold := medianFontSize(pages) * opts.FontRatio

	type boundary struct {
		cand      Candidate
		pageIndex int
		onlyTitle bool
	}
	var found []boundary
	for i := range pages {
		c, ok := pageCandidate(&pages[i], threshold, opts.TopFraction)
		if !ok {
			continue
		}
		b := boundary{cand: c, pageIndex: i, onlyTitle: isTitleOnly(&pages[i], c.BlockID)}

		// A title-only page immediately followed by another candidate page is one chapter.
		if n := len(found); n > 0 {
			prev := found[n-1]
			if prev.onlyTitle && prev.pageIndex == i-1 {
				found[n-1].cand = mergeCandidates(prev.cand, c)
				found[n-1].onlyTitle = b.onlyTitle
				found[n-1].pageIndex = i
				continue
			}
		}
		found = append(found, b)
	}

	last := pages[len(pages)-1].Number
	out := make([]Chapter, 0, len(found))
	for i, b := range found {
		end := last
		if i+1 < len(found) {
			end = found[i+1].cand.Page - 1
		}
		conf := signalConfidence(len(b.cand.Signals))
		out = append(out, Chapter{
			Title:      b.cand.Title,
			StartPage:  b.cand.Page,
			EndPage:    end,
			Confidence: &conf,
			Reason:     "heuristic: " + joinSignals(b.cand.Signals),
		})
	}
	return out
}

// Candidates returns every candidate block in the document, for diagnostics.
func Candidates(pages []structure.Page, opts Options) []Candidate {
	threshold := medianFontSize(pages) * opts.FontRatio
	var out []Candidate
	for i := range pages {
		for _, b := range pages[i].OrderedTextBlocks() {
			if sig := blockSignals(&pages[i], b, threshold, opts.TopFraction); len(sig) > 0 {
				out = append(out, Candidate{Page: pages[i].Number, BlockID: b.ID, Title: cleanTitle(b.Text), Signals: sig})
			}
		}
	}
	return out
}

// pageCandidate picks the strongest candidate on a page; ties go to the earliest block.
func pageCandidate(p *structure.Page, fontThreshold, topFraction float64) (Candidate, bool) {
	var best Candidate
	found := false
	for _, b := range p.OrderedTextBlocks() {
		sig := blockSignals(p, b, fontThreshold, topFraction)
		if len(sig) == 0 {
			continue
		}
		if !found || len(sig) > len(best.Signals) {
			best = Candidate{Page: p.Number, BlockID: b.ID, Title: cleanTitle(b.Text), Signals: sig}
			found = true
		}
	}
	return best, found
}

// blockSignals returns the signals that fired for b, or nil when b is not a candidate.
func blockSignals(p *structure.Page, b structure.TextBlock, fontThreshold, topFraction float64) []Signal {
	if b.Type == structure.BlockHeader || b.Type == structure.BlockFooter {
		return nil
	}
	var sig []Signal
	if IsChapterIndicator(b.Text) {
		sig = append(sig, SignalIndicator)
	}
	if b.Type != structure.BlockHeading {
		return sig
	}
	var heading []Signal
	if fontThreshold > 0 && b.Font.Size > fontThreshold {
		heading = append(heading, SignalLargeFont)
	}
	if p.Height > 0 && b.BBox.Y <= p.Height*topFraction {
		heading = append(heading, SignalTopOfPage)
	}
	if b.HeadingLevel == 1 {
		heading = append(heading, SignalLevelOne)
	}
	return append(sig, heading...)
}

// isTitleOnly reports whether the page has no body text beyond the candidate block.
func isTitleOnly(p *structure.Page, candidateID string) bool {
	for _, b := range p.TextBlocks {
		if b.ID == candidateID {
			continue
		}
		switch b.Type {
		case structure.BlockHeader, structure.BlockFooter:
			continue
		}
		if b.WordCount > 0 {
			return false
		}
	}
	return true
}

func mergeCandidates(first, second Candidate) Candidate {
	merged := first
	switch {
	case IsGenericName(first.Title) && !IsGenericName(second.Title):
		merged.Title = first.Title + ": " + second.Title
	case first.Title == "":
		merged.Title = second.Title
	}
	for _, s := range second.Signals {
		if !slices.Contains(merged.Signals, s) {
			merged.Signals = append(merged.Signals, s)
		}
	}
	return merged
}

// signalConfidence grows with the number of independent signals.
func signalConfidence(n int) float64 {
	if n <= 0 {
		return 0
	}
	return math.Min(0.95, 0.35+0.2*float64(n-1))
}

func joinSignals(sig []Signal) string {
	parts := make([]string, len(sig))
	for i, s := range sig {
		parts[i] = string(s)
	}
	return strings.Join(parts, "+")
}

func medianFontSize(pages []structure.Page) float64 {
	var sizes []float64
	for _, p := range pages {
		for _, b := range p.TextBlocks {
			if b.Font.Size > 0 {
				sizes = append(sizes, b.Font.Size)
			}
		}
	}
	if len(sizes) == 0 {
		return 0
	}
	sort.Float64s(sizes)
	mid := len(sizes) / 2
	if len(sizes)%2 == 0 {
		return (sizes[mid-1] + sizes[mid]) / 2
	}
	return sizes[mid]
}

func lastPageNumber(pages []structure.Page) int {
	if len(pages) == 0 {
		return 0
	}
	return pages[len(pages)-1].Number
}

// PageTexts flattens pages to reading-order text, capped at maxChars per page.
func PageTexts(pages []structure.Page, maxChars int) []PageText {
	out := make([]PageText, 0, len(pages))
	for i := range pages {
		var sb strings.Builder
		for _, b := range pages[i].OrderedTextBlocks() {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(b.Text)
		}
		text := sb.String()
		if maxChars > 0 && len(text) > maxChars {
			text = strings.ToValidUTF8(text[:maxChars], "")
		}
		out = append(out, PageText{Number: pages[i].Number, Text: text})
	}
	return out
}
