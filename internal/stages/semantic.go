package stages

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/listenupapp/pagesync-server/internal/ai"
	"github.com/listenupapp/pagesync-server/internal/chapters"
	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/id"
	"github.com/listenupapp/pagesync-server/internal/logger"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

// SemanticStructuring assigns block types and heading levels, builds the
// table of contents from detected chapters, and groups exercise sets.
type SemanticStructuring struct {
	classifier ai.Classifier
	detector   *chapters.Detector
	logger     *slog.Logger
	// BatchSize bounds the blocks sent per classification request.
	BatchSize int
}

// NewSemanticStructuring creates the semantic stage.
func NewSemanticStructuring(classifier ai.Classifier, opts chapters.Options, log *slog.Logger) *SemanticStructuring {
	if classifier == nil {
		classifier = ai.Noop{}
	}
	var suggester chapters.Suggester
	if ai.Available(classifier) {
		suggester = classifier
	}
	if opts == (chapters.Options{}) {
		opts = chapters.DefaultOptions()
	}
	return &SemanticStructuring{
		classifier: classifier,
		detector:   chapters.NewDetector(opts, suggester, log),
		logger:     logger.OrDiscard(log),
		BatchSize:  40,
	}
}

// Name implements Stage.
func (*SemanticStructuring) Name() domain.StageName { return domain.StageSemantic }

// Run implements Stage.
func (st *SemanticStructuring) Run(ctx context.Context, in Input) (*Output, error) {
	s := in.Structure
	out := &Output{Structure: s}

	median := bodyFontSize(s.Pages)
	confs := map[string]float64{}
	for i := range s.Pages {
		for j := range s.Pages[i].TextBlocks {
			b := &s.Pages[i].TextBlocks[j]
			if isRunningHead(b) {
				continue
			}
			b.Type, b.HeadingLevel, confs[b.ID] = classifyBlock(b, median)
		}
	}

	if ai.Available(st.classifier) {
		if err := st.applyLabels(ctx, s, confs); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			st.logger.Warn("AI block classification failed, keeping heuristics", "job_id", in.JobID, "error", err)
			out.Warnings = append(out.Warnings, "block classification degraded: "+err.Error())
		}
	}

	strategy := chapters.StrategyHeuristic
	if ai.Available(st.classifier) {
		strategy = chapters.StrategyHybrid
	}
	res, err := st.detector.Detect(ctx, s.Pages, strategy)
	if err != nil {
		return nil, err
	}
	if res.Degraded {
		out.Warnings = append(out.Warnings, "chapter detection degraded: "+res.Warning)
	}

	s.TOC = buildTOC(s, res.Chapters)
	s.SemanticBlocks = append(chapterBlocks(s, res.Chapters), exerciseSets(s)...)

	if res.NeedsReview {
		pages := make([]string, len(res.Conflicts))
		for i, c := range res.Conflicts {
			pages[i] = fmt.Sprint(c.StartPage)
		}
		out.Review = "conflicting chapter boundaries on pages " + strings.Join(pages, ", ")
	}

	vals := make([]float64, 0, len(confs))
	for _, c := range confs {
		vals = append(vals, c)
	}
	out.Confidence = score(mean(vals, 1))
	return out, nil
}

func (st *SemanticStructuring) applyLabels(ctx context.Context, s *structure.Structure, confs map[string]float64) error {
	var batch []ai.BlockText
	index := map[string]*structure.TextBlock{}
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		labels, err := st.classifier.ClassifyBlocks(ctx, batch)
		batch = batch[:0]
		if err != nil {
			return err
		}
		for _, l := range labels {
			b, ok := index[l.ID]
			t := structure.BlockType(l.Type)
			if !ok || !knownType(t) || l.Confidence < 0.5 {
				continue
			}
			b.Type = t
			b.HeadingLevel = 0
			if t == structure.BlockHeading {
				b.HeadingLevel = max(1, min(l.HeadingLevel, 6))
			}
			confs[b.ID] = l.Confidence
		}
		return nil
	}

	for i := range s.Pages {
		p := &s.Pages[i]
		for j := range p.TextBlocks {
			b := &p.TextBlocks[j]
			if isRunningHead(b) {
				continue
			}
			index[b.ID] = b
			batch = append(batch, ai.BlockText{ID: b.ID, Page: p.Number, Text: truncate(b.Text, 600)})
			if len(batch) >= st.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}

var (
	bulletRe   = regexp.MustCompile(`^(?:[\x{2022}\x{25CF}\x{25AA}\x{25E6}\x{2023}\x{2219}*\x{2013}-]|\(?\d{1,3}[.)]|\(?[a-z][.)])\s+`)
	captionRe  = regexp.MustCompile(`(?i)^(?:figure|fig\.|table|diagram|chart|plate|illustration)\s*\d+(?:[.\x{2013}-]\d+)*[.:]?\s`)
	exerciseRe = regexp.MustCompile(`(?i)^(?:exercises?|problems?|questions?|review questions|practice|activity|try it)\b`)
	footnoteRe = regexp.MustCompile(`^(?:\d{1,3}|[*\x{2020}\x{2021}])\s*\S`)
)

// classifyBlock labels a block from its text and typography.
func classifyBlock(b *structure.TextBlock, median float64) (structure.BlockType, int, float64) {
	text := strings.TrimSpace(b.Text)
	ratio := 0.0
	if median > 0 && b.Font.Size > 0 {
		ratio = b.Font.Size / median
	}
	short := b.WordCount > 0 && b.WordCount <= 15 && !strings.HasSuffix(text, ".")

	switch {
	case short && ratio >= 1.6:
		return structure.BlockHeading, 1, 0.85
	case short && ratio >= 1.25:
		return structure.BlockHeading, 2, 0.8
	case short && chapters.IsChapterIndicator(text) && (ratio >= 1.1 || b.Font.Bold):
		return structure.BlockHeading, 1, 0.75
	case short && b.WordCount <= 12 && b.Font.Bold && ratio >= 0.95:
		return structure.BlockHeading, 3, 0.6
	case captionRe.MatchString(text) && b.WordCount <= 60:
		return structure.BlockCaption, 0, 0.8
	case exerciseRe.MatchString(text):
		return structure.BlockExercise, 0, 0.75
	case bulletRe.MatchString(text):
		return structure.BlockListItem, 0, 0.8
	case isQuoted(text) && b.WordCount >= 5:
		return structure.BlockQuote, 0, 0.6
	case ratio > 0 && ratio <= 0.85 && footnoteRe.MatchString(text):
		return structure.BlockFootnote, 0, 0.65
	}
	if ratio == 0 {
		return structure.BlockParagraph, 0, 0.6
	}
	return structure.BlockParagraph, 0, 0.7
}

func isQuoted(text string) bool {
	return (strings.HasPrefix(text, "\"") || strings.HasPrefix(text, "“")) &&
		(strings.HasSuffix(text, "\"") || strings.HasSuffix(text, "”"))
}

func knownType(t structure.BlockType) bool {
	switch t {
	case structure.BlockHeading, structure.BlockParagraph, structure.BlockListItem, structure.BlockCaption,
		structure.BlockExercise, structure.BlockFootnote, structure.BlockQuote, structure.BlockEquation:
		return true
	}
	return false
}

func isRunningHead(b *structure.TextBlock) bool {
	return b.Type == structure.BlockHeader || b.Type == structure.BlockFooter
}

// bodyFontSize is the median font size of non-margin blocks, weighted by words.
func bodyFontSize(pages []structure.Page) float64 {
	var sizes []float64
	for _, p := range pages {
		for _, b := range p.TextBlocks {
			if b.Font.Size <= 0 || isRunningHead(&b) {
				continue
			}
			for k := 0; k < max(1, b.WordCount); k++ {
				sizes = append(sizes, b.Font.Size)
			}
		}
	}
	if len(sizes) == 0 {
		return 0
	}
	sort.Float64s(sizes)
	return sizes[len(sizes)/2]
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

// chapterHeading finds the block that opens a chapter on its start page.
func chapterHeading(p *structure.Page, title string) string {
	if p == nil {
		return ""
	}
	blocks := p.OrderedTextBlocks()
	lower := strings.ToLower(title)
	for _, b := range blocks {
		t := strings.ToLower(strings.Join(strings.Fields(b.Text), " "))
		if t != "" && (strings.HasPrefix(lower, t) || strings.HasPrefix(t, lower)) {
			return b.ID
		}
	}
	for _, b := range blocks {
		if b.Type == structure.BlockHeading {
			return b.ID
		}
	}
	return ""
}

func buildTOC(s *structure.Structure, chs []chapters.Chapter) []structure.TOCEntry {
	toc := make([]structure.TOCEntry, 0, len(chs))
	for _, c := range chs {
		entry := structure.TOCEntry{
			Title:   c.Title,
			Level:   1,
			Page:    c.StartPage,
			BlockID: chapterHeading(s.Page(c.StartPage), c.Title),
		}
		for i := range s.Pages {
			p := &s.Pages[i]
			if p.Number < c.StartPage || p.Number > c.EndPage {
				continue
			}
			for _, b := range p.OrderedTextBlocks() {
				if b.Type == structure.BlockHeading && b.HeadingLevel == 2 && b.ID != entry.BlockID {
					entry.Children = append(entry.Children, structure.TOCEntry{
						Title:   strings.Join(strings.Fields(b.Text), " "),
						Level:   2,
						Page:    p.Number,
						BlockID: b.ID,
					})
				}
			}
		}
		toc = append(toc, entry)
	}
	return toc
}

func chapterBlocks(s *structure.Structure, chs []chapters.Chapter) []structure.SemanticBlock {
	out := make([]structure.SemanticBlock, 0, len(chs))
	for _, c := range chs {
		sb := structure.SemanticBlock{
			ID:              id.MustGenerate(id.PrefixSem),
			Kind:            "chapter",
			Title:           c.Title,
			Page:            c.StartPage,
			RelatedBlockIDs: []string{},
			Confidence:      0.5,
		}
		if c.Confidence != nil {
			sb.Confidence = *c.Confidence
		}
		if h := chapterHeading(s.Page(c.StartPage), c.Title); h != "" {
			sb.RelatedBlockIDs = append(sb.RelatedBlockIDs, h)
		}
		out = append(out, sb)
	}
	return out
}

// exerciseSets groups an exercise block with the list items that follow it.
func exerciseSets(s *structure.Structure) []structure.SemanticBlock {
	var out []structure.SemanticBlock
	for i := range s.Pages {
		var cur *structure.SemanticBlock
		for _, b := range s.Pages[i].OrderedTextBlocks() {
			switch {
			case b.Type == structure.BlockExercise:
				if cur != nil {
					out = append(out, *cur)
				}
				cur = &structure.SemanticBlock{
					ID:              id.MustGenerate(id.PrefixSem),
					Kind:            "exercise_set",
					Title:           truncate(strings.TrimSpace(strings.SplitN(b.Text, "\n", 2)[0]), 80),
					Page:            s.Pages[i].Number,
					RelatedBlockIDs: []string{b.ID},
					Confidence:      0.7,
				}
			case cur != nil && b.Type == structure.BlockListItem:
				cur.RelatedBlockIDs = append(cur.RelatedBlockIDs, b.ID)
			case cur != nil:
				out = append(out, *cur)
				cur = nil
			}
		}
		if cur != nil {
			out = append(out, *cur)
		}
	}
	return out
}
