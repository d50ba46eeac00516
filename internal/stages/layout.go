package stages

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

// LayoutAnalysis detects running headers and footers, clusters blocks into
// columns and derives each page's reading order.
type LayoutAnalysis struct {
	// Margin is the share of the page height at top and bottom searched for running heads.
	Margin float64
	// SpanRatio is the share of the content width above which a block spans all columns.
	SpanRatio float64
}

// NewLayoutAnalysis creates the layout stage.
func NewLayoutAnalysis() *LayoutAnalysis {
	return &LayoutAnalysis{Margin: 0.07, SpanRatio: 0.55}
}

// Name implements Stage.
func (*LayoutAnalysis) Name() domain.StageName { return domain.StageLayoutAnalysis }

// Run implements Stage.
func (l *LayoutAnalysis) Run(ctx context.Context, in Input) (*Output, error) {
	s := in.Structure
	l.markRunningHeads(s.Pages)

	var confs []float64
	for i := range s.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := &s.Pages[i]
		if len(p.TextBlocks) == 0 {
			continue
		}
		confs = append(confs, l.order(p))
	}
	return &Output{Structure: s, Confidence: score(mean(confs, 1))}, nil
}

var pageNumberRe = regexp.MustCompile(`^(?i:page\s+)?(\d{1,4}|[ivxlcdm]{1,7})$`)

func (l *LayoutAnalysis) markRunningHeads(pages []structure.Page) {
	type hit struct{ page, block int }
	seen := map[string][]hit{}
	for pi := range pages {
		p := &pages[pi]
		if p.Height <= 0 {
			continue
		}
		for bi := range p.TextBlocks {
			b := &p.TextBlocks[bi]
			if b.BBox.Height == 0 || b.WordCount > 12 {
				continue
			}
			top := b.BBox.Y < l.Margin*p.Height
			bottom := b.BBox.Y+b.BBox.Height > (1-l.Margin)*p.Height
			if !top && !bottom {
				continue
			}
			if pageNumberRe.MatchString(strings.TrimSpace(b.Text)) {
				b.Type = marginType(top)
				continue
			}
			key := marginKey(b.Text, top)
			seen[key] = append(seen[key], hit{pi, bi})
		}
	}

	minPages := 3
	if len(pages) < 6 {
		minPages = 2
	}
	for key, hits := range seen {
		if len(hits) < minPages {
			continue
		}
		t := marginType(strings.HasPrefix(key, "t:"))
		for _, h := range hits {
			pages[h.page].TextBlocks[h.block].Type = t
		}
	}
}

func marginType(top bool) structure.BlockType {
	if top {
		return structure.BlockHeader
	}
	return structure.BlockFooter
}

func marginKey(text string, top bool) string {
	var sb strings.Builder
	if top {
		sb.WriteString("t:")
	} else {
		sb.WriteString("b:")
	}
	for _, r := range strings.ToLower(text) {
		if r >= '0' && r <= '9' || r == ' ' {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

type column struct {
	x0, x1 float64
	count  int
}

// order sets the page reading order and returns the layout confidence.
func (l *LayoutAnalysis) order(p *structure.Page) float64 {
	var positioned, unpositioned, heads, feet []int
	for i, b := range p.TextBlocks {
		switch {
		case b.Type == structure.BlockHeader:
			heads = append(heads, i)
		case b.Type == structure.BlockFooter:
			feet = append(feet, i)
		case b.BBox.Width > 0:
			positioned = append(positioned, i)
		default:
			unpositioned = append(unpositioned, i)
		}
	}

	conf := 1.0
	if len(positioned) == 0 {
		conf = 0.5
	}

	left, right := 0.0, 0.0
	for k, i := range positioned {
		bb := p.TextBlocks[i].BBox
		if k == 0 || bb.X < left {
			left = bb.X
		}
		if bb.X+bb.Width > right {
			right = bb.X + bb.Width
		}
	}
	width := right - left

	var spanning, flowing []int
	for _, i := range positioned {
		if width > 0 && p.TextBlocks[i].BBox.Width >= l.SpanRatio*width {
			spanning = append(spanning, i)
		} else {
			flowing = append(flowing, i)
		}
	}

	cols := clusterColumns(p.TextBlocks, flowing)
	colOf := func(i int) int {
		bb := p.TextBlocks[i].BBox
		for c, col := range cols {
			if bb.X < col.x1 && col.x0 < bb.X+bb.Width {
				return c
			}
		}
		return len(cols)
	}
	ncols := 0
	for _, c := range cols {
		if c.count >= 2 {
			ncols++
		}
	}
	if ncols < 1 {
		ncols = 1
	}
	if ncols > 1 {
		conf = 0.85
	}

	top := func(i int) float64 { return p.TextBlocks[i].BBox.Y }
	sort.SliceStable(spanning, func(a, b int) bool { return top(spanning[a]) < top(spanning[b]) })

	ordered := append([]int(nil), heads...)
	remaining := flowing
	for _, sp := range spanning {
		var band, rest []int
		for _, i := range remaining {
			if top(i) < top(sp) {
				band = append(band, i)
			} else {
				rest = append(rest, i)
			}
		}
		ordered = append(ordered, byColumn(band, colOf, top)...)
		ordered = append(ordered, sp)
		remaining = rest
	}
	ordered = append(ordered, byColumn(remaining, colOf, top)...)
	ordered = append(ordered, unpositioned...)
	ordered = append(ordered, feet...)

	ids := make([]string, 0, len(ordered)+len(p.ImageBlocks)+len(p.TableBlocks))
	for rank, i := range ordered {
		p.TextBlocks[i].ReadingOrder = rank
		ids = append(ids, p.TextBlocks[i].ID)
	}
	for _, img := range p.ImageBlocks {
		ids = append(ids, img.ID)
	}
	for _, t := range p.TableBlocks {
		ids = append(ids, t.ID)
	}
	p.ReadingOrder = structure.ReadingOrder{BlockIDs: ids, MultiColumn: ncols > 1, Columns: ncols}
	p.TwoPageSpread = ncols == 2 && p.Height > 0 && p.Width > 1.3*p.Height
	return conf
}

func clusterColumns(blocks []structure.TextBlock, idx []int) []column {
	sorted := append([]int(nil), idx...)
	sort.SliceStable(sorted, func(a, b int) bool { return blocks[sorted[a]].BBox.X < blocks[sorted[b]].BBox.X })
	var cols []column
	for _, i := range sorted {
		bb := blocks[i].BBox
		if n := len(cols); n > 0 && bb.X < cols[n-1].x1 {
			if bb.X+bb.Width > cols[n-1].x1 {
				cols[n-1].x1 = bb.X + bb.Width
			}
			cols[n-1].count++
			continue
		}
		cols = append(cols, column{x0: bb.X, x1: bb.X + bb.Width, count: 1})
	}
	return cols
}

func byColumn(idx []int, colOf func(int) int, top func(int) float64) []int {
	out := append([]int(nil), idx...)
	sort.SliceStable(out, func(a, b int) bool {
		ca, cb := colOf(out[a]), colOf(out[b])
		if ca != cb {
			return ca < cb
		}
		return top(out[a]) < top(out[b])
	})
	return out
}
