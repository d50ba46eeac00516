package stages

import (
	"context"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/id"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

// SpecialContent finds equations and tables and records them in the flat
// document collections.
type SpecialContent struct {
	// MathDensity is the minimum share of math symbols in an equation block.
	MathDensity float64
}

// NewSpecialContent creates the special content stage.
func NewSpecialContent() *SpecialContent {
	return &SpecialContent{MathDensity: 0.12}
}

// Name implements Stage.
func (*SpecialContent) Name() domain.StageName { return domain.StageSpecialContent }

// Run implements Stage.
func (sc *SpecialContent) Run(ctx context.Context, in Input) (*Output, error) {
	s := in.Structure
	s.Equations = nil
	s.Tables = nil

	var confs []float64
	for i := range s.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := &s.Pages[i]
		for j := range p.TextBlocks {
			b := &p.TextBlocks[j]
			if b.Type != structure.BlockEquation && !sc.isEquation(b.Text) {
				continue
			}
			display := len([]rune(b.Text)) <= 80 && b.WordCount <= 12
			if display {
				b.Type = structure.BlockEquation
			}
			s.Equations = append(s.Equations, structure.Equation{
				ID:      id.MustGenerate(id.PrefixEq),
				BlockID: b.ID,
				Page:    p.Number,
				Text:    b.Text,
				Display: display,
			})
			confs = append(confs, 0.7)
		}

		p.TableBlocks = p.TableBlocks[:0]
		for _, t := range detectTables(p) {
			p.TableBlocks = append(p.TableBlocks, t)
			p.ReadingOrder.BlockIDs = appendUnique(p.ReadingOrder.BlockIDs, t.ID)
			s.Tables = append(s.Tables, structure.BlockRef{BlockID: t.ID, Page: p.Number})
			confs = append(confs, t.Confidence)
		}
		p.ReadingOrder.BlockIDs = pruneOrder(p)
	}
	return &Output{Structure: s, Confidence: score(mean(confs, 1))}, nil
}

const mathSymbols = "=+-−×÷±∓∑∏∫∮√∞≈≠≤≥∝∂∇πθλμσΔΩαβγ^*/<>()|"

var relationRe = regexp.MustCompile(`[=≈≠≤≥<>]|\\frac|\\sum|∑|∫`)

func (sc *SpecialContent) isEquation(text string) bool {
	if !relationRe.MatchString(text) {
		return false
	}
	symbols, letters, total := 0, 0, 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		switch {
		case strings.ContainsRune(mathSymbols, r), unicode.IsDigit(r):
			symbols++
		case unicode.IsLetter(r):
			letters++
		}
	}
	if total == 0 {
		return false
	}
	// Prose with an occasional "=" stays prose.
	words := 0
	for _, w := range strings.Fields(text) {
		if len([]rune(w)) > 3 && isAlpha(w) {
			words++
		}
	}
	if words > 6 {
		return false
	}
	return float64(symbols)/float64(total) >= sc.MathDensity
}

func isAlpha(w string) bool {
	for _, r := range w {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

var cellSplitRe = regexp.MustCompile(`\s*[|\t]\s*`)

// detectTables finds two kinds of tables: a single block whose lines split
// into the same number of delimited cells, and side-by-side blocks that share
// a top edge and line count (one block per column).
func detectTables(p *structure.Page) []structure.TableBlock {
	var out []structure.TableBlock
	used := map[string]bool{}

	for _, b := range p.TextBlocks {
		lines := strings.Split(b.Text, "\n")
		if len(lines) < 2 {
			continue
		}
		var rows [][]string
		width := -1
		for _, l := range lines {
			cells := cellSplitRe.Split(strings.Trim(l, "| "), -1)
			if len(cells) < 2 || (width != -1 && len(cells) != width) {
				rows = nil
				break
			}
			width = len(cells)
			rows = append(rows, cells)
		}
		if rows == nil {
			continue
		}
		used[b.ID] = true
		out = append(out, structure.TableBlock{
			ID:         id.MustGenerate(id.PrefixTable),
			BBox:       b.BBox,
			Rows:       rows,
			Caption:    tableCaption(p),
			Confidence: 0.8,
		})
	}

	groups := map[int][]structure.TextBlock{}
	var keys []int
	for _, b := range p.TextBlocks {
		if used[b.ID] || b.BBox.Width == 0 || b.Type == structure.BlockHeading {
			continue
		}
		lines := strings.Split(b.Text, "\n")
		if len(lines) < 2 || b.WordCount > 6*len(lines) {
			continue
		}
		key := int(math.Round(b.BBox.Y / 2))
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], b)
	}
	for _, k := range keys {
		cols := groups[k]
		if len(cols) < 2 {
			continue
		}
		n := strings.Count(cols[0].Text, "\n")
		same := true
		for _, c := range cols[1:] {
			if strings.Count(c.Text, "\n") != n {
				same = false
				break
			}
		}
		if !same {
			continue
		}
		sortByX(cols)
		rows := make([][]string, n+1)
		bbox := cols[0].BBox
		for _, c := range cols {
			for r, cell := range strings.Split(c.Text, "\n") {
				rows[r] = append(rows[r], cell)
			}
			bbox = union(bbox, c.BBox)
		}
		out = append(out, structure.TableBlock{
			ID:         id.MustGenerate(id.PrefixTable),
			BBox:       bbox,
			Rows:       rows,
			Caption:    tableCaption(p),
			Confidence: 0.6,
		})
	}
	return out
}

func sortByX(blocks []structure.TextBlock) {
	for i := 1; i < len(blocks); i++ {
		for j := i; j > 0 && blocks[j].BBox.X < blocks[j-1].BBox.X; j-- {
			blocks[j], blocks[j-1] = blocks[j-1], blocks[j]
		}
	}
}

func union(a, b structure.BoundingBox) structure.BoundingBox {
	x0, y0 := math.Min(a.X, b.X), math.Min(a.Y, b.Y)
	x1 := math.Max(a.X+a.Width, b.X+b.Width)
	y1 := math.Max(a.Y+a.Height, b.Y+b.Height)
	return structure.BoundingBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

func tableCaption(p *structure.Page) string {
	for _, b := range p.OrderedTextBlocks() {
		if b.Type == structure.BlockCaption && strings.HasPrefix(strings.ToLower(b.Text), "table") {
			return strings.Join(strings.Fields(b.Text), " ")
		}
	}
	return ""
}

func appendUnique(ids []string, id string) []string {
	for _, x := range ids {
		if x == id {
			return ids
		}
	}
	return append(ids, id)
}

// pruneOrder drops reading-order ids whose blocks no longer exist.
func pruneOrder(p *structure.Page) []string {
	out := p.ReadingOrder.BlockIDs[:0]
	for _, id := range p.ReadingOrder.BlockIDs {
		if p.HasBlock(id) {
			out = append(out, id)
		}
	}
	return out
}
