package extract

import (
	"math"
	"sort"
	"strings"

	"github.com/listenupapp/pagesync-server/internal/structure"
)

// Block is a group of vertically adjacent lines sharing a column and font size.
type Block struct {
	Lines []Line
	BBox  structure.BoundingBox
	Font  structure.Font
}

// Text joins the block lines with newlines so hyphenation stays visible.
func (b *Block) Text() string {
	parts := make([]string, len(b.Lines))
	for i, l := range b.Lines {
		parts[i] = l.Text
	}
	return strings.Join(parts, "\n")
}

// GroupBlocks groups positioned lines into blocks. Lines without geometry each
// become their own block.
func GroupBlocks(lines []Line) []Block {
	sorted := append([]Line(nil), lines...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y < sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	var blocks []*Block
	for _, l := range sorted {
		if l.FontSize == 0 {
			blocks = append(blocks, newBlock(l))
			continue
		}
		if b := continuation(blocks, l); b != nil {
			b.add(l)
			continue
		}
		blocks = append(blocks, newBlock(l))
	}

	out := make([]Block, len(blocks))
	for i, b := range blocks {
		out[i] = *b
	}
	return out
}

func continuation(blocks []*Block, l Line) *Block {
	for i := len(blocks) - 1; i >= 0; i-- {
		b := blocks[i]
		last := b.Lines[len(b.Lines)-1]
		if last.FontSize == 0 {
			continue
		}
		if math.Abs(last.FontSize-l.FontSize) > 0.1*math.Max(last.FontSize, l.FontSize) {
			continue
		}
		gap := l.Y - (last.Y + last.FontSize)
		if gap < -0.5*l.FontSize || gap > 0.8*l.FontSize {
			continue
		}
		if !overlaps(b.BBox.X, b.BBox.X+b.BBox.Width, l.X, l.X+l.Width) {
			continue
		}
		return b
	}
	return nil
}

func overlaps(a0, a1, b0, b1 float64) bool {
	if a1 <= a0 {
		a1 = a0 + 1
	}
	if b1 <= b0 {
		b1 = b0 + 1
	}
	return a0 < b1 && b0 < a1
}

func newBlock(l Line) *Block {
	b := &Block{
		BBox: structure.BoundingBox{X: l.X, Y: l.Y, Width: l.Width, Height: l.FontSize},
		Font: fontOf(l),
	}
	b.Lines = []Line{l}
	return b
}

func (b *Block) add(l Line) {
	b.Lines = append(b.Lines, l)
	x0 := math.Min(b.BBox.X, l.X)
	x1 := math.Max(b.BBox.X+b.BBox.Width, l.X+l.Width)
	b.BBox.X, b.BBox.Width = x0, x1-x0
	b.BBox.Height = l.Y + l.FontSize - b.BBox.Y
}

func fontOf(l Line) structure.Font {
	family := l.Font
	if i := strings.IndexByte(family, '+'); i == 6 {
		family = family[i+1:]
	}
	lower := strings.ToLower(family)
	return structure.Font{
		Family: family,
		Size:   l.FontSize,
		Bold:   strings.Contains(lower, "bold") || strings.Contains(lower, "black"),
		Italic: strings.Contains(lower, "italic") || strings.Contains(lower, "oblique"),
	}
}
