package extract

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"

	rpdf "rsc.io/pdf"
)

type glyphReader struct {
	doc *rpdf.Reader
}

func openGlyphReader(data []byte) (g *glyphReader, err error) {
	defer func() {
		if r := recover(); r != nil {
			g, err = nil, fmt.Errorf("rsc.io/pdf: %v", r)
		}
	}()
	doc, err := rpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	return &glyphReader{doc: doc}, nil
}

func (g *glyphReader) numPages() int {
	return g.doc.NumPage()
}

// lines extracts positioned lines of page n. height, when zero, is read from
// the page MediaBox.
func (g *glyphReader) lines(n int, height float64) (out []Line, w, h float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page %d content: %v", n, r)
		}
	}()
	page := g.doc.Page(n)
	if page.V.IsNull() {
		return nil, 0, 0, fmt.Errorf("page %d missing", n)
	}
	if box := page.V.Key("MediaBox"); box.Len() == 4 {
		w = box.Index(2).Float64() - box.Index(0).Float64()
		h = box.Index(3).Float64() - box.Index(1).Float64()
	}
	if height == 0 {
		height = h
	}
	content := page.Content()
	glyphs := make([]glyph, 0, len(content.Text))
	for _, t := range content.Text {
		glyphs = append(glyphs, glyph{S: t.S, X: t.X, Y: t.Y, W: t.W, Size: t.FontSize, Font: t.Font})
	}
	return buildLines(glyphs, height), w, h, nil
}

// glyph is one shown string in PDF user space (bottom-left origin).
type glyph struct {
	S    string
	X, Y float64
	W    float64
	Size float64
	Font string
}

// buildLines clusters glyphs into baselines, then splits a baseline wherever
// the horizontal gap is wide enough to be a column gutter.
func buildLines(glyphs []glyph, pageHeight float64) []Line {
	gs := make([]glyph, 0, len(glyphs))
	for _, g := range glyphs {
		if g.S != "" {
			gs = append(gs, g)
		}
	}
	if len(gs) == 0 {
		return nil
	}
	sort.SliceStable(gs, func(i, j int) bool { return gs[i].Y > gs[j].Y })

	var rows [][]glyph
	for _, g := range gs {
		if n := len(rows); n > 0 {
			ref := rows[n-1][0]
			tol := math.Max(math.Max(ref.Size, g.Size)*0.5, 1)
			if math.Abs(ref.Y-g.Y) <= tol {
				rows[n-1] = append(rows[n-1], g)
				continue
			}
		}
		rows = append(rows, []glyph{g})
	}

	var lines []Line
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool { return row[i].X < row[j].X })
		lines = append(lines, splitRow(row, pageHeight)...)
	}
	return lines
}

func splitRow(row []glyph, pageHeight float64) []Line {
	var out []Line
	var sb strings.Builder
	start := row[0]
	end := start.X
	maxSize := 0.0
	fonts := map[string]int{}

	flush := func() {
		text := strings.TrimSpace(sb.String())
		if text != "" {
			top := start.Y + maxSize
			if pageHeight > 0 {
				top = pageHeight - top
			}
			out = append(out, Line{
				Text:     text,
				X:        start.X,
				Y:        math.Max(top, 0),
				Width:    end - start.X,
				FontSize: maxSize,
				Font:     dominant(fonts),
			})
		}
		sb.Reset()
		maxSize = 0
		clear(fonts)
	}

	for i, g := range row {
		size := math.Max(g.Size, 1)
		if i > 0 {
			gap := g.X - end
			switch {
			case gap > size*2.5:
				flush()
				start = g
				end = g.X
			case gap > size*0.2 && !strings.HasSuffix(sb.String(), " ") && !strings.HasPrefix(g.S, " "):
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(g.S)
		end = math.Max(end, g.X+g.W)
		maxSize = math.Max(maxSize, g.Size)
		fonts[g.Font] += len(g.S)
	}
	flush()
	return out
}

func dominant(counts map[string]int) string {
	best, n := "", -1
	for f, c := range counts {
		if c > n || (c == n && f < best) {
			best, n = f, c
		}
	}
	return best
}
