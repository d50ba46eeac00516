package extract

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// pdfDoc is what pdfcpu knows about the document.
type pdfDoc struct {
	ctx       *model.Context
	pageCount int
	pageDims  []types.Dim
	info      Info
}

func readPDFDoc(data []byte) (s *pdfDoc, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, err = nil, fmt.Errorf("pdfcpu: %v", r)
		}
	}()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, err
	}
	s = &pdfDoc{
		ctx:       ctx,
		pageCount: ctx.PageCount,
		info: Info{
			Title:   strings.TrimSpace(ctx.Title),
			Author:  strings.TrimSpace(ctx.Author),
			Subject: strings.TrimSpace(ctx.Subject),
		},
	}
	if dims, err := ctx.PageDims(); err == nil {
		s.pageDims = dims
	}
	return s, nil
}

func (s *pdfDoc) dims(page int) (float64, float64) {
	if page < 1 || page > len(s.pageDims) {
		return 0, 0
	}
	d := s.pageDims[page-1]
	return d.Width, d.Height
}

func (s *pdfDoc) images(page int) int {
	if s.ctx.Optimize == nil {
		return 0
	}
	return len(pdfcpu.ImageObjNrs(s.ctx, page))
}

func (s *pdfDoc) streamText(page int) string {
	r, err := pdfcpu.ExtractPageContent(s.ctx, page)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ""
	}
	return StreamText(data)
}

var literalRe = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// StreamText recovers show-text operands (Tj, TJ, ' and ") from a content
// stream. Positioning operators become spaces or newlines.
func StreamText(content []byte) string {
	var sb strings.Builder
	for _, raw := range bytes.Split(content, []byte{'\n'}) {
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range literalRe.FindAllSubmatch(line, -1) {
				sb.WriteString(unescape(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")), bytes.HasSuffix(line, []byte(`"`)):
			for _, m := range literalRe.FindAllSubmatch(line, -1) {
				sb.WriteByte('\n')
				sb.WriteString(unescape(m[1]))
			}
		case bytes.Equal(line, []byte("T*")), bytes.HasSuffix(line, []byte("TD")):
			sb.WriteByte('\n')
		case bytes.HasSuffix(line, []byte("Td")):
			sb.WriteByte(' ')
		}
	}
	return collapse(sb.String())
}

func unescape(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' || i+1 == len(raw) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch c = raw[i]; c {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'b', 'f':
		case '0', '1', '2', '3', '4', '5', '6', '7':
			v := int(c - '0')
			for k := 0; k < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; k++ {
				i++
				v = v*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(v))
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// collapse squeezes horizontal whitespace and drops unprintables, keeping newlines.
func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		var sb strings.Builder
		space := false
		for _, r := range l {
			switch {
			case unicode.IsSpace(r):
				space = sb.Len() > 0
			case unicode.IsPrint(r):
				if space {
					sb.WriteByte(' ')
					space = false
				}
				sb.WriteRune(r)
			}
		}
		if sb.Len() > 0 {
			out = append(out, sb.String())
		}
	}
	return strings.Join(out, "\n")
}
