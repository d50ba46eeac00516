// Package structure defines the intermediate document representation every
// pipeline stage reads and augments.
//
// Page-level blocks are owned by their page. Document-level collections
// (images, tables, equations, semantic blocks) refer back to them by block id.
package structure

// BlockType is the semantic role of a text block.
type BlockType string

const (
	BlockUnknown   BlockType = ""
	BlockHeading   BlockType = "heading"
	BlockParagraph BlockType = "paragraph"
	BlockListItem  BlockType = "list_item"
	BlockCaption   BlockType = "caption"
	BlockExercise  BlockType = "exercise"
	BlockFootnote  BlockType = "footnote"
	BlockHeader    BlockType = "page_header"
	BlockFooter    BlockType = "page_footer"
	BlockQuote     BlockType = "quote"
	BlockEquation  BlockType = "equation"
)

// SourceKind records whether the document came from scans or digital text.
type SourceKind string

const (
	SourceDigital SourceKind = "digital"
	SourceScanned SourceKind = "scanned"
)

// BoundingBox is in page units with the origin at the top-left corner.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Font describes the dominant font of a block.
type Font struct {
	Family string  `json:"family,omitempty"`
	Size   float64 `json:"size,omitempty"`
	Bold   bool    `json:"bold,omitempty"`
	Italic bool    `json:"italic,omitempty"`
}

// TextBlock is the smallest addressable unit of text.
type TextBlock struct {
	ID           string      `json:"id"`
	Text         string      `json:"text"`
	Type         BlockType   `json:"type,omitempty"`
	HeadingLevel int         `json:"heading_level,omitempty"`
	BBox         BoundingBox `json:"bbox"`
	Font         Font        `json:"font"`
	ReadingOrder int         `json:"reading_order"`
	Confidence   float64     `json:"confidence"`
	Languages    []string    `json:"languages,omitempty"`

	Words         []string `json:"words"`
	Sentences     []string `json:"sentences"`
	Phrases       []string `json:"phrases"`
	WordCount     int      `json:"word_count"`
	SentenceCount int      `json:"sentence_count"`
	PhraseCount   int      `json:"phrase_count"`
}

// ImageBlock is a figure on a page.
type ImageBlock struct {
	ID         string      `json:"id"`
	BBox       BoundingBox `json:"bbox"`
	AltText    string      `json:"alt_text,omitempty"`
	Caption    string      `json:"caption,omitempty"`
	Decorative bool        `json:"decorative,omitempty"`
	Confidence float64     `json:"confidence"`
}

// TableBlock is a tabular region on a page.
type TableBlock struct {
	ID         string      `json:"id"`
	BBox       BoundingBox `json:"bbox"`
	Rows       [][]string  `json:"rows,omitempty"`
	Caption    string      `json:"caption,omitempty"`
	Confidence float64     `json:"confidence"`
}

// ReadingOrder is the intended consumption order of a page's blocks.
type ReadingOrder struct {
	BlockIDs    []string `json:"block_ids"`
	MultiColumn bool     `json:"multi_column"`
	Columns     int      `json:"columns,omitempty"`
}

// Page is one page of the document.
type Page struct {
	Number        int          `json:"number"`
	Width         float64      `json:"width,omitempty"`
	Height        float64      `json:"height,omitempty"`
	TextBlocks    []TextBlock  `json:"text_blocks"`
	ImageBlocks   []ImageBlock `json:"image_blocks,omitempty"`
	TableBlocks   []TableBlock `json:"table_blocks,omitempty"`
	ReadingOrder  ReadingOrder `json:"reading_order"`
	Confidence    float64      `json:"confidence"`
	Scanned       bool         `json:"scanned,omitempty"`
	TwoPageSpread bool         `json:"two_page_spread,omitempty"`
}

// TOCEntry is a node of the hierarchical table of contents.
type TOCEntry struct {
	Title    string     `json:"title"`
	Level    int        `json:"level"`
	Page     int        `json:"page"`
	BlockID  string     `json:"block_id,omitempty"`
	Children []TOCEntry `json:"children,omitempty"`
}

// Metadata describes the document as a whole.
type Metadata struct {
	Title      string     `json:"title,omitempty"`
	Authors    []string   `json:"authors,omitempty"`
	Language   string     `json:"language,omitempty"`
	PageCount  int        `json:"page_count"`
	SourceKind SourceKind `json:"source_kind,omitempty"`
	Subject    string     `json:"subject,omitempty"`
}

// BlockRef points at a page-level block.
type BlockRef struct {
	BlockID string `json:"block_id"`
	Page    int    `json:"page"`
}

// Equation is a detected mathematical expression.
type Equation struct {
	ID      string `json:"id"`
	BlockID string `json:"block_id"`
	Page    int    `json:"page"`
	Text    string `json:"text"`
	Display bool   `json:"display"`
}

// SemanticBlock groups related blocks under a semantic role (chapter opening,
// exercise set, sidebar...).
type SemanticBlock struct {
	ID              string   `json:"id"`
	Kind            string   `json:"kind"`
	Title           string   `json:"title,omitempty"`
	Page            int      `json:"page"`
	RelatedBlockIDs []string `json:"related_block_ids"`
	Confidence      float64  `json:"confidence"`
}

// Structure is the whole intermediate representation.
type Structure struct {
	Metadata       Metadata        `json:"metadata"`
	TOC            []TOCEntry      `json:"toc,omitempty"`
	Pages          []Page          `json:"pages"`
	Images         []BlockRef      `json:"images,omitempty"`
	Tables         []BlockRef      `json:"tables,omitempty"`
	Equations      []Equation      `json:"equations,omitempty"`
	SemanticBlocks []SemanticBlock `json:"semantic_blocks,omitempty"`
}

// New returns an empty structure.
func New() *Structure {
	return &Structure{Pages: []Page{}}
}

// Clone returns a deep copy so a stage can mutate freely.
func (s *Structure) Clone() *Structure {
	if s == nil {
		return New()
	}
	out := *s
	out.Metadata.Authors = append([]string(nil), s.Metadata.Authors...)
	out.TOC = cloneTOC(s.TOC)
	out.Images = append([]BlockRef(nil), s.Images...)
	out.Tables = append([]BlockRef(nil), s.Tables...)
	out.Equations = append([]Equation(nil), s.Equations...)
	out.SemanticBlocks = make([]SemanticBlock, len(s.SemanticBlocks))
	for i, sb := range s.SemanticBlocks {
		sb.RelatedBlockIDs = append([]string(nil), sb.RelatedBlockIDs...)
		out.SemanticBlocks[i] = sb
	}
	out.Pages = make([]Page, len(s.Pages))
	for i := range s.Pages {
		out.Pages[i] = s.Pages[i].clone()
	}
	return &out
}

func cloneTOC(entries []TOCEntry) []TOCEntry {
	if entries == nil {
		return nil
	}
	out := make([]TOCEntry, len(entries))
	for i, e := range entries {
		e.Children = cloneTOC(e.Children)
		out[i] = e
	}
	return out
}

func (p Page) clone() Page {
	out := p
	out.TextBlocks = make([]TextBlock, len(p.TextBlocks))
	for i, b := range p.TextBlocks {
		b.Languages = append([]string(nil), b.Languages...)
		b.Words = append([]string(nil), b.Words...)
		b.Sentences = append([]string(nil), b.Sentences...)
		b.Phrases = append([]string(nil), b.Phrases...)
		out.TextBlocks[i] = b
	}
	out.ImageBlocks = append([]ImageBlock(nil), p.ImageBlocks...)
	out.TableBlocks = make([]TableBlock, len(p.TableBlocks))
	for i, t := range p.TableBlocks {
		rows := make([][]string, len(t.Rows))
		for r, row := range t.Rows {
			rows[r] = append([]string(nil), row...)
		}
		t.Rows = rows
		out.TableBlocks[i] = t
	}
	out.ReadingOrder.BlockIDs = append([]string(nil), p.ReadingOrder.BlockIDs...)
	return out
}

// HasBlock reports whether id names a text, image or table block on the page.
func (p *Page) HasBlock(id string) bool {
	for _, b := range p.TextBlocks {
		if b.ID == id {
			return true
		}
	}
	for _, b := range p.ImageBlocks {
		if b.ID == id {
			return true
		}
	}
	for _, b := range p.TableBlocks {
		if b.ID == id {
			return true
		}
	}
	return false
}

// OrderedTextBlocks returns the page's text blocks in reading order. Blocks
// listed in ReadingOrder come first in that order; any others follow by rank.
func (p *Page) OrderedTextBlocks() []TextBlock {
	byID := make(map[string]int, len(p.TextBlocks))
	for i, b := range p.TextBlocks {
		byID[b.ID] = i
	}
	out := make([]TextBlock, 0, len(p.TextBlocks))
	used := make(map[string]bool, len(p.TextBlocks))
	for _, id := range p.ReadingOrder.BlockIDs {
		if i, ok := byID[id]; ok && !used[id] {
			out = append(out, p.TextBlocks[i])
			used[id] = true
		}
	}
	rest := make([]TextBlock, 0, len(p.TextBlocks)-len(out))
	for _, b := range p.TextBlocks {
		if !used[b.ID] {
			rest = append(rest, b)
		}
	}
	sortByRank(rest)
	return append(out, rest...)
}

// WordCount returns the sum of block word counts on the page.
func (p *Page) WordCount() int {
	n := 0
	for _, b := range p.TextBlocks {
		n += b.WordCount
	}
	return n
}

// WordCount returns the total word count of the document.
func (s *Structure) WordCount() int {
	n := 0
	for i := range s.Pages {
		n += s.Pages[i].WordCount()
	}
	return n
}

// TextBlocks returns every text block in document reading order.
func (s *Structure) TextBlocks() []TextBlock {
	var out []TextBlock
	for i := range s.Pages {
		out = append(out, s.Pages[i].OrderedTextBlocks()...)
	}
	return out
}

// Page returns the page with the given number, or nil.
func (s *Structure) Page(number int) *Page {
	for i := range s.Pages {
		if s.Pages[i].Number == number {
			return &s.Pages[i]
		}
	}
	return nil
}

// BlockIDs returns the set of all block ids in the document.
func (s *Structure) BlockIDs() map[string]int {
	ids := make(map[string]int)
	for _, p := range s.Pages {
		for _, b := range p.TextBlocks {
			ids[b.ID] = p.Number
		}
		for _, b := range p.ImageBlocks {
			ids[b.ID] = p.Number
		}
		for _, b := range p.TableBlocks {
			ids[b.ID] = p.Number
		}
	}
	return ids
}
