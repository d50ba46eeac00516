package stages

import (
	"context"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

// ContentCleanup normalizes block text: markup removal, NFC, ligature
// expansion, de-hyphenation and whitespace collapse. Line breaks inside a
// block are kept so later stages can still see tabular rows.
type ContentCleanup struct {
	policy *bluemonday.Policy
}

// NewContentCleanup creates the cleanup stage.
func NewContentCleanup() *ContentCleanup {
	return &ContentCleanup{policy: bluemonday.StrictPolicy()}
}

// Name implements Stage.
func (*ContentCleanup) Name() domain.StageName { return domain.StageContentCleanup }

var (
	markupRe    = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)
	hyphenRe    = regexp.MustCompile(`(\p{L})[-\x{2010}]\n(\p{Ll})`)
	hspaceRe    = regexp.MustCompile(`[ \t\x{00A0}\x{2000}-\x{200A}\x{202F}\x{3000}]+`)
	ligatures   = strings.NewReplacer("ﬀ", "ff", "ﬁ", "fi", "ﬂ", "fl", "ﬃ", "ffi", "ﬄ", "ffl", "\u00ad", "", "\u200b", "")
	blankLineRe = regexp.MustCompile(`\n{2,}`)
)

// Clean applies the cleanup rules to one block of text.
func (c *ContentCleanup) Clean(text string) string {
	if markupRe.MatchString(text) {
		text = html.UnescapeString(c.policy.Sanitize(text))
	}
	text = norm.NFC.String(text)
	text = ligatures.Replace(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = hyphenRe.ReplaceAllString(text, "$1$2")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(hspaceRe.ReplaceAllString(l, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLineRe.ReplaceAllString(text, "\n")
	return strings.Trim(text, "\n ")
}

// Run implements Stage.
func (c *ContentCleanup) Run(ctx context.Context, in Input) (*Output, error) {
	s := in.Structure
	total, emptied := 0, 0
	for i := range s.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := &s.Pages[i]
		kept := p.TextBlocks[:0]
		removed := map[string]bool{}
		for _, b := range p.TextBlocks {
			total++
			b.SetText(c.Clean(b.Text))
			if b.WordCount == 0 {
				emptied++
				removed[b.ID] = true
				continue
			}
			kept = append(kept, b)
		}
		p.TextBlocks = kept
		if len(removed) > 0 {
			ids := p.ReadingOrder.BlockIDs[:0]
			for _, id := range p.ReadingOrder.BlockIDs {
				if !removed[id] {
					ids = append(ids, id)
				}
			}
			p.ReadingOrder.BlockIDs = ids
			s.SemanticBlocks = dropRelated(s.SemanticBlocks, removed)
			s.TOC = dropTOCBlocks(s.TOC, removed)
		}
	}
	conf := 1.0
	if total > 0 {
		conf -= 0.5 * float64(emptied) / float64(total)
	}
	return &Output{Structure: s, Confidence: score(conf)}, nil
}

func dropRelated(blocks []structure.SemanticBlock, removed map[string]bool) []structure.SemanticBlock {
	for i := range blocks {
		ids := blocks[i].RelatedBlockIDs[:0]
		for _, id := range blocks[i].RelatedBlockIDs {
			if !removed[id] {
				ids = append(ids, id)
			}
		}
		blocks[i].RelatedBlockIDs = ids
	}
	return blocks
}

func dropTOCBlocks(entries []structure.TOCEntry, removed map[string]bool) []structure.TOCEntry {
	for i := range entries {
		if removed[entries[i].BlockID] {
			entries[i].BlockID = ""
		}
		entries[i].Children = dropTOCBlocks(entries[i].Children, removed)
	}
	return entries
}
