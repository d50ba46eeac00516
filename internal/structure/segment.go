package structure

import (
	"regexp"
	"sort"
	"strings"
)

var (
	sentenceEnd    = regexp.MustCompile(`([.!?]+["')\]]*)\s+`)
	phraseBoundary = regexp.MustCompile(`[,;:\x{2013}\x{2014}]\s+`)
)

// Words splits text on whitespace.
func Words(text string) []string {
	return strings.Fields(text)
}

// Sentences splits text after terminal punctuation followed by whitespace.
func Sentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}
	}
	marked := sentenceEnd.ReplaceAllString(text, "$1\x00")
	return nonEmpty(strings.Split(marked, "\x00"))
}

// Phrases splits each sentence further at commas, semicolons, colons and dashes.
func Phrases(text string) []string {
	out := []string{}
	for _, s := range Sentences(text) {
		marked := phraseBoundary.ReplaceAllStringFunc(s, func(m string) string {
			return strings.TrimRightFunc(m, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' }) + "\x00"
		})
		out = append(out, nonEmpty(strings.Split(marked, "\x00"))...)
	}
	return out
}

func nonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Segment recomputes the block's word, sentence and phrase lists and counts from Text.
func (b *TextBlock) Segment() {
	b.Words = Words(b.Text)
	if b.Words == nil {
		b.Words = []string{}
	}
	b.Sentences = Sentences(b.Text)
	b.Phrases = Phrases(b.Text)
	b.WordCount = len(b.Words)
	b.SentenceCount = len(b.Sentences)
	b.PhraseCount = len(b.Phrases)
}

// SetText replaces the block text and resegments it.
func (b *TextBlock) SetText(text string) {
	b.Text = text
	b.Segment()
}

func sortByRank(blocks []TextBlock) {
	sort.SliceStable(blocks, func(i, j int) bool {
		return blocks[i].ReadingOrder < blocks[j].ReadingOrder
	})
}
