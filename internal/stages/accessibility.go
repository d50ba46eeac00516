package stages

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/language"

	"github.com/listenupapp/pagesync-server/internal/ai"
	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/logger"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

// Accessibility fills in alt text, detects languages and repairs heading levels.
type Accessibility struct {
	classifier ai.Classifier
	logger     *slog.Logger
}

// NewAccessibility creates the accessibility stage.
func NewAccessibility(classifier ai.Classifier, log *slog.Logger) *Accessibility {
	if classifier == nil {
		classifier = ai.Noop{}
	}
	return &Accessibility{classifier: classifier, logger: logger.OrDiscard(log)}
}

// Name implements Stage.
func (*Accessibility) Name() domain.StageName { return domain.StageAccessibility }

// Run implements Stage.
func (a *Accessibility) Run(ctx context.Context, in Input) (*Output, error) {
	s := in.Structure
	out := &Output{Structure: s}

	lang, langConf := detectDocumentLanguage(s)
	if lang != language.Und {
		s.Metadata.Language = lang.String()
	}
	for i := range s.Pages {
		for j := range s.Pages[i].TextBlocks {
			b := &s.Pages[i].TextBlocks[j]
			b.Languages = nil
			if b.WordCount < 8 {
				continue
			}
			if tag, c := detectLanguage(b.Words); tag != language.Und && c >= 0.5 {
				b.Languages = []string{tag.String()}
			}
		}
	}

	fixHeadingLevels(s)

	useAI := ai.Available(a.classifier)
	var altConfs []float64
	for i := range s.Pages {
		p := &s.Pages[i]
		caption := pageCaption(p)
		for j := range p.ImageBlocks {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			img := &p.ImageBlocks[j]
			if img.Caption == "" {
				img.Caption = caption
			}
			if img.AltText != "" && !img.Decorative {
				altConfs = append(altConfs, img.Confidence)
				continue
			}
			if useAI {
				alt, err := a.classifier.DescribeFigure(ctx, ai.Figure{
					Page:     p.Number,
					Caption:  img.Caption,
					Context:  truncate(pageText(p), 400),
					Language: s.Metadata.Language,
				})
				if err == nil {
					img.AltText, img.Confidence = alt, 0.8
					altConfs = append(altConfs, img.Confidence)
					continue
				}
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				a.logger.Warn("alt text generation failed", "job_id", in.JobID, "page", p.Number, "error", err)
				out.Warnings = append(out.Warnings, "alt text degraded on page "+itoa(p.Number))
			}
			img.AltText, img.Confidence = placeholderAlt(s.Metadata.Title, p.Number, img.Caption)
			altConfs = append(altConfs, img.Confidence)
		}
	}

	conf := 0.5*mean(altConfs, 1) + 0.5*langConf
	out.Confidence = score(conf)
	return out, nil
}

func placeholderAlt(title string, page int, caption string) (string, float64) {
	if caption != "" {
		return caption, 0.6
	}
	if title != "" {
		return "Figure from " + title + ", page " + itoa(page), 0.3
	}
	return "Figure on page " + itoa(page), 0.3
}

func pageCaption(p *structure.Page) string {
	for _, b := range p.OrderedTextBlocks() {
		if b.Type == structure.BlockCaption {
			return strings.Join(strings.Fields(b.Text), " ")
		}
	}
	return ""
}

func pageText(p *structure.Page) string {
	var sb strings.Builder
	for _, b := range p.OrderedTextBlocks() {
		if isRunningHead(&b) {
			continue
		}
		sb.WriteString(b.Text)
		sb.WriteByte(' ')
	}
	return strings.TrimSpace(sb.String())
}

// fixHeadingLevels ensures a heading never skips a level below the previous one.
func fixHeadingLevels(s *structure.Structure) {
	prev := 0
	for i := range s.Pages {
		p := &s.Pages[i]
		ordered := p.OrderedTextBlocks()
		level := make(map[string]int, len(ordered))
		for _, b := range ordered {
			if b.Type != structure.BlockHeading {
				continue
			}
			l := b.HeadingLevel
			if l < 1 {
				l = 1
			}
			if l > prev+1 {
				l = prev + 1
			}
			level[b.ID] = l
			prev = l
		}
		for j := range p.TextBlocks {
			if l, ok := level[p.TextBlocks[j].ID]; ok {
				p.TextBlocks[j].HeadingLevel = l
			}
		}
	}
}

var stopwords = map[language.Tag][]string{
	language.English:    {"the", "and", "of", "to", "is", "in", "that", "it", "with", "for", "as", "are", "this", "was", "on"},
	language.Spanish:    {"el", "la", "de", "que", "y", "en", "los", "las", "del", "se", "por", "una", "con", "para", "es"},
	language.French:     {"le", "la", "les", "de", "et", "des", "est", "une", "du", "que", "dans", "pour", "qui", "sur", "au"},
	language.German:     {"der", "die", "und", "das", "ist", "nicht", "mit", "den", "ein", "eine", "zu", "von", "sich", "auf", "dem"},
	language.Portuguese: {"o", "os", "de", "que", "e", "do", "da", "em", "um", "uma", "para", "com", "não", "dos", "as"},
	language.Italian:    {"il", "di", "che", "e", "la", "per", "un", "non", "sono", "della", "gli", "le", "del", "una", "con"},
}

var stopIndex = func() map[string][]language.Tag {
	idx := map[string][]language.Tag{}
	for tag, words := range stopwords {
		for _, w := range words {
			idx[w] = append(idx[w], tag)
		}
	}
	return idx
}()

// detectLanguage scores words against per-language stopword lists. The
// confidence is the winner's share of all stopword hits.
func detectLanguage(words []string) (language.Tag, float64) {
	counts := map[language.Tag]int{}
	total := 0
	for _, w := range words {
		w = strings.ToLower(strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) }))
		for _, tag := range stopIndex[w] {
			counts[tag]++
			total++
		}
	}
	if total == 0 {
		return language.Und, 0
	}
	best, n := language.Und, 0
	for tag, c := range counts {
		if c > n || (c == n && tag.String() < best.String()) {
			best, n = tag, c
		}
	}
	return best, float64(n) / float64(total)
}

func detectDocumentLanguage(s *structure.Structure) (language.Tag, float64) {
	var words []string
	for _, b := range s.TextBlocks() {
		words = append(words, b.Words...)
		if len(words) > 5000 {
			break
		}
	}
	if len(words) == 0 {
		return language.Und, 1
	}
	tag, conf := detectLanguage(words)
	if tag == language.Und {
		return tag, 0.5
	}
	return tag, conf
}
