package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/listenupapp/pagesync-server/internal/chapters"
	domainerrors "github.com/listenupapp/pagesync-server/internal/errors"
	"github.com/listenupapp/pagesync-server/internal/logger"
	"github.com/listenupapp/pagesync-server/internal/ratelimit"
)

// generator sends one prompt and returns the model text.
type generator interface {
	generate(ctx context.Context, prompt string, jsonOut bool) (string, error)
}

type genaiGenerator struct {
	client *genai.Client
	model  string
}

func (g *genaiGenerator) generate(ctx context.Context, prompt string, jsonOut bool) (string, error) {
	var cfg *genai.GenerateContentConfig
	if jsonOut {
		cfg = &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	}
	res, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}, cfg)
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}

// GeminiConfig configures the Gemini classifier.
type GeminiConfig struct {
	APIKey            string
	Model             string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Gemini classifies content with Google's Gemini models.
type Gemini struct {
	gen     generator
	limiter *ratelimit.KeyedRateLimiter
	timeout time.Duration
	logger  *slog.Logger
}

// NewGemini connects a Gemini client.
func NewGemini(ctx context.Context, cfg GeminiConfig, log *slog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, domainerrors.Unavailable("missing Gemini API key")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newGemini(&genaiGenerator{client: client, model: cfg.Model}, cfg, log), nil
}

func newGemini(gen generator, cfg GeminiConfig, log *slog.Logger) *Gemini {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	return &Gemini{
		gen:     gen,
		limiter: ratelimit.New(cfg.RequestsPerSecond, cfg.Burst),
		timeout: cfg.Timeout,
		logger:  logger.OrDiscard(log),
	}
}

// Close releases the rate limiter.
func (g *Gemini) Close() {
	g.limiter.Stop()
}

func (g *Gemini) call(ctx context.Context, op, prompt string, jsonOut bool) (string, error) {
	if err := g.limiter.Wait(ctx, "gemini:"+op); err != nil {
		return "", err
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	start := time.Now()
	out, err := g.gen.generate(ctx, prompt, jsonOut)
	if err != nil {
		g.logger.Warn("gemini request failed", "op", op, "error", err)
		return "", fmt.Errorf("gemini %s: %w", op, err)
	}
	g.logger.Debug("gemini request completed", "op", op, "duration", time.Since(start), "bytes", len(out))
	return out, nil
}

const chapterPrompt = `You are segmenting a textbook into chapters. Below is the text of each page, prefixed with its page number.
Return ONLY a JSON object of the form {"chapters":[{"title":"...","start_page":N,"confidence":0.0-1.0}]}.
List chapters in order. Only mark a page as a chapter start when a new chapter clearly begins there.

`

// SuggestChapters implements chapters.Suggester.
func (g *Gemini) SuggestChapters(ctx context.Context, pages []chapters.PageText) ([]chapters.Suggestion, error) {
	var sb strings.Builder
	sb.WriteString(chapterPrompt)
	for _, p := range pages {
		fmt.Fprintf(&sb, "=== PAGE %d ===\n%s\n", p.Number, p.Text)
	}
	out, err := g.call(ctx, "chapters", sb.String(), true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Chapters []chapters.Suggestion `json:"chapters"`
	}
	if err := decodeJSON(out, &resp); err != nil {
		return nil, err
	}
	return resp.Chapters, nil
}

const blockPrompt = `Classify each text block of a textbook. Allowed types: heading, paragraph, list_item, caption, exercise, footnote, quote, equation.
For headings also give heading_level (1 = chapter, 2 = section, 3 = subsection).
Return ONLY a JSON object {"blocks":[{"id":"...","type":"...","heading_level":0,"confidence":0.0-1.0}]} with one entry per input block.

`

// ClassifyBlocks implements Classifier.
func (g *Gemini) ClassifyBlocks(ctx context.Context, blocks []BlockText) ([]BlockLabel, error) {
	payload, err := json.Marshal(blocks)
	if err != nil {
		return nil, err
	}
	out, err := g.call(ctx, "blocks", blockPrompt+string(payload), true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Blocks []BlockLabel `json:"blocks"`
	}
	if err := decodeJSON(out, &resp); err != nil {
		return nil, err
	}
	return resp.Blocks, nil
}

// DescribeFigure implements Classifier.
func (g *Gemini) DescribeFigure(ctx context.Context, fig Figure) (string, error) {
	prompt := "Write alt text (at most 20 words, factual, no embellishment) for a textbook figure."
	if fig.Language != "" {
		prompt += " Answer in language " + fig.Language + "."
	}
	if fig.Caption != "" {
		prompt += "\nCaption: " + fig.Caption
	}
	if fig.Context != "" {
		prompt += "\nSurrounding text: " + fig.Context
	}
	out, err := g.call(ctx, "figure", prompt, false)
	if err != nil {
		return "", err
	}
	alt := strings.TrimSpace(stripCodeFences(out))
	if alt == "" {
		return "", errors.New("gemini returned empty alt text")
	}
	return alt, nil
}

// decodeJSON parses model output, tolerating code fences and surrounding prose.
func decodeJSON(out string, v any) error {
	js := stripCodeFences(out)
	if err := json.Unmarshal([]byte(js), v); err != nil {
		obj := findFirstJSON(js)
		if obj == "" {
			return fmt.Errorf("no JSON object in model response: %w", err)
		}
		if err2 := json.Unmarshal([]byte(obj), v); err2 != nil {
			return fmt.Errorf("parse model response: %w", err2)
		}
	}
	return nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.Index(s, "\n"); nl != -1 {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// findFirstJSON returns the first balanced {...} object in s, ignoring braces inside strings.
func findFirstJSON(s string) string {
	start, depth := -1, 0
	inString, escaped := false, false
	for i, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if start != -1 {
				inString = true
			}
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			if start != -1 {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
