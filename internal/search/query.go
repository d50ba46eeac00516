package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// SearchParams configures a search query.
type SearchParams struct {
	Query  string
	JobID  int64  // Zero searches every job
	Type   string // Block type filter, e.g. "heading"
	Limit  int
	Offset int
}

// SearchResult represents the search results.
type SearchResult struct {
	Query  string      `json:"query"`
	Total  uint64      `json:"total"`
	TookMs int64       `json:"took_ms"`
	Hits   []SearchHit `json:"hits"`
}

// SearchHit represents a single matching block.
type SearchHit struct {
	JobID     int64   `json:"job_id"`
	Page      int     `json:"page"`
	BlockID   string  `json:"block_id"`
	BlockType string  `json:"block_type,omitempty"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
	Highlight string  `json:"highlight,omitempty"`
}

// Search executes a search query.
func (s *SearchIndex) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	if params.Limit <= 0 {
		params.Limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	req := bleve.NewSearchRequestOptions(buildSearchQuery(params), params.Limit, params.Offset, false)
	req.Fields = []string{"job_id", "page", "block_id", "block_type", "text"}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField("text")

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	out := &SearchResult{
		Query:  params.Query,
		Total:  res.Total,
		TookMs: res.Took.Milliseconds(),
		Hits:   make([]SearchHit, 0, len(res.Hits)),
	}
	for _, hit := range res.Hits {
		h := SearchHit{Score: hit.Score}
		if v, ok := hit.Fields["job_id"].(string); ok {
			h.JobID, _ = strconv.ParseInt(v, 10, 64)
		}
		if v, ok := hit.Fields["page"].(float64); ok {
			h.Page = int(v)
		}
		if v, ok := hit.Fields["block_id"].(string); ok {
			h.BlockID = v
		}
		if v, ok := hit.Fields["block_type"].(string); ok {
			h.BlockType = v
		}
		if v, ok := hit.Fields["text"].(string); ok {
			h.Text = v
		}
		if frags := hit.Fragments["text"]; len(frags) > 0 {
			h.Highlight = frags[0]
		}
		out.Hits = append(out.Hits, h)
	}
	return out, nil
}

// buildSearchQuery combines the text query with exact filters.
// Short single terms also get a prefix query so partial words match.
func buildSearchQuery(params SearchParams) query.Query {
	var must []query.Query

	text := strings.TrimSpace(params.Query)
	if text == "" {
		must = append(must, bleve.NewMatchAllQuery())
	} else {
		match := bleve.NewMatchQuery(text)
		match.SetField("text")
		match.SetFuzziness(fuzzinessFor(text))

		phrase := bleve.NewMatchPhraseQuery(text)
		phrase.SetField("text")
		phrase.SetBoost(2)

		should := []query.Query{match, phrase}
		if !strings.ContainsRune(text, ' ') {
			prefix := bleve.NewPrefixQuery(strings.ToLower(text))
			prefix.SetField("text")
			should = append(should, prefix)
		}
		must = append(must, bleve.NewDisjunctionQuery(should...))
	}

	if params.JobID != 0 {
		q := bleve.NewTermQuery(strconv.FormatInt(params.JobID, 10))
		q.SetField("job_id")
		must = append(must, q)
	}
	if params.Type != "" {
		q := bleve.NewTermQuery(params.Type)
		q.SetField("block_type")
		must = append(must, q)
	}

	if len(must) == 1 {
		return must[0]
	}
	return bleve.NewConjunctionQuery(must...)
}

// fuzzinessFor allows one typo in longer words and none in short ones.
func fuzzinessFor(text string) int {
	if len(text) >= 5 {
		return 1
	}
	return 0
}
