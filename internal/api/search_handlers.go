package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/listenupapp/pagesync-server/internal/errors"
	"github.com/listenupapp/pagesync-server/internal/search"
)

func (s *Server) registerSearchRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "searchJob",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/{id}/search",
		Summary:     "Search a job",
		Description: "Full-text search over the text blocks of one converted job",
		Tags:        []string{"Search"},
	}, s.handleSearchJob)

	huma.Register(s.api, huma.Operation{
		OperationID: "searchAll",
		Method:      http.MethodGet,
		Path:        "/api/v1/search",
		Summary:     "Search all jobs",
		Description: "Full-text search over the text blocks of every converted job",
		Tags:        []string{"Search"},
	}, s.handleSearchAll)
}

// === DTOs ===

// SearchJobInput contains parameters for searching one job.
type SearchJobInput struct {
	ID     int64  `path:"id" minimum:"1" doc:"Job ID"`
	Query  string `query:"q" maxLength:"500" doc:"Search query"`
	Type   string `query:"type" doc:"Block type filter, e.g. heading"`
	Limit  int    `query:"limit" minimum:"0" maximum:"100" doc:"Maximum hits (default 20)"`
	Offset int    `query:"offset" minimum:"0" doc:"Hit offset"`
}

// SearchAllInput contains parameters for searching every job.
type SearchAllInput struct {
	Query  string `query:"q" maxLength:"500" doc:"Search query"`
	Type   string `query:"type" doc:"Block type filter, e.g. heading"`
	Limit  int    `query:"limit" minimum:"0" maximum:"100" doc:"Maximum hits (default 20)"`
	Offset int    `query:"offset" minimum:"0" doc:"Hit offset"`
}

// SearchOutput wraps search results for Huma.
type SearchOutput struct {
	Body *search.SearchResult
}

// === Handlers ===

func (s *Server) handleSearchJob(ctx context.Context, input *SearchJobInput) (*SearchOutput, error) {
	return s.search(ctx, search.SearchParams{
		Query:  input.Query,
		JobID:  input.ID,
		Type:   input.Type,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
}

func (s *Server) handleSearchAll(ctx context.Context, input *SearchAllInput) (*SearchOutput, error) {
	return s.search(ctx, search.SearchParams{
		Query:  input.Query,
		Type:   input.Type,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
}

func (s *Server) search(ctx context.Context, params search.SearchParams) (*SearchOutput, error) {
	if s.services.Search == nil {
		return nil, domainerrors.Unavailable("search is not configured")
	}
	res, err := s.services.Search.Search(ctx, params)
	if err != nil {
		return nil, err
	}
	if res.Hits == nil {
		res.Hits = []search.SearchHit{}
	}
	return &SearchOutput{Body: res}, nil
}
