package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/pagesync-server/internal/chapters"
	"github.com/listenupapp/pagesync-server/internal/domain"
)

func (s *Server) registerChapterRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "detectChapters",
		Method:      http.MethodPost,
		Path:        "/api/v1/jobs/{id}/chapters/detect",
		Summary:     "Detect chapters",
		Description: "Detects chapter boundaries in the structure of a job. The job must be completed, or paused for review after semantic structuring.",
		Tags:        []string{"Chapters"},
	}, s.handleDetectChapters)

	huma.Register(s.api, huma.Operation{
		OperationID: "validateChapters",
		Method:      http.MethodPost,
		Path:        "/api/v1/chapters/validate",
		Summary:     "Validate chapters",
		Description: "Checks a chapter configuration without saving it",
		Tags:        []string{"Chapters"},
	}, s.handleValidateChapters)

	huma.Register(s.api, huma.Operation{
		OperationID: "generateChapters",
		Method:      http.MethodPost,
		Path:        "/api/v1/chapters/generate",
		Summary:     "Generate chapters",
		Description: "Splits a page range into equal chapters",
		Tags:        []string{"Chapters"},
	}, s.handleGenerateChapters)

	huma.Register(s.api, huma.Operation{
		OperationID: "getDocumentChapters",
		Method:      http.MethodGet,
		Path:        "/api/v1/documents/{id}/chapters",
		Summary:     "Get chapters",
		Description: "Returns the saved chapter configuration of a document",
		Tags:        []string{"Chapters"},
	}, s.handleGetDocumentChapters)

	huma.Register(s.api, huma.Operation{
		OperationID: "saveDocumentChapters",
		Method:      http.MethodPut,
		Path:        "/api/v1/documents/{id}/chapters",
		Summary:     "Save chapters",
		Description: "Validates and saves the chapter configuration of a document. Invalid configurations leave the stored one untouched.",
		Tags:        []string{"Chapters"},
	}, s.handleSaveDocumentChapters)
}

// === DTOs ===

// DetectChaptersInput contains parameters for chapter detection.
type DetectChaptersInput struct {
	ID       int64  `path:"id" minimum:"1" doc:"Job ID"`
	Strategy string `query:"strategy" enum:"heuristic,ai,hybrid" doc:"Detection strategy (default heuristic)"`
}

// DetectChaptersOutput wraps the detection result for Huma.
type DetectChaptersOutput struct {
	Body *chapters.DetectionResult
}

// ChapterRequest is one chapter in a request body.
type ChapterRequest struct {
	Title     string `json:"title" validate:"required,max=500" doc:"Chapter title"`
	StartPage int    `json:"start_page" doc:"First page, 1-based"`
	EndPage   int    `json:"end_page" doc:"Last page, inclusive"`
}

// ChapterListRequest is the request body for validating or saving chapters.
type ChapterListRequest struct {
	Chapters   []ChapterRequest `json:"chapters" validate:"dive" doc:"Chapters in page order"`
	TotalPages int              `json:"total_pages" validate:"gte=0" doc:"Page count of the document"`
}

// ValidateChaptersInput wraps the validate request for Huma.
type ValidateChaptersInput struct {
	Body ChapterListRequest
}

// ValidateChaptersOutput wraps the validation result for Huma.
type ValidateChaptersOutput struct {
	Body chapters.ValidationResult
}

// GenerateChaptersRequest is the request body for generating chapters.
type GenerateChaptersRequest struct {
	TotalPages      int `json:"total_pages" validate:"required,gt=0" doc:"Page count to split"`
	PagesPerChapter int `json:"pages_per_chapter" validate:"required,gt=0" doc:"Pages in each chapter"`
}

// GenerateChaptersInput wraps the generate request for Huma.
type GenerateChaptersInput struct {
	Body GenerateChaptersRequest
}

// ChapterListResponse contains a generated chapter list.
type ChapterListResponse struct {
	Chapters []domain.Chapter `json:"chapters" doc:"Generated chapters"`
}

// GenerateChaptersOutput wraps the generated chapters for Huma.
type GenerateChaptersOutput struct {
	Body ChapterListResponse
}

// DocumentChaptersInput identifies a document by path.
type DocumentChaptersInput struct {
	ID int64 `path:"id" minimum:"1" doc:"Document ID"`
}

// SaveChaptersInput wraps the save request for Huma.
type SaveChaptersInput struct {
	ID   int64 `path:"id" minimum:"1" doc:"Document ID"`
	Body ChapterListRequest
}

// ChapterConfigurationResponse contains a saved configuration and its validation.
type ChapterConfigurationResponse struct {
	Configuration *domain.ChapterConfiguration `json:"configuration" doc:"Saved configuration"`
	Validation    *chapters.ValidationResult   `json:"validation,omitempty" doc:"Validation outcome, including warnings"`
}

// ChapterConfigurationOutput wraps the configuration response for Huma.
type ChapterConfigurationOutput struct {
	Body ChapterConfigurationResponse
}

// === Handlers ===

func (s *Server) handleDetectChapters(ctx context.Context, input *DetectChaptersInput) (*DetectChaptersOutput, error) {
	res, err := s.services.Chapter.Detect(ctx, input.ID, chapters.Strategy(input.Strategy))
	if err != nil {
		return nil, err
	}
	return &DetectChaptersOutput{Body: res}, nil
}

func (s *Server) handleValidateChapters(_ context.Context, input *ValidateChaptersInput) (*ValidateChaptersOutput, error) {
	if err := s.validate(input.Body); err != nil {
		return nil, err
	}
	res := s.services.Chapter.Validate(toDomainChapters(input.Body.Chapters), input.Body.TotalPages)
	return &ValidateChaptersOutput{Body: res}, nil
}

func (s *Server) handleGenerateChapters(_ context.Context, input *GenerateChaptersInput) (*GenerateChaptersOutput, error) {
	if err := s.validate(input.Body); err != nil {
		return nil, err
	}
	list, err := s.services.Chapter.Generate(input.Body.TotalPages, input.Body.PagesPerChapter)
	if err != nil {
		return nil, err
	}
	return &GenerateChaptersOutput{Body: ChapterListResponse{Chapters: list}}, nil
}

func (s *Server) handleGetDocumentChapters(ctx context.Context, input *DocumentChaptersInput) (*ChapterConfigurationOutput, error) {
	cfg, err := s.services.Chapter.Get(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &ChapterConfigurationOutput{Body: ChapterConfigurationResponse{Configuration: cfg}}, nil
}

func (s *Server) handleSaveDocumentChapters(ctx context.Context, input *SaveChaptersInput) (*ChapterConfigurationOutput, error) {
	if err := s.validate(input.Body); err != nil {
		return nil, err
	}
	cfg, res, err := s.services.Chapter.Save(ctx, input.ID, toDomainChapters(input.Body.Chapters), input.Body.TotalPages)
	if err != nil {
		return nil, err
	}
	return &ChapterConfigurationOutput{
		Body: ChapterConfigurationResponse{Configuration: cfg, Validation: res},
	}, nil
}

func toDomainChapters(in []ChapterRequest) []domain.Chapter {
	out := make([]domain.Chapter, len(in))
	for i, c := range in {
		out[i] = domain.Chapter{Title: c.Title, StartPage: c.StartPage, EndPage: c.EndPage}
	}
	return out
}
