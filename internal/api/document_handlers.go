package api

import (
	"bytes"
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/service"
)

func (s *Server) registerDocumentRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "uploadDocument",
		Method:        http.MethodPost,
		Path:          "/api/v1/documents",
		Summary:       "Upload document",
		Description:   "Stores the raw PDF request body and registers a document. Set start=true to queue a conversion right away.",
		Tags:          []string{"Documents"},
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  MaxUploadSize,
	}, s.handleUploadDocument)

	huma.Register(s.api, huma.Operation{
		OperationID: "getDocument",
		Method:      http.MethodGet,
		Path:        "/api/v1/documents/{id}",
		Summary:     "Get document",
		Description: "Returns a registered document",
		Tags:        []string{"Documents"},
	}, s.handleGetDocument)
}

// === DTOs ===

// UploadDocumentInput carries the raw document bytes.
type UploadDocumentInput struct {
	ContentType string `header:"Content-Type" doc:"MIME type of the body, e.g. application/pdf"`
	Title       string `query:"title" maxLength:"500" doc:"Document title; defaults to the file name"`
	Filename    string `query:"filename" maxLength:"255" doc:"Original file name"`
	Start       bool   `query:"start" doc:"Start a conversion job after upload"`
	RawBody     []byte
}

// DocumentResponse contains document data in API responses.
type DocumentResponse struct {
	Document *domain.Document      `json:"document" doc:"Registered document"`
	Job      *domain.ConversionJob `json:"job,omitempty" doc:"Conversion job started with the upload"`
}

// DocumentOutput wraps the document response for Huma.
type DocumentOutput struct {
	Body DocumentResponse
}

// GetDocumentInput contains parameters for getting a document.
type GetDocumentInput struct {
	ID int64 `path:"id" minimum:"1" doc:"Document ID"`
}

// === Handlers ===

func (s *Server) handleUploadDocument(ctx context.Context, input *UploadDocumentInput) (*DocumentOutput, error) {
	doc, err := s.services.Document.Upload(ctx, service.UploadRequest{
		Title:       input.Title,
		Filename:    input.Filename,
		ContentType: input.ContentType,
		Body:        bytes.NewReader(input.RawBody),
	})
	if err != nil {
		return nil, err
	}

	resp := DocumentResponse{Document: doc}
	if input.Start {
		job, err := s.services.Conversion.StartJob(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		resp.Job = job
	}

	return &DocumentOutput{Body: resp}, nil
}

func (s *Server) handleGetDocument(ctx context.Context, input *GetDocumentInput) (*DocumentOutput, error) {
	doc, err := s.services.Document.Get(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &DocumentOutput{Body: DocumentResponse{Document: doc}}, nil
}
