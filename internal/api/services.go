package api

import (
	"context"

	"github.com/listenupapp/pagesync-server/internal/service"
)

// Services groups all business logic services used by the API server.
// This reduces the parameter count for NewServer and improves testability.
type Services struct {
	Document   *service.DocumentService
	Conversion *service.ConversionService
	Chapter    *service.ChapterService
	Alignment  *service.AlignmentService
	Search     *service.SearchService // nil disables search routes' backing index
}

// Pinger is implemented by stores that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}
