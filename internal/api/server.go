// Package api provides the HTTP API server and handlers for the PageSync application.
package api

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/listenupapp/pagesync-server/internal/http/response"
	"github.com/listenupapp/pagesync-server/internal/logger"
	"github.com/listenupapp/pagesync-server/internal/ratelimit"
	"github.com/listenupapp/pagesync-server/internal/sse"
	"github.com/listenupapp/pagesync-server/internal/validation"
)

// Version is reported in the OpenAPI document.
const Version = "1.0.0"

// Options tunes the HTTP surface.
type Options struct {
	CORSOrigins []string
	// RateLimit is requests per second per client IP. Zero disables limiting.
	RateLimit float64
	RateBurst int
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	services    *Services
	db          Pinger
	router      *chi.Mux
	api         huma.API
	validator   *validation.Validator
	sseManager  *sse.Manager
	sseHandler  *sse.Handler
	rateLimiter *ratelimit.KeyedRateLimiter
	logger      *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(services *Services, db Pinger, sseManager *sse.Manager, opts Options, log *slog.Logger) *Server {
	log = logger.OrDiscard(log)

	s := &Server{
		services:   services,
		db:         db,
		router:     chi.NewRouter(),
		validator:  validation.New(),
		sseManager: sseManager,
		logger:     log,
	}
	if sseManager != nil {
		s.sseHandler = sse.NewHandler(sseManager, log)
	}
	if opts.RateLimit > 0 {
		s.rateLimiter = ratelimit.New(opts.RateLimit, opts.RateBurst)
	}

	s.setupMiddleware(opts)

	humaConfig := huma.DefaultConfig("PageSync API", Version)
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases background resources held by the server.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware(opts Options) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:         300,
	}))

	if s.rateLimiter != nil {
		s.router.Use(RateLimitMiddleware(s.rateLimiter, s.logger))
	}

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "no route for "+r.URL.Path, s.logger)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.MethodNotAllowed(w, r.Method+" not allowed on "+r.URL.Path, s.logger)
	})
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.registerHealthRoutes()
	s.registerDocumentRoutes()
	s.registerJobRoutes()
	s.registerChapterRoutes()
	s.registerAlignmentRoutes()
	s.registerSearchRoutes()

	// The event stream is a raw handler; huma does not model SSE.
	if s.sseHandler != nil {
		s.router.Handle("/api/v1/events", s.sseHandler)
	}
}

// validate runs struct validation on a request body.
func (s *Server) validate(body any) error {
	return s.validator.Validate(body)
}
