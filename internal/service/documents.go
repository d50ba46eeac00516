package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/listenupapp/pagesync-server/internal/domain"
	domainerrors "github.com/listenupapp/pagesync-server/internal/errors"
	"github.com/listenupapp/pagesync-server/internal/logger"
	"github.com/listenupapp/pagesync-server/internal/store"
)

// ContentTypePDF is the only source format the extraction stages read.
const ContentTypePDF = "application/pdf"

// UploadRequest describes an uploaded source document.
type UploadRequest struct {
	Title       string
	Filename    string
	ContentType string
	Body        io.Reader
	// Key fixes the storage key. A document already registered under it is a conflict.
	Key string
}

// DocumentService registers source documents.
type DocumentService struct {
	documents store.DocumentStore
	blobs     BlobStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewDocumentService creates a new document service.
func NewDocumentService(documents store.DocumentStore, blobs BlobStore, log *slog.Logger) *DocumentService {
	return &DocumentService{
		documents: documents,
		blobs:     blobs,
		logger:    logger.OrDiscard(log),
		now:       time.Now,
	}
}

// Upload stores the document bytes and registers the record.
func (s *DocumentService) Upload(ctx context.Context, req UploadRequest) (*domain.Document, error) {
	contentType, err := sourceContentType(req.ContentType, req.Filename)
	if err != nil {
		return nil, err
	}
	if req.Body == nil {
		return nil, domainerrors.Validation("document body is required")
	}

	key := req.Key
	if key == "" {
		key = s.blobs.NewKey("documents", "pdf")
	} else if existing, err := s.documents.GetDocumentBySourceKey(ctx, key); err == nil {
		return existing, domainerrors.Conflictf("document %d already registered for %s", existing.ID, key)
	}

	cr := &countingReader{r: req.Body}
	if err := s.blobs.Put(ctx, key, cr); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}
	if cr.n == 0 {
		return nil, domainerrors.Validation("document is empty")
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(req.Filename), filepath.Ext(req.Filename))
	}

	doc := &domain.Document{
		Title:       title,
		SourceKey:   key,
		ContentType: contentType,
		SizeBytes:   cr.n,
		CreatedAt:   s.now(),
	}
	if err := s.documents.CreateDocument(ctx, doc); err != nil {
		return nil, storeError(err, "document", key)
	}

	s.logger.Info("document registered",
		slog.Int64("document_id", doc.ID),
		slog.String("title", doc.Title),
		slog.Int64("size", doc.SizeBytes),
	)
	return doc, nil
}

// Get returns a document by id.
func (s *DocumentService) Get(ctx context.Context, id int64) (*domain.Document, error) {
	doc, err := s.documents.GetDocument(ctx, id)
	if err != nil {
		return nil, storeError(err, "document", id)
	}
	return doc, nil
}

func sourceContentType(contentType, filename string) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ct == ContentTypePDF || strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return ContentTypePDF, nil
	}
	return "", domainerrors.Validationf("unsupported document type %q, only PDF is accepted", contentType)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
