package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/store"
)

const documentColumns = `id, title, source_key, content_type, size_bytes, created_at`

func scanDocument(scanner interface{ Scan(dest ...any) error }) (*domain.Document, error) {
	var (
		doc       domain.Document
		createdAt string
	)
	err := scanner.Scan(&doc.ID, &doc.Title, &doc.SourceKey, &doc.ContentType, &doc.SizeBytes, &createdAt)
	if err != nil {
		return nil, err
	}
	doc.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// CreateDocument inserts doc and sets its ID.
// Returns store.ErrAlreadyExists when the source key is already registered.
func (s *Store) CreateDocument(ctx context.Context, doc *domain.Document) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (title, source_key, content_type, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		doc.Title, doc.SourceKey, doc.ContentType, doc.SizeBytes, formatTime(doc.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return err
	}
	doc.ID, err = res.LastInsertId()
	return err
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return doc, err
}

// GetDocumentBySourceKey retrieves a document by its storage key.
func (s *Store) GetDocumentBySourceKey(ctx context.Context, key string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE source_key = ?`, key)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return doc, err
}
