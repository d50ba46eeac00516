package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/store"
)

// SaveChapterConfiguration upserts the document's chapter set.
func (s *Store) SaveChapterConfiguration(ctx context.Context, cfg *domain.ChapterConfiguration) error {
	data, err := json.Marshal(cfg.Chapters)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chapter_configurations (document_id, chapters, total_pages, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			chapters = excluded.chapters,
			total_pages = excluded.total_pages,
			updated_at = excluded.updated_at`,
		cfg.DocumentID, string(data), cfg.TotalPages, formatTime(cfg.UpdatedAt),
	)
	return err
}

// GetChapterConfiguration returns the stored chapter set for a document.
func (s *Store) GetChapterConfiguration(ctx context.Context, documentID int64) (*domain.ChapterConfiguration, error) {
	var (
		cfg       domain.ChapterConfiguration
		chapters  string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT document_id, chapters, total_pages, updated_at FROM chapter_configurations WHERE document_id = ?`,
		documentID,
	).Scan(&cfg.DocumentID, &chapters, &cfg.TotalPages, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(chapters), &cfg.Chapters); err != nil {
		return nil, err
	}
	if cfg.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &cfg, nil
}
