package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/store"
)

const syncColumns = `id, document_id, job_id, page_number, block_id, start_time, end_time,
	audio_key, notes, custom_text, user_edited, created_at, updated_at`

func scanSync(scanner interface{ Scan(dest ...any) error }) (*domain.AudioSync, error) {
	var (
		sync       domain.AudioSync
		blockID    sql.NullString
		notes      sql.NullString
		customText sql.NullString
		userEdited int
		createdAt  string
		updatedAt  string
	)
	err := scanner.Scan(
		&sync.ID,
		&sync.DocumentID,
		&sync.JobID,
		&sync.PageNumber,
		&blockID,
		&sync.StartTime,
		&sync.EndTime,
		&sync.AudioKey,
		&notes,
		&customText,
		&userEdited,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	sync.BlockID = stringPtr(blockID)
	sync.Notes = stringPtr(notes)
	sync.CustomText = stringPtr(customText)
	sync.UserEdited = userEdited != 0
	if sync.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sync.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &sync, nil
}

// GetSync retrieves a sync record by ID.
func (s *Store) GetSync(ctx context.Context, id int64) (*domain.AudioSync, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+syncColumns+` FROM audio_syncs WHERE id = ?`, id)
	sync, err := scanSync(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return sync, err
}

// UpdateSync performs a full row update of an existing sync.
func (s *Store) UpdateSync(ctx context.Context, sync *domain.AudioSync) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audio_syncs SET
			page_number = ?, block_id = ?, start_time = ?, end_time = ?, audio_key = ?,
			notes = ?, custom_text = ?, user_edited = ?, updated_at = ?
		WHERE id = ?`,
		sync.PageNumber,
		nullableString(sync.BlockID),
		sync.StartTime,
		sync.EndTime,
		sync.AudioKey,
		nullableString(sync.Notes),
		nullableString(sync.CustomText),
		boolToInt(sync.UserEdited),
		formatTime(sync.UpdatedAt),
		sync.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListSyncs returns the job's syncs ordered by start time.
func (s *Store) ListSyncs(ctx context.Context, jobID int64) ([]*domain.AudioSync, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+syncColumns+` FROM audio_syncs WHERE job_id = ? ORDER BY start_time ASC, id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var syncs []*domain.AudioSync
	for rows.Next() {
		sync, err := scanSync(rows)
		if err != nil {
			return nil, err
		}
		syncs = append(syncs, sync)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return syncs, nil
}

// ReplaceGeneratedSyncs swaps the job's system-generated syncs for syncs.
// User-edited rows survive. IDs are assigned on the passed records.
func (s *Store) ReplaceGeneratedSyncs(ctx context.Context, jobID int64, syncs []*domain.AudioSync) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM audio_syncs WHERE job_id = ? AND user_edited = 0`, jobID); err != nil {
		return fmt.Errorf("delete generated syncs: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audio_syncs (
			document_id, job_id, page_number, block_id, start_time, end_time,
			audio_key, notes, custom_text, user_edited, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sync := range syncs {
		res, err := stmt.ExecContext(ctx,
			sync.DocumentID,
			jobID,
			sync.PageNumber,
			nullableString(sync.BlockID),
			sync.StartTime,
			sync.EndTime,
			sync.AudioKey,
			nullableString(sync.Notes),
			nullableString(sync.CustomText),
			boolToInt(sync.UserEdited),
			formatTime(sync.CreatedAt),
			formatTime(sync.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert sync for page %d: %w", sync.PageNumber, err)
		}
		if sync.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		sync.JobID = jobID
	}

	return tx.Commit()
}
