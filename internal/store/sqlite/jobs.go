package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/store"
)

// jobColumns is the ordered list of columns selected in job queries.
// Must match the scan order in scanJob.
const jobColumns = `id, document_id, status, current_step, progress_percentage, attempt,
	confidence_score, stage_confidences, requires_review, review_reason, reviewed_by, reviewed_at,
	error_message, error_kind, artifact_key, created_at, updated_at, started_at, completed_at`

func scanJob(scanner interface{ Scan(dest ...any) error }) (*domain.ConversionJob, error) {
	var (
		job              domain.ConversionJob
		status           string
		currentStep      sql.NullString
		confidence       sql.NullFloat64
		stageConfidences string
		requiresReview   int
		reviewReason     sql.NullString
		reviewedBy       sql.NullString
		reviewedAt       sql.NullString
		errorMessage     sql.NullString
		errorKind        sql.NullString
		artifactKey      sql.NullString
		createdAt        string
		updatedAt        string
		startedAt        sql.NullString
		completedAt      sql.NullString
	)

	err := scanner.Scan(
		&job.ID,
		&job.DocumentID,
		&status,
		&currentStep,
		&job.ProgressPercentage,
		&job.Attempt,
		&confidence,
		&stageConfidences,
		&requiresReview,
		&reviewReason,
		&reviewedBy,
		&reviewedAt,
		&errorMessage,
		&errorKind,
		&artifactKey,
		&createdAt,
		&updatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = domain.JobStatus(status)
	if currentStep.Valid {
		step := domain.StageName(currentStep.String)
		job.CurrentStep = &step
	}
	if confidence.Valid {
		c := confidence.Float64
		job.ConfidenceScore = &c
	}
	if stageConfidences != "" && stageConfidences != "{}" {
		if err := json.Unmarshal([]byte(stageConfidences), &job.StageConfidences); err != nil {
			return nil, fmt.Errorf("decode stage confidences: %w", err)
		}
	}
	job.RequiresReview = requiresReview != 0
	job.ReviewReason = reviewReason.String
	job.ReviewedBy = reviewedBy.String
	job.ErrorMessage = errorMessage.String
	job.ErrorKind = domain.ErrorKind(errorKind.String)
	job.ArtifactKey = artifactKey.String

	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if job.ReviewedAt, err = parseNullableTime(reviewedAt); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseNullableTime(startedAt); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, err
	}
	return &job, nil
}

// jobArgs returns the mutable columns in the order used by INSERT and UPDATE.
func jobArgs(job *domain.ConversionJob) ([]any, error) {
	confidences := "{}"
	if len(job.StageConfidences) > 0 {
		data, err := json.Marshal(job.StageConfidences)
		if err != nil {
			return nil, fmt.Errorf("encode stage confidences: %w", err)
		}
		confidences = string(data)
	}
	var step sql.NullString
	if job.CurrentStep != nil {
		step = nullString(string(*job.CurrentStep))
	}
	return []any{
		job.DocumentID,
		string(job.Status),
		step,
		job.ProgressPercentage,
		job.Attempt,
		nullFloat(job.ConfidenceScore),
		confidences,
		boolToInt(job.RequiresReview),
		nullString(job.ReviewReason),
		nullString(job.ReviewedBy),
		nullTimeString(job.ReviewedAt),
		nullString(job.ErrorMessage),
		nullString(string(job.ErrorKind)),
		nullString(job.ArtifactKey),
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
		nullTimeString(job.StartedAt),
		nullTimeString(job.CompletedAt),
	}, nil
}

const jobUpdateSet = `document_id = ?, status = ?, current_step = ?, progress_percentage = ?, attempt = ?,
	confidence_score = ?, stage_confidences = ?, requires_review = ?, review_reason = ?, reviewed_by = ?,
	reviewed_at = ?, error_message = ?, error_kind = ?, artifact_key = ?, created_at = ?, updated_at = ?,
	started_at = ?, completed_at = ?`

// CreateJob inserts job and sets its ID.
func (s *Store) CreateJob(ctx context.Context, job *domain.ConversionJob) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversion_jobs (
			document_id, status, current_step, progress_percentage, attempt,
			confidence_score, stage_confidences, requires_review, review_reason, reviewed_by,
			reviewed_at, error_message, error_kind, artifact_key, created_at, updated_at,
			started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return err
	}
	job.ID, err = res.LastInsertId()
	return err
}

// GetJob retrieves a job by ID.
// Returns store.ErrNotFound if the job does not exist.
func (s *Store) GetJob(ctx context.Context, id int64) (*domain.ConversionJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM conversion_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return job, err
}

// UpdateJob performs a full row update (last write wins).
// Returns store.ErrNotFound if the job does not exist.
func (s *Store) UpdateJob(ctx context.Context, job *domain.ConversionJob) error {
	args, err := jobArgs(job)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversion_jobs SET `+jobUpdateSet+` WHERE id = ?`, append(args, job.ID)...)
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

// ClaimJob writes job only if the stored row is still PENDING.
func (s *Store) ClaimJob(ctx context.Context, id int64, job *domain.ConversionJob) (bool, error) {
	args, err := jobArgs(job)
	if err != nil {
		return false, err
	}
	args = append(args, id, string(domain.JobStatusPending))
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversion_jobs SET `+jobUpdateSet+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListJobs returns jobs matching filter, newest first, plus the unpaged total.
func (s *Store) ListJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.ConversionJob, int, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.RequiresReview != nil {
		where = append(where, "requires_review = ?")
		args = append(args, boolToInt(*filter.RequiresReview))
	}
	if filter.DocumentID != 0 {
		where = append(where, "document_id = ?")
		args = append(args, filter.DocumentID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversion_jobs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + jobColumns + ` FROM conversion_jobs` + clause + ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []*domain.ConversionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// PendingJobIDs returns up to limit PENDING job ids, oldest first.
func (s *Store) PendingJobIDs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM conversion_jobs WHERE status = ? ORDER BY id ASC LIMIT ?`,
		string(domain.JobStatusPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResetStalledJobs moves jobs left IN_PROGRESS by a previous process back to PENDING.
func (s *Store) ResetStalledJobs(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversion_jobs SET status = ? WHERE status = ?`,
		string(domain.JobStatusPending), string(domain.JobStatusInProgress))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
