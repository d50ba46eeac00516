package store

import (
	"context"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

// DocumentStore persists source document records.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *domain.Document) error
	GetDocument(ctx context.Context, id int64) (*domain.Document, error)
	GetDocumentBySourceKey(ctx context.Context, key string) (*domain.Document, error)
}

// JobStore persists conversion jobs as whole records.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.ConversionJob) error
	GetJob(ctx context.Context, id int64) (*domain.ConversionJob, error)
	UpdateJob(ctx context.Context, job *domain.ConversionJob) error
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.ConversionJob, int, error)
	// ClaimJob atomically moves a PENDING job to IN_PROGRESS. It returns false
	// when the job is no longer pending.
	ClaimJob(ctx context.Context, id int64, job *domain.ConversionJob) (bool, error)
	PendingJobIDs(ctx context.Context, limit int) ([]int64, error)
	// ResetStalledJobs moves IN_PROGRESS jobs back to PENDING.
	ResetStalledJobs(ctx context.Context) (int, error)
}

// SyncStore persists audio sync records.
type SyncStore interface {
	GetSync(ctx context.Context, id int64) (*domain.AudioSync, error)
	UpdateSync(ctx context.Context, sync *domain.AudioSync) error
	ListSyncs(ctx context.Context, jobID int64) ([]*domain.AudioSync, error)
	// ReplaceGeneratedSyncs deletes the job's system-generated syncs and
	// inserts syncs in one transaction. User-edited syncs are kept.
	ReplaceGeneratedSyncs(ctx context.Context, jobID int64, syncs []*domain.AudioSync) error
}

// ChapterStore persists validated chapter configurations.
type ChapterStore interface {
	SaveChapterConfiguration(ctx context.Context, cfg *domain.ChapterConfiguration) error
	GetChapterConfiguration(ctx context.Context, documentID int64) (*domain.ChapterConfiguration, error)
}

// SnapshotStore persists versioned structure snapshots per job.
type SnapshotStore interface {
	SaveStructure(ctx context.Context, jobID int64, s *structure.Structure) error
	LoadStructure(ctx context.Context, jobID int64) (*structure.Structure, error)
	LoadPages(ctx context.Context, jobID int64) ([]structure.Page, error)
	LoadTOC(ctx context.Context, jobID int64) ([]structure.TOCEntry, error)
	LoadMetadata(ctx context.Context, jobID int64) (structure.Metadata, error)
	DeleteStructure(ctx context.Context, jobID int64) error
}

// RunStore persists alignment run records.
type RunStore interface {
	SaveRun(ctx context.Context, run *domain.AlignmentRun) error
	GetRun(ctx context.Context, id string) (*domain.AlignmentRun, error)
	ListRuns(ctx context.Context, jobID int64) ([]*domain.AlignmentRun, error)
}
