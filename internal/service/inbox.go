package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/listenupapp/pagesync-server/internal/domain"
	domainerrors "github.com/listenupapp/pagesync-server/internal/errors"
	"github.com/listenupapp/pagesync-server/internal/logger"
	"github.com/listenupapp/pagesync-server/internal/watcher"
)

// JobStarter starts conversions. *ConversionService implements it.
type JobStarter interface {
	StartJob(ctx context.Context, documentID int64) (*domain.ConversionJob, error)
}

// InboxService registers PDFs dropped into a watched directory and starts
// a conversion for each.
type InboxService struct {
	documents   *DocumentService
	conversions JobStarter
	logger      *slog.Logger
}

// NewInboxService creates a new inbox service.
func NewInboxService(documents *DocumentService, conversions JobStarter, log *slog.Logger) *InboxService {
	return &InboxService{
		documents:   documents,
		conversions: conversions,
		logger:      logger.OrDiscard(log),
	}
}

// Run consumes watcher events until ctx is done or the event channel closes.
func (s *InboxService) Run(ctx context.Context, events <-chan watcher.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != watcher.EventAdded {
				continue
			}
			if _, err := s.Ingest(ctx, ev.Path); err != nil {
				if domainerrors.Is(err, domainerrors.ErrConflict) {
					s.logger.Debug("inbox file already registered", slog.String("path", ev.Path))
					continue
				}
				s.logger.Error("failed to ingest inbox file", slog.String("path", ev.Path), slog.Any("error", err))
			}
		}
	}
}

// Ingest registers the file at path and starts its conversion. Files are
// keyed by content hash, so the same PDF is only registered once.
func (s *InboxService) Ingest(ctx context.Context, path string) (*domain.ConversionJob, error) {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return nil, domainerrors.Validationf("%s is not a PDF", filepath.Base(path))
	}

	hash, err := hashFile(path)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	doc, err := s.documents.Upload(ctx, UploadRequest{
		Filename:    filepath.Base(path),
		ContentType: ContentTypePDF,
		Body:        f,
		Key:         "inbox/" + hash[:32] + ".pdf",
	})
	if err != nil {
		return nil, err
	}

	job, err := s.conversions.StartJob(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("start conversion for document %d: %w", doc.ID, err)
	}

	s.logger.Info("inbox file queued",
		slog.String("path", path),
		slog.Int64("document_id", doc.ID),
		slog.Int64("job_id", job.ID),
	)
	return job, nil
}

// Sweep ingests every PDF already under dir. Files registered earlier are
// skipped. It returns how many new jobs were started.
func (s *InboxService) Sweep(ctx context.Context, dir string) (int, error) {
	started := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".pdf") || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if _, err := s.Ingest(ctx, path); err != nil {
			if domainerrors.Is(err, domainerrors.ErrConflict) {
				return nil
			}
			s.logger.Warn("failed to ingest inbox file", slog.String("path", path), slog.Any("error", err))
			return nil
		}
		started++
		return nil
	})
	if err != nil {
		return started, fmt.Errorf("sweep %s: %w", dir, err)
	}
	return started, nil
}

// hashFile computes SHA256 hash of a file's contents.
func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
