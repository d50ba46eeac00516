package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/pagesync-server/internal/domain"
	domainerrors "github.com/listenupapp/pagesync-server/internal/errors"
	"github.com/listenupapp/pagesync-server/internal/watcher"
)

type fakeStarter struct {
	mu   sync.Mutex
	docs []int64
}

func (f *fakeStarter) StartJob(_ context.Context, documentID int64) (*domain.ConversionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, documentID)
	job := domain.NewConversionJob(documentID, time.Now())
	job.ID = int64(len(f.docs))
	return job, nil
}

func (f *fakeStarter) started() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.docs...)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInbox_IngestRegistersOnce(t *testing.T) {
	env := newTestEnv(t)
	starter := &fakeStarter{}
	svc := NewInboxService(NewDocumentService(env.db, env.blobs, nil), starter, nil)
	ctx := context.Background()
	dir := t.TempDir()

	path := writeFile(t, dir, "Geology.pdf", "%PDF-1.4 rocks")
	job, err := svc.Ingest(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	doc, err := env.db.GetDocument(ctx, job.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "Geology", doc.Title)

	// Same content under another name is the same document.
	copyPath := writeFile(t, dir, "Geology (1).pdf", "%PDF-1.4 rocks")
	_, err = svc.Ingest(ctx, copyPath)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrConflict))
	assert.Len(t, starter.started(), 1)

	_, err = svc.Ingest(ctx, writeFile(t, dir, "notes.txt", "plain"))
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))
}

func TestInbox_RunConsumesAddedEvents(t *testing.T) {
	env := newTestEnv(t)
	starter := &fakeStarter{}
	svc := NewInboxService(NewDocumentService(env.db, env.blobs, nil), starter, nil)
	dir := t.TempDir()

	events := make(chan watcher.Event, 3)
	events <- watcher.Event{Type: watcher.EventAdded, Path: writeFile(t, dir, "a.pdf", "%PDF a")}
	events <- watcher.Event{Type: watcher.EventRemoved, Path: filepath.Join(dir, "gone.pdf")}
	events <- watcher.Event{Type: watcher.EventAdded, Path: writeFile(t, dir, "b.pdf", "%PDF b")}
	close(events)

	svc.Run(context.Background(), events)

	assert.Len(t, starter.started(), 2)
}

func TestInbox_SweepIngestsExistingFiles(t *testing.T) {
	env := newTestEnv(t)
	starter := &fakeStarter{}
	svc := NewInboxService(NewDocumentService(env.db, env.blobs, nil), starter, nil)
	ctx := context.Background()
	dir := t.TempDir()

	writeFile(t, dir, "a.pdf", "%PDF a")
	writeFile(t, dir, "b.PDF", "%PDF b")
	writeFile(t, dir, "a copy.pdf", "%PDF a")
	writeFile(t, dir, ".hidden.pdf", "%PDF hidden")
	writeFile(t, dir, "notes.txt", "plain")

	n, err := svc.Sweep(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.Sweep(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, starter.started(), 2)
}
