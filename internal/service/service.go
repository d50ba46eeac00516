// Package service holds the application services: conversion orchestration,
// narration alignment, chapter management, document intake and search.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/listenupapp/pagesync-server/internal/domain"
	domainerrors "github.com/listenupapp/pagesync-server/internal/errors"
	"github.com/listenupapp/pagesync-server/internal/sse"
	"github.com/listenupapp/pagesync-server/internal/store"
)

// Emitter publishes progress events. *sse.Manager implements it.
type Emitter interface {
	Emit(event sse.Event)
}

type noopEmitter struct{}

func (noopEmitter) Emit(sse.Event) {}

// BlobStore is the storage collaborator. *storage.FileStore implements it.
type BlobStore interface {
	NewKey(prefix, ext string) string
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	ReadAll(ctx context.Context, key string) ([]byte, error)
	LocalPath(key string) (string, error)
	Exists(key string) bool
	Delete(key string) error
}

// JobIndexer indexes the text of a completed job.
type JobIndexer interface {
	IndexJob(ctx context.Context, job *domain.ConversionJob) error
}

// storeError translates store sentinels into domain errors.
func storeError(err error, kind string, id any) error {
	switch {
	case err == nil:
		return nil
	case domainerrors.Is(err, store.ErrNotFound):
		return domainerrors.NotFoundf("%s %v not found", kind, id)
	case domainerrors.Is(err, store.ErrAlreadyExists):
		return domainerrors.Conflictf("%s %v already exists", kind, id)
	}
	return fmt.Errorf("%s %v: %w", kind, id, err)
}

func jobAttrs(job *domain.ConversionJob) []any {
	attrs := []any{
		slog.Int64("job_id", job.ID),
		slog.Int64("document_id", job.DocumentID),
		slog.String("status", string(job.Status)),
	}
	if job.CurrentStep != nil {
		attrs = append(attrs, slog.String("stage", string(*job.CurrentStep)))
	}
	return attrs
}

// keyedMutex serializes read-modify-write cycles on one job record.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*keyedLock)}
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key int64) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
