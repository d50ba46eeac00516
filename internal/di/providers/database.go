package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/listenupapp/pagesync-server/internal/config"
	"github.com/listenupapp/pagesync-server/internal/logger"
	"github.com/listenupapp/pagesync-server/internal/sse"
	"github.com/listenupapp/pagesync-server/internal/storage"
	"github.com/listenupapp/pagesync-server/internal/store"
	"github.com/listenupapp/pagesync-server/internal/store/sqlite"
)

// SSEManagerHandle wraps the SSE manager with its context for lifecycle management.
type SSEManagerHandle struct {
	*sse.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SSEManagerHandle) Shutdown() error {
	h.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Manager.Shutdown(ctx)
}

// ProvideSSEManager provides the server-sent events manager.
func ProvideSSEManager(i do.Injector) (*SSEManagerHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)

	manager := sse.NewManager(log.Logger)

	// Start in background
	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)

	log.Info("SSE manager started")

	return &SSEManagerHandle{
		Manager: manager,
		cancel:  cancel,
	}, nil
}

// StoreHandle wraps the relational store with shutdown capability.
type StoreHandle struct {
	*sqlite.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the sqlite store holding documents, jobs, syncs and chapters.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	dbPath := cfg.Data.DatabasePath()
	db, err := sqlite.Open(dbPath, log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Database initialized", "path", dbPath)
	return &StoreHandle{Store: db}, nil
}

// SnapshotStoreHandle wraps the badger snapshot store with shutdown capability.
type SnapshotStoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *SnapshotStoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideSnapshotStore provides the key-value store for structure snapshots and alignment runs.
func ProvideSnapshotStore(i do.Injector) (*SnapshotStoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	path := cfg.Data.SnapshotPath()
	kv, err := store.New(path, log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Snapshot store initialized", "path", path)
	return &SnapshotStoreHandle{Store: kv}, nil
}

// ProvideBlobStore provides the file store for uploads and artifacts.
func ProvideBlobStore(i do.Injector) (*storage.FileStore, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	fs, err := storage.New(cfg.Data.BasePath)
	if err != nil {
		return nil, err
	}

	log.Info("Blob storage initialized", "path", cfg.Data.BlobPath())
	return fs, nil
}
