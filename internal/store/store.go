// Package store holds the storage contracts and the Badger-backed store for
// structure snapshots and alignment runs. Relational records live in
// store/sqlite.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/listenupapp/pagesync-server/internal/logger"
)

// Store wraps a Badger database instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// New opens (or creates) the Badger database at path.
func New(path string, log *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = true
	opts.CompactL0OnClose = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	log = logger.OrDiscard(log)
	log.Info("Badger database opened successfully", "path", path)
	return &Store{db: db, logger: log}, nil
}

// NewInMemory opens a Badger database that lives only in memory.
func NewInMemory(log *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory badger db: %w", err)
	}
	return &Store{db: db, logger: logger.OrDiscard(log)}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger db: %w", err)
	}
	return nil
}

// Ping verifies the database accepts read transactions.
func (s *Store) Ping(_ context.Context) error {
	return s.db.View(func(*badger.Txn) error { return nil })
}
