package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/store"
)

func TestCreateAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := createTestDocument(t, s, "uploads/a.pdf")
	if doc.ID == 0 {
		t.Fatal("expected ID to be assigned")
	}

	got, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.SourceKey != "uploads/a.pdf" {
		t.Errorf("SourceKey: got %q", got.SourceKey)
	}
	if got.SizeBytes != 2048 {
		t.Errorf("SizeBytes: got %d, want 2048", got.SizeBytes)
	}

	bykey, err := s.GetDocumentBySourceKey(ctx, "uploads/a.pdf")
	if err != nil {
		t.Fatalf("GetDocumentBySourceKey: %v", err)
	}
	if bykey.ID != doc.ID {
		t.Errorf("ID: got %d, want %d", bykey.ID, doc.ID)
	}
}

func TestCreateDocument_DuplicateKey(t *testing.T) {
	s := newTestStore(t)
	createTestDocument(t, s, "uploads/dup.pdf")

	doc := &domain.Document{SourceKey: "uploads/dup.pdf", CreatedAt: time.Now()}
	err := s.CreateDocument(context.Background(), doc)
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDocument(context.Background(), 404)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
