package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/listenupapp/pagesync-server/internal/errors"
)

func TestDocumentService_Upload(t *testing.T) {
	env := newTestEnv(t)
	svc := NewDocumentService(env.db, env.blobs, nil)
	ctx := context.Background()

	doc, err := svc.Upload(ctx, UploadRequest{
		Filename:    "cell-biology.pdf",
		ContentType: "application/octet-stream",
		Body:        strings.NewReader("%PDF-1.7 body"),
	})
	require.NoError(t, err)
	assert.NotZero(t, doc.ID)
	assert.Equal(t, "cell-biology", doc.Title)
	assert.Equal(t, ContentTypePDF, doc.ContentType)
	assert.Equal(t, int64(13), doc.SizeBytes)

	data, err := env.blobs.ReadAll(ctx, doc.SourceKey)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 body", string(data))

	got, err := svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.SourceKey, got.SourceKey)
}

func TestDocumentService_UploadRejects(t *testing.T) {
	env := newTestEnv(t)
	svc := NewDocumentService(env.db, env.blobs, nil)
	ctx := context.Background()

	_, err := svc.Upload(ctx, UploadRequest{Filename: "notes.docx", ContentType: "application/msword", Body: strings.NewReader("x")})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))

	_, err = svc.Upload(ctx, UploadRequest{Filename: "empty.pdf", Body: strings.NewReader("")})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))

	_, err = svc.Get(ctx, 12345)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))
}

func TestDocumentService_FixedKeyConflict(t *testing.T) {
	env := newTestEnv(t)
	svc := NewDocumentService(env.db, env.blobs, nil)
	ctx := context.Background()

	first, err := svc.Upload(ctx, UploadRequest{Filename: "a.pdf", Body: strings.NewReader("%PDF a"), Key: "inbox/abc.pdf"})
	require.NoError(t, err)

	again, err := svc.Upload(ctx, UploadRequest{Filename: "a.pdf", Body: strings.NewReader("%PDF a"), Key: "inbox/abc.pdf"})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrConflict))
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)
}
