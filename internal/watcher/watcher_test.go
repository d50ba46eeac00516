package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, opts Options) (*Watcher, string) {
	t.Helper()
	w, err := New(nil, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	dir := t.TempDir()
	require.NoError(t, w.Watch(dir))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Start(ctx) //nolint:errcheck // Test goroutine
	return w, dir
}

func TestNew_StopTwice(t *testing.T) {
	w, err := New(nil, Options{})
	require.NoError(t, err)

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

func TestWatcher_ReportsSettledPDF(t *testing.T) {
	w, dir := startWatcher(t, Options{SettleDelay: 50 * time.Millisecond, Extensions: []string{".pdf"}})

	pdf := filepath.Join(dir, "book.pdf")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.7 content"), 0o644))

	select {
	case event := <-w.Events():
		assert.Equal(t, EventAdded, event.Type)
		assert.Equal(t, pdf, event.Path)
		assert.Equal(t, int64(16), event.Size)
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case event := <-w.Events():
		t.Fatalf("unexpected event: %+v", event)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_FileDeletion(t *testing.T) {
	w, err := New(nil, Options{})
	require.NoError(t, err)
	defer w.Stop() //nolint:errcheck // Test cleanup

	dir := t.TempDir()
	file := filepath.Join(dir, "old.pdf")
	require.NoError(t, os.WriteFile(file, []byte("content"), 0o644))
	require.NoError(t, w.Watch(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx) //nolint:errcheck // Test goroutine

	require.NoError(t, os.Remove(file))

	select {
	case event := <-w.Events():
		assert.Equal(t, EventRemoved, event.Type)
		assert.Equal(t, file, event.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for deletion event")
	}
}

func TestWatcher_IgnoreHidden(t *testing.T) {
	w, dir := startWatcher(t, Options{IgnoreHidden: true, SettleDelay: 50 * time.Millisecond})

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.pdf"), []byte("secret"), 0o644))
	normal := filepath.Join(dir, "normal.pdf")
	require.NoError(t, os.WriteFile(normal, []byte("content"), 0o644))

	select {
	case event := <-w.Events():
		assert.Equal(t, normal, event.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case event := <-w.Events():
		t.Fatalf("unexpected event for hidden file: %+v", event)
	case <-time.After(200 * time.Millisecond):
	}
}
