package service

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/sse"
	"github.com/listenupapp/pagesync-server/internal/stages"
	"github.com/listenupapp/pagesync-server/internal/storage"
	"github.com/listenupapp/pagesync-server/internal/store"
	"github.com/listenupapp/pagesync-server/internal/store/sqlite"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

// testEnv bundles real stores rooted in a temp directory.
type testEnv struct {
	db    *sqlite.Store
	kv    *store.Store
	blobs *storage.FileStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := sqlite.Open(filepath.Join(dir, "test.db"), nil)
	require.NoError(t, err)
	kv, err := store.New(filepath.Join(dir, "snapshots"), nil)
	require.NoError(t, err)
	blobs, err := storage.New(dir)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = kv.Close() //nolint:errcheck // Test cleanup
		_ = db.Close() //nolint:errcheck // Test cleanup
	})
	return &testEnv{db: db, kv: kv, blobs: blobs}
}

// createDocument stores fake PDF bytes and registers a document for them.
func (e *testEnv) createDocument(t *testing.T, title string) *domain.Document {
	t.Helper()
	ctx := context.Background()

	key := e.blobs.NewKey("documents", "pdf")
	require.NoError(t, e.blobs.Put(ctx, key, bytes.NewReader([]byte("%PDF-1.7 test"))))

	doc := &domain.Document{
		Title:       title,
		SourceKey:   key,
		ContentType: ContentTypePDF,
		SizeBytes:   13,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, e.db.CreateDocument(ctx, doc))
	return doc
}

// createJob inserts a job for doc and applies mutate before saving.
func (e *testEnv) createJob(t *testing.T, doc *domain.Document, mutate func(*domain.ConversionJob)) *domain.ConversionJob {
	t.Helper()
	job := domain.NewConversionJob(doc.ID, time.Now())
	if mutate != nil {
		mutate(job)
	}
	require.NoError(t, e.db.CreateJob(context.Background(), job))
	return job
}

// completed runs every stage on job so downstream consumers accept it.
func completed(job *domain.ConversionJob) {
	now := time.Now()
	job.MarkRunning(now)
	for i := range domain.Pipeline {
		job.CompleteStage(i, now)
	}
}

// saveStructure stores a snapshot for a job.
func (e *testEnv) saveStructure(t *testing.T, jobID int64, pages ...structure.Page) {
	t.Helper()
	s := structure.New()
	s.Pages = pages
	s.Metadata.Title = "Test Book"
	s.Metadata.PageCount = len(pages)
	require.NoError(t, e.kv.SaveStructure(context.Background(), jobID, s))
}

type stageFunc func(ctx context.Context, in stages.Input) (*stages.Output, error)

type fakeStage struct {
	name domain.StageName
	run  stageFunc
}

func (f *fakeStage) Name() domain.StageName { return f.name }

func (f *fakeStage) Run(ctx context.Context, in stages.Input) (*stages.Output, error) {
	if f.run != nil {
		return f.run(ctx, in)
	}
	return &stages.Output{Structure: in.Structure}, nil
}

// fakePipeline returns nine pass-through stages; the classification stage adds
// one page of text. overrides replaces individual stages.
func fakePipeline(overrides map[domain.StageName]stageFunc) []stages.Descriptor {
	out := make([]stages.Descriptor, len(domain.Pipeline))
	for i, name := range domain.Pipeline {
		st := &fakeStage{name: name}
		if name == domain.StageClassification {
			st.run = func(_ context.Context, in stages.Input) (*stages.Output, error) {
				in.Structure.Metadata.Title = "Test Book"
				in.Structure.Pages = append(in.Structure.Pages,
					structure.NewPage(1, structure.NewTextBlock("blk-1", "Photosynthesis converts light into energy")))
				conf := 0.9
				return &stages.Output{Structure: in.Structure, Confidence: &conf}, nil
			}
		}
		if fn, ok := overrides[name]; ok {
			st.run = fn
		}
		out[i] = stages.Descriptor{Stage: st, ReviewThreshold: 0.5}
	}
	return out
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []sse.Event
}

func (r *recordingEmitter) Emit(e sse.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) count(t sse.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type recordingIndexer struct {
	mu   sync.Mutex
	jobs []int64
}

func (r *recordingIndexer) IndexJob(_ context.Context, job *domain.ConversionJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job.ID)
	return nil
}

func (r *recordingIndexer) indexed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.jobs...)
}
