package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/listenupapp/pagesync-server/internal/ai"
	"github.com/listenupapp/pagesync-server/internal/chapters"
	"github.com/listenupapp/pagesync-server/internal/config"
	"github.com/listenupapp/pagesync-server/internal/extract"
	"github.com/listenupapp/pagesync-server/internal/logger"
	"github.com/listenupapp/pagesync-server/internal/narration"
	"github.com/listenupapp/pagesync-server/internal/service"
	"github.com/listenupapp/pagesync-server/internal/stages"
	"github.com/listenupapp/pagesync-server/internal/storage"
)

// ClassifierHandle holds the AI collaborator. Without credentials it is ai.Noop.
type ClassifierHandle struct {
	ai.Classifier
	close func()
}

// Shutdown implements do.Shutdownable.
func (h *ClassifierHandle) Shutdown() error {
	if h.close != nil {
		h.close()
	}
	return nil
}

// ProvideClassifier provides the AI classifier.
func ProvideClassifier(i do.Injector) (*ClassifierHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if !cfg.AI.Enabled() {
		log.Info("AI classification disabled, heuristics only")
		return &ClassifierHandle{Classifier: ai.Noop{}}, nil
	}

	g, err := ai.NewGemini(context.Background(), ai.GeminiConfig{
		APIKey:            cfg.AI.APIKey,
		Model:             cfg.AI.Model,
		RequestsPerSecond: cfg.AI.RequestsPerSecond,
		Burst:             cfg.AI.Burst,
		Timeout:           cfg.AI.Timeout,
	}, log.Logger)
	if err != nil {
		// Non-fatal: every AI-assisted path has a heuristic fallback.
		log.WithError(err).Warn("AI classifier unavailable, heuristics only")
		return &ClassifierHandle{Classifier: ai.Noop{}}, nil
	}

	log.Info("AI classifier ready", "provider", cfg.AI.Provider, "model", cfg.AI.Model)
	return &ClassifierHandle{Classifier: g, close: g.Close}, nil
}

// ProvidePipeline provides the nine conversion stages in pipeline order.
func ProvidePipeline(i do.Injector) ([]stages.Descriptor, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	classifier := do.MustInvoke[*ClassifierHandle](i)
	blobs := do.MustInvoke[*storage.FileStore](i)

	list := []stages.Stage{
		stages.NewClassification(),
		stages.NewTextExtraction(),
		stages.NewLayoutAnalysis(),
		stages.NewSemanticStructuring(classifier.Classifier, chapters.DefaultOptions(), log.Logger),
		stages.NewAccessibility(classifier.Classifier, log.Logger),
		stages.NewContentCleanup(),
		stages.NewSpecialContent(),
		stages.NewEPUBGeneration(nil, blobs),
		stages.NewQAReview(cfg.Conversion.QAThreshold),
	}

	out := make([]stages.Descriptor, len(list))
	for n, st := range list {
		out[n] = stages.Descriptor{Stage: st, ReviewThreshold: cfg.Conversion.ReviewThreshold}
	}
	return out, nil
}

// ConversionServiceHandle wraps the conversion orchestrator with shutdown capability.
type ConversionServiceHandle struct {
	*service.ConversionService
}

// Shutdown implements do.Shutdownable.
func (h *ConversionServiceHandle) Shutdown() error {
	h.Stop()
	return nil
}

// ProvideConversionService provides the conversion orchestrator and starts its workers.
func ProvideConversionService(i do.Injector) (*ConversionServiceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	snapshots := do.MustInvoke[*SnapshotStoreHandle](i)
	blobs := do.MustInvoke[*storage.FileStore](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	searchService := do.MustInvoke[*service.SearchService](i)
	pipeline := do.MustInvoke[[]stages.Descriptor](i)

	svc, err := service.NewConversionService(service.ConversionDeps{
		Jobs:      storeHandle.Store,
		Documents: storeHandle.Store,
		Snapshots: snapshots.Store,
		Blobs:     blobs,
		Extractor: extract.New(log.Logger),
		Stages:    pipeline,
		Emitter:   sseHandle.Manager,
		Indexer:   searchService,
	}, cfg.Conversion, log.Logger)
	if err != nil {
		return nil, err
	}

	svc.Start()
	log.Info("Conversion service started")

	return &ConversionServiceHandle{ConversionService: svc}, nil
}

// AlignmentServiceHandle wraps the alignment service with shutdown capability.
type AlignmentServiceHandle struct {
	*service.AlignmentService
}

// Shutdown implements do.Shutdownable.
func (h *AlignmentServiceHandle) Shutdown() error {
	h.Stop()
	return nil
}

// ProvideAlignmentService provides the narration alignment service and starts its workers.
func ProvideAlignmentService(i do.Injector) (*AlignmentServiceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	snapshots := do.MustInvoke[*SnapshotStoreHandle](i)
	blobs := do.MustInvoke[*storage.FileStore](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	a := cfg.Alignment
	aligner := narration.NewAligner(narrationConfig(a), a.SampleRate,
		narration.NewFFmpegDecoder(a.FFmpegPath),
		narration.NewMetadataProber(a.Bitrates, log.Logger),
		log.Logger,
	)

	svc := service.NewAlignmentService(service.AlignmentDeps{
		Jobs:      storeHandle.Store,
		Syncs:     storeHandle.Store,
		Runs:      snapshots.Store,
		Snapshots: snapshots.Store,
		Blobs:     blobs,
		Aligner:   aligner,
		Emitter:   sseHandle.Manager,
	}, a.Workers, log.Logger)

	svc.Start()
	log.WithFields(map[string]any{
		"workers": a.Workers,
		"ffmpeg":  a.FFmpegPath,
	}).Info("Alignment service started")

	return &AlignmentServiceHandle{AlignmentService: svc}, nil
}

func narrationConfig(a config.AlignmentConfig) narration.Config {
	return narration.Config{
		TailSeconds:        a.TailSeconds,
		BlockFloorSeconds:  a.BlockFloorSeconds,
		PauseBufferSeconds: a.PauseBufferSeconds,
		SnapWindowSeconds:  a.SnapWindowSeconds,
		EmptyPageSeconds:   a.EmptyPageSeconds,
		Silence: narration.SilenceConfig{
			Window:      a.SilenceWindow,
			Threshold:   a.SilenceThreshold,
			MinDuration: a.MinSilenceSeconds,
		},
	}
}

// ProvideDocumentService provides the document registration service.
func ProvideDocumentService(i do.Injector) (*service.DocumentService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	blobs := do.MustInvoke[*storage.FileStore](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewDocumentService(storeHandle.Store, blobs, log.Logger), nil
}

// ProvideChapterService provides the chapter service.
func ProvideChapterService(i do.Injector) (*service.ChapterService, error) {
	storeHandle := do.MustInvoke[*StoreHandle](i)
	snapshots := do.MustInvoke[*SnapshotStoreHandle](i)
	classifier := do.MustInvoke[*ClassifierHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	detector := chapters.NewDetector(chapters.DefaultOptions(), classifier.Classifier, log.Logger)
	return service.NewChapterService(
		storeHandle.Store,
		storeHandle.Store,
		storeHandle.Store,
		snapshots.Store,
		detector,
		log.Logger,
	), nil
}

// ProvideInboxService provides the inbox ingestion service.
func ProvideInboxService(i do.Injector) (*service.InboxService, error) {
	documents := do.MustInvoke[*service.DocumentService](i)
	conversion := do.MustInvoke[*ConversionServiceHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	return service.NewInboxService(documents, conversion.ConversionService, log.Logger), nil
}
