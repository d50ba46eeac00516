// Package di provides dependency injection configuration for the PageSync server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/pagesync-server/internal/config"
	"github.com/listenupapp/pagesync-server/internal/di/providers"
	"github.com/listenupapp/pagesync-server/internal/logger"
	"github.com/listenupapp/pagesync-server/internal/service"
	"github.com/listenupapp/pagesync-server/internal/stages"
	"github.com/listenupapp/pagesync-server/internal/storage"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Storage layer
	do.Provide(injector, providers.ProvideSSEManager)
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideSnapshotStore)
	do.Provide(injector, providers.ProvideBlobStore)

	// Search layer
	do.Provide(injector, providers.ProvideSearchIndex)
	do.Provide(injector, providers.ProvideSearchService)

	// Conversion pipeline
	do.Provide(injector, providers.ProvideClassifier)
	do.Provide(injector, providers.ProvidePipeline)

	// Business services
	do.Provide(injector, providers.ProvideDocumentService)
	do.Provide(injector, providers.ProvideConversionService)
	do.Provide(injector, providers.ProvideAlignmentService)
	do.Provide(injector, providers.ProvideChapterService)
	do.Provide(injector, providers.ProvideInboxService)

	// Workers
	do.Provide(injector, providers.ProvideInboxWatcher)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services and returns handles for lifecycle management.
// This triggers lazy initialization of all core services.
func Bootstrap(injector *do.RootScope) error {
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.SSEManagerHandle](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)
	_ = do.MustInvoke[*providers.SnapshotStoreHandle](injector)
	_ = do.MustInvoke[*storage.FileStore](injector)
	_ = do.MustInvoke[*providers.SearchIndexHandle](injector)
	_ = do.MustInvoke[*service.SearchService](injector)
	_ = do.MustInvoke[*providers.ClassifierHandle](injector)
	_ = do.MustInvoke[[]stages.Descriptor](injector)

	// Business services
	_ = do.MustInvoke[*service.DocumentService](injector)
	_ = do.MustInvoke[*providers.ConversionServiceHandle](injector)
	_ = do.MustInvoke[*providers.AlignmentServiceHandle](injector)
	_ = do.MustInvoke[*service.ChapterService](injector)
	_ = do.MustInvoke[*service.InboxService](injector)

	// Workers
	_ = do.MustInvoke[*providers.InboxWatcherHandle](injector)

	// Server
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	// Trigger search reindex if needed
	providers.TriggerSearchReindexIfNeeded(injector)

	return nil
}
