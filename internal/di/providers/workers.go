package providers

import (
	"context"
	"os"

	"github.com/samber/do/v2"

	"github.com/listenupapp/pagesync-server/internal/config"
	"github.com/listenupapp/pagesync-server/internal/logger"
	"github.com/listenupapp/pagesync-server/internal/service"
	"github.com/listenupapp/pagesync-server/internal/watcher"
)

// InboxWatcherHandle wraps the inbox file watcher with shutdown capability.
// Watcher is nil when no inbox directory is configured.
type InboxWatcherHandle struct {
	*watcher.Watcher
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *InboxWatcherHandle) Shutdown() error {
	if h.Watcher == nil {
		return nil
	}
	h.cancel()
	return h.Watcher.Stop()
}

// ProvideInboxWatcher watches the inbox directory and feeds new PDFs to the inbox service.
func ProvideInboxWatcher(i do.Injector) (*InboxWatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Inbox.Path == "" {
		log.Info("Inbox watching disabled")
		return &InboxWatcherHandle{}, nil
	}

	inbox := do.MustInvoke[*service.InboxService](i)

	if err := os.MkdirAll(cfg.Inbox.Path, 0o755); err != nil {
		return nil, err
	}

	w, err := watcher.New(log.Logger, watcher.Options{
		Extensions:   []string{".pdf"},
		SettleDelay:  cfg.Inbox.Debounce,
		IgnoreHidden: true,
	})
	if err != nil {
		return nil, err
	}
	if err := w.Watch(cfg.Inbox.Path); err != nil {
		_ = w.Stop() //nolint:errcheck // Already failing
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := w.Start(ctx); err != nil {
			log.Error("Inbox watcher error", "error", err)
		}
	}()
	go inbox.Run(ctx, w.Events())
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				log.Warn("Inbox watcher reported error", "error", err)
			}
		}
	}()

	// Files dropped while the server was down.
	go func() {
		n, err := inbox.Sweep(ctx, cfg.Inbox.Path)
		if err != nil {
			log.WithError(err).Warn("Inbox sweep failed")
			return
		}
		log.Info("Inbox sweep completed", "queued", n)
	}()

	log.WithField("path", cfg.Inbox.Path).Info("Inbox watcher started")

	return &InboxWatcherHandle{Watcher: w, cancel: cancel}, nil
}
