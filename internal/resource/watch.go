package resource

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ralphx/ralphx/internal/domain"
	"github.com/ralphx/ralphx/pkg/safego"
)

// Watch starts an fsnotify watch over every <type>/ subdirectory under
// resourcesDir() and triggers a full SyncFromFilesystem whenever a .md file
// is created, written, removed, or renamed. It runs until ctx is canceled.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for _, rtype := range domain.ValidResourceTypes {
		dir := filepath.Join(m.resourcesDir(), string(rtype))
		if err := ensureDir(dir); err != nil {
			watcher.Close()
			return err
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return err
		}
	}

	safego.Go(m.logger, "resource-watch", func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				m.handleWatchEvent(ctx, event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if m.logger != nil {
					m.logger.Error("resource watcher error", zap.Error(err))
				}
			}
		}
	})

	return nil
}

func (m *Manager) handleWatchEvent(ctx context.Context, event fsnotify.Event) {
	if filepath.Ext(event.Name) != ".md" {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	result, err := m.SyncFromFilesystem(ctx)
	if err != nil {
		if m.logger != nil {
			m.logger.Error("resource sync after fs event failed", zap.String("path", event.Name), zap.Error(err))
		}
		return
	}
	if m.logger != nil && (result.Added+result.Updated+result.Removed) > 0 {
		m.logger.Info("resources synced from filesystem event",
			zap.String("path", event.Name),
			zap.Int("added", result.Added), zap.Int("updated", result.Updated), zap.Int("removed", result.Removed))
	}
}
