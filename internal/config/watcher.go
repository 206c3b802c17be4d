package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sho7650/media-stage/internal/logger"
)

// DebounceDelay collapses the burst of events an editor save produces.
const DebounceDelay = 100 * time.Millisecond

// WatchForChanges reloads filePath whenever it changes and reports the
// outcome on changeChan until ctx is done. The parent directory is watched
// so editors that replace the file by rename are still seen. An invalid
// file leaves the current configuration in place.
func (cm *ConfigManager) WatchForChanges(ctx context.Context, filePath string, changeChan chan ConfigChangeEvent) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(filePath)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to add watch path %s: %w", filePath, err)
	}

	cm.mutex.Lock()
	cm.watchers[filePath] = changeChan
	cm.mutex.Unlock()

	go cm.watchFile(ctx, watcher, filePath)

	return nil
}

func (cm *ConfigManager) watchFile(ctx context.Context, watcher *fsnotify.Watcher, filePath string) {
	defer func() { _ = watcher.Close() }()

	target := filepath.Clean(filePath)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			cm.mutex.Lock()
			delete(cm.watchers, filePath)
			cm.mutex.Unlock()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(DebounceDelay, func() {
				cm.handleConfigChange(ctx, filePath)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config: watcher error", "component", "config", "path", filePath, "error", err)
		}
	}
}

// handleConfigChange processes configuration file changes
func (cm *ConfigManager) handleConfigChange(ctx context.Context, filePath string) {
	if ctx.Err() != nil {
		return
	}

	cm.mutex.RLock()
	changeChan, exists := cm.watchers[filePath]
	cm.mutex.RUnlock()

	if !exists {
		return
	}

	event := ConfigChangeEvent{Type: EventConfigUpdated, Path: filePath}
	if _, err := cm.LoadFromFile(ctx, filePath); err != nil {
		logger.Warn("config: reload rejected, keeping current configuration", "component", "config", "path", filePath, "error", err)
		event = ConfigChangeEvent{Type: EventConfigError, Path: filePath, Error: err.Error()}
	} else {
		logger.Info("config: reloaded", "component", "config", "path", filePath)
	}

	select {
	case changeChan <- event:
	default:
		logger.Warn("config: change event dropped, receiver is behind", "component", "config", "type", event.Type)
	}
}
