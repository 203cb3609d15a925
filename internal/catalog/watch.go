package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// Watch refreshes the catalog whenever the script root changes on disk.
// Events are debounced so editors writing in several steps trigger one
// refresh. Blocks until ctx is cancelled. In-flight executions keep the
// descriptor they were started with, a refresh never touches them.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(c.root); err != nil {
		return err
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	refresh := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case refresh <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "script root watch error", "error", err)
		case <-refresh:
			if err := c.Refresh(ctx); err != nil {
				slog.ErrorContext(ctx, "catalog refresh failed", "error", err)
			}
		}
	}
}
