package templating

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce groups the bursts of events editors produce on save.
const watchDebounce = 100 * time.Millisecond

// Watch reloads the templates whenever a file under a mounted directory
// changes, until ctx is done. It is a development aid: reload failures are
// logged and the previous templates stay live. Directories mounted after Watch
// starts are not watched.
func (tm *TemplateManager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("templating: create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	mounts := tm.Mounts()
	for _, m := range mounts {
		if err = watchTree(watcher, m.Dir); err != nil {
			return fmt.Errorf("templating: watch %s: %w", m.Dir, err)
		}
	}
	tm.logger.Info("Watching templates for changes", "mounts", len(mounts))

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			// New directories are not covered by the existing watches.
			if ev.Has(fsnotify.Create) {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if err = watchTree(watcher, ev.Name); err != nil {
						tm.logger.Warn("Failed to watch new template directory", "dir", ev.Name, "error", err)
					}
				}
			}
			tm.logger.Debug("Template change detected", "event", ev.String())
			timer.Reset(watchDebounce)

		case <-timer.C:
			// ClearCache logs its own failures.
			_ = tm.ClearCache()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			tm.logger.Warn("Template watcher error", "error", err)
		}
	}
}

func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		return nil
	})
}
