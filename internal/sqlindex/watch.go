package sqlindex

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultQuiet is how long a tree must stay unchanged before Watch rebuilds.
const DefaultQuiet = 2 * time.Second

// Watch rebuilds the index of root whenever a SQL file under it is created,
// written, renamed or removed. Bursts of changes produce one rebuild once
// quiet has passed without further events. Watch blocks until ctx is done.
func Watch(ctx context.Context, ix *Indexer, root string, quiet time.Duration, logger *slog.Logger) error {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := watchTree(w, root); err != nil {
		return err
	}
	logger.Info("watching sql tree", "root", root, "quiet", quiet)

	timer := time.NewTimer(quiet)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := watchTree(w, ev.Name); err != nil {
						logger.Warn("watch new directory", "path", ev.Name, "error", err)
					}
					timer.Reset(quiet)
					continue
				}
			}
			if relevant(ev) {
				logger.Debug("sql tree changed", "path", ev.Name, "op", ev.Op.String())
				timer.Reset(quiet)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)

		case <-timer.C:
			snap, _, err := ix.Load(ctx, root, true)
			if err != nil {
				logger.Error("re-index after change failed", "root", root, "error", err)
				continue
			}
			logger.Info("re-indexed after change", "root", root, "objects", len(snap.Objects))
		}
	}
}

// relevant reports whether ev can change the index: any change to a SQL
// file, or a rename or removal that may have taken a directory with it.
func relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	if strings.EqualFold(filepath.Ext(ev.Name), Extension) {
		return true
	}
	return ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

// watchTree adds root and every directory below it. fsnotify is not
// recursive.
func watchTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("watch %s: %w", root, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
