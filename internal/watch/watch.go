// Package watch turns filesystem activity below a local source directory
// into debounced "something changed" signals for the daemon loop.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fruitsalade/gallerysync/internal/logging"
)

// DefaultDebounce is how long the tree must be quiet before a change is
// reported.
const DefaultDebounce = 2 * time.Second

// Watcher watches a directory tree recursively.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	debounce time.Duration
	changes  chan struct{}
}

// New creates a watcher on every non-hidden directory below root.
func New(root string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		watcher:  fw,
		root:     filepath.Clean(root),
		debounce: debounce,
		changes:  make(chan struct{}, 1),
	}
	if err := w.addTree(w.root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// Changes delivers one value per quiet period following activity. Signals
// that are not consumed in time are merged.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Run processes events until ctx is done, then releases the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	log := logging.WithContext(ctx)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if hidden(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						log.Warn("cannot watch new directory", zap.String("path", event.Name), zap.Error(err))
					}
				}
			}
			log.Debug("source changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", zap.Error(err))

		case <-timer.C:
			select {
			case w.changes <- struct{}{}:
			default:
			}
		}
	}
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && hidden(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
