// Package watch notices images added, removed or rewritten in a workspace
// folder so the progress snapshot can be invalidated.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"borescope/internal/logging"
)

const relevantOps = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

// Watcher reports debounced changes to the images of one folder.
type Watcher struct {
	folder   string
	debounce time.Duration
	isImage  func(name string) bool
	onChange func()
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

// New starts watching folder. onChange runs on the Run goroutine once no
// relevant event has arrived for debounce.
func New(folder string, debounce time.Duration, isImage func(name string) bool, onChange func(), logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(folder); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", folder, err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		folder:   folder,
		debounce: debounce,
		isImage:  isImage,
		onChange: onChange,
		logger:   logging.NewComponentLogger(logger, "watch"),
		watcher:  fw,
	}, nil
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(relevantOps) {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return w.isImage == nil || w.isImage(name)
}

// Run delivers change notifications until ctx is cancelled, then closes
// the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	w.logger.Debug("watching folder", logging.String(logging.FieldFolder, w.folder))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	armed := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if armed && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
			armed = true

		case <-timer.C:
			armed = false
			w.logger.Debug("folder changed", logging.String(logging.FieldFolder, w.folder))
			w.onChange()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(w.logger, "folder watcher error", "watch_error",
				logging.String(logging.FieldFolder, w.folder),
				logging.Error(err),
				logging.String(logging.FieldImpact, "progress counters may be stale until the next refresh"),
			)
		}
	}
}
