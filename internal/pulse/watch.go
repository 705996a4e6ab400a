package pulse

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/maestro-run/maestro/internal/logging"
	"github.com/maestro-run/maestro/internal/state"
)

// Watcher re-renders the pulse document whenever the state file changes
// on disk. The state store writes via rename, so a Create or Write event
// on the file always refers to a complete document.
type Watcher struct {
	statePath string
	syncer    *Syncer
	log       *logging.Logger
}

func NewWatcher(statePath string, store *state.Store, pulsePath string, log *logging.Logger, cfg Config) *Watcher {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Watcher{
		statePath: statePath,
		syncer:    NewSyncer(store, pulsePath, log, cfg),
		log:       log.WithPhase("watch"),
	}
}

// Run watches until ctx is cancelled. The directory is watched rather
// than the file itself because rename-based writes replace the inode.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.statePath)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.statePath), err)
	}

	// Initial render so the pulse file exists before the first change.
	if err := w.syncer.WritePulse(time.Now()); err != nil {
		w.log.Warn("initial render failed", "err", err.Error())
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.statePath) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := w.syncer.WritePulse(time.Now()); err != nil {
				w.log.Warn("render failed", "err", err.Error())
				continue
			}
			w.log.Info("pulse re-rendered", "event", ev.Op.String())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "err", err.Error())
		}
	}
}
