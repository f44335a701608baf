package memory

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher rebuilds the index when the append log changes outside this
// process, for example after a git pull merges another run's records.
type Watcher struct {
	store   *Store
	logPath string
	logger  *slog.Logger
	events  chan string
}

func NewWatcher(store *Store, logPath string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		store:   store,
		logPath: logPath,
		logger:  logger,
		events:  make(chan string, 16),
	}
}

// Events reports the paths that triggered a rebuild. Buffered; drops when full.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Start watches the log's directory until ctx is cancelled. Watching the
// directory rather than the file survives the rename-and-recreate that git
// checkout performs.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.logPath)); err != nil {
		fsw.Close()
		return err
	}

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Name != w.logPath {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := w.store.Rebuild(ctx); err != nil {
					w.logger.Error("rebuild after log change failed", "error", err)
					continue
				}
				w.logger.Info("log changed on disk, index rebuilt", "path", ev.Name, "op", ev.Op.String())
				select {
				case w.events <- ev.Name:
				default:
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("log watcher error", "error", err)
			}
		}
	}()
	return nil
}
