package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gravis-app/ragcore/internal/session"
)

// sideSuffixes are SQLite companion files whose writes count as a change
// to the database itself.
var sideSuffixes = []string{"-wal", "-journal", "-shm"}

// ChangeFunc handles one debounced batch. Errors are logged and watching
// continues.
type ChangeFunc func(ctx context.Context, events []FileEvent) error

// Watcher reports changes to a fixed set of files.
type Watcher struct {
	files map[string]string // base name -> absolute path, side files included
	paths []string
	dirs  []string
	opts  Options
}

// New prepares a watcher for paths. The files need not exist yet.
func New(paths []string, opts Options) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no paths to watch")
	}
	w := &Watcher{files: make(map[string]string), opts: opts.WithDefaults()}
	seenDir := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve absolute path: %w", err)
		}
		w.paths = append(w.paths, abs)
		base := filepath.Base(abs)
		w.files[base] = abs
		// Any path may be a SQLite database, whatever its extension.
		for _, s := range sideSuffixes {
			w.files[base+s] = abs
		}
		if dir := filepath.Dir(abs); !seenDir[dir] {
			seenDir[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}
	return w, nil
}

// Paths returns the watched files.
func (w *Watcher) Paths() []string { return w.paths }

// Run watches until ctx is cancelled, calling onChange for every debounced
// batch. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context, onChange ChangeFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	deb := NewDebouncer(w.opts.DebounceWindow)
	defer deb.Stop()

	go func() {
		for batch := range deb.Output() {
			if err := onChange(ctx, batch); err != nil {
				slog.Warn("watch_handler_failed",
					slog.Int("events", len(batch)),
					slog.String("error", err.Error()))
			}
		}
	}()

	if !w.opts.ForcePolling {
		fsw, err := w.newFsnotify()
		if err == nil {
			defer func() { _ = fsw.Close() }()
			slog.Debug("watch_started", slog.String("mode", "fsnotify"), slog.Any("paths", w.paths))
			w.loop(ctx, fsw, deb)
			return nil
		}
		slog.Warn("fsnotify_unavailable_polling", slog.String("error", err.Error()))
	}

	slog.Debug("watch_started", slog.String("mode", "polling"), slog.Any("paths", w.paths))
	newPoller(w.pollTargets(), w.opts.PollInterval).run(ctx, deb.Add)
	return nil
}

// pollTargets maps every file to stat, side files included, to the watched
// path it belongs to.
func (w *Watcher) pollTargets() map[string]string {
	targets := make(map[string]string, len(w.files))
	for base, path := range w.files {
		targets[filepath.Join(filepath.Dir(path), base)] = path
	}
	return targets
}

func (w *Watcher) newFsnotify() (*fsnotify.Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range w.dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return fsw, nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, deb *Debouncer) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if fe, ok := w.translate(ev); ok {
				deb.Add(fe)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) translate(ev fsnotify.Event) (FileEvent, bool) {
	path, ok := w.files[filepath.Base(ev.Name)]
	if !ok || filepath.Dir(path) != filepath.Dir(ev.Name) {
		return FileEvent{}, false
	}
	fe := FileEvent{Path: path, Timestamp: time.Now()}
	side := filepath.Base(ev.Name) != filepath.Base(path)
	switch {
	case side:
		// A vanished WAL means a checkpoint, which is still a write.
		fe.Operation = OpModify
	case ev.Has(fsnotify.Create):
		fe.Operation = OpCreate
	case ev.Has(fsnotify.Write):
		fe.Operation = OpModify
	case ev.Has(fsnotify.Remove):
		fe.Operation = OpDelete
	case ev.Has(fsnotify.Rename):
		fe.Operation = OpRename
	default:
		return FileEvent{}, false
	}
	return fe, true
}

// ReloadSession rebuilds the session snapshot when the corpus version
// moved. A failed reload keeps the current snapshot.
func ReloadSession(sess *session.Session) ChangeFunc {
	return func(ctx context.Context, events []FileEvent) error {
		changed, err := sess.Reload(ctx)
		if err != nil {
			return fmt.Errorf("reload snapshot: %w", err)
		}
		slog.Info("corpus_change_handled",
			slog.Int("events", len(events)),
			slog.Bool("rebuilt", changed))
		return nil
	}
}
