package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/The-Promised-Neverland/rfcomm-mitm/pkg/logger"
)

const defaultDebounce = 300 * time.Millisecond

// Watcher follows a single file. The parent directory is watched instead of
// the file so atomic replaces (write temp, rename over) are still seen.
type Watcher struct {
	path    string
	delay   time.Duration
	fsw     *fsnotify.Watcher
	changes chan Change
}

func New(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:    abs,
		delay:   defaultDebounce,
		fsw:     fsw,
		changes: make(chan Change, 1),
	}, nil
}

func (w *Watcher) Path() string {
	return w.path
}

// SetDebounce changes how long the file must stay quiet before a Change is
// reported. Call before Run.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.delay = d
}

// Changes is closed when Run returns.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Run blocks until ctx ends or the underlying watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.changes)
	defer w.fsw.Close()
	if err := w.fsw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	logger.Log.Info("File watcher started", "path", w.path)
	defer logger.Log.Info("File watcher stopped", "path", w.path)

	timer := time.NewTimer(w.delay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	var pending *Change

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watcher: event stream closed")
			}
			if ev.Name != w.path || isScratch(filepath.Base(ev.Name)) {
				continue
			}
			op, ok := opOf(ev)
			if !ok {
				continue
			}
			if pending == nil {
				pending = &Change{Path: w.path}
			}
			pending.Op = op
			pending.At = time.Now()
			timer.Reset(w.delay)
		case <-timer.C:
			if pending == nil {
				continue
			}
			select {
			case w.changes <- *pending:
			case <-ctx.Done():
				return nil
			}
			pending = nil
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watcher: error stream closed")
			}
			logger.Log.Warn("⚠️ File watcher error", "path", w.path, "err", err)
		}
	}
}
