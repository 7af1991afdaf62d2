package library

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultSettle = 250 * time.Millisecond

// ChangeFunc receives the full listing after the directory settles
type ChangeFunc func([]Recording)

// Watcher re-lists the library whenever its directory changes.
// Bursts of events (ffmpeg writing, a rename) are coalesced into one callback.
type Watcher struct {
	lib      *Library
	watcher  *fsnotify.Watcher
	settle   time.Duration
	onChange ChangeFunc

	done     chan struct{}
	stopOnce sync.Once

	timerMu sync.Mutex
	timer   *time.Timer
}

// NewWatcher creates a watcher over lib's directory. settle defaults to 250ms.
func NewWatcher(lib *Library, settle time.Duration, onChange ChangeFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if settle <= 0 {
		settle = defaultSettle
	}

	return &Watcher{
		lib:      lib,
		watcher:  fsw,
		settle:   settle,
		onChange: onChange,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The directory must exist.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.lib.Dir()); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.lib.Dir(), err)
	}

	go w.eventLoop()

	slog.Debug("Library watcher started", "dir", w.lib.Dir())
	return nil
}

// Stop ends the watch and cancels any pending callback
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.timerMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timerMu.Unlock()

		if closeErr := w.watcher.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close watcher: %w", closeErr)
		}
		slog.Debug("Library watcher stopped")
	})
	return err
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.shouldIgnore(event) {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Library watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) shouldIgnore(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return true
	}
	base := filepath.Base(event.Name)
	return strings.HasPrefix(base, ".")
}

// schedule restarts the settle timer
func (w *Watcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.settle, w.emit)
}

func (w *Watcher) emit() {
	select {
	case <-w.done:
		return
	default:
	}

	recordings, err := w.lib.List()
	if err != nil {
		slog.Error("Failed to refresh library", "dir", w.lib.Dir(), "error", err)
		return
	}
	if w.onChange != nil {
		w.onChange(recordings)
	}
}
