// Package watch monitors the workflow source file while a debug
// session is active. The session core cannot re-extract the graph
// itself, so a change is only reported outward; whatever composes the
// system decides whether to prompt for a restart.
package watch

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"graphscope/internal/logging"
)

// SourceWatcher watches one source file for writes. The callback
// fires once the save burst settles: each matching event restarts the
// debounce timer, so a rename-and-replace sequence reports the final
// state once.
type SourceWatcher struct {
	mu         sync.Mutex
	watcher    *fsnotify.Watcher
	sourcePath string
	debounce   time.Duration
	onChange   func(path string)
	stopCh     chan struct{}
	doneCh     chan struct{}
	running    bool
}

// NewSourceWatcher creates a watcher for sourcePath. debounce <= 0
// defaults to 500ms.
func NewSourceWatcher(sourcePath string, debounce time.Duration, onChange func(path string)) (*SourceWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &SourceWatcher{
		watcher:    w,
		sourcePath: filepath.Clean(sourcePath),
		debounce:   debounce,
		onChange:   onChange,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; events are handled on an
// internal goroutine. Watching the parent directory instead of the
// file survives the rename-and-replace save strategy some editors use.
func (w *SourceWatcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.sourcePath)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	go w.loop()
	logging.Get(logging.CategoryWatcher).Info("watching %s", w.sourcePath)
	return nil
}

// Stop halts watching and waits for the event loop to exit.
func (w *SourceWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	_ = w.watcher.Close()
	<-w.doneCh
	logging.Get(logging.CategoryWatcher).Info("watcher stopped")
}

func (w *SourceWatcher) loop() {
	defer close(w.doneCh)

	// The timer is armed on the first matching event and restarted by
	// every further one; the callback fires when the burst settles.
	var settle *time.Timer
	var settleC <-chan time.Time
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.sourcePath {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logging.Get(logging.CategoryWatcher).Debug("source changed: %s (%s)", ev.Name, ev.Op)
			if settle == nil {
				settle = time.NewTimer(w.debounce)
				settleC = settle.C
			} else {
				if !settle.Stop() {
					select {
					case <-settleC:
					default:
					}
				}
				settle.Reset(w.debounce)
			}
		case <-settleC:
			settle = nil
			settleC = nil
			if w.onChange != nil {
				w.onChange(w.sourcePath)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatcher).Warn("watch error: %v", err)
		}
	}
}
