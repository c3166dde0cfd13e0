package rerank

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// adapterWatcher notices adapter weight changes. fsnotify on the
// adapter's directory is the fast path; a poll ticker backstops it for
// filesystems that drop events. Rename-into-place, the promote
// pattern, arrives as Create or Rename on the watched directory.
type adapterWatcher struct {
	path    string
	period  time.Duration
	onEvent func()
	log     *slog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	done    sync.WaitGroup
}

func newAdapterWatcher(path string, period time.Duration, onEvent func(), log *slog.Logger) *adapterWatcher {
	if period <= 0 {
		period = 5 * time.Second
	}
	return &adapterWatcher{
		path:    path,
		period:  period,
		onEvent: onEvent,
		log:     log,
		stopCh:  make(chan struct{}),
	}
}

func (w *adapterWatcher) start() {
	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		if addErr := fsw.Add(filepath.Dir(w.path)); addErr != nil {
			fsw.Close()
			fsw = nil
			err = addErr
		}
	}
	if err != nil {
		w.log.Warn("adapter watcher falling back to polling only",
			slog.String("error", err.Error()))
	}
	w.fsw = fsw

	w.done.Add(1)
	go w.loop()
}

func (w *adapterWatcher) loop() {
	defer w.done.Done()
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.fsw != nil {
		events = w.fsw.Events
		errs = w.fsw.Errors
	}

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.onEvent()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == filepath.Clean(w.path) {
				w.onEvent()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.log.Warn("adapter watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *adapterWatcher) stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	if w.fsw != nil {
		w.fsw.Close()
	}
	w.done.Wait()
}
