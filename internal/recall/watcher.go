package recall

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mindloop/internal/logging"
)

const debounceWindow = 500 * time.Millisecond

// Watcher marks the index stale when another process appends to the Thought
// DB logs, and triggers a rebuild callback after a quiet period. Losing a
// notification only means a slightly staler cache, never wrong answers: the
// logs stay authoritative.
type Watcher struct {
	fs      *fsnotify.Watcher
	rebuild func()

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

// NewWatcher watches the given directories; rebuild runs debounced on change.
func NewWatcher(dirs []string, rebuild func()) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := fs.Add(dir); err != nil {
			logging.Get(logging.CategoryRecall).Warnw("watch failed", "dir", dir, "error", err)
		}
	}
	w := &Watcher{fs: fs, rebuild: rebuild, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.schedule()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryRecall).Warnw("watcher error", "error", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceWindow, w.rebuild)
}

// Close stops the watcher and any pending rebuild.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	w.mu.Unlock()
	return w.fs.Close()
}
