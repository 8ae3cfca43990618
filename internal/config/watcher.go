package config

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Watcher monitors config files for changes using polling.
// It checks each file's modification time and size at a fixed interval
// and calls onChange once per poll in which any file changed.
type Watcher struct {
	paths    []string
	interval time.Duration
	logger   *slog.Logger
	onChange func()
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	started  atomic.Bool
	last     map[string]fileStamp
}

type fileStamp struct {
	mod  time.Time
	size int64
}

// NewWatcher creates a watcher that polls paths for changes.
func NewWatcher(interval time.Duration, logger *slog.Logger, onChange func(), paths ...string) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		paths:    paths,
		interval: interval,
		logger:   logger.With("component", "watcher"),
		onChange: onChange,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		last:     make(map[string]fileStamp, len(paths)),
	}
}

// Start records the current file state and begins polling in a goroutine.
func (w *Watcher) Start() {
	for _, p := range w.paths {
		if st, ok := stat(p); ok {
			w.last[p] = st
		}
	}

	w.started.Store(true)
	go w.poll()
	w.logger.Info("config watcher started", "paths", w.paths, "interval", w.interval)
}

// Stop stops the watcher and waits for the poll loop to exit.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		if w.started.Load() {
			<-w.done
		}
		w.logger.Info("config watcher stopped")
	})
}

func (w *Watcher) poll() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if w.check() && w.onChange != nil {
				w.onChange()
			}
		}
	}
}

func (w *Watcher) check() bool {
	changed := false
	for _, p := range w.paths {
		st, ok := stat(p)
		if !ok {
			w.logger.Warn("config watcher: cannot stat file", "path", p)
			continue
		}
		if prev, seen := w.last[p]; !seen || st.mod.After(prev.mod) || st.size != prev.size {
			w.logger.Info("config file changed", "path", p, "modTime", st.mod)
			w.last[p] = st
			changed = true
		}
	}
	return changed
}

func stat(path string) (fileStamp, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, false
	}
	return fileStamp{mod: info.ModTime(), size: info.Size()}, true
}
