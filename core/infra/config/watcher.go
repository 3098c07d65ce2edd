package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zeebo/blake3"

	"github.com/cyqddx/shuyuan/core/infra/logging"
)

const defaultDebounce = 500 * time.Millisecond

// ReloadMetrics counts reload outcomes. The zero watcher uses a no-op.
type ReloadMetrics interface {
	IncConfigReloads(status string)
}

type noopReloadMetrics struct{}

func (noopReloadMetrics) IncConfigReloads(string) {}

// Watcher drives hot reloads: it watches the configuration file for
// changes, debounces rapid edits, and applies validated candidates to
// the Coordinator. A candidate that fails validation is logged and
// dropped; the active snapshot is never partially updated.
type Watcher struct {
	path     string
	coord    *Coordinator
	debounce time.Duration
	metrics  ReloadMetrics

	fsw      *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	lastHash string
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(path string, coord *Coordinator) *Watcher {
	return &Watcher{
		path:     path,
		coord:    coord,
		debounce: defaultDebounce,
		metrics:  noopReloadMetrics{},
		done:     make(chan struct{}),
	}
}

// SetMetrics wires reload counters. Call before Start.
func (w *Watcher) SetMetrics(m ReloadMetrics) {
	if m != nil {
		w.metrics = m
	}
}

// Start begins watching. The directory is watched rather than the file
// itself so atomic saves (rename-over) are caught.
func (w *Watcher) Start() error {
	if hash, err := contentHash(w.path); err == nil {
		w.lastHash = hash
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return err
	}
	w.wg.Add(1)
	go w.loop()
	logging.Info(component, "watching config", "path", w.path)
	return nil
}

// Stop terminates the watcher and waits for the loop to exit. Safe to
// call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time
	base := filepath.Base(w.path)

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			// Debounce: restart the timer on every event so a burst of
			// rapid edits coalesces into one reload.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC:
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Error(component, "watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	hash, err := contentHash(w.path)
	if err != nil {
		logging.Error(component, "reload read failed", "path", w.path, "error", err)
		return
	}
	if hash == w.lastHash {
		return
	}
	candidate, err := Load(w.path)
	if err != nil {
		logging.Error(component, "reload rejected", "path", w.path, "error", err)
		w.metrics.IncConfigReloads("rejected")
		return
	}
	w.lastHash = hash
	if err := w.coord.Apply(candidate); err != nil {
		logging.Error(component, "reload rejected", "path", w.path, "error", err)
		w.metrics.IncConfigReloads("rejected")
		return
	}
	w.metrics.IncConfigReloads("applied")
	logging.Info(component, "config reloaded", "version", w.coord.Current().Version)
}

func contentHash(path string) (string, error) {
	// #nosec G304 -- config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
