// Package watchconfig hot-reloads a demo CLI's initial-heap-size hint from
// a JSON file, the same way internal/runtime/vfs/watch_fsnotify.go in the
// teacher repo wraps an fsnotify.Watcher behind a small typed API instead
// of exposing raw fsnotify.Event values to callers. This is demo
// scaffolding only: internal/heap and pkg/elheap never import it.
package watchconfig

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
)

// HeapSizeConfig is the on-disk shape the demo CLI watches for.
type HeapSizeConfig struct {
	InitialPages int `json:"initial_pages"`
}

// HeapSizeWatcher emits a new page-count hint whenever the watched file's
// contents change.
type HeapSizeWatcher struct {
	w    *fsnotify.Watcher
	hits chan int
	errs chan error
}

// NewHeapSizeWatcher opens an fsnotify watch directly on path (the same
// fw.Add(name) passthrough the teacher's FSNotifyWatcher.Add uses) and
// starts emitting parsed configs on its channel.
func NewHeapSizeWatcher(path string) (*HeapSizeWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watchconfig: %w", err)
	}

	if err := fw.Add(path); err != nil {
		_ = fw.Close()

		return nil, fmt.Errorf("watchconfig: watch %s: %w", path, err)
	}

	hw := &HeapSizeWatcher{
		w:    fw,
		hits: make(chan int, 4),
		errs: make(chan error, 1),
	}

	go hw.loop(path)

	return hw, nil
}

func (hw *HeapSizeWatcher) loop(path string) {
	for {
		select {
		case ev, ok := <-hw.w.Events:
			if !ok {
				return
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			cfg, err := readConfig(path)
			if err != nil {
				hw.errs <- err

				continue
			}

			hw.hits <- cfg.InitialPages
		case err, ok := <-hw.w.Errors:
			if !ok {
				return
			}

			hw.errs <- err
		}
	}
}

func readConfig(path string) (HeapSizeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return HeapSizeConfig{}, err
	}

	var cfg HeapSizeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return HeapSizeConfig{}, err
	}

	return cfg, nil
}

// Pages yields a new page-count hint each time the watched file changes.
func (hw *HeapSizeWatcher) Pages() <-chan int { return hw.hits }

// Errors yields watch/parse errors.
func (hw *HeapSizeWatcher) Errors() <-chan error { return hw.errs }

// Close stops the watch.
func (hw *HeapSizeWatcher) Close() error {
	return hw.w.Close()
}
