// Copyright 2026 OneAgent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package origin

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/pkg/fault"
)

// ReloadCallback is invoked after a debounced change to the watched file.
type ReloadCallback func(path string)

// Reloader watches one configuration file and fires a callback when it
// changes, so the origin allowlist can be swapped without a restart.
// Editors replace files rather than writing in place, so the parent
// directory is watched and events are filtered by base name.
type Reloader struct {
	path     string
	base     string
	debounce time.Duration
	onChange ReloadCallback
	watcher  *fsnotify.Watcher
	logger   *zap.Logger

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	stopCh  chan struct{}
	doneCh  chan struct{}
	stopMu  sync.Mutex
	stopped bool
}

// NewReloader creates a Reloader for path. debounce defaults to 500ms.
func NewReloader(path string, debounce time.Duration, onChange ReloadCallback, logger *zap.Logger) (*Reloader, error) {
	if path == "" {
		return nil, fault.New(fault.KindInvalidParams, "reloader requires a file path")
	}
	if onChange == nil {
		return nil, fault.New(fault.KindInvalidParams, "reloader requires a callback")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "create file watcher")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return nil, fault.Wrap(fault.KindInvalidParams, err, "resolve watch path")
	}

	return &Reloader{
		path:     abs,
		base:     filepath.Base(abs),
		debounce: debounce,
		onChange: onChange,
		watcher:  watcher,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the watch is registered.
func (r *Reloader) Start() error {
	if err := r.watcher.Add(filepath.Dir(r.path)); err != nil {
		return fault.Wrap(fault.KindInternal, err, "watch config directory")
	}
	r.logger.Info("watching origin allowlist",
		zap.String("path", r.path),
		zap.Duration("debounce", r.debounce))
	go r.watchLoop()
	return nil
}

func (r *Reloader) watchLoop() {
	defer close(r.doneCh)
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.handleEvent(event)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("file watcher error", zap.Error(err))
		case <-r.stopCh:
			return
		}
	}
}

func (r *Reloader) handleEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != r.base {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceTimer = time.AfterFunc(r.debounce, func() {
		r.logger.Info("origin allowlist changed, reloading", zap.String("path", r.path))
		r.onChange(r.path)
	})
}

// Close stops watching and waits for the loop to exit.
func (r *Reloader) Close() error {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	if r.stopped {
		return nil
	}
	r.stopped = true

	close(r.stopCh)
	err := r.watcher.Close()
	<-r.doneCh

	r.debounceMu.Lock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceMu.Unlock()
	return err
}
