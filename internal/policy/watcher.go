// Copyright 2026 The Toolgate Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package policy

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watcherDebounce = 200 * time.Millisecond

// ReloadFunc is invoked with the freshly loaded document after the policy
// file changes on disk. Implementations swap the active document.
type ReloadFunc func(*Document)

// Watcher hot-reloads a policy file. On each write it reloads through the
// store; an invalid file is logged and the previous document stays active.
type Watcher struct {
	store   *FileStore
	reload  ReloadFunc
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching the store's policy file. The parent directory
// is watched rather than the file itself, because editors and atomic-write
// tools replace the inode on save.
func NewWatcher(store *FileStore, reload ReloadFunc, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("policy: create watcher: %w", err)
	}

	dir := filepath.Dir(store.Path())
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("policy: watch %q: %w", dir, err)
	}

	w := &Watcher{
		store:   store,
		reload:  reload,
		logger:  logger,
		watcher: fsw,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	target := filepath.Base(w.store.Path())

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Coalesce rapid event bursts from a single save.
			debounce.Reset(watcherDebounce)
			pending = true

		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			w.reloadNow()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("policy: watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reloadNow() {
	doc, err := w.store.Load()
	if err != nil {
		w.logger.Warn("policy: reload failed; keeping previous policy",
			"path", w.store.Path(),
			"error", err,
		)
		return
	}

	w.reload(doc)
	w.logger.Info("policy: reloaded",
		"policy_id", doc.PolicyID,
		"version", doc.Version,
		"allow_rules", len(doc.AllowRules),
		"deny_rules", len(doc.DenyRules),
	)
}
