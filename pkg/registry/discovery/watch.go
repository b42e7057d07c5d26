// Copyright 2025 Tom Barlow
//
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

package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch re-runs Discover against root whenever a file under it changes,
// and delivers the refreshed manifest set on the returned channel. The
// channel is closed when ctx is cancelled. fsnotify watches are
// per-directory, not recursive, so Watch walks root once at startup to
// register every subdirectory; directories created afterward are picked
// up lazily the next time Discover itself is invoked by the caller.
//
// This is optional, operator-facing convenience for long-running worker
// processes that want hot-reload of agent manifests; it is never
// required for correctness; a worker can equally call Discover once at
// startup and restart to pick up changes.
func Watch(ctx context.Context, root string, pattern string) (<-chan []AgentManifest, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("discovery: creating watcher: %w", err)
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("discovery: walking %s: %w", root, err)
	}

	out := make(chan []AgentManifest)

	go func() {
		defer close(out)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				manifests, err := Discover(root, pattern)
				if err != nil {
					// A transient parse failure (editor mid-save) should
					// not kill the watch loop; the next event retries.
					continue
				}
				select {
				case out <- manifests:
				case <-ctx.Done():
					return
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return out, nil
}
