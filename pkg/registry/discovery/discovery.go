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

// Package discovery locates agent registration manifests on disk.
//
// A Go process cannot load arbitrary code without running it, so agent
// declarations are carried by a small declarative manifest file (one
// agent per YAML document) that can be read without side effects; the
// runner implementation itself is wired in Go code at
// startup via registry.Registry.RegisterFromManifest. Discover only
// reads and parses; it never imports or executes the module_hint it
// reports.
package discovery

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// AgentManifest is the on-disk declaration of one agent's registration
// metadata. DepsData holds the manifest's deps_data mapping re-encoded
// as JSON, ready to travel inside a deps blob's data field. An absent
// max_insertions leaves the worker default in force; an explicit 0
// disables this agent's insertions entirely.
type AgentManifest struct {
	AgentName        string    `yaml:"agent_name"`
	ModuleHint       string    `yaml:"module_hint"`
	DepsTypeTag      string    `yaml:"deps_type_tag"`
	DepsData         []byte    `yaml:"-"`
	DepsDataRaw      yaml.Node `yaml:"deps_data"`
	CanEditItinerary bool      `yaml:"can_edit_itinerary"`
	MaxInsertions    *int      `yaml:"max_insertions"`
	SourcePath       string    `yaml:"-"`
}

// DefaultPattern is the glob this package's Discover uses when callers
// don't supply their own: every *.agent.yaml file anywhere under the
// root, recursively.
const DefaultPattern = "**/*.agent.yaml"

// Discover walks root for files matching pattern (a doublestar glob,
// relative to root) and parses each as an AgentManifest. A file that
// fails to parse is reported as an error naming the offending path
// rather than silently skipped, since a malformed manifest is a startup
// configuration bug.
func Discover(root string, pattern string) ([]AgentManifest, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}

	fsys := os.DirFS(root)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("discovery: invalid pattern %q: %w", pattern, err)
	}

	manifests := make([]AgentManifest, 0, len(matches))
	for _, rel := range matches {
		data, err := os.ReadFile(root + string(os.PathSeparator) + rel)
		if err != nil {
			return nil, fmt.Errorf("discovery: reading %s: %w", rel, err)
		}

		var m AgentManifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("discovery: parsing %s: %w", rel, err)
		}
		if m.AgentName == "" {
			return nil, fmt.Errorf("discovery: %s: agent_name is required", rel)
		}
		if !m.DepsDataRaw.IsZero() {
			var v any
			if err := m.DepsDataRaw.Decode(&v); err != nil {
				return nil, fmt.Errorf("discovery: %s: decoding deps_data: %w", rel, err)
			}
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("discovery: %s: encoding deps_data: %w", rel, err)
			}
			m.DepsData = encoded
		}
		m.SourcePath = rel
		manifests = append(manifests, m)
	}

	return manifests, nil
}
