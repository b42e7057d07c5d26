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

package discovery_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/LeonKolyang/paigeant/pkg/registry/discovery"
)

func writeManifest(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestDiscover_FindsManifestsRecursively(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "planner.agent.yaml", `
agent_name: planner
module_hint: example.com/agents/planner
deps_type_tag: planner.v1
can_edit_itinerary: true
max_insertions: 3
deps_data:
  threshold: 5
`)
	writeManifest(t, dir, filepath.Join("nested", "notifier.agent.yaml"), `
agent_name: notifier
module_hint: example.com/agents/notifier
deps_type_tag: notifier.v1
`)

	manifests, err := discovery.Discover(dir, discovery.DefaultPattern)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(manifests) != 2 {
		t.Fatalf("expected 2 manifests, got %d", len(manifests))
	}

	byName := map[string]discovery.AgentManifest{}
	for _, m := range manifests {
		byName[m.AgentName] = m
	}

	planner, ok := byName["planner"]
	if !ok {
		t.Fatal("expected planner manifest")
	}
	if !planner.CanEditItinerary {
		t.Fatalf("planner manifest fields wrong: %+v", planner)
	}
	if planner.MaxInsertions == nil || *planner.MaxInsertions != 3 {
		t.Fatalf("planner max_insertions wrong: %v", planner.MaxInsertions)
	}
	var deps map[string]any
	if err := json.Unmarshal(planner.DepsData, &deps); err != nil {
		t.Fatalf("planner deps_data should be JSON: %v", err)
	}
	if deps["threshold"] != float64(5) {
		t.Fatalf("planner deps_data threshold wrong: %+v", deps)
	}

	notifier, ok := byName["notifier"]
	if !ok {
		t.Fatal("expected notifier manifest")
	}
	if notifier.CanEditItinerary {
		t.Fatal("notifier should default can_edit_itinerary to false")
	}
	if notifier.MaxInsertions != nil {
		t.Fatal("notifier should leave max_insertions unset, not zero")
	}
}

func TestDiscover_RejectsMissingAgentName(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "broken.agent.yaml", `
module_hint: example.com/agents/broken
`)

	_, err := discovery.Discover(dir, discovery.DefaultPattern)
	if err == nil {
		t.Fatal("expected error for manifest missing agent_name")
	}
}

func TestDiscover_EmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	manifests, err := discovery.Discover(dir, discovery.DefaultPattern)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(manifests) != 0 {
		t.Fatalf("expected no manifests, got %d", len(manifests))
	}
}
