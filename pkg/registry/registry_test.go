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

package registry_test

import (
	"testing"

	"github.com/LeonKolyang/paigeant/pkg/activity"
	"github.com/LeonKolyang/paigeant/pkg/registry"
	"github.com/LeonKolyang/paigeant/pkg/registry/discovery"
)

type noopRunner struct{}

func (noopRunner) Run(actx *activity.ActivityContext, prompt string, deps any) (any, error) {
	return prompt, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := registry.New()
	if err := r.Register("echo", registry.Entry{Runner: noopRunner{}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	entry, err := r.Get("echo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Runner == nil {
		t.Fatal("expected runner to be set")
	}
	if !r.Has("echo") {
		t.Fatal("expected Has to report true")
	}
}

func TestRegistry_DuplicateRegistrationRejected(t *testing.T) {
	r := registry.New()
	if err := r.Register("echo", registry.Entry{Runner: noopRunner{}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("echo", registry.Entry{Runner: noopRunner{}}); err == nil {
		t.Fatal("expected error registering the same agent name twice")
	}
}

func TestRegistry_GetUnknownAgent(t *testing.T) {
	r := registry.New()
	if _, err := r.Get("ghost"); err == nil {
		t.Fatal("expected error for unregistered agent")
	}
}

func TestRegistry_RegisterFromManifest(t *testing.T) {
	r := registry.New()
	three := 3
	m := discovery.AgentManifest{
		AgentName:        "planner",
		ModuleHint:       "example.com/agents/planner",
		DepsTypeTag:      "planner.v1",
		CanEditItinerary: true,
		MaxInsertions:    &three,
	}

	if err := r.RegisterFromManifest(m, noopRunner{}); err != nil {
		t.Fatalf("RegisterFromManifest: %v", err)
	}

	entry, err := r.Get("planner")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !entry.CanEditItinerary || entry.DepsTypeTag != "planner.v1" {
		t.Fatalf("entry fields wrong: %+v", entry)
	}
	if entry.MaxInsertions == nil || *entry.MaxInsertions != 3 {
		t.Fatalf("expected max_insertions 3, got %v", entry.MaxInsertions)
	}
}

func TestRegistry_List(t *testing.T) {
	r := registry.New()
	r.Register("a", registry.Entry{Runner: noopRunner{}})
	r.Register("b", registry.Entry{Runner: noopRunner{}})

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %d", len(names))
	}
}
