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

// Package registry holds the process-local agent registry: the
// executor's only trusted source of runner identity. Messages carry
// agent_name references but never code; Registry is where a worker
// process binds those names to real Go values at startup.
package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/LeonKolyang/paigeant/pkg/activity"
	"github.com/LeonKolyang/paigeant/pkg/registry/discovery"
)

// Entry is everything the executor needs to know about one agent.
type Entry struct {
	// Runner executes the agent's activity.
	Runner activity.ActivityRunner

	// DepsTypeTag is the depsreg.Registry key used to reconstruct this
	// agent's typed dependency value from an ActivitySpec's deps blob.
	DepsTypeTag string

	// ModuleHint is carried through for observability and discovery
	// provenance; it plays no role in dispatch.
	ModuleHint string

	// DepsBlob is the pre-serialized dependency payload used when this
	// agent is the target of a dynamic itinerary insertion: the
	// inserting agent supplies only a prompt, and the executor looks up
	// this blob to build the resulting ActivitySpec.
	DepsBlob json.RawMessage

	// CanEditItinerary gates whether ActivityContext.Edit is populated
	// for this agent's invocations.
	CanEditItinerary bool

	// MaxInsertions bounds the cumulative routing_slip.inserted_count
	// this agent's edits may cause across a workflow. Nil means the
	// worker-level default applies; an explicit zero means this agent's
	// edits are always rejected.
	MaxInsertions *int
}

// Registry is a concurrency-safe agent_name -> Entry map.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register binds name to entry. Registering an already-registered name
// is an error: unlike step recording, agent registration has no
// redelivery semantics to make idempotent and a silent overwrite would
// hide a startup misconfiguration.
func (r *Registry) Register(name string, entry Entry) error {
	if name == "" {
		return fmt.Errorf("registry: agent name cannot be empty")
	}
	if entry.Runner == nil {
		return fmt.Errorf("registry: agent %q registered with a nil runner", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("registry: agent already registered: %s", name)
	}
	cp := entry
	r.entries[name] = &cp
	return nil
}

// RegisterFromManifest binds a discovery.AgentManifest's declared
// metadata to a concrete runner supplied by the embedding process. The
// manifest carries everything statically inspectable from a registration
// file; the runner itself is Go code the manifest can only name, never
// carry.
func (r *Registry) RegisterFromManifest(m discovery.AgentManifest, runner activity.ActivityRunner) error {
	return r.Register(m.AgentName, Entry{
		Runner:           runner,
		DepsTypeTag:      m.DepsTypeTag,
		ModuleHint:       m.ModuleHint,
		DepsBlob:         m.DepsData,
		CanEditItinerary: m.CanEditItinerary,
		MaxInsertions:    m.MaxInsertions,
	})
}

// Get retrieves the entry for name.
func (r *Registry) Get(name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[name]
	if !exists {
		return nil, fmt.Errorf("registry: unknown agent: %s", name)
	}
	return entry, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[name]
	return exists
}

// List returns every registered agent name, in no particular order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
