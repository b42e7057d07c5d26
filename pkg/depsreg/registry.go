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

// Package depsreg resolves an ActivitySpec's opaque dependency blob into a
// typed Go value without reflection.
//
// Dependency blobs name their payload with a stable type_tag supplied at
// registration: deps_blob.type carries the tag, and the registry returns
// a factory bytes -> value. There is no runtime class lookup and no
// reflect-based decoding.
package depsreg

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/LeonKolyang/paigeant/pkg/envelope"
)

// Factory decodes a DepsBlob's raw Data into a typed dependency value.
type Factory func(data json.RawMessage) (any, error)

// Registry maps a stable type_tag to the Factory that can decode it.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates typeTag with factory. Registering the same tag
// twice overwrites the previous factory; callers that want immutability
// should only call Register during process startup.
func (r *Registry) Register(typeTag string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeTag] = factory
}

// Resolve decodes blob.Data using the factory registered for blob.TypeTag.
// An unregistered tag or a factory decode failure is returned as a plain
// error; the executor wraps it in a PermanentError, so dependency
// deserialization failures are never retried.
func (r *Registry) Resolve(blob envelope.DepsBlob) (any, error) {
	if blob.TypeTag == "" {
		return nil, nil
	}
	r.mu.RLock()
	factory, ok := r.factories[blob.TypeTag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("depsreg: no factory registered for type_tag %q (module_hint=%q)", blob.TypeTag, blob.ModuleHint)
	}
	return factory(blob.Data)
}

// Bytes encodes a value as a DepsBlob's Data field. Callers typically use
// this when registering an ActivitySpec on the dispatcher's runway: the
// value is marshaled once at registration time, and the resulting blob
// travels opaquely on the wire until a worker resolves it back.
func Bytes(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
