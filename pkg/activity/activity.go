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

// Package activity defines the contract between the executor and
// user-supplied agent code: ActivityRunner is the one pluggable seam a
// caller implements, and ActivityContext is everything the executor
// injects into a single invocation. Both the registry and the executor
// depend on this package instead of on each other, so neither forms an
// import cycle.
package activity

import "context"

// InsertionRequest names one agent to splice into the itinerary
// immediately after the currently executing step, with the prompt that
// agent's ActivitySpec should carry.
type InsertionRequest struct {
	AgentName string
	Prompt    string
}

// EditItinerary is the itinerary-edit hook a capability-gated agent may
// call during its own invocation. It is a synchronous in-process
// callback, not a message round trip: the executor mutates the envelope
// before advance() runs. A non-nil error means the edit was rejected
// (bound exceeded, cycle detected, or an unregistered agent_name) and
// carries the reason as a plain string for the runner to surface; the
// itinerary is left unchanged in that case.
type EditItinerary func(insertions []InsertionRequest) error

// ActivityContext is passed to every ActivityRunner invocation. It never
// outlives the step it was constructed for.
type ActivityContext struct {
	Context       context.Context
	CorrelationID string
	RunID         string
	TraceID       string
	AgentName     string
	Attempt       int

	// PreviousOutput and HasPreviousOutput reflect payload.previous_output
	// from the envelope; HasPreviousOutput is false for the first step of
	// a workflow or when the step's ActivitySpec did not request it.
	PreviousOutput    any
	HasPreviousOutput bool

	// Edit is nil unless this agent's registry entry sets
	// CanEditItinerary; calling a nil Edit is a programmer error on the
	// runner's part, not a protocol failure.
	Edit EditItinerary
}

// ActivityRunner is the single seam a caller implements to give an agent
// name real behavior. Run receives the already-resolved, typed
// dependency value (see pkg/depsreg) and returns an opaque output that
// becomes the next step's payload.previous_output.
type ActivityRunner interface {
	Run(actx *ActivityContext, prompt string, deps any) (output any, err error)
}

// RunnerFunc adapts a plain function to the ActivityRunner interface,
// mirroring the standard library's http.HandlerFunc pattern.
type RunnerFunc func(actx *ActivityContext, prompt string, deps any) (any, error)

func (f RunnerFunc) Run(actx *ActivityContext, prompt string, deps any) (any, error) {
	return f(actx, prompt, deps)
}
