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

// Package envelope defines the routing-slip message envelope: the
// self-describing, wire-stable record that carries a workflow's identity,
// itinerary, execution log, and payload from worker to worker.
//
// Every operation here is a pure function over immutable-by-convention
// values. Callers must treat the structs returned by Deserialize as
// read-only and only ever obtain a mutated copy through Advance,
// RetryClone, or InsertSteps.
package envelope

import (
	"encoding/json"
	"time"
)

// SpecVersion is the wire format version this package produces. Deserialize
// accepts an envelope whose spec_version has the same major version (the
// part before the first '.'), or that carries no spec_version at all.
const SpecVersion = "1.0"

// PreviousOutputKey is the reserved payload key holding the immediately
// prior step's output.
const PreviousOutputKey = "previous_output"

// StepStatus mirrors the ExecutedStep.Status values written by the
// executor into the routing slip's append-only log.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// DepsBlob is an opaque, self-describing dependency payload. TypeTag is
// resolved through an explicit registry (pkg/depsreg) rather than runtime
// reflection.
type DepsBlob struct {
	TypeTag    string          `json:"type"`
	ModuleHint string          `json:"module,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// ActivitySpec is one itinerary step.
type ActivitySpec struct {
	AgentName             string   `json:"agent_name"`
	Prompt                string   `json:"prompt"`
	Deps                  DepsBlob `json:"deps"`
	ExpectsPreviousOutput bool     `json:"expects_previous_output"`
}

// ExecutedStep is one append-only record of a completed or failed step.
type ExecutedStep struct {
	AgentName  string     `json:"agent_name"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	OutputRef  string     `json:"output_ref,omitempty"`
	Status     StepStatus `json:"status"`
}

// RoutingSlip is the ordered itinerary, the append-only executed log, the
// carried (never invoked) compensations, and the cumulative insertion
// counter. Executed is append-only and the itinerary is only ever
// mutated at its head (Advance) or immediately after it (InsertSteps).
type RoutingSlip struct {
	Itinerary     []ActivitySpec `json:"itinerary"`
	Executed      []ExecutedStep `json:"executed"`
	Compensations []ActivitySpec `json:"compensations"`
	InsertedCount int            `json:"inserted_count"`
}

// Head returns the next step to execute, or false if the itinerary is
// empty (the workflow is complete).
func (s *RoutingSlip) Head() (ActivitySpec, bool) {
	if len(s.Itinerary) == 0 {
		return ActivitySpec{}, false
	}
	return s.Itinerary[0], true
}

// Clone returns a deep copy so mutation never aliases the caller's slip.
func (s RoutingSlip) Clone() RoutingSlip {
	out := RoutingSlip{
		Itinerary:     append([]ActivitySpec(nil), s.Itinerary...),
		Executed:      append([]ExecutedStep(nil), s.Executed...),
		Compensations: append([]ActivitySpec(nil), s.Compensations...),
		InsertedCount: s.InsertedCount,
	}
	return out
}

// Message is the wire envelope carried between workers. JSON encoding
// is handled by the Serialize and Deserialize functions in serialize.go,
// which guarantee stable key ordering and preserve unknown top-level keys
// verbatim across a deserialize/re-serialize round trip.
type Message struct {
	MessageID     string
	CorrelationID string
	RunID         string
	TraceID       string
	Timestamp     time.Time
	OboToken      string
	Signature     string
	RoutingSlip   RoutingSlip
	Payload       map[string]any
	Attempt       int
	SpecVersion   string

	// extra holds unknown top-level keys encountered on Deserialize, kept
	// so a round trip re-emits them verbatim for forward compatibility.
	extra map[string]json.RawMessage
}

// PreviousOutput returns payload["previous_output"] and whether it was
// present.
func (m *Message) PreviousOutput() (any, bool) {
	v, ok := m.Payload[PreviousOutputKey]
	return v, ok
}
