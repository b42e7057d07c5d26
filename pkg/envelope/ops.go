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

package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	paigeanterrors "github.com/LeonKolyang/paigeant/pkg/errors"
)

// New builds the initial envelope for a freshly dispatched workflow.
// attempt is always 0 on first emission.
func New(correlationID, runID string, slip RoutingSlip, payload map[string]any) *Message {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Message{
		MessageID:     uuid.NewString(),
		CorrelationID: correlationID,
		RunID:         runID,
		Timestamp:     time.Now().UTC().Truncate(time.Millisecond),
		RoutingSlip:   slip,
		Payload:       payload,
		Attempt:       0,
		SpecVersion:   SpecVersion,
		extra:         map[string]json.RawMessage{},
	}
}

// Advance pops the head of the itinerary, appends it (with its outcome)
// to executed, sets payload[previous_output], resets attempt to 0 for the
// next step, and assigns a fresh message_id. correlation_id, run_id,
// trace_id, obo_token, and signature are preserved.
//
// Advance panics if the itinerary is empty. Callers must check
// RoutingSlip.Head() (or len(Itinerary) == 0) before advancing, since an
// empty itinerary means the workflow already completed.
func Advance(env *Message, output any) *Message {
	head, ok := env.RoutingSlip.Head()
	if !ok {
		panic("envelope: Advance called with empty itinerary")
	}

	next := env.RoutingSlip.Clone()
	next.Itinerary = next.Itinerary[1:]
	// StartedAt is the timestamp the step's message was minted with;
	// wall-clock step timing lives in the repository's StepRecord.
	next.Executed = append(next.Executed, ExecutedStep{
		AgentName:  head.AgentName,
		StartedAt:  env.Timestamp,
		FinishedAt: time.Now().UTC(),
		Status:     StepCompleted,
	})

	payload := make(map[string]any, len(env.Payload)+1)
	for k, v := range env.Payload {
		payload[k] = v
	}
	payload[PreviousOutputKey] = output

	out := &Message{
		MessageID:     uuid.NewString(),
		CorrelationID: env.CorrelationID,
		RunID:         env.RunID,
		TraceID:       env.TraceID,
		Timestamp:     time.Now().UTC(),
		OboToken:      env.OboToken,
		Signature:     env.Signature,
		RoutingSlip:   next,
		Payload:       payload,
		Attempt:       0,
		SpecVersion:   env.SpecVersion,
		extra:         cloneExtra(env.extra),
	}
	return out
}

// RetryClone increments attempt and preserves run_id; it does NOT mutate
// itinerary or executed. Used when a step fails with a TransientError and
// has attempts remaining.
func RetryClone(env *Message) *Message {
	out := *env
	out.RoutingSlip = env.RoutingSlip.Clone()
	out.Attempt = env.Attempt + 1
	out.Timestamp = time.Now().UTC()
	out.extra = cloneExtra(env.extra)
	return &out
}

// Insertion is one agent_name/prompt pair requested by an itinerary-edit
// call. The caller (executor) has already resolved deps for each agent
// from the registry snapshot before calling InsertSteps.
type Insertion struct {
	AgentName string
	Prompt    string
	Deps      DepsBlob
}

// InsertSteps places insertions immediately after the currently executing
// step (i.e. at the head of the itinerary env already carries; this is
// called BEFORE Advance pops that head, so "immediately after the head"
// means "before index 1"). Returns *paigeanterrors.BoundError if adding
// len(insertions) would exceed bound; the slip is left unmodified in that
// case, matching the requirement that the core never partially applies a
// rejected edit.
func InsertSteps(env *Message, insertions []Insertion, bound int) (*Message, error) {
	if len(insertions) == 0 {
		return env, nil
	}
	if env.RoutingSlip.InsertedCount+len(insertions) > bound {
		return env, &paigeanterrors.BoundError{
			Insertions: env.RoutingSlip.InsertedCount + len(insertions),
			Max:        bound,
		}
	}

	head, hasHead := env.RoutingSlip.Head()
	if !hasHead {
		return env, &paigeanterrors.ProtocolError{Reason: "cannot insert steps after an empty itinerary"}
	}

	newSpecs := make([]ActivitySpec, len(insertions))
	for i, ins := range insertions {
		newSpecs[i] = ActivitySpec{
			AgentName:             ins.AgentName,
			Prompt:                ins.Prompt,
			Deps:                  ins.Deps,
			ExpectsPreviousOutput: true,
		}
	}

	next := env.RoutingSlip.Clone()
	rest := next.Itinerary[1:]
	next.Itinerary = append([]ActivitySpec{head}, append(newSpecs, rest...)...)
	next.InsertedCount += len(insertions)

	out := *env
	out.RoutingSlip = next
	out.extra = cloneExtra(env.extra)
	return &out, nil
}

// WouldCycle reports whether agentName already appears in executed, in
// which case inserting it again would form a cycle within the current
// run. Executed entries don't carry run_id individually (it is constant
// for the whole envelope), so checking the agent name against the
// executed log suffices: by construction the log only ever holds steps
// from the current run_id.
func WouldCycle(env *Message, agentName string) bool {
	for _, e := range env.RoutingSlip.Executed {
		if e.AgentName == agentName {
			return true
		}
	}
	return false
}

func cloneExtra(in map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
