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

// Package errors defines the routing-slip error taxonomy: the kinds a
// worker loop must distinguish between when deciding whether to retry,
// fail the workflow, or simply drop a misrouted message.
package errors

import "fmt"

// MalformedError means an envelope failed to parse off the wire.
// Policy: ack + drop + log. Never requeue.
type MalformedError struct {
	// Topic is the topic the bytes were delivered on.
	Topic string

	// Cause is the underlying decode error.
	Cause error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed envelope on topic %s: %v", e.Topic, e.Cause)
}

func (e *MalformedError) Unwrap() error { return e.Cause }

func (e *MalformedError) ErrorType() string { return "malformed" }

func (e *MalformedError) IsRetryable() bool { return false }

// UnknownAgentError means the envelope's head step targets an agent this
// worker has no runner for. Policy: ack + drop + log. Never fails the
// workflow, since another worker instance may still be able to serve it.
type UnknownAgentError struct {
	AgentName string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent: %s", e.AgentName)
}

func (e *UnknownAgentError) ErrorType() string { return "unknown_agent" }

func (e *UnknownAgentError) IsRetryable() bool { return false }

// TransientError means the failure is expected to clear on its own:
// a retryable runner error, a transport timeout, a repository outage.
// Policy: bounded exponential backoff and retry up to max_attempts.
type TransientError struct {
	// Operation names what was attempted (e.g. "runner.run", "transport.publish").
	Operation string

	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Operation, e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

func (e *TransientError) ErrorType() string { return "transient" }

func (e *TransientError) IsRetryable() bool { return true }

// PermanentError means retrying would never succeed: a non-retryable
// runner error, or a dependency-blob deserialization failure. Policy:
// mark the workflow failed, ack, never requeue.
type PermanentError struct {
	Operation string

	Cause error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent failure in %s: %v", e.Operation, e.Cause)
}

func (e *PermanentError) Unwrap() error { return e.Cause }

func (e *PermanentError) ErrorType() string { return "permanent" }

func (e *PermanentError) IsRetryable() bool { return false }

// ProtocolError means an itinerary-edit request violated the bound, would
// introduce a cycle, or named an agent absent from the registry snapshot.
// Policy: surfaced as a string result to the runner; never fails the
// message or the workflow.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("itinerary edit rejected: %s", e.Reason)
}

func (e *ProtocolError) ErrorType() string { return "protocol" }

func (e *ProtocolError) IsRetryable() bool { return false }

// InfrastructureError means the transport or repository is unrecoverable
// for this process. Policy: best-effort ack of the in-flight message,
// then the worker exits with non-zero status.
type InfrastructureError struct {
	Component string

	Cause error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure failure in %s: %v", e.Component, e.Cause)
}

func (e *InfrastructureError) Unwrap() error { return e.Cause }

func (e *InfrastructureError) ErrorType() string { return "infrastructure" }

func (e *InfrastructureError) IsRetryable() bool { return false }

func (e *InfrastructureError) IsUserVisible() bool { return true }

func (e *InfrastructureError) UserMessage() string {
	return fmt.Sprintf("the %s backend is unavailable: %v", e.Component, e.Cause)
}

func (e *InfrastructureError) Suggestion() string {
	return "check that the configured transport and repository are reachable and their DSNs are correct"
}

// BoundError is returned to a runner by an itinerary-edit call as a
// result string, never propagated as a step failure. It is returned
// directly, not wrapped in ProtocolError, so callers that want the
// structured form can extract it with errors.As.
type BoundError struct {
	Insertions int
	Max        int
}

func (e *BoundError) Error() string {
	return fmt.Sprintf("insertion bound exceeded: %d inserted, max %d", e.Insertions, e.Max)
}

func (e *BoundError) ErrorType() string { return "protocol" }

func (e *BoundError) IsRetryable() bool { return false }
