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

package repository

import "time"

// Workflow status values. A workflow is recorded Pending at dispatch,
// moves to Running once a worker makes progress, and terminates in
// either Completed or Failed. There is no Cancelled state because
// cancellation is cooperative at the worker level, not a recorded run
// outcome.
const (
	WorkflowPending   = "pending"
	WorkflowRunning   = "running"
	WorkflowCompleted = "completed"
	WorkflowFailed    = "failed"
)

// WorkflowRecord is the durable record of one routing-slip run, keyed by
// run_id. It exists for inspection (the `paigeant runs` CLI surface) and
// is never consulted for dispatch decisions. The envelope on the wire is
// the sole source of truth for itinerary progress.
type WorkflowRecord struct {
	RunID         string
	CorrelationID string
	Status        string
	CurrentAgent  string
	Error         string
	StartedAt     time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Step status values.
const (
	StepStarted   = "started"
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// StepRecord is one executed-step entry, keyed by (RunID, StepID). StepID
// is the agent_name for the current run: a routing slip visits a given
// agent at most once per run outside of a bounded itinerary insertion, so
// (RunID, AgentName) uniquely identifies the step within a workflow.
// Retries of the same step (RetryClone
// preserves both run_id and message_id) reuse this same row via
// UpdateStepStatus rather than inserting a new one; only the very first
// attempt goes through RecordStep's insert-or-ignore.
type StepRecord struct {
	RunID      string
	StepID     string
	AgentName  string
	Attempt    int
	Status     string
	OutputRef  string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
	CreatedAt  time.Time
}

// WorkflowFilter narrows ListWorkflows.
type WorkflowFilter struct {
	Status string
	Limit  int
	Offset int
}
