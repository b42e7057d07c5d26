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

// Package repository provides storage backends for workflow and step
// inspection records.
//
// # Interface Hierarchy
//
// Interfaces are segregated so minimal implementations aren't forced to
// carry optional capability:
//
//   - WorkflowStore (core, required): CreateWorkflow, GetWorkflow, UpdateWorkflowStatus
//   - WorkflowLister (optional): ListWorkflows, DeleteWorkflow
//   - StepStore (core, required): RecordStep, UpdateStepStatus, GetStep, ListSteps
//
// Repository composes all of these plus io.Closer for full-featured
// implementations. Components that only need to record run outcomes can
// accept WorkflowStore; components that only record step lifecycle can
// accept StepStore.
package repository

import (
	"context"
	"io"
)

// WorkflowStore is the minimal interface for workflow-run bookkeeping.
type WorkflowStore interface {
	// CreateWorkflow records a new run. Implementations MUST treat a
	// duplicate RunID as a no-op success, not an error: a dispatch may
	// be retried by its caller.
	CreateWorkflow(ctx context.Context, wf *WorkflowRecord) error

	// GetWorkflow retrieves a run by ID.
	GetWorkflow(ctx context.Context, runID string) (*WorkflowRecord, error)

	// UpdateWorkflowStatus transitions a run's status, overwriting
	// currentAgent and errMsg for every status; terminal statuses also
	// record completedAt.
	UpdateWorkflowStatus(ctx context.Context, runID, status, currentAgent, errMsg string) error
}

// WorkflowLister is an optional interface for listing and deleting runs.
type WorkflowLister interface {
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*WorkflowRecord, error)
	DeleteWorkflow(ctx context.Context, runID string) error
}

// StepStore is the minimal interface for step lifecycle recording.
//
// RecordStep is the load-bearing idempotency boundary: every
// implementation MUST make insert-or-ignore on (RunID, StepID) atomic at
// the storage layer (SQL's INSERT OR IGNORE / ON CONFLICT DO NOTHING, or
// an equivalent guarded check for the in-memory variant) rather than
// read-then-write, since two competing workers can observe the same
// redelivered message concurrently.
type StepStore interface {
	// RecordStep inserts rec if (rec.RunID, rec.StepID) is not already
	// present, and reports whether the insert happened. A false result
	// with a nil error means the step was already recorded; the caller
	// (the worker loop) then treats the delivery as a retry or redelivery,
	// resets that row to started through UpdateStepStatus, and invokes the
	// activity again.
	RecordStep(ctx context.Context, rec *StepRecord) (inserted bool, err error)

	// UpdateStepStatus unconditionally updates the owned row for
	// (runID, stepID): status transitions (started on retry, completed,
	// failed), the current attempt, and outputRef/errMsg. Retrying the
	// same step reuses this instead of a second RecordStep insert.
	UpdateStepStatus(ctx context.Context, runID, stepID, status string, attempt int, outputRef, errMsg string) error

	// GetStep retrieves one step record.
	GetStep(ctx context.Context, runID, stepID string) (*StepRecord, error)

	// ListSteps retrieves every recorded step for a run, ordered by
	// CreatedAt.
	ListSteps(ctx context.Context, runID string) ([]*StepRecord, error)
}

// Repository is the full interface composing all segregated interfaces
// plus io.Closer for lifecycle management.
type Repository interface {
	WorkflowStore
	WorkflowLister
	StepStore
	io.Closer
}
