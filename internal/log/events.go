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

package log

import "log/slog"

// The six lifecycle event names: dispatch, step start, step complete,
// step fail, workflow complete, workflow fail. Every event is tagged with
// correlation_id and run_id. The three step events also carry agent_name
// and attempt; dispatch and workflow fail carry agent_name but not attempt;
// workflow complete carries neither agent_name nor attempt. These helpers are the
// single place the names live; callers in pkg/dispatcher and
// pkg/executor use them instead of ad hoc strings so every event log
// line in the system stays consistent.
const (
	EventDispatch         = "dispatch"
	EventStepStart        = "step_start"
	EventStepComplete     = "step_complete"
	EventStepFail         = "step_fail"
	EventWorkflowComplete = "workflow_complete"
	EventWorkflowFail     = "workflow_fail"
)

// Dispatch logs the initial publication of a workflow's first envelope.
func Dispatch(logger *slog.Logger, correlationID, runID, firstAgent string) {
	logger.Info("workflow dispatched",
		slog.String(EventKey, EventDispatch),
		slog.String(CorrelationIDKey, correlationID),
		slog.String(RunIDKey, runID),
		slog.String(AgentNameKey, firstAgent),
	)
}

// StepStart logs the beginning of one activity invocation.
func StepStart(logger *slog.Logger, correlationID, runID, agentName string, attempt int) {
	logger.Info("step started",
		slog.String(EventKey, EventStepStart),
		slog.String(CorrelationIDKey, correlationID),
		slog.String(RunIDKey, runID),
		slog.String(AgentNameKey, agentName),
		slog.Int(AttemptKey, attempt),
	)
}

// StepComplete logs the successful completion of one activity invocation.
func StepComplete(logger *slog.Logger, correlationID, runID, agentName string, attempt int, durationMs int64) {
	logger.Info("step completed",
		slog.String(EventKey, EventStepComplete),
		slog.String(CorrelationIDKey, correlationID),
		slog.String(RunIDKey, runID),
		slog.String(AgentNameKey, agentName),
		slog.Int(AttemptKey, attempt),
		slog.Int64(DurationKey, durationMs),
	)
}

// StepFail logs a failed activity invocation, whether retried or terminal.
func StepFail(logger *slog.Logger, correlationID, runID, agentName string, attempt int, err error, retrying bool) {
	logger.Warn("step failed",
		slog.String(EventKey, EventStepFail),
		slog.String(CorrelationIDKey, correlationID),
		slog.String(RunIDKey, runID),
		slog.String(AgentNameKey, agentName),
		slog.Int(AttemptKey, attempt),
		Error(err),
		slog.Bool("retrying", retrying),
	)
}

// WorkflowComplete logs a workflow whose itinerary ran to completion.
func WorkflowComplete(logger *slog.Logger, correlationID, runID string) {
	logger.Info("workflow completed",
		slog.String(EventKey, EventWorkflowComplete),
		slog.String(CorrelationIDKey, correlationID),
		slog.String(RunIDKey, runID),
	)
}

// WorkflowFail logs a workflow that terminated on a permanent or
// exhausted-retry failure.
func WorkflowFail(logger *slog.Logger, correlationID, runID, agentName string, err error) {
	logger.Error("workflow failed",
		slog.String(EventKey, EventWorkflowFail),
		slog.String(CorrelationIDKey, correlationID),
		slog.String(RunIDKey, runID),
		slog.String(AgentNameKey, agentName),
		Error(err),
	)
}
