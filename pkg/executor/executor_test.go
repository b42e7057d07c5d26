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

package executor_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LeonKolyang/paigeant/pkg/activity"
	"github.com/LeonKolyang/paigeant/pkg/depsreg"
	"github.com/LeonKolyang/paigeant/pkg/dispatcher"
	paigeanterrors "github.com/LeonKolyang/paigeant/pkg/errors"
	"github.com/LeonKolyang/paigeant/pkg/executor"
	"github.com/LeonKolyang/paigeant/pkg/registry"
	"github.com/LeonKolyang/paigeant/pkg/repository"
	"github.com/LeonKolyang/paigeant/pkg/repository/memstore"
	"github.com/LeonKolyang/paigeant/pkg/transport"
	"github.com/LeonKolyang/paigeant/pkg/transport/inmemory"
)

// harness wires one in-memory transport, one in-memory repository, and a
// fresh agent/deps registry pair, enough to run a whole workflow
// end-to-end in-process.
type harness struct {
	t          *testing.T
	transport  transport.Transport
	repo       *memstore.Store
	agents     *registry.Registry
	deps       *depsreg.Registry
	dispatcher *dispatcher.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := memstore.New()
	tp := inmemory.New()
	return &harness{
		t:          t,
		transport:  tp,
		repo:       repo,
		agents:     registry.New(),
		deps:       depsreg.New(),
		dispatcher: dispatcher.New(tp, repo),
	}
}

// runWorker starts a Worker for agentName and returns a function that
// stops it and waits for Run to return.
func (h *harness) runWorker(t *testing.T, agentName string, opts ...executor.Option) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	w := executor.New(h.transport, h.agents, h.deps, h.repo, h.repo, agentName, opts...)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return func() {
		cancel()
		<-done
	}
}

func waitForWorkflowStatus(t *testing.T, repo repository.WorkflowStore, runID, status string, timeout time.Duration) *repository.WorkflowRecord {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		wf, err := repo.GetWorkflow(context.Background(), runID)
		if err == nil && wf.Status == status {
			return wf
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("workflow %s did not reach status %q within %s", runID, status, timeout)
	return nil
}

func intPtr(n int) *int { return &n }

func runIDFromCorrelation(t *testing.T, repo repository.WorkflowLister, correlationID string) string {
	t.Helper()
	wfs, err := repo.ListWorkflows(context.Background(), repository.WorkflowFilter{})
	if err != nil {
		t.Fatalf("ListWorkflows: %v", err)
	}
	for _, wf := range wfs {
		if wf.CorrelationID == correlationID {
			return wf.RunID
		}
	}
	t.Fatalf("no workflow found for correlation_id %s", correlationID)
	return ""
}

// Scenario: single agent, happy path.
func TestExecutor_SingleAgentHappyPath(t *testing.T) {
	h := newHarness(t)

	if err := h.agents.Register("solo", registry.Entry{
		Runner: activity.RunnerFunc(func(actx *activity.ActivityContext, prompt string, deps any) (any, error) {
			return "solo-output", nil
		}),
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := h.dispatcher.AddToRunway("solo", "do the one thing", "", nil, false); err != nil {
		t.Fatalf("AddToRunway: %v", err)
	}
	correlationID, err := h.dispatcher.DispatchWorkflow(context.Background(), dispatcher.Options{})
	if err != nil {
		t.Fatalf("DispatchWorkflow: %v", err)
	}
	runID := runIDFromCorrelation(t, h.repo, correlationID)

	stop := h.runWorker(t, "solo")
	defer stop()

	wf := waitForWorkflowStatus(t, h.repo, runID, repository.WorkflowCompleted, time.Second)
	if wf.Error != "" {
		t.Fatalf("expected no error, got %q", wf.Error)
	}

	steps, err := h.repo.ListSteps(context.Background(), runID)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 1 || steps[0].Status != repository.StepCompleted {
		t.Fatalf("expected exactly 1 completed step, got %+v", steps)
	}
}

// Scenario: three-agent pipeline, each consuming the previous output.
func TestExecutor_ThreeAgentPipeline(t *testing.T) {
	h := newHarness(t)

	relay := func(name string) activity.ActivityRunner {
		return activity.RunnerFunc(func(actx *activity.ActivityContext, prompt string, deps any) (any, error) {
			if actx.HasPreviousOutput {
				prev, _ := actx.PreviousOutput.(string)
				return prev + "->" + name, nil
			}
			return name, nil
		})
	}
	for _, name := range []string{"a", "b", "c"} {
		if err := h.agents.Register(name, registry.Entry{Runner: relay(name)}); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	if err := h.dispatcher.AddToRunway("a", "", "", nil, false); err != nil {
		t.Fatalf("AddToRunway a: %v", err)
	}
	if err := h.dispatcher.AddToRunway("b", "", "", nil, true); err != nil {
		t.Fatalf("AddToRunway b: %v", err)
	}
	if err := h.dispatcher.AddToRunway("c", "", "", nil, true); err != nil {
		t.Fatalf("AddToRunway c: %v", err)
	}
	correlationID, err := h.dispatcher.DispatchWorkflow(context.Background(), dispatcher.Options{})
	if err != nil {
		t.Fatalf("DispatchWorkflow: %v", err)
	}
	runID := runIDFromCorrelation(t, h.repo, correlationID)

	stopA := h.runWorker(t, "a")
	stopB := h.runWorker(t, "b")
	stopC := h.runWorker(t, "c")
	defer stopA()
	defer stopB()
	defer stopC()

	waitForWorkflowStatus(t, h.repo, runID, repository.WorkflowCompleted, 2*time.Second)

	steps, err := h.repo.ListSteps(context.Background(), runID)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 recorded steps, got %d", len(steps))
	}
	var outputRefC string
	for _, s := range steps {
		if s.AgentName == "c" {
			outputRefC = s.OutputRef
		}
	}
	var got string
	if err := json.Unmarshal([]byte(outputRefC), &got); err != nil {
		t.Fatalf("unmarshal c's output_ref: %v", err)
	}
	if got != "a->b->c" {
		t.Fatalf("expected relayed output %q, got %q", "a->b->c", got)
	}
}

// Scenario: a transient failure on the first attempt, success on the
// retry. Exactly one StepRecord must survive, ending completed at
// attempt=1.
func TestExecutor_RetryThenSucceed(t *testing.T) {
	h := newHarness(t)

	var calls atomic.Int32
	if err := h.agents.Register("flaky", registry.Entry{
		Runner: activity.RunnerFunc(func(actx *activity.ActivityContext, prompt string, deps any) (any, error) {
			if calls.Add(1) == 1 {
				return nil, &paigeanterrors.TransientError{Operation: "runner.run", Cause: fmt.Errorf("temporary blip")}
			}
			return "recovered", nil
		}),
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := h.dispatcher.AddToRunway("flaky", "", "", nil, false); err != nil {
		t.Fatalf("AddToRunway: %v", err)
	}
	correlationID, err := h.dispatcher.DispatchWorkflow(context.Background(), dispatcher.Options{})
	if err != nil {
		t.Fatalf("DispatchWorkflow: %v", err)
	}
	runID := runIDFromCorrelation(t, h.repo, correlationID)

	stop := h.runWorker(t, "flaky",
		executor.WithMaxAttempts(3),
		executor.WithBackoff(time.Millisecond, 5*time.Millisecond))
	defer stop()

	waitForWorkflowStatus(t, h.repo, runID, repository.WorkflowCompleted, time.Second)

	steps, err := h.repo.ListSteps(context.Background(), runID)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("expected exactly 1 StepRecord across the retry, got %d", len(steps))
	}
	if steps[0].Status != repository.StepCompleted || steps[0].Attempt != 1 {
		t.Fatalf("expected completed at attempt 1, got %+v", steps[0])
	}
}

// Scenario: a transient failure on every attempt exhausts the retry
// budget and fails the workflow.
func TestExecutor_RetryExhausted(t *testing.T) {
	h := newHarness(t)

	if err := h.agents.Register("broken", registry.Entry{
		Runner: activity.RunnerFunc(func(actx *activity.ActivityContext, prompt string, deps any) (any, error) {
			return nil, &paigeanterrors.TransientError{Operation: "runner.run", Cause: fmt.Errorf("still broken")}
		}),
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := h.dispatcher.AddToRunway("broken", "", "", nil, false); err != nil {
		t.Fatalf("AddToRunway: %v", err)
	}
	correlationID, err := h.dispatcher.DispatchWorkflow(context.Background(), dispatcher.Options{})
	if err != nil {
		t.Fatalf("DispatchWorkflow: %v", err)
	}
	runID := runIDFromCorrelation(t, h.repo, correlationID)

	stop := h.runWorker(t, "broken",
		executor.WithMaxAttempts(2),
		executor.WithBackoff(time.Millisecond, 5*time.Millisecond))
	defer stop()

	wf := waitForWorkflowStatus(t, h.repo, runID, repository.WorkflowFailed, time.Second)
	if wf.Error == "" {
		t.Fatal("expected workflow error to be recorded")
	}

	steps, err := h.repo.ListSteps(context.Background(), runID)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("expected exactly 1 StepRecord, got %d", len(steps))
	}
	if steps[0].Status != repository.StepFailed || steps[0].Attempt != 2 {
		t.Fatalf("expected failed at attempt 2 (max_attempts exhausted), got %+v", steps[0])
	}
}

// Scenario: a capability-gated agent inserts one step within its bound.
func TestExecutor_DynamicInsertionWithinBound(t *testing.T) {
	h := newHarness(t)

	if err := h.agents.Register("extra", registry.Entry{
		Runner: activity.RunnerFunc(func(actx *activity.ActivityContext, prompt string, deps any) (any, error) {
			return "extra-output", nil
		}),
	}); err != nil {
		t.Fatalf("Register extra: %v", err)
	}
	if err := h.agents.Register("inserter", registry.Entry{
		CanEditItinerary: true,
		MaxInsertions:    intPtr(3),
		Runner: activity.RunnerFunc(func(actx *activity.ActivityContext, prompt string, deps any) (any, error) {
			if err := actx.Edit([]activity.InsertionRequest{{AgentName: "extra", Prompt: "do extra work"}}); err != nil {
				return nil, err
			}
			return "inserter-output", nil
		}),
	}); err != nil {
		t.Fatalf("Register inserter: %v", err)
	}

	if err := h.dispatcher.AddToRunway("inserter", "", "", nil, false); err != nil {
		t.Fatalf("AddToRunway: %v", err)
	}
	correlationID, err := h.dispatcher.DispatchWorkflow(context.Background(), dispatcher.Options{})
	if err != nil {
		t.Fatalf("DispatchWorkflow: %v", err)
	}
	runID := runIDFromCorrelation(t, h.repo, correlationID)

	stopInserter := h.runWorker(t, "inserter")
	stopExtra := h.runWorker(t, "extra")
	defer stopInserter()
	defer stopExtra()

	waitForWorkflowStatus(t, h.repo, runID, repository.WorkflowCompleted, time.Second)

	steps, err := h.repo.ListSteps(context.Background(), runID)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected both inserter and extra to have run, got %d steps: %+v", len(steps), steps)
	}
}

// Scenario: an itinerary edit that would exceed the insertion bound is
// rejected without failing the step or the workflow.
func TestExecutor_DynamicInsertionExceedsBound(t *testing.T) {
	h := newHarness(t)

	for _, name := range []string{"extra-1", "extra-2"} {
		if err := h.agents.Register(name, registry.Entry{
			Runner: activity.RunnerFunc(func(actx *activity.ActivityContext, prompt string, deps any) (any, error) {
				t.Fatalf("agent %s must never run: the edit that would have inserted it was rejected", actx.AgentName)
				return nil, nil
			}),
		}); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	var rejected atomic.Bool
	if err := h.agents.Register("greedy", registry.Entry{
		CanEditItinerary: true,
		MaxInsertions:    intPtr(1),
		Runner: activity.RunnerFunc(func(actx *activity.ActivityContext, prompt string, deps any) (any, error) {
			err := actx.Edit([]activity.InsertionRequest{
				{AgentName: "extra-1", Prompt: "one"},
				{AgentName: "extra-2", Prompt: "two"},
			})
			if err == nil {
				t.Fatal("expected the edit to be rejected for exceeding max_insertions=1")
			}
			rejected.Store(true)
			return "greedy-output", nil
		}),
	}); err != nil {
		t.Fatalf("Register greedy: %v", err)
	}

	if err := h.dispatcher.AddToRunway("greedy", "", "", nil, false); err != nil {
		t.Fatalf("AddToRunway: %v", err)
	}
	correlationID, err := h.dispatcher.DispatchWorkflow(context.Background(), dispatcher.Options{})
	if err != nil {
		t.Fatalf("DispatchWorkflow: %v", err)
	}
	runID := runIDFromCorrelation(t, h.repo, correlationID)

	stop := h.runWorker(t, "greedy")
	defer stop()

	waitForWorkflowStatus(t, h.repo, runID, repository.WorkflowCompleted, time.Second)

	if !rejected.Load() {
		t.Fatal("expected the oversized edit to have been attempted and rejected")
	}
	steps, err := h.repo.ListSteps(context.Background(), runID)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 1 || steps[0].AgentName != "greedy" {
		t.Fatalf("expected only the greedy step to have run, got %+v", steps)
	}
}

// Scenario: an agent explicitly registered with max_insertions=0 must
// have every edit rejected with the bound error, even though the worker
// default would allow insertions. The slip stays unchanged and the
// workflow proceeds with its original itinerary.
func TestExecutor_DynamicInsertionDisabledByZeroBound(t *testing.T) {
	h := newHarness(t)

	if err := h.agents.Register("notifier", registry.Entry{
		Runner: activity.RunnerFunc(func(actx *activity.ActivityContext, prompt string, deps any) (any, error) {
			t.Fatal("notifier must never run: the agent's insertion bound is zero")
			return nil, nil
		}),
	}); err != nil {
		t.Fatalf("Register notifier: %v", err)
	}

	var rejected atomic.Bool
	if err := h.agents.Register("planner", registry.Entry{
		CanEditItinerary: true,
		MaxInsertions:    intPtr(0),
		Runner: activity.RunnerFunc(func(actx *activity.ActivityContext, prompt string, deps any) (any, error) {
			err := actx.Edit([]activity.InsertionRequest{{AgentName: "notifier", Prompt: "post"}})
			if err == nil {
				t.Fatal("expected the edit to be rejected for an explicit max_insertions=0")
			}
			var boundErr *paigeanterrors.BoundError
			if !paigeanterrors.As(err, &boundErr) {
				t.Fatalf("expected *errors.BoundError, got %T: %v", err, err)
			}
			rejected.Store(true)
			return "planner-output", nil
		}),
	}); err != nil {
		t.Fatalf("Register planner: %v", err)
	}

	if err := h.dispatcher.AddToRunway("planner", "plan", "", nil, false); err != nil {
		t.Fatalf("AddToRunway: %v", err)
	}
	correlationID, err := h.dispatcher.DispatchWorkflow(context.Background(), dispatcher.Options{})
	if err != nil {
		t.Fatalf("DispatchWorkflow: %v", err)
	}
	runID := runIDFromCorrelation(t, h.repo, correlationID)

	stop := h.runWorker(t, "planner", executor.WithMaxInsertions(3))
	defer stop()

	waitForWorkflowStatus(t, h.repo, runID, repository.WorkflowCompleted, time.Second)

	if !rejected.Load() {
		t.Fatal("expected the edit to have been attempted and rejected")
	}
	steps, err := h.repo.ListSteps(context.Background(), runID)
	if err != nil {
		t.Fatalf("ListSteps: %v", err)
	}
	if len(steps) != 1 || steps[0].AgentName != "planner" {
		t.Fatalf("expected only the planner step to have run, got %+v", steps)
	}
}
