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

package repository_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LeonKolyang/paigeant/pkg/repository"
	"github.com/LeonKolyang/paigeant/pkg/repository/memstore"
	"github.com/LeonKolyang/paigeant/pkg/repository/sqlitestore"
)

// backends returns one instance of every repository.Repository variant
// that can run without an external service, each with a name for
// subtest reporting.
func backends(t *testing.T) []struct {
	name string
	repo repository.Repository
} {
	t.Helper()

	sqliteStore, err := sqlitestore.New(sqlitestore.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("sqlitestore.New: %v", err)
	}
	t.Cleanup(func() { sqliteStore.Close() })

	return []struct {
		name string
		repo repository.Repository
	}{
		{name: "memstore", repo: memstore.New()},
		{name: "sqlitestore", repo: sqliteStore},
	}
}

func TestRepository_CreateWorkflowIdempotent(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			wf := &repository.WorkflowRecord{
				RunID:         "run-1",
				CorrelationID: "corr-1",
				Status:        repository.WorkflowRunning,
				StartedAt:     time.Now(),
			}
			if err := b.repo.CreateWorkflow(ctx, wf); err != nil {
				t.Fatalf("CreateWorkflow: %v", err)
			}
			// Re-creating the same run_id must not error and must not
			// reset fields a concurrent UpdateWorkflowStatus may have
			// already applied.
			if err := b.repo.UpdateWorkflowStatus(ctx, "run-1", repository.WorkflowCompleted, "", ""); err != nil {
				t.Fatalf("UpdateWorkflowStatus: %v", err)
			}
			if err := b.repo.CreateWorkflow(ctx, wf); err != nil {
				t.Fatalf("CreateWorkflow (duplicate): %v", err)
			}

			got, err := b.repo.GetWorkflow(ctx, "run-1")
			if err != nil {
				t.Fatalf("GetWorkflow: %v", err)
			}
			if got.Status != repository.WorkflowCompleted {
				t.Fatalf("expected status to survive duplicate create, got %q", got.Status)
			}
		})
	}
}

func TestRepository_RecordStepInsertOrIgnore(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			wf := &repository.WorkflowRecord{RunID: "run-2", CorrelationID: "corr-2", Status: repository.WorkflowRunning, StartedAt: time.Now()}
			if err := b.repo.CreateWorkflow(ctx, wf); err != nil {
				t.Fatalf("CreateWorkflow: %v", err)
			}

			rec := &repository.StepRecord{
				RunID:      "run-2",
				StepID:     "msg-1",
				AgentName:  "planner",
				Status:     "completed",
				StartedAt:  time.Now(),
				FinishedAt: time.Now(),
			}

			inserted, err := b.repo.RecordStep(ctx, rec)
			if err != nil {
				t.Fatalf("RecordStep (first): %v", err)
			}
			if !inserted {
				t.Fatal("expected first RecordStep to insert")
			}

			// Simulate the same message being redelivered: same run_id +
			// step_id. Must be a no-op, not a duplicate or an error.
			inserted, err = b.repo.RecordStep(ctx, rec)
			if err != nil {
				t.Fatalf("RecordStep (redelivery): %v", err)
			}
			if inserted {
				t.Fatal("expected redelivered RecordStep to report inserted=false")
			}

			steps, err := b.repo.ListSteps(ctx, "run-2")
			if err != nil {
				t.Fatalf("ListSteps: %v", err)
			}
			if len(steps) != 1 {
				t.Fatalf("expected exactly 1 recorded step after redelivery, got %d", len(steps))
			}
		})
	}
}

func TestRepository_UpdateStepStatusReusesRowOnRetry(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			wf := &repository.WorkflowRecord{RunID: "run-3", CorrelationID: "corr-3", Status: repository.WorkflowRunning, StartedAt: time.Now()}
			if err := b.repo.CreateWorkflow(ctx, wf); err != nil {
				t.Fatalf("CreateWorkflow: %v", err)
			}

			rec := &repository.StepRecord{
				RunID:      "run-3",
				StepID:     "b",
				AgentName:  "b",
				Status:     repository.StepStarted,
				StartedAt:  time.Now(),
				FinishedAt: time.Now(),
			}
			if _, err := b.repo.RecordStep(ctx, rec); err != nil {
				t.Fatalf("RecordStep: %v", err)
			}

			// First attempt fails retryable; executor updates in place.
			if err := b.repo.UpdateStepStatus(ctx, "run-3", "b", repository.StepFailed, 0, "", "boom"); err != nil {
				t.Fatalf("UpdateStepStatus (fail): %v", err)
			}
			// Retry succeeds on attempt 1, still the same row.
			if err := b.repo.UpdateStepStatus(ctx, "run-3", "b", repository.StepCompleted, 1, "ref-1", ""); err != nil {
				t.Fatalf("UpdateStepStatus (complete): %v", err)
			}

			steps, err := b.repo.ListSteps(ctx, "run-3")
			if err != nil {
				t.Fatalf("ListSteps: %v", err)
			}
			if len(steps) != 1 {
				t.Fatalf("expected exactly 1 step row across the retry, got %d", len(steps))
			}
			if steps[0].Status != repository.StepCompleted || steps[0].Attempt != 1 {
				t.Fatalf("expected final status completed at attempt 1, got %+v", steps[0])
			}
		})
	}
}

func TestRepository_ListWorkflowsFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			for i, status := range []string{repository.WorkflowRunning, repository.WorkflowCompleted, repository.WorkflowFailed} {
				wf := &repository.WorkflowRecord{
					RunID:         "run-list-" + status,
					CorrelationID: "corr",
					Status:        status,
					StartedAt:     time.Now(),
				}
				if err := b.repo.CreateWorkflow(ctx, wf); err != nil {
					t.Fatalf("CreateWorkflow %d: %v", i, err)
				}
			}

			completed, err := b.repo.ListWorkflows(ctx, repository.WorkflowFilter{Status: repository.WorkflowCompleted})
			if err != nil {
				t.Fatalf("ListWorkflows: %v", err)
			}
			if len(completed) != 1 || completed[0].Status != repository.WorkflowCompleted {
				t.Fatalf("expected exactly 1 completed workflow, got %+v", completed)
			}
		})
	}
}

func TestRepository_GetWorkflowNotFound(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			if _, err := b.repo.GetWorkflow(ctx, "does-not-exist"); err == nil {
				t.Fatal("expected error for unknown run_id")
			}
		})
	}
}

func TestRepository_RecordStepConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			wf := &repository.WorkflowRecord{RunID: "run-race", CorrelationID: "corr-race", Status: repository.WorkflowRunning, StartedAt: time.Now()}
			if err := b.repo.CreateWorkflow(ctx, wf); err != nil {
				t.Fatalf("CreateWorkflow: %v", err)
			}

			// Two competing workers observing the same redelivered
			// message race to record the same step. Exactly one insert
			// must win and exactly one row must exist afterwards.
			const racers = 8
			var wg sync.WaitGroup
			var inserts atomic.Int32
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					inserted, err := b.repo.RecordStep(ctx, &repository.StepRecord{
						RunID:      "run-race",
						StepID:     "step-race",
						AgentName:  "planner",
						Status:     repository.StepStarted,
						StartedAt:  time.Now(),
						FinishedAt: time.Now(),
					})
					if err != nil {
						t.Errorf("RecordStep: %v", err)
						return
					}
					if inserted {
						inserts.Add(1)
					}
				}()
			}
			wg.Wait()

			if got := inserts.Load(); got != 1 {
				t.Fatalf("expected exactly 1 winning insert, got %d", got)
			}
			steps, err := b.repo.ListSteps(ctx, "run-race")
			if err != nil {
				t.Fatalf("ListSteps: %v", err)
			}
			if len(steps) != 1 {
				t.Fatalf("expected exactly 1 row after the race, got %d", len(steps))
			}
		})
	}
}
