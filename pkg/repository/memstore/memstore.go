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

// Package memstore provides an in-memory repository.Repository
// implementation, intended for tests and single-process demos.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LeonKolyang/paigeant/pkg/repository"
)

// Store is an in-memory storage backend.
type Store struct {
	mu        sync.RWMutex
	workflows map[string]*repository.WorkflowRecord
	steps     map[string]map[string]*repository.StepRecord // runID -> stepID -> record
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		workflows: make(map[string]*repository.WorkflowRecord),
		steps:     make(map[string]map[string]*repository.StepRecord),
	}
}

// CreateWorkflow records a new run. A duplicate RunID is a no-op.
func (s *Store) CreateWorkflow(ctx context.Context, wf *repository.WorkflowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[wf.RunID]; exists {
		return nil
	}

	now := time.Now()
	cp := *wf
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.workflows[wf.RunID] = &cp
	return nil
}

// GetWorkflow retrieves a run by ID.
func (s *Store) GetWorkflow(ctx context.Context, runID string) (*repository.WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[runID]
	if !ok {
		return nil, fmt.Errorf("workflow not found: %s", runID)
	}
	cp := *wf
	return &cp, nil
}

// UpdateWorkflowStatus transitions a run's status.
func (s *Store) UpdateWorkflowStatus(ctx context.Context, runID, status, currentAgent, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[runID]
	if !ok {
		return fmt.Errorf("workflow not found: %s", runID)
	}
	wf.Status = status
	wf.CurrentAgent = currentAgent
	wf.Error = errMsg
	wf.UpdatedAt = time.Now()
	if status == repository.WorkflowCompleted || status == repository.WorkflowFailed {
		completedAt := wf.UpdatedAt
		wf.CompletedAt = &completedAt
	}
	return nil
}

// ListWorkflows lists runs with optional status filtering.
func (s *Store) ListWorkflows(ctx context.Context, filter repository.WorkflowFilter) ([]*repository.WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*repository.WorkflowRecord, 0, len(s.workflows))
	for _, wf := range s.workflows {
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		cp := *wf
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else if filter.Offset >= len(out) {
		out = nil
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// DeleteWorkflow deletes a run and its recorded steps.
func (s *Store) DeleteWorkflow(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, runID)
	delete(s.steps, runID)
	return nil
}

// RecordStep inserts rec if not already present for (RunID, StepID).
func (s *Store) RecordStep(ctx context.Context, rec *repository.StepRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byStep, ok := s.steps[rec.RunID]
	if !ok {
		byStep = make(map[string]*repository.StepRecord)
		s.steps[rec.RunID] = byStep
	}
	if _, exists := byStep[rec.StepID]; exists {
		return false, nil
	}

	cp := *rec
	cp.CreatedAt = time.Now()
	byStep[rec.StepID] = &cp
	return true, nil
}

// UpdateStepStatus unconditionally updates the owned row.
func (s *Store) UpdateStepStatus(ctx context.Context, runID, stepID, status string, attempt int, outputRef, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byStep, ok := s.steps[runID]
	if !ok {
		return fmt.Errorf("step not found: run=%s step=%s", runID, stepID)
	}
	rec, ok := byStep[stepID]
	if !ok {
		return fmt.Errorf("step not found: run=%s step=%s", runID, stepID)
	}
	rec.Status = status
	rec.Attempt = attempt
	rec.OutputRef = outputRef
	rec.Error = errMsg
	rec.FinishedAt = time.Now()
	return nil
}

// GetStep retrieves one step record.
func (s *Store) GetStep(ctx context.Context, runID, stepID string) (*repository.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byStep, ok := s.steps[runID]
	if !ok {
		return nil, fmt.Errorf("step not found: run=%s step=%s", runID, stepID)
	}
	rec, ok := byStep[stepID]
	if !ok {
		return nil, fmt.Errorf("step not found: run=%s step=%s", runID, stepID)
	}
	cp := *rec
	return &cp, nil
}

// ListSteps retrieves every recorded step for a run, ordered by CreatedAt.
func (s *Store) ListSteps(ctx context.Context, runID string) ([]*repository.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byStep, ok := s.steps[runID]
	if !ok {
		return nil, nil
	}
	out := make([]*repository.StepRecord, 0, len(byStep))
	for _, rec := range byStep {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

var _ repository.Repository = (*Store)(nil)
