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

// Package sqlitestore provides a SQLite repository.Repository
// implementation for single-node deployments.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/LeonKolyang/paigeant/pkg/repository"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed repository.
type Store struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path. Use ":memory:" for an ephemeral
	// database scoped to the process.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New opens (creating if necessary) a SQLite-backed store at cfg.Path and
// runs migrations.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}

	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			run_id TEXT PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_agent TEXT,
			error TEXT,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_correlation_id ON workflows(correlation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_created_at ON workflows(created_at)`,
		`CREATE TABLE IF NOT EXISTS steps (
			run_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			attempt INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			output_ref TEXT,
			error TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (run_id, step_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_run_id ON steps(run_id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w\nstatement: %s", err, m)
		}
	}
	return nil
}

// CreateWorkflow records a new run. INSERT OR IGNORE makes a duplicate
// RunID a no-op, matching the repository.WorkflowStore contract.
func (s *Store) CreateWorkflow(ctx context.Context, wf *repository.WorkflowRecord) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO workflows
			(run_id, correlation_id, status, current_agent, error, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		wf.RunID, wf.CorrelationID, wf.Status, nullString(wf.CurrentAgent), nullString(wf.Error),
		now.Format(time.RFC3339), formatTime(wf.CompletedAt),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a run by ID.
func (s *Store) GetWorkflow(ctx context.Context, runID string) (*repository.WorkflowRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, correlation_id, status, current_agent, error, started_at, completed_at, created_at, updated_at
		FROM workflows WHERE run_id = ?
	`, runID)

	var wf repository.WorkflowRecord
	var currentAgent, errMsg, startedAt, completedAt, createdAt, updatedAt sql.NullString
	if err := row.Scan(&wf.RunID, &wf.CorrelationID, &wf.Status, &currentAgent, &errMsg, &startedAt, &completedAt, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("workflow not found: %s", runID)
		}
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	wf.CurrentAgent = currentAgent.String
	wf.Error = errMsg.String
	wf.StartedAt = parseTime(startedAt.String)
	wf.CreatedAt = parseTime(createdAt.String)
	wf.UpdatedAt = parseTime(updatedAt.String)
	if completedAt.Valid && completedAt.String != "" {
		t := parseTime(completedAt.String)
		wf.CompletedAt = &t
	}
	return &wf, nil
}

// UpdateWorkflowStatus transitions a run's status.
func (s *Store) UpdateWorkflowStatus(ctx context.Context, runID, status, currentAgent, errMsg string) error {
	now := time.Now()
	var completedAt any
	if status == repository.WorkflowCompleted || status == repository.WorkflowFailed {
		completedAt = now.Format(time.RFC3339)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows
		SET status = ?, current_agent = ?, error = ?, completed_at = COALESCE(?, completed_at), updated_at = ?
		WHERE run_id = ?
	`, status, nullString(currentAgent), nullString(errMsg), completedAt, now.Format(time.RFC3339), runID)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workflow not found: %s", runID)
	}
	return nil
}

// ListWorkflows lists runs with optional status filtering.
func (s *Store) ListWorkflows(ctx context.Context, filter repository.WorkflowFilter) ([]*repository.WorkflowRecord, error) {
	query := `
		SELECT run_id, correlation_id, status, current_agent, error, started_at, completed_at, created_at, updated_at
		FROM workflows
	`
	var args []any
	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []*repository.WorkflowRecord
	for rows.Next() {
		var wf repository.WorkflowRecord
		var currentAgent, errMsg, startedAt, completedAt, createdAt, updatedAt sql.NullString
		if err := rows.Scan(&wf.RunID, &wf.CorrelationID, &wf.Status, &currentAgent, &errMsg, &startedAt, &completedAt, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		wf.CurrentAgent = currentAgent.String
		wf.Error = errMsg.String
		wf.StartedAt = parseTime(startedAt.String)
		wf.CreatedAt = parseTime(createdAt.String)
		wf.UpdatedAt = parseTime(updatedAt.String)
		if completedAt.Valid && completedAt.String != "" {
			t := parseTime(completedAt.String)
			wf.CompletedAt = &t
		}
		out = append(out, &wf)
	}
	return out, rows.Err()
}

// DeleteWorkflow deletes a run and its recorded steps.
func (s *Store) DeleteWorkflow(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM steps WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to delete steps: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	return nil
}

// RecordStep inserts rec if not already present for (RunID, StepID).
// INSERT OR IGNORE plus RowsAffected is the atomic insert-or-ignore the
// repository.StepStore contract requires.
func (s *Store) RecordStep(ctx context.Context, rec *repository.StepRecord) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO steps
			(run_id, step_id, agent_name, attempt, status, output_ref, error, started_at, finished_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RunID, rec.StepID, rec.AgentName, rec.Attempt, rec.Status,
		nullString(rec.OutputRef), nullString(rec.Error),
		rec.StartedAt.Format(time.RFC3339), rec.FinishedAt.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record step: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// UpdateStepStatus unconditionally updates the owned row.
func (s *Store) UpdateStepStatus(ctx context.Context, runID, stepID, status string, attempt int, outputRef, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE steps
		SET status = ?, attempt = ?, output_ref = ?, error = ?, finished_at = ?
		WHERE run_id = ? AND step_id = ?
	`, status, attempt, nullString(outputRef), nullString(errMsg), time.Now().Format(time.RFC3339), runID, stepID)
	if err != nil {
		return fmt.Errorf("failed to update step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("step not found: run=%s step=%s", runID, stepID)
	}
	return nil
}

// GetStep retrieves one step record.
func (s *Store) GetStep(ctx context.Context, runID, stepID string) (*repository.StepRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, step_id, agent_name, attempt, status, output_ref, error, started_at, finished_at, created_at
		FROM steps WHERE run_id = ? AND step_id = ?
	`, runID, stepID)

	rec, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("step not found: run=%s step=%s", runID, stepID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	return rec, nil
}

// ListSteps retrieves every recorded step for a run, ordered by CreatedAt.
func (s *Store) ListSteps(ctx context.Context, runID string) ([]*repository.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, step_id, agent_name, attempt, status, output_ref, error, started_at, finished_at, created_at
		FROM steps WHERE run_id = ? ORDER BY created_at ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var out []*repository.StepRecord
	for rows.Next() {
		rec, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// scanner abstracts over *sql.Row and *sql.Rows for scanStep.
type scanner interface {
	Scan(dest ...any) error
}

func scanStep(row scanner) (*repository.StepRecord, error) {
	var rec repository.StepRecord
	var outputRef, errMsg, startedAt, finishedAt, createdAt sql.NullString
	if err := row.Scan(&rec.RunID, &rec.StepID, &rec.AgentName, &rec.Attempt, &rec.Status, &outputRef, &errMsg, &startedAt, &finishedAt, &createdAt); err != nil {
		return nil, err
	}
	rec.OutputRef = outputRef.String
	rec.Error = errMsg.String
	rec.StartedAt = parseTime(startedAt.String)
	rec.FinishedAt = parseTime(finishedAt.String)
	rec.CreatedAt = parseTime(createdAt.String)
	return &rec, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ repository.Repository = (*Store)(nil)
