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

// Package executor runs the per-agent worker loop: resolve a runner from
// the registry, subscribe to that agent's topic, and drive each delivered
// envelope through validate -> record -> invoke -> advance/retry/fail.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	paigeantlog "github.com/LeonKolyang/paigeant/internal/log"
	"github.com/LeonKolyang/paigeant/pkg/activity"
	"github.com/LeonKolyang/paigeant/pkg/depsreg"
	"github.com/LeonKolyang/paigeant/pkg/envelope"
	paigeanterrors "github.com/LeonKolyang/paigeant/pkg/errors"
	"github.com/LeonKolyang/paigeant/pkg/observability"
	"github.com/LeonKolyang/paigeant/pkg/registry"
	"github.com/LeonKolyang/paigeant/pkg/repository"
	"github.com/LeonKolyang/paigeant/pkg/transport"
)

const (
	defaultMaxAttempts   = 3
	defaultMaxInsertions = 3
	defaultBackoffBase   = 200 * time.Millisecond
	defaultBackoffCap    = 10 * time.Second
)

// Worker drives one agent's subscription loop.
type Worker struct {
	transport transport.Transport
	agents    *registry.Registry
	deps      *depsreg.Registry
	steps     repository.StepStore
	workflows repository.WorkflowStore
	agentName string

	maxAttempts   int
	maxInsertions int
	backoffBase   time.Duration
	backoffCap    time.Duration
	logger        *slog.Logger
	tracer        observability.Tracer
	metrics       *observability.MetricsCollector
}

// Option configures a Worker at construction time.
type Option func(*Worker)

// WithMaxAttempts overrides the default retry budget for transient step
// failures.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) { w.maxAttempts = n }
}

// WithMaxInsertions overrides the default itinerary-insertion bound
// used for agents whose registry.Entry doesn't set its own.
func WithMaxInsertions(n int) Option {
	return func(w *Worker) { w.maxInsertions = n }
}

// WithBackoff overrides the exponential backoff base and cap used
// between retries.
func WithBackoff(base, cap time.Duration) Option {
	return func(w *Worker) { w.backoffBase = base; w.backoffCap = cap }
}

// WithLogger overrides the structured logger; the default uses
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithTracer attaches a tracer that opens one span per step invocation,
// tagged with the envelope's trace_id carried verbatim. Nil by default;
// tracing is off unless configured.
func WithTracer(tracer observability.Tracer) Option {
	return func(w *Worker) { w.tracer = tracer }
}

// WithMetrics attaches a MetricsCollector recording step duration, step
// retries, and workflow completion. Nil by default.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(w *Worker) { w.metrics = metrics }
}

// New creates a Worker for agentName.
func New(
	t transport.Transport,
	agents *registry.Registry,
	deps *depsreg.Registry,
	steps repository.StepStore,
	workflows repository.WorkflowStore,
	agentName string,
	opts ...Option,
) *Worker {
	w := &Worker{
		transport:     t,
		agents:        agents,
		deps:          deps,
		steps:         steps,
		workflows:     workflows,
		agentName:     agentName,
		maxAttempts:   defaultMaxAttempts,
		maxInsertions: defaultMaxInsertions,
		backoffBase:   defaultBackoffBase,
		backoffCap:    defaultBackoffCap,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run resolves this worker's runner, connects the transport, and drains
// its agent topic until ctx is cancelled or an Infrastructure-kind
// failure forces the worker to exit. A resolve failure terminates the
// worker, not any workflow, since no message has been consumed yet.
func (w *Worker) Run(ctx context.Context) error {
	entry, err := w.agents.Get(w.agentName)
	if err != nil {
		return fmt.Errorf("executor: resolving runner for %s: %w", w.agentName, err)
	}

	if err := w.transport.Connect(ctx); err != nil {
		return fmt.Errorf("executor: connect: %w", err)
	}
	defer w.transport.Disconnect(context.Background())

	deliveries, err := w.transport.Subscribe(ctx, w.agentName)
	if err != nil {
		return fmt.Errorf("executor: subscribe to %s: %w", w.agentName, err)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}
			if err := w.handleDelivery(ctx, entry, delivery); err != nil {
				var infra *paigeanterrors.InfrastructureError
				if paigeanterrors.As(err, &infra) {
					return err
				}
				w.logger.Error("executor: step handling error", "agent_name", w.agentName, "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Worker) handleDelivery(ctx context.Context, entry *registry.Entry, delivery transport.Delivery) (err error) {
	env, err := envelope.Deserialize(delivery.Bytes)
	if err != nil {
		w.logger.Warn("executor: malformed delivery, dropping", "agent_name", w.agentName, "error", err)
		return w.ack(ctx, delivery.Tag)
	}

	head, ok := env.RoutingSlip.Head()
	if !ok || head.AgentName != w.agentName {
		w.logger.Warn("executor: misrouted delivery, dropping",
			"agent_name", w.agentName, "correlation_id", env.CorrelationID, "run_id", env.RunID)
		return w.ack(ctx, delivery.Tag)
	}

	logger := paigeantlog.WithStepContext(w.logger, env.CorrelationID, env.RunID, w.agentName, env.Attempt)

	if w.tracer != nil {
		var span observability.SpanHandle
		ctx, span = w.tracer.Start(ctx, "paigeant.step."+w.agentName,
			observability.WithSpanKind(observability.SpanKindConsumer),
			observability.WithAttributes(map[string]any{
				"trace_id":       env.TraceID,
				"correlation_id": env.CorrelationID,
				"run_id":         env.RunID,
				"agent_name":     w.agentName,
				"attempt":        env.Attempt,
			}),
		)
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(observability.StatusCodeError, err.Error())
			} else {
				span.SetStatus(observability.StatusCodeOK, "")
			}
			span.End()
		}()
	}

	stepID := w.agentName
	stepStarted := time.Now()
	inserted, stepErr := w.steps.RecordStep(ctx, &repository.StepRecord{
		RunID:     env.RunID,
		StepID:    stepID,
		AgentName: w.agentName,
		Attempt:   env.Attempt,
		Status:    repository.StepStarted,
		StartedAt: stepStarted,
	})
	if stepErr != nil {
		logger.Error("executor: recording step start failed (non-fatal)", "error", stepErr)
	} else if !inserted {
		if err := w.steps.UpdateStepStatus(ctx, env.RunID, stepID, repository.StepStarted, env.Attempt, "", ""); err != nil {
			logger.Error("executor: recording retry start failed (non-fatal)", "error", err)
		}
	}
	paigeantlog.StepStart(w.logger, env.CorrelationID, env.RunID, w.agentName, env.Attempt)

	if err := w.workflows.UpdateWorkflowStatus(ctx, env.RunID, repository.WorkflowRunning, w.agentName, ""); err != nil {
		logger.Error("executor: recording workflow start failed (non-fatal)", "error", err)
	}

	depsVal, err := w.deps.Resolve(head.Deps)
	if err != nil {
		return w.failPermanently(ctx, logger, env, delivery.Tag, stepID,
			fmt.Errorf("dependency deserialization failed: %w", &paigeanterrors.PermanentError{Operation: "resolve deps", Cause: err}))
	}

	actx := &activity.ActivityContext{
		Context:       ctx,
		CorrelationID: env.CorrelationID,
		RunID:         env.RunID,
		TraceID:       env.TraceID,
		AgentName:     w.agentName,
		Attempt:       env.Attempt,
	}
	if prev, has := env.PreviousOutput(); has && head.ExpectsPreviousOutput {
		actx.PreviousOutput = prev
		actx.HasPreviousOutput = true
	}

	current := env
	if entry.CanEditItinerary {
		actx.Edit = w.editItinerary(entry, &current)
	}

	output, runErr := entry.Runner.Run(actx, head.Prompt, depsVal)
	if runErr != nil {
		return w.handleRunError(ctx, logger, current, delivery.Tag, stepID, runErr)
	}

	outputRef, _ := json.Marshal(output)
	if err := w.steps.UpdateStepStatus(ctx, current.RunID, stepID, repository.StepCompleted, current.Attempt, string(outputRef), ""); err != nil {
		logger.Error("executor: recording step completion failed (non-fatal)", "error", err)
	}
	stepDuration := time.Since(stepStarted)
	paigeantlog.StepComplete(w.logger, current.CorrelationID, current.RunID, w.agentName, current.Attempt, stepDuration.Milliseconds())
	if w.metrics != nil {
		w.metrics.RecordStepComplete(ctx, w.agentName, "completed", stepDuration)
	}

	next := envelope.Advance(current, output)
	if _, hasNext := next.RoutingSlip.Head(); !hasNext {
		if err := w.workflows.UpdateWorkflowStatus(ctx, next.RunID, repository.WorkflowCompleted, "", ""); err != nil {
			logger.Error("executor: recording workflow completion failed (non-fatal)", "error", err)
		}
		paigeantlog.WorkflowComplete(w.logger, next.CorrelationID, next.RunID)
		if w.metrics != nil {
			w.metrics.RecordWorkflowComplete(ctx, "completed", w.workflowDuration(ctx, next.RunID))
		}
		return w.ack(ctx, delivery.Tag)
	}

	nextTopic := next.RoutingSlip.Itinerary[0].AgentName
	if err := w.transport.Publish(ctx, nextTopic, next); err != nil {
		return &paigeanterrors.InfrastructureError{Component: "transport.publish", Cause: err}
	}
	if err := w.workflows.UpdateWorkflowStatus(ctx, next.RunID, repository.WorkflowRunning, nextTopic, ""); err != nil {
		logger.Error("executor: recording workflow progress failed (non-fatal)", "error", err)
	}
	return w.ack(ctx, delivery.Tag)
}

// handleRunError classifies runErr and applies the retry policy: retry
// with backoff while attempts remain, otherwise mark the workflow failed.
// Errors that don't implement paigeanterrors.ErrorClassifier are treated
// as Permanent, the conservative default for an activity author who
// hasn't opted into the retry taxonomy.
func (w *Worker) handleRunError(ctx context.Context, logger *slog.Logger, env *envelope.Message, tag transport.DeliveryTag, stepID string, runErr error) error {
	var classifier paigeanterrors.ErrorClassifier
	retryable := paigeanterrors.As(runErr, &classifier) && classifier.IsRetryable()

	if !retryable {
		return w.failPermanently(ctx, logger, env, tag, stepID, runErr)
	}

	nextAttempt := env.Attempt + 1
	if nextAttempt < w.maxAttempts {
		if err := w.steps.UpdateStepStatus(ctx, env.RunID, stepID, repository.StepFailed, nextAttempt, "", runErr.Error()); err != nil {
			logger.Error("executor: recording transient failure failed (non-fatal)", "error", err)
		}
		paigeantlog.StepFail(w.logger, env.CorrelationID, env.RunID, w.agentName, env.Attempt, runErr, true)
		if w.metrics != nil {
			w.metrics.RecordRetry(ctx, w.agentName)
		}

		delay := backoff(env.Attempt, w.backoffBase, w.backoffCap)
		logger.Warn("executor: transient failure, retrying", "error", runErr, "next_attempt", nextAttempt, "delay", delay)

		// Publish the retry clone even when shutdown interrupts the
		// backoff sleep: acking the original without republishing would
		// silently drop the workflow.
		pubCtx := ctx
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			pubCtx = context.Background()
		}

		retried := envelope.RetryClone(env)
		if err := w.transport.Publish(pubCtx, w.agentName, retried); err != nil {
			return &paigeanterrors.InfrastructureError{Component: "transport.publish (retry)", Cause: err}
		}
		return w.ack(pubCtx, tag)
	}

	logger.Error("executor: retries exhausted", "error", runErr, "attempt", nextAttempt)
	if err := w.steps.UpdateStepStatus(ctx, env.RunID, stepID, repository.StepFailed, nextAttempt, "", runErr.Error()); err != nil {
		logger.Error("executor: recording exhausted failure failed (non-fatal)", "error", err)
	}
	if err := w.workflows.UpdateWorkflowStatus(ctx, env.RunID, repository.WorkflowFailed, w.agentName, runErr.Error()); err != nil {
		logger.Error("executor: recording workflow failure failed (non-fatal)", "error", err)
	}
	paigeantlog.StepFail(w.logger, env.CorrelationID, env.RunID, w.agentName, nextAttempt, runErr, false)
	paigeantlog.WorkflowFail(w.logger, env.CorrelationID, env.RunID, w.agentName, runErr)
	if w.metrics != nil {
		w.metrics.RecordStepComplete(ctx, w.agentName, "failed", 0)
		w.metrics.RecordWorkflowComplete(ctx, "failed", w.workflowDuration(ctx, env.RunID))
	}
	return w.ack(ctx, tag)
}

func (w *Worker) failPermanently(ctx context.Context, logger *slog.Logger, env *envelope.Message, tag transport.DeliveryTag, stepID string, cause error) error {
	logger.Error("executor: permanent failure", "error", cause)
	if err := w.steps.UpdateStepStatus(ctx, env.RunID, stepID, repository.StepFailed, env.Attempt, "", cause.Error()); err != nil {
		logger.Error("executor: recording permanent failure failed (non-fatal)", "error", err)
	}
	if err := w.workflows.UpdateWorkflowStatus(ctx, env.RunID, repository.WorkflowFailed, w.agentName, cause.Error()); err != nil {
		logger.Error("executor: recording workflow failure failed (non-fatal)", "error", err)
	}
	paigeantlog.StepFail(w.logger, env.CorrelationID, env.RunID, w.agentName, env.Attempt, cause, false)
	paigeantlog.WorkflowFail(w.logger, env.CorrelationID, env.RunID, w.agentName, cause)
	if w.metrics != nil {
		w.metrics.RecordStepComplete(ctx, w.agentName, "failed", 0)
		w.metrics.RecordWorkflowComplete(ctx, "failed", w.workflowDuration(ctx, env.RunID))
	}
	return w.ack(ctx, tag)
}

// workflowDuration looks up the workflow's recorded start time to compute
// an end-to-end duration for the workflow-completion histogram. Returns 0
// if the record can't be read, which simply omits that observation's
// duration rather than failing the step.
func (w *Worker) workflowDuration(ctx context.Context, runID string) time.Duration {
	rec, err := w.workflows.GetWorkflow(ctx, runID)
	if err != nil || rec == nil {
		return 0
	}
	return time.Since(rec.StartedAt)
}

func (w *Worker) ack(ctx context.Context, tag transport.DeliveryTag) error {
	if err := w.transport.Ack(ctx, tag); err != nil {
		return &paigeanterrors.InfrastructureError{Component: "transport.ack", Cause: err}
	}
	return nil
}

// editItinerary builds the synchronous in-process callback exposed on
// ActivityContext.Edit. Edits happen in place, never as message
// re-entry. currentEnv is a pointer to the handleDelivery-local envelope
// variable so a successful edit is visible to the Advance call made
// after the runner returns.
func (w *Worker) editItinerary(entry *registry.Entry, currentEnv **envelope.Message) activity.EditItinerary {
	return func(reqs []activity.InsertionRequest) error {
		env := *currentEnv
		// An agent registered with an explicit zero never gets the
		// worker default; its edits are always rejected.
		bound := w.maxInsertions
		if entry.MaxInsertions != nil {
			bound = *entry.MaxInsertions
		}

		insertions := make([]envelope.Insertion, len(reqs))
		for i, req := range reqs {
			target, err := w.agents.Get(req.AgentName)
			if err != nil {
				return &paigeanterrors.ProtocolError{Reason: fmt.Sprintf("itinerary edit: unregistered agent %q", req.AgentName)}
			}
			if envelope.WouldCycle(env, req.AgentName) {
				return &paigeanterrors.ProtocolError{Reason: fmt.Sprintf("itinerary edit: %q would cycle with an already-executed step", req.AgentName)}
			}
			insertions[i] = envelope.Insertion{
				AgentName: req.AgentName,
				Prompt:    req.Prompt,
				Deps: envelope.DepsBlob{
					TypeTag: target.DepsTypeTag,
					Data:    target.DepsBlob,
				},
			}
		}

		edited, err := envelope.InsertSteps(env, insertions, bound)
		if err != nil {
			return err
		}
		*currentEnv = edited
		return nil
	}
}
