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

// Package dispatcher builds a workflow's initial routing slip and
// publishes it to the first agent's topic. It is intentionally thin: it
// performs no validation of runner availability, since the worker for
// the first agent may not yet be running. The message simply waits on
// the durable topic until a subscriber shows up.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	paigeantlog "github.com/LeonKolyang/paigeant/internal/log"
	"github.com/LeonKolyang/paigeant/pkg/depsreg"
	"github.com/LeonKolyang/paigeant/pkg/envelope"
	paigeanterrors "github.com/LeonKolyang/paigeant/pkg/errors"
	"github.com/LeonKolyang/paigeant/pkg/observability"
	"github.com/LeonKolyang/paigeant/pkg/repository"
	"github.com/LeonKolyang/paigeant/pkg/security"
	"github.com/LeonKolyang/paigeant/pkg/transport"
)

// ErrEmptyWorkflow is returned by DispatchWorkflow when no step has been
// added to the runway.
var ErrEmptyWorkflow = errors.New("dispatcher: runway is empty")

// Step is one activity added to the runway via AddToRunway.
type Step struct {
	AgentName             string
	Prompt                string
	DepsTypeTag           string
	Deps                  any
	ExpectsPreviousOutput bool
}

// Options configures one DispatchWorkflow call.
type Options struct {
	// Payload seeds the envelope's payload map (e.g. the workflow's
	// initial input). May be nil.
	Payload map[string]any

	// OboToken, if set, is carried verbatim on the envelope. If empty and
	// a TokenIssuer was attached via WithTokenIssuer, one is minted for
	// this run instead.
	OboToken string

	// Scopes, when a TokenIssuer mints the token, become that token's
	// scopes claim. Ignored if OboToken is already set.
	Scopes []string

	// TraceID propagates an existing trace context; if empty, a fresh
	// one is generated.
	TraceID string
}

// Dispatcher accumulates a runway of ActivitySpecs and publishes them as
// one workflow's initial envelope.
type Dispatcher struct {
	transport transport.Transport
	workflows repository.WorkflowStore
	logger    *slog.Logger
	tracer    observability.Tracer
	tokens    security.TokenIssuer

	runway []Step
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithLogger overrides the structured logger; the default uses
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithTracer attaches a tracer that opens one span around each
// DispatchWorkflow call. Nil by default; tracing is off unless
// configured.
func WithTracer(tracer observability.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = tracer }
}

// WithTokenIssuer attaches a TokenIssuer that mints the envelope's
// obo_token automatically whenever Options.OboToken is left empty.
func WithTokenIssuer(issuer security.TokenIssuer) Option {
	return func(d *Dispatcher) { d.tokens = issuer }
}

// New creates a Dispatcher publishing through t and recording workflow
// starts through workflows.
func New(t transport.Transport, workflows repository.WorkflowStore, opts ...Option) *Dispatcher {
	d := &Dispatcher{transport: t, workflows: workflows, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddToRunway appends one step to the runway, in the order workflows
// should execute them. deps is marshaled immediately via depsreg.Bytes so
// the Dispatcher never needs the depsreg.Registry that resolves it back
// on the worker side.
func (d *Dispatcher) AddToRunway(agentName, prompt string, depsTypeTag string, deps any, expectsPreviousOutput bool) error {
	if agentName == "" {
		return fmt.Errorf("dispatcher: agent_name cannot be empty")
	}
	d.runway = append(d.runway, Step{
		AgentName:             agentName,
		Prompt:                prompt,
		DepsTypeTag:           depsTypeTag,
		Deps:                  deps,
		ExpectsPreviousOutput: expectsPreviousOutput,
	})
	return nil
}

// DispatchWorkflow builds the routing slip from the accumulated runway,
// publishes it to the first step's topic, and records a pending
// WorkflowRecord. The runway is cleared on success so the same
// Dispatcher can be reused for the next workflow.
func (d *Dispatcher) DispatchWorkflow(ctx context.Context, opts Options) (correlationID string, err error) {
	if len(d.runway) == 0 {
		return "", ErrEmptyWorkflow
	}

	if d.tracer != nil {
		var span observability.SpanHandle
		ctx, span = d.tracer.Start(ctx, "paigeant.dispatch", observability.WithSpanKind(observability.SpanKindProducer))
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(observability.StatusCodeError, err.Error())
			} else {
				span.SetAttributes(map[string]any{"correlation_id": correlationID})
				span.SetStatus(observability.StatusCodeOK, "")
			}
			span.End()
		}()
	}

	itinerary := make([]envelope.ActivitySpec, len(d.runway))
	for i, step := range d.runway {
		data, err := depsreg.Bytes(step.Deps)
		if err != nil {
			return "", fmt.Errorf("dispatcher: marshaling deps for %s: %w", step.AgentName, err)
		}
		itinerary[i] = envelope.ActivitySpec{
			AgentName: step.AgentName,
			Prompt:    step.Prompt,
			Deps: envelope.DepsBlob{
				TypeTag: step.DepsTypeTag,
				Data:    data,
			},
			ExpectsPreviousOutput: step.ExpectsPreviousOutput,
		}
	}

	correlationID = uuid.NewString()
	runID := uuid.NewString()
	traceID := opts.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	slip := envelope.RoutingSlip{
		Itinerary:     itinerary,
		Executed:      nil,
		Compensations: nil,
		InsertedCount: 0,
	}

	oboToken := opts.OboToken
	if oboToken == "" && d.tokens != nil {
		oboToken, err = d.tokens.Issue(correlationID, runID, opts.Scopes)
		if err != nil {
			return "", fmt.Errorf("dispatcher: minting obo_token: %w", err)
		}
	}

	env := envelope.New(correlationID, runID, slip, opts.Payload)
	env.TraceID = traceID
	env.OboToken = oboToken

	now := time.Now()
	if d.workflows != nil {
		if err := d.workflows.CreateWorkflow(ctx, &repository.WorkflowRecord{
			RunID:         runID,
			CorrelationID: correlationID,
			Status:        repository.WorkflowPending,
			CurrentAgent:  itinerary[0].AgentName,
			StartedAt:     now,
		}); err != nil {
			return "", fmt.Errorf("dispatcher: recording workflow: %w", err)
		}
	}

	topic := itinerary[0].AgentName
	if err := d.transport.Publish(ctx, topic, env); err != nil {
		return "", &paigeanterrors.InfrastructureError{Component: "transport.publish", Cause: err}
	}
	paigeantlog.Dispatch(d.logger, correlationID, runID, topic)

	d.runway = nil
	return correlationID, nil
}
