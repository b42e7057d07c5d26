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

package dispatcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/LeonKolyang/paigeant/pkg/dispatcher"
	"github.com/LeonKolyang/paigeant/pkg/envelope"
	"github.com/LeonKolyang/paigeant/pkg/repository"
	"github.com/LeonKolyang/paigeant/pkg/repository/memstore"
	"github.com/LeonKolyang/paigeant/pkg/transport/inmemory"
)

func TestDispatchWorkflow_EmptyRunway(t *testing.T) {
	d := dispatcher.New(inmemory.New(), memstore.New())
	if _, err := d.DispatchWorkflow(context.Background(), dispatcher.Options{}); err != dispatcher.ErrEmptyWorkflow {
		t.Fatalf("expected ErrEmptyWorkflow, got %v", err)
	}
}

func TestDispatchWorkflow_PublishesToFirstAgentTopic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr := inmemory.New()
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Disconnect(ctx)

	repo := memstore.New()
	d := dispatcher.New(tr, repo)

	if err := d.AddToRunway("a", "start", "", nil, false); err != nil {
		t.Fatalf("AddToRunway a: %v", err)
	}
	if err := d.AddToRunway("b", "", "", nil, true); err != nil {
		t.Fatalf("AddToRunway b: %v", err)
	}

	deliveries, err := tr.Subscribe(ctx, "a")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	corrID, err := d.DispatchWorkflow(ctx, dispatcher.Options{Payload: map[string]any{"seed": "x"}})
	if err != nil {
		t.Fatalf("DispatchWorkflow: %v", err)
	}
	if corrID == "" {
		t.Fatal("expected non-empty correlation_id")
	}

	select {
	case delivery := <-deliveries:
		env, err := envelope.Deserialize(delivery.Bytes)
		if err != nil {
			t.Fatalf("Deserialize: %v", err)
		}
		if env.CorrelationID != corrID {
			t.Fatalf("correlation_id mismatch: got %s want %s", env.CorrelationID, corrID)
		}
		if len(env.RoutingSlip.Itinerary) != 2 || env.RoutingSlip.Itinerary[0].AgentName != "a" {
			t.Fatalf("unexpected itinerary: %+v", env.RoutingSlip.Itinerary)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for dispatch delivery")
	}

	wf, err := repo.GetWorkflow(ctx, (func() string {
		records, _ := repo.ListWorkflows(ctx, repository.WorkflowFilter{})
		if len(records) != 1 {
			t.Fatalf("expected 1 workflow record, got %d", len(records))
		}
		return records[0].RunID
	})())
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if wf.Status != repository.WorkflowPending {
		t.Fatalf("expected status pending, got %s", wf.Status)
	}
	if wf.CorrelationID != corrID {
		t.Fatalf("expected recorded correlation_id %s, got %s", corrID, wf.CorrelationID)
	}
}

func TestDispatchWorkflow_RunwayResetsAfterDispatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr := inmemory.New()
	tr.Connect(ctx)
	defer tr.Disconnect(ctx)

	d := dispatcher.New(tr, memstore.New())
	d.AddToRunway("a", "go", "", nil, false)
	if _, err := d.DispatchWorkflow(ctx, dispatcher.Options{}); err != nil {
		t.Fatalf("DispatchWorkflow: %v", err)
	}

	if _, err := d.DispatchWorkflow(ctx, dispatcher.Options{}); err != dispatcher.ErrEmptyWorkflow {
		t.Fatalf("expected runway to be empty after a successful dispatch, got %v", err)
	}
}
