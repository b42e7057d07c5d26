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

package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/LeonKolyang/paigeant/pkg/envelope"
	"github.com/LeonKolyang/paigeant/pkg/transport"
	"github.com/LeonKolyang/paigeant/pkg/transport/inmemory"
	"github.com/LeonKolyang/paigeant/pkg/transport/redisstream"
)

// variant bundles a Transport under test with its teardown.
type variant struct {
	name      string
	transport transport.Transport
	teardown  func()
}

func variants(t *testing.T) []variant {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return []variant{
		{
			name:      "inmemory",
			transport: inmemory.New(),
			teardown:  func() {},
		},
		{
			name:      "redisstream",
			transport: redisstream.New(client, "paigeant-contract-test"),
			teardown: func() {
				client.Close()
				mr.Close()
			},
		},
	}
}

func sampleEnvelope(corrID string) *envelope.Message {
	return envelope.New(corrID, "run-"+corrID, envelope.RoutingSlip{
		Itinerary: []envelope.ActivitySpec{{AgentName: "echo"}},
	}, map[string]any{"greeting": "hi"})
}

func TestTransport_PublishSubscribeAck(t *testing.T) {
	for _, v := range variants(t) {
		v := v
		t.Run(v.name, func(t *testing.T) {
			defer v.teardown()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := v.transport.Connect(ctx); err != nil {
				t.Fatalf("Connect: %v", err)
			}
			defer v.transport.Disconnect(ctx)

			topic := "workflow.echo"
			deliveries, err := v.transport.Subscribe(ctx, topic)
			if err != nil {
				t.Fatalf("Subscribe: %v", err)
			}

			env := sampleEnvelope("c1")
			if err := v.transport.Publish(ctx, topic, env); err != nil {
				t.Fatalf("Publish: %v", err)
			}

			select {
			case d := <-deliveries:
				got, err := envelope.Deserialize(d.Bytes)
				if err != nil {
					t.Fatalf("Deserialize delivery: %v", err)
				}
				if got.CorrelationID != env.CorrelationID {
					t.Fatalf("correlation_id mismatch: got %s want %s", got.CorrelationID, env.CorrelationID)
				}
				if err := v.transport.Ack(ctx, d.Tag); err != nil {
					t.Fatalf("Ack: %v", err)
				}
			case <-ctx.Done():
				t.Fatal("timed out waiting for delivery")
			}
		})
	}
}

func TestTransport_NackRequeueRedelivers(t *testing.T) {
	for _, v := range variants(t) {
		v := v
		t.Run(v.name, func(t *testing.T) {
			defer v.teardown()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := v.transport.Connect(ctx); err != nil {
				t.Fatalf("Connect: %v", err)
			}
			defer v.transport.Disconnect(ctx)

			topic := "workflow.retry"
			deliveries, err := v.transport.Subscribe(ctx, topic)
			if err != nil {
				t.Fatalf("Subscribe: %v", err)
			}

			env := sampleEnvelope("c2")
			if err := v.transport.Publish(ctx, topic, env); err != nil {
				t.Fatalf("Publish: %v", err)
			}

			var first transport.Delivery
			select {
			case first = <-deliveries:
			case <-ctx.Done():
				t.Fatal("timed out waiting for first delivery")
			}

			if err := v.transport.Nack(ctx, first.Tag, true); err != nil {
				t.Fatalf("Nack: %v", err)
			}

			select {
			case second := <-deliveries:
				got, err := envelope.Deserialize(second.Bytes)
				if err != nil {
					t.Fatalf("Deserialize redelivered: %v", err)
				}
				if got.CorrelationID != env.CorrelationID {
					t.Fatalf("redelivered correlation_id mismatch: got %s want %s", got.CorrelationID, env.CorrelationID)
				}
				v.transport.Ack(ctx, second.Tag)
			case <-ctx.Done():
				t.Fatal("timed out waiting for redelivery after nack(requeue=true)")
			}
		})
	}
}

func TestTransport_CompetingConsumersSplitWork(t *testing.T) {
	for _, v := range variants(t) {
		v := v
		t.Run(v.name, func(t *testing.T) {
			defer v.teardown()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := v.transport.Connect(ctx); err != nil {
				t.Fatalf("Connect: %v", err)
			}
			defer v.transport.Disconnect(ctx)

			topic := "workflow.fanout"
			a, err := v.transport.Subscribe(ctx, topic)
			if err != nil {
				t.Fatalf("Subscribe a: %v", err)
			}
			b, err := v.transport.Subscribe(ctx, topic)
			if err != nil {
				t.Fatalf("Subscribe b: %v", err)
			}

			const n = 4
			for i := 0; i < n; i++ {
				env := sampleEnvelope("fanout")
				if err := v.transport.Publish(ctx, topic, env); err != nil {
					t.Fatalf("Publish %d: %v", i, err)
				}
			}

			seen := 0
			for seen < n {
				select {
				case d := <-a:
					v.transport.Ack(ctx, d.Tag)
					seen++
				case d := <-b:
					v.transport.Ack(ctx, d.Tag)
					seen++
				case <-ctx.Done():
					t.Fatalf("timed out after seeing %d/%d deliveries", seen, n)
				}
			}
		})
	}
}
