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

// Package transport defines the pluggable publish/subscribe contract that
// moves routing-slip envelopes between workers, with at-least-once
// delivery as the only guarantee every variant must uphold.
package transport

import (
	"context"
	"fmt"

	"github.com/LeonKolyang/paigeant/pkg/envelope"
)

// DeliveryTag identifies one in-flight delivery for ack/nack. Its
// concrete representation is transport-specific (an index for InMemory,
// a Redis stream entry ID for redisstream) and must not be interpreted
// by callers.
type DeliveryTag string

// Delivery is one message handed to a subscriber: the raw wire bytes plus
// the tag needed to ack or nack it. Bytes are handed over (rather than a
// pre-decoded *envelope.Message) so a deserialize failure can be reported
// and the message dropped without ever touching envelope internals.
type Delivery struct {
	Tag   DeliveryTag
	Bytes []byte
}

// Transport is the contract every concrete variant (in-memory, durable
// stream/broker) must implement.
type Transport interface {
	// Connect is idempotent; it acquires broker resources.
	Connect(ctx context.Context) error

	// Disconnect is idempotent; it releases resources. Any in-flight
	// Subscribe channel is closed after Disconnect.
	Disconnect(ctx context.Context) error

	// Publish is an at-least-once durable handoff: a nil return implies
	// the message is recoverable by some subscriber of topic even after
	// a transport restart, for durable variants.
	Publish(ctx context.Context, topic string, env *envelope.Message) error

	// Subscribe returns a channel of deliveries for topic. The channel is
	// closed when ctx is cancelled or Disconnect is called. Multiple
	// subscribers on the same topic form a competing-consumer group.
	Subscribe(ctx context.Context, topic string) (<-chan Delivery, error)

	// Ack confirms processing of tag; it is idempotent.
	Ack(ctx context.Context, tag DeliveryTag) error

	// Nack rejects tag. If requeue is true the message becomes eligible
	// for redelivery. Transports without a native requeue operation
	// republish the raw bytes to the end of the same topic and ack the
	// original.
	Nack(ctx context.Context, tag DeliveryTag, requeue bool) error
}

// Sentinel errors forming the transport failure surface.
var (
	ErrConnect           = fmt.Errorf("transport: connect failed")
	ErrClosed            = fmt.Errorf("transport: closed")
	ErrPublish           = fmt.Errorf("transport: publish failed")
	ErrUnknownDelivery   = fmt.Errorf("transport: unknown delivery tag")
	ErrMalformedDelivery = fmt.Errorf("transport: malformed delivery")
)
