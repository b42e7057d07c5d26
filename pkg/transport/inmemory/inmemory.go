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

// Package inmemory provides a process-local FIFO transport: one queue per
// topic, no durability, no ack semantics beyond bookkeeping. Each topic
// is a mutex-protected slice plus a buffered signal channel used to wake
// blocked consumers, with competing-consumer fan-out across subscribers.
package inmemory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/LeonKolyang/paigeant/pkg/envelope"
	"github.com/LeonKolyang/paigeant/pkg/transport"
)

// Transport is the in-memory, single-process Transport implementation.
type Transport struct {
	mu      sync.Mutex
	topics  map[string]*topicQueue
	pending map[transport.DeliveryTag]pendingDelivery
	nextTag uint64
	closed  atomic.Bool
	closeCh chan struct{}
}

type topicQueue struct {
	mu     sync.Mutex
	items  [][]byte
	signal chan struct{}
}

func newTopicQueue() *topicQueue {
	return &topicQueue{signal: make(chan struct{}, 1)}
}

func (q *topicQueue) push(item []byte) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *topicQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

type pendingDelivery struct {
	topic string
	bytes []byte
}

// New creates an unconnected in-memory transport.
func New() *Transport {
	return &Transport{
		topics:  make(map[string]*topicQueue),
		pending: make(map[transport.DeliveryTag]pendingDelivery),
		closeCh: make(chan struct{}),
	}
}

// Connect is idempotent; the in-memory transport has no external
// resources to acquire, so this only clears a prior Disconnect.
func (t *Transport) Connect(ctx context.Context) error {
	if t.closed.CompareAndSwap(true, false) {
		t.mu.Lock()
		t.closeCh = make(chan struct{})
		t.mu.Unlock()
	}
	return nil
}

// Disconnect is idempotent; any live Subscribe channel is closed, and
// later Publish and Subscribe calls return transport.ErrClosed until
// Connect is called again.
func (t *Transport) Disconnect(ctx context.Context) error {
	if t.closed.CompareAndSwap(false, true) {
		t.mu.Lock()
		close(t.closeCh)
		t.mu.Unlock()
	}
	return nil
}

func (t *Transport) topicFor(name string) *topicQueue {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.topics[name]
	if !ok {
		q = newTopicQueue()
		t.topics[name] = q
	}
	return q
}

// Publish appends env's serialized bytes to topic's FIFO.
func (t *Transport) Publish(ctx context.Context, topic string, env *envelope.Message) error {
	if t.closed.Load() {
		return fmt.Errorf("%w: publish to %s", transport.ErrClosed, topic)
	}
	data, err := envelope.Serialize(env)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrPublish, err)
	}
	t.topicFor(topic).push(data)
	return nil
}

// Subscribe returns a channel delivering topic's messages one at a time.
// Calling Subscribe more than once on the same topic forms a
// competing-consumer group: each message goes to exactly one caller's
// channel, because pop() is serialized behind the topic's mutex.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan transport.Delivery, error) {
	if t.closed.Load() {
		return nil, fmt.Errorf("%w: subscribe to %s", transport.ErrClosed, topic)
	}

	q := t.topicFor(topic)
	out := make(chan transport.Delivery)

	t.mu.Lock()
	closeCh := t.closeCh
	t.mu.Unlock()

	go func() {
		defer close(out)
		for {
			if item, ok := q.pop(); ok {
				tag := t.track(topic, item)
				select {
				case out <- transport.Delivery{Tag: tag, Bytes: item}:
				case <-ctx.Done():
					return
				case <-closeCh:
					return
				}
				continue
			}
			select {
			case <-q.signal:
			case <-ctx.Done():
				return
			case <-closeCh:
				return
			}
		}
	}()

	return out, nil
}

func (t *Transport) track(topic string, data []byte) transport.DeliveryTag {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextTag++
	tag := transport.DeliveryTag(fmt.Sprintf("%s:%d", topic, t.nextTag))
	t.pending[tag] = pendingDelivery{topic: topic, bytes: data}
	return tag
}

// Ack discards the bookkeeping entry for tag. Idempotent: acking an
// unknown (already acked) tag is a no-op.
func (t *Transport) Ack(ctx context.Context, tag transport.DeliveryTag) error {
	t.mu.Lock()
	delete(t.pending, tag)
	t.mu.Unlock()
	return nil
}

// Nack rejects tag. The in-memory FIFO has no native requeue-to-front,
// so this republishes the raw bytes to the end of the same topic and
// acks the original tag.
func (t *Transport) Nack(ctx context.Context, tag transport.DeliveryTag, requeue bool) error {
	t.mu.Lock()
	pd, ok := t.pending[tag]
	delete(t.pending, tag)
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrUnknownDelivery, tag)
	}
	if requeue {
		t.topicFor(pd.topic).push(pd.bytes)
	}
	return nil
}

var _ transport.Transport = (*Transport)(nil)
