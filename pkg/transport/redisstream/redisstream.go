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

// Package redisstream is the durable Transport variant: one Redis Stream
// per topic, with a consumer group per worker pool so competing workers
// split delivery instead of each seeing every message.
package redisstream

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LeonKolyang/paigeant/pkg/envelope"
	"github.com/LeonKolyang/paigeant/pkg/transport"
)

const (
	// streamField is the single field name every entry is stored under;
	// the envelope's serialized bytes are opaque to Redis.
	streamField = "envelope"
	// blockDuration bounds how long XREADGROUP waits for a new entry
	// before looping back to check ctx/close.
	blockDuration = 2 * time.Second
)

// Transport is the Redis Streams durable implementation.
type Transport struct {
	client *redis.Client
	group  string
	// consumer is this process's unique name inside group, distinguishing
	// it from other workers competing on the same stream.
	consumer string
}

// Option configures a Transport at construction time.
type Option func(*Transport)

// WithConsumerName overrides the default consumer identity used in
// XREADGROUP. Operators running several worker processes against the
// same group must give each a distinct name.
func WithConsumerName(name string) Option {
	return func(t *Transport) { t.consumer = name }
}

// New wraps an existing go-redis client. group identifies the
// competing-consumer group created (MKSTREAM) on first Subscribe per
// topic.
func New(client *redis.Client, group string, opts ...Option) *Transport {
	t := &Transport{client: client, group: group, consumer: "paigeant-worker"}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect verifies connectivity with a PING.
func (t *Transport) Connect(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrConnect, err)
	}
	return nil
}

// Disconnect closes the underlying client. Idempotent: closing an
// already-closed client returns its own error, which this swallows since
// go-redis itself doesn't expose an "already closed" sentinel.
func (t *Transport) Disconnect(ctx context.Context) error {
	_ = t.client.Close()
	return nil
}

// Publish appends env as a new stream entry via XADD.
func (t *Transport) Publish(ctx context.Context, topic string, env *envelope.Message) error {
	data, err := envelope.Serialize(env)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrPublish, err)
	}
	err = t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{streamField: data},
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrPublish, err)
	}
	return nil
}

// Subscribe ensures topic's consumer group exists (MKSTREAM, starting
// from the beginning of the stream) and starts a goroutine issuing
// blocking XREADGROUP calls, delivering one entry at a time on the
// returned channel. The DeliveryTag carries the stream entry ID so Ack
// can XACK it directly.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan transport.Delivery, error) {
	err := t.client.XGroupCreateMkStream(ctx, topic, t.group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("%w: create group %s on %s: %v", transport.ErrConnect, t.group, topic, err)
	}

	out := make(chan transport.Delivery)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    t.group,
				Consumer: t.consumer,
				Streams:  []string{topic, ">"},
				Count:    1,
				Block:    blockDuration,
			}).Result()
			if err != nil {
				if err == redis.Nil || ctx.Err() != nil {
					continue
				}
				return
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					raw, ok := msg.Values[streamField]
					if !ok {
						// malformed entry: ack it immediately so it does
						// not block the group forever, then drop it.
						t.client.XAck(ctx, topic, t.group, msg.ID)
						continue
					}
					bytes, ok := raw.(string)
					if !ok {
						t.client.XAck(ctx, topic, t.group, msg.ID)
						continue
					}
					delivery := transport.Delivery{
						Tag:   transport.DeliveryTag(topic + "|" + msg.ID),
						Bytes: []byte(bytes),
					}
					select {
					case out <- delivery:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

// Ack issues XACK for tag's stream entry.
func (t *Transport) Ack(ctx context.Context, tag transport.DeliveryTag) error {
	topic, id, err := splitTag(tag)
	if err != nil {
		return err
	}
	return t.client.XAck(ctx, topic, t.group, id).Err()
}

// Nack rejects tag. Redis Streams has no native requeue-to-front, so per
// the Transport contract this reads the original entry back by ID,
// re-publishes its bytes with XADD, and XACKs the original, making the
// message immediately eligible for delivery again at the tail of the
// stream. When requeue is false this only XACKs the original, dropping
// the message (the caller has already routed it to a dead-letter path).
func (t *Transport) Nack(ctx context.Context, tag transport.DeliveryTag, requeue bool) error {
	topic, id, err := splitTag(tag)
	if err != nil {
		return err
	}

	if !requeue {
		return t.client.XAck(ctx, topic, t.group, id).Err()
	}

	entries, err := t.client.XRange(ctx, topic, id, id).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrUnknownDelivery, err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: %s", transport.ErrUnknownDelivery, tag)
	}
	raw, ok := entries[0].Values[streamField]
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrMalformedDelivery, tag)
	}

	if err := t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{streamField: raw},
	}).Err(); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrPublish, err)
	}
	return t.client.XAck(ctx, topic, t.group, id).Err()
}

func splitTag(tag transport.DeliveryTag) (topic, id string, err error) {
	s := string(tag)
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("%w: %s", transport.ErrUnknownDelivery, tag)
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

var _ transport.Transport = (*Transport)(nil)
