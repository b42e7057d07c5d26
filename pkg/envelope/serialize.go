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

package envelope

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	paigeanterrors "github.com/LeonKolyang/paigeant/pkg/errors"
)

// timestampLayout is the wire timestamp format: ISO-8601 UTC with
// millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// knownKeys is the set of the envelope's named fields; their canonical wire
// order is the fields list in Serialize. Anything else encountered on
// Deserialize is stashed in extra and re-emitted, sorted, after these.
var knownKeys = map[string]struct{}{
	"message_id":     {},
	"correlation_id": {},
	"run_id":         {},
	"trace_id":       {},
	"timestamp":      {},
	"obo_token":      {},
	"signature":      {},
	"spec_version":   {},
	"attempt":        {},
	"payload":        {},
	"routing_slip":   {},
}

// Serialize produces the canonical on-wire form of env. Re-serializing an
// unmodified envelope (Deserialize(Serialize(env))) yields byte-identical
// output, because map-typed fields (Payload, extra) are encoded by
// encoding/json with keys sorted lexicographically and the known fields
// are always written in the same order.
func Serialize(env *Message) ([]byte, error) {
	var buf []byte
	buf = append(buf, '{')

	write := func(key string, value any) error {
		if len(buf) > 1 {
			buf = append(buf, ',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf = append(buf, k...)
		buf = append(buf, ':')
		buf = append(buf, v...)
		return nil
	}

	fields := []struct {
		key string
		val any
	}{
		{"message_id", env.MessageID},
		{"correlation_id", env.CorrelationID},
		{"run_id", env.RunID},
		{"trace_id", env.TraceID},
		{"timestamp", env.Timestamp.UTC().Format(timestampLayout)},
		{"obo_token", env.OboToken},
		{"signature", env.Signature},
		{"spec_version", env.SpecVersion},
		{"attempt", env.Attempt},
		{"payload", env.Payload},
		{"routing_slip", env.RoutingSlip},
	}
	for _, f := range fields {
		if err := write(f.key, f.val); err != nil {
			return nil, fmt.Errorf("envelope: marshal %s: %w", f.key, err)
		}
	}

	extraKeys := make([]string, 0, len(env.extra))
	for k := range env.extra {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		if len(buf) > 1 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, env.extra[k]...)
	}

	buf = append(buf, '}')
	return buf, nil
}

// Deserialize validates required fields, version compatibility, and the
// RoutingSlip's structural invariants. A malformed payload is reported as
// *paigeanterrors.MalformedError so the executor's default policy (ack +
// drop + log, never requeue) falls out of normal error-type switching.
func Deserialize(data []byte) (*Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &paigeanterrors.MalformedError{Cause: fmt.Errorf("not a JSON object: %w", err)}
	}

	env := &Message{extra: map[string]json.RawMessage{}}

	get := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		return json.Unmarshal(v, dst)
	}

	var err error
	if err = get("message_id", &env.MessageID); err != nil {
		return nil, malformed("message_id", err)
	}
	if err = get("correlation_id", &env.CorrelationID); err != nil {
		return nil, malformed("correlation_id", err)
	}
	if err = get("run_id", &env.RunID); err != nil {
		return nil, malformed("run_id", err)
	}
	if err = get("trace_id", &env.TraceID); err != nil {
		return nil, malformed("trace_id", err)
	}
	var ts string
	if err = get("timestamp", &ts); err != nil {
		return nil, malformed("timestamp", err)
	}
	if ts != "" {
		// RFC3339Nano accepts any fractional-second precision, so
		// envelopes from peers that emit more or fewer digits still
		// parse; Serialize always re-emits milliseconds.
		env.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, malformed("timestamp", err)
		}
	}
	if err = get("obo_token", &env.OboToken); err != nil {
		return nil, malformed("obo_token", err)
	}
	if err = get("signature", &env.Signature); err != nil {
		return nil, malformed("signature", err)
	}
	if err = get("spec_version", &env.SpecVersion); err != nil {
		return nil, malformed("spec_version", err)
	}
	if env.SpecVersion != "" {
		major, _, _ := strings.Cut(env.SpecVersion, ".")
		supported, _, _ := strings.Cut(SpecVersion, ".")
		if major != supported {
			return nil, &paigeanterrors.MalformedError{Cause: fmt.Errorf("incompatible spec_version %q (supported: %s.x)", env.SpecVersion, supported)}
		}
	}
	if err = get("attempt", &env.Attempt); err != nil {
		return nil, malformed("attempt", err)
	}
	if err = get("payload", &env.Payload); err != nil {
		return nil, malformed("payload", err)
	}
	if env.Payload == nil {
		env.Payload = map[string]any{}
	}
	if err = get("routing_slip", &env.RoutingSlip); err != nil {
		return nil, malformed("routing_slip", err)
	}

	if env.MessageID == "" || env.CorrelationID == "" || env.RunID == "" {
		return nil, &paigeanterrors.MalformedError{Cause: fmt.Errorf("missing required identity field")}
	}
	if env.Attempt < 0 {
		return nil, &paigeanterrors.MalformedError{Cause: fmt.Errorf("attempt must be non-negative, got %d", env.Attempt)}
	}
	if err := validateSlip(&env.RoutingSlip); err != nil {
		return nil, &paigeanterrors.MalformedError{Cause: err}
	}

	for k, v := range raw {
		if _, known := knownKeys[k]; known {
			continue
		}
		env.extra[k] = v
	}

	return env, nil
}

func malformed(field string, cause error) error {
	return &paigeanterrors.MalformedError{Cause: fmt.Errorf("field %q: %w", field, cause)}
}

// validateSlip checks the slip's internal shape: non-negative counters
// and no empty agent names. The no-duplicate-with-executed rule is
// checked by the caller, which knows run_id.
func validateSlip(s *RoutingSlip) error {
	if s.InsertedCount < 0 {
		return fmt.Errorf("routing_slip.inserted_count must be non-negative, got %d", s.InsertedCount)
	}
	for i, a := range s.Itinerary {
		if a.AgentName == "" {
			return fmt.Errorf("routing_slip.itinerary[%d]: empty agent_name", i)
		}
	}
	for i, a := range s.Executed {
		if a.AgentName == "" {
			return fmt.Errorf("routing_slip.executed[%d]: empty agent_name", i)
		}
	}
	return nil
}
