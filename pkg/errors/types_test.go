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

package errors

import (
	"errors"
	"testing"
)

func TestErrorKinds_Retryability(t *testing.T) {
	tests := []struct {
		name      string
		err       ErrorClassifier
		wantType  string
		wantRetry bool
	}{
		{"malformed", &MalformedError{Topic: "echo", Cause: errors.New("bad json")}, "malformed", false},
		{"unknown_agent", &UnknownAgentError{AgentName: "ghost"}, "unknown_agent", false},
		{"transient", &TransientError{Operation: "runner.run", Cause: errors.New("timeout")}, "transient", true},
		{"permanent", &PermanentError{Operation: "deps.decode", Cause: errors.New("bad schema")}, "permanent", false},
		{"protocol", &ProtocolError{Reason: "cycle detected"}, "protocol", false},
		{"infrastructure", &InfrastructureError{Component: "transport", Cause: errors.New("conn refused")}, "infrastructure", false},
		{"bound", &BoundError{Insertions: 3, Max: 3}, "protocol", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.ErrorType(); got != tt.wantType {
				t.Errorf("ErrorType() = %q, want %q", got, tt.wantType)
			}
			if got := tt.err.IsRetryable(); got != tt.wantRetry {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.wantRetry)
			}
			if tt.err.Error() == "" {
				t.Error("Error() returned empty string")
			}
		})
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := &TransientError{Operation: "transport.publish", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find wrapped cause")
	}
}

func TestPermanentError_Unwrap(t *testing.T) {
	cause := errors.New("unknown type_tag")
	err := &PermanentError{Operation: "deps.decode", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find wrapped cause")
	}
}

func TestInfrastructureError_UserVisible(t *testing.T) {
	err := &InfrastructureError{Component: "transport.publish", Cause: errors.New("conn refused")}

	var visible UserVisibleError = err
	if !visible.IsUserVisible() {
		t.Error("expected infrastructure failures to be user visible")
	}
	if visible.UserMessage() == "" {
		t.Error("expected a non-empty user message")
	}
	if visible.Suggestion() == "" {
		t.Error("expected an actionable suggestion")
	}
}
