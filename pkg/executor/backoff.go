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

package executor

import (
	"math"
	"math/rand"
	"time"
)

// backoff computes a bounded exponential delay with jitter for attempt
// (0-indexed). It is a pure function of attempt rather than a stateful
// retry counter: with message-based retries the Nth attempt may land on
// a different worker process than the (N-1)th, so the attempt number on
// the envelope is the only state a delay may depend on.
func backoff(attempt int, base, cap time.Duration) time.Duration {
	delay := float64(base) * math.Pow(2.0, float64(attempt))
	if delay > float64(cap) {
		delay = float64(cap)
	}

	jitterAmount := delay * 0.2
	jitter := rand.Float64() * jitterAmount

	return time.Duration(delay + jitter)
}
