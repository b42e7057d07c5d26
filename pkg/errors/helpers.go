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

import "errors"

// As finds the first error in err's tree that matches target's type,
// and if one is found, sets target to that error value and returns true.
// This is a convenience wrapper around errors.As from the standard
// library, re-exported so callers classifying a step failure don't need
// a second errors import next to this package's kinds.
//
// Usage:
//
//	var transient *TransientError
//	if errors.As(runErr, &transient) {
//	    // schedule a retry
//	}
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
