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

package main

import (
	"fmt"

	"github.com/LeonKolyang/paigeant/pkg/activity"
)

// builtinRunners maps an agent_name to the Go implementation this daemon
// binary links in. Registration manifests under the configured agents
// directory declare metadata (deps_type_tag, can_edit_itinerary,
// max_insertions) by name; a manifest whose agent_name has no entry here
// is discovered but never registered, since module_hint is never
// imported at runtime. Operators running their own agents embed this
// pattern in their own main package instead of this reference one.
var builtinRunners = map[string]activity.ActivityRunner{
	"echo": activity.RunnerFunc(echoRunner),
}

// echoRunner returns the activity's prompt and any previous output
// verbatim. It exists to give the daemon something runnable out of the
// box: an operator declares an "echo.agent.yaml" manifest in the
// configured agents directory and dispatches against it.
func echoRunner(actx *activity.ActivityContext, prompt string, deps any) (any, error) {
	result := map[string]any{"prompt": prompt}
	if actx.HasPreviousOutput {
		result["previous_output"] = actx.PreviousOutput
	}
	if deps != nil {
		result["deps"] = deps
	}
	return result, nil
}

func lookupRunner(agentName string) (activity.ActivityRunner, error) {
	runner, ok := builtinRunners[agentName]
	if !ok {
		return nil, fmt.Errorf("no builtin runner linked for agent %q", agentName)
	}
	return runner, nil
}
