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

package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// runwayFile is the on-disk shape of the YAML document `paigeant run`
// loads: an ordered list of activities plus the workflow's seed payload.
// It mirrors dispatcher.Step field-for-field so loading it is a direct
// translation, not a second schema to keep in sync.
type runwayFile struct {
	Payload map[string]any   `yaml:"payload"`
	Scopes  []string         `yaml:"scopes"`
	Steps   []runwayStepYAML `yaml:"steps"`
}

type runwayStepYAML struct {
	AgentName             string `yaml:"agent_name"`
	Prompt                string `yaml:"prompt"`
	DepsTypeTag           string `yaml:"deps_type_tag"`
	Deps                  any    `yaml:"deps"`
	ExpectsPreviousOutput *bool  `yaml:"expects_previous_output"`
}

// loadRunway reads path as YAML and returns its parsed runway, erroring
// if it names no steps.
func loadRunway(path string) (*runwayFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading runway file %s: %w", path, err)
	}
	var rf runwayFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing runway file %s: %w", path, err)
	}
	if len(rf.Steps) == 0 {
		return nil, fmt.Errorf("runway file %s declares no steps", path)
	}
	return &rf, nil
}

func (s runwayStepYAML) expectsPreviousOutput() bool {
	if s.ExpectsPreviousOutput == nil {
		return true
	}
	return *s.ExpectsPreviousOutput
}
