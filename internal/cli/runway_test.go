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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRunway(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
payload:
  input: hello
scopes: ["workflow:run"]
steps:
  - agent_name: a
    prompt: "do a"
    deps_type_tag: none
  - agent_name: b
    prompt: "do b"
    expects_previous_output: false
`), 0o644))

	rf, err := loadRunway(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", rf.Payload["input"])
	assert.Equal(t, []string{"workflow:run"}, rf.Scopes)
	require.Len(t, rf.Steps, 2)

	assert.Equal(t, "a", rf.Steps[0].AgentName)
	assert.True(t, rf.Steps[0].expectsPreviousOutput())

	assert.Equal(t, "b", rf.Steps[1].AgentName)
	assert.False(t, rf.Steps[1].expectsPreviousOutput())
}

func TestLoadRunway_NoSteps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("payload: {}\n"), 0o644))

	_, err := loadRunway(path)
	assert.Error(t, err)
}

func TestLoadRunway_MissingFile(t *testing.T) {
	_, err := loadRunway(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
