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

// Package cli wires the subcommands of cmd/paigeant: dispatching a
// workflow runway file and inspecting recorded runs. It is deliberately
// thin; everything it does goes through the same dispatcher and
// repository APIs any embedding program would use.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
)

// SetVersion records the ldflags-injected build metadata shown by the
// version command.
func SetVersion(version, commit string) {
	buildVersion = version
	buildCommit = commit
}

// NewVersionCommand reports the paigeant binary's build metadata.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "paigeant %s (commit: %s)\n", buildVersion, buildCommit)
			return err
		},
	}
}
