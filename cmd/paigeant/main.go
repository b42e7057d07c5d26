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

// Command paigeant is the operator-facing front end: it dispatches a
// workflow defined in a runway file and inspects workflow/step records
// from whichever repository the daemon was pointed at. It never runs an
// ActivityRunner itself; that is cmd/paigeantd's job.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/LeonKolyang/paigeant/internal/cli"
	paigeanterrors "github.com/LeonKolyang/paigeant/pkg/errors"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cli.SetVersion(version, commit)

	root := &cobra.Command{
		Use:           "paigeant",
		Short:         "Dispatch and inspect paigeant workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to config.yaml (default: XDG config dir)")

	root.AddCommand(cli.NewRunCommand())
	root.AddCommand(cli.NewRunsCommand())
	root.AddCommand(cli.NewVersionCommand())

	if err := root.Execute(); err != nil {
		var visible paigeanterrors.UserVisibleError
		if paigeanterrors.As(err, &visible) && visible.IsUserVisible() {
			fmt.Fprintln(os.Stderr, "paigeant:", visible.UserMessage())
			if s := visible.Suggestion(); s != "" {
				fmt.Fprintln(os.Stderr, "hint:", s)
			}
		} else {
			fmt.Fprintln(os.Stderr, "paigeant:", err)
		}
		os.Exit(1)
	}
}
