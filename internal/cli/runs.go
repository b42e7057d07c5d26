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

	"github.com/spf13/cobra"

	"github.com/LeonKolyang/paigeant/internal/config"
	"github.com/LeonKolyang/paigeant/pkg/repository"
)

// NewRunsCommand groups the read-only inspection subcommands over
// whatever repository the active config names (list and show) so an
// operator can follow a workflow without a second tool.
func NewRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded workflow runs",
	}
	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	return cmd
}

func openConfiguredRepository(cmd *cobra.Command) (repository.Repository, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath, _ = cmd.Root().PersistentFlags().GetString("config")
	}
	if configPath == "" {
		if p, err := config.ConfigPath(); err == nil {
			configPath = p
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return openRepository(cfg.Repository)
}

func newRunsListCommand() *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openConfiguredRepository(cmd)
			if err != nil {
				return err
			}
			defer repo.Close()

			runs, err := repo.ListWorkflows(cmd.Context(), repository.WorkflowFilter{Status: status, Limit: limit})
			if err != nil {
				return fmt.Errorf("listing runs: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, r := range runs {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", r.RunID, r.CorrelationID, r.Status, r.CurrentAgent)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (running, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of runs to list")
	return cmd
}

func newRunsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a workflow run and its recorded steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openConfiguredRepository(cmd)
			if err != nil {
				return err
			}
			defer repo.Close()

			runID := args[0]
			wf, err := repo.GetWorkflow(cmd.Context(), runID)
			if err != nil {
				return fmt.Errorf("fetching run %s: %w", runID, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run_id:         %s\n", wf.RunID)
			fmt.Fprintf(out, "correlation_id: %s\n", wf.CorrelationID)
			fmt.Fprintf(out, "status:         %s\n", wf.Status)
			fmt.Fprintf(out, "current_agent:  %s\n", wf.CurrentAgent)
			if wf.Error != "" {
				fmt.Fprintf(out, "error:          %s\n", wf.Error)
			}

			steps, err := repo.ListSteps(cmd.Context(), runID)
			if err != nil {
				return fmt.Errorf("fetching steps for %s: %w", runID, err)
			}
			fmt.Fprintln(out, "\nsteps:")
			for _, s := range steps {
				fmt.Fprintf(out, "  %-20s %-10s attempt=%d\n", s.AgentName, s.Status, s.Attempt)
			}
			return nil
		},
	}
	return cmd
}
