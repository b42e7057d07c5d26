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
	paigeantlog "github.com/LeonKolyang/paigeant/internal/log"
	"github.com/LeonKolyang/paigeant/pkg/dispatcher"
	"github.com/LeonKolyang/paigeant/pkg/repository"
	"github.com/LeonKolyang/paigeant/pkg/repository/memstore"
	"github.com/LeonKolyang/paigeant/pkg/repository/pgstore"
	"github.com/LeonKolyang/paigeant/pkg/repository/sqlitestore"
	"github.com/LeonKolyang/paigeant/pkg/transport"
	"github.com/LeonKolyang/paigeant/pkg/transport/inmemory"
	"github.com/LeonKolyang/paigeant/pkg/transport/redisstream"

	"github.com/redis/go-redis/v9"
)

// NewRunCommand builds `paigeant run <runway.yaml>`: it loads the
// transport and repository the daemon itself would use (same config
// file), builds a dispatcher.Dispatcher from the runway's declared
// steps, and publishes the workflow's first message.
func NewRunCommand() *cobra.Command {
	var oboToken string

	cmd := &cobra.Command{
		Use:   "run <runway.yaml>",
		Short: "Dispatch a workflow described by a runway file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			if configPath == "" {
				if p, err := config.ConfigPath(); err == nil {
					configPath = p
				}
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			logger := paigeantlog.New(paigeantlog.FromEnv())

			tp, err := openTransport(cfg.Transport)
			if err != nil {
				return fmt.Errorf("opening transport: %w", err)
			}

			repo, err := openRepository(cfg.Repository)
			if err != nil {
				return fmt.Errorf("opening repository: %w", err)
			}
			defer repo.Close()

			rf, err := loadRunway(args[0])
			if err != nil {
				return err
			}

			d := dispatcher.New(tp, repo, dispatcher.WithLogger(logger))
			for _, step := range rf.Steps {
				if err := d.AddToRunway(step.AgentName, step.Prompt, step.DepsTypeTag, step.Deps, step.expectsPreviousOutput()); err != nil {
					return fmt.Errorf("adding %s to runway: %w", step.AgentName, err)
				}
			}

			ctx := cmd.Context()
			correlationID, err := d.DispatchWorkflow(ctx, dispatcher.Options{
				Payload:  rf.Payload,
				Scopes:   rf.Scopes,
				OboToken: oboToken,
			})
			if err != nil {
				return fmt.Errorf("dispatching workflow: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), correlationID)
			return nil
		},
	}

	cmd.Flags().StringVar(&oboToken, "obo-token", "", "Pre-minted obo_token to attach instead of minting one")
	return cmd
}

func openTransport(cfg config.TransportConfig) (transport.Transport, error) {
	switch cfg.Type {
	case "", "inmemory":
		return inmemory.New(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		group := cfg.RedisGroup
		if group == "" {
			group = "paigeant"
		}
		return redisstream.New(client, group), nil
	default:
		return nil, fmt.Errorf("unknown transport type %q", cfg.Type)
	}
}

func openRepository(cfg config.RepositoryConfig) (repository.Repository, error) {
	switch cfg.Type {
	case "", "memory":
		return memstore.New(), nil
	case "sqlite":
		return sqlitestore.New(sqlitestore.Config{Path: cfg.SQLitePath, WAL: true})
	case "postgres":
		return pgstore.New(pgstore.Config{ConnectionString: cfg.PostgresDSN})
	default:
		return nil, fmt.Errorf("unknown repository type %q", cfg.Type)
	}
}
