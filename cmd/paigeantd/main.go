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

// Command paigeantd is the worker daemon: it loads the repository and
// transport configured for this process, discovers agent registration
// manifests, binds each discovered agent to a linked-in runner
// implementation, and runs one executor.Worker goroutine per agent until
// signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/LeonKolyang/paigeant/internal/config"
	paigeantlog "github.com/LeonKolyang/paigeant/internal/log"
	"github.com/LeonKolyang/paigeant/pkg/depsreg"
	"github.com/LeonKolyang/paigeant/pkg/executor"
	"github.com/LeonKolyang/paigeant/pkg/observability"
	"github.com/LeonKolyang/paigeant/pkg/registry"
	"github.com/LeonKolyang/paigeant/pkg/registry/discovery"
	"github.com/LeonKolyang/paigeant/pkg/repository"
	"github.com/LeonKolyang/paigeant/pkg/repository/memstore"
	"github.com/LeonKolyang/paigeant/pkg/repository/pgstore"
	"github.com/LeonKolyang/paigeant/pkg/repository/sqlitestore"
	"github.com/LeonKolyang/paigeant/pkg/transport"
	"github.com/LeonKolyang/paigeant/pkg/transport/inmemory"
	"github.com/LeonKolyang/paigeant/pkg/transport/redisstream"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config.yaml (default: XDG config dir)")
		metricsAddr = flag.String("metrics-addr", "", "Address to serve Prometheus /metrics on (disabled if empty)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("paigeantd %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	logger := paigeantlog.New(paigeantlog.FromEnv())

	path := *configPath
	if path == "" {
		if p, err := config.ConfigPath(); err == nil {
			path = p
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(1)
	}

	repo, err := openRepository(cfg.Repository)
	if err != nil {
		logger.Error("opening repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	tp, err := openTransport(cfg.Transport)
	if err != nil {
		logger.Error("opening transport", "error", err)
		os.Exit(1)
	}

	deps := depsreg.New()
	agents := registry.New()

	if cfg.Discovery.Dir != "" {
		pattern := cfg.Discovery.Pattern
		if pattern == "" {
			pattern = discovery.DefaultPattern
		}
		manifests, err := discovery.Discover(cfg.Discovery.Dir, pattern)
		if err != nil {
			logger.Error("discovering agent manifests", "error", err)
			os.Exit(1)
		}
		for _, m := range manifests {
			runner, err := lookupRunner(m.AgentName)
			if err != nil {
				logger.Warn("skipping manifest with no linked runner",
					"agent_name", m.AgentName, "source", m.SourcePath, "error", err)
				continue
			}
			if err := agents.RegisterFromManifest(m, runner); err != nil {
				logger.Error("registering agent", "agent_name", m.AgentName, "error", err)
				os.Exit(1)
			}
			logger.Info("registered agent", "agent_name", m.AgentName, "source", m.SourcePath)
		}
	}

	if len(agents.List()) == 0 {
		logger.Warn("no agents registered; nothing to run. Configure discovery.dir with *.agent.yaml manifests")
		return
	}

	var metrics *observability.MetricsCollector
	if *metricsAddr != "" {
		metrics, err = observability.NewMetricsCollector()
		if err != nil {
			logger.Error("building metrics collector", "error", err)
			os.Exit(1)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server", "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", *metricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	var wg sync.WaitGroup
	startWorker := func(agentName string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			opts := []executor.Option{
				executor.WithLogger(logger),
				executor.WithMaxAttempts(cfg.Defaults.MaxAttempts),
				executor.WithMaxInsertions(cfg.Defaults.MaxInsertions),
				executor.WithBackoff(cfg.Defaults.BackoffBase, cfg.Defaults.BackoffCap),
			}
			if metrics != nil {
				opts = append(opts, executor.WithMetrics(metrics))
			}
			w := executor.New(tp, agents, deps, repo, repo, agentName, opts...)
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("worker exited", "agent_name", agentName, "error", err)
			}
		}()
	}

	for _, agentName := range agents.List() {
		startWorker(agentName)
	}

	if cfg.Discovery.Watch && cfg.Discovery.Dir != "" {
		pattern := cfg.Discovery.Pattern
		if pattern == "" {
			pattern = discovery.DefaultPattern
		}
		manifests, err := discovery.Watch(ctx, cfg.Discovery.Dir, pattern)
		if err != nil {
			logger.Error("starting manifest watch", "error", err)
		} else {
			go watchManifests(ctx, logger, manifests, agents, startWorker)
		}
	}

	wg.Wait()
	if metrics != nil {
		_ = metrics.Shutdown(context.Background())
	}
}

// watchManifests registers any newly discovered agent manifest and starts
// a worker for it. An agent already bound at startup is left alone:
// Registry.Register rejects re-registration, so only agents absent from
// the registry at the time a refreshed manifest set arrives are new.
func watchManifests(ctx context.Context, logger *slog.Logger, manifests <-chan []discovery.AgentManifest, agents *registry.Registry, startWorker func(string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-manifests:
			if !ok {
				return
			}
			for _, m := range batch {
				if agents.Has(m.AgentName) {
					continue
				}
				runner, err := lookupRunner(m.AgentName)
				if err != nil {
					logger.Warn("skipping rediscovered manifest with no linked runner",
						"agent_name", m.AgentName, "source", m.SourcePath, "error", err)
					continue
				}
				if err := agents.RegisterFromManifest(m, runner); err != nil {
					logger.Error("registering rediscovered agent", "agent_name", m.AgentName, "error", err)
					continue
				}
				logger.Info("registered agent from watch", "agent_name", m.AgentName, "source", m.SourcePath)
				startWorker(m.AgentName)
			}
		}
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
