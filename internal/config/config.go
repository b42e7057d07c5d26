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

// Package config loads the layered configuration surface: transport
// selection/DSN, repository selection/DSN, default
// max_attempts/max_insertions, backoff base/cap, and log level/format.
// Precedence is built-in defaults, overridden by an optional YAML file,
// overridden by PAIGEANT_*-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate when a required field is
// missing or a value is out of range.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// TransportConfig selects and configures the pkg/transport variant.
type TransportConfig struct {
	// Type is "inmemory" or "redis". Default: "inmemory".
	Type string `yaml:"type"`

	// RedisAddr is the Redis server address (host:port), used when
	// Type == "redis".
	RedisAddr string `yaml:"redis_addr,omitempty"`

	// RedisGroup is the consumer-group name shared by every worker
	// instance subscribed to the same agent topic; each instance joins
	// the group under its own unique consumer name.
	RedisGroup string `yaml:"redis_group,omitempty"`
}

// RepositoryConfig selects and configures the pkg/repository variant.
type RepositoryConfig struct {
	// Type is "memory", "sqlite", or "postgres". Default: "memory".
	Type string `yaml:"type"`

	// SQLitePath is the database file path, used when Type == "sqlite".
	// ":memory:" opens an ephemeral database scoped to the process.
	SQLitePath string `yaml:"sqlite_path,omitempty"`

	// PostgresDSN is the connection URL, used when Type == "postgres".
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	// Level is debug, info, warn, or error. Default: "info".
	Level string `yaml:"level"`

	// Format is "json" or "text". Default: "json".
	Format string `yaml:"format"`
}

// DiscoveryConfig configures pkg/registry/discovery.
type DiscoveryConfig struct {
	// Dir is the root path a worker process walks for *.agent.yaml
	// manifests at startup.
	Dir string `yaml:"dir,omitempty"`

	// Pattern overrides discovery.DefaultPattern.
	Pattern string `yaml:"pattern,omitempty"`

	// Watch re-scans Dir for manifest changes via fsnotify while the
	// worker runs.
	Watch bool `yaml:"watch,omitempty"`
}

// Defaults holds the limits an executor.Worker applies to every agent.
// Only MaxInsertions can be overridden per agent, by a registry.Entry.
type Defaults struct {
	// MaxAttempts bounds retries of a transient step failure.
	// Default: 3.
	MaxAttempts int `yaml:"max_attempts"`

	// MaxInsertions bounds cumulative dynamic itinerary insertions.
	// Default: 3.
	MaxInsertions int `yaml:"max_insertions"`

	// BackoffBase and BackoffCap bound the exponential backoff applied
	// between retries. Defaults: 200ms / 10s.
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`
}

// Config is the complete paigeant configuration surface.
type Config struct {
	Transport  TransportConfig  `yaml:"transport"`
	Repository RepositoryConfig `yaml:"repository"`
	Log        LogConfig        `yaml:"log"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Defaults   Defaults         `yaml:"defaults"`
}

// Default returns a Config with the built-in defaults: in-memory
// transport, in-memory repository, info/json logging, max_attempts=3,
// max_insertions=3, 200ms/10s backoff.
func Default() *Config {
	return &Config{
		Transport:  TransportConfig{Type: "inmemory"},
		Repository: RepositoryConfig{Type: "memory"},
		Log:        LogConfig{Level: "info", Format: "json"},
		Defaults: Defaults{
			MaxAttempts:   3,
			MaxInsertions: 3,
			BackoffBase:   200 * time.Millisecond,
			BackoffCap:    10 * time.Second,
		},
	}
}

// Load reads path (if non-empty and present) as YAML over the built-in
// defaults, then applies PAIGEANT_*-prefixed environment overrides, then
// validates the result. A missing path is not an error; it simply means
// the environment and built-in defaults govern.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays PAIGEANT_*-prefixed environment variables on top of
// whatever the YAML file set.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PAIGEANT_TRANSPORT"); v != "" {
		cfg.Transport.Type = strings.ToLower(v)
	}
	if v := os.Getenv("PAIGEANT_REDIS_ADDR"); v != "" {
		cfg.Transport.RedisAddr = v
	}
	if v := os.Getenv("PAIGEANT_REDIS_GROUP"); v != "" {
		cfg.Transport.RedisGroup = v
	}
	if v := os.Getenv("PAIGEANT_REPOSITORY"); v != "" {
		cfg.Repository.Type = strings.ToLower(v)
	}
	if v := os.Getenv("PAIGEANT_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("PAIGEANT_POSTGRES_DSN"); v != "" {
		cfg.Repository.PostgresDSN = v
	}
	if v := os.Getenv("PAIGEANT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("PAIGEANT_LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("PAIGEANT_AGENTS_DIR"); v != "" {
		cfg.Discovery.Dir = v
	}
	if v := os.Getenv("PAIGEANT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Defaults.MaxAttempts = n
		}
	}
	if v := os.Getenv("PAIGEANT_MAX_INSERTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Defaults.MaxInsertions = n
		}
	}
	if v := os.Getenv("PAIGEANT_BACKOFF_BASE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Defaults.BackoffBase = d
		}
	}
	if v := os.Getenv("PAIGEANT_BACKOFF_CAP"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Defaults.BackoffCap = d
		}
	}
}

// Validate checks that the selected transport/repository variants carry
// the DSN fields they require.
func (c *Config) Validate() error {
	switch c.Transport.Type {
	case "", "inmemory":
	case "redis":
		if c.Transport.RedisAddr == "" {
			return fmt.Errorf("%w: transport.redis_addr is required when transport.type is redis", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport.type %q", ErrInvalidConfig, c.Transport.Type)
	}

	switch c.Repository.Type {
	case "", "memory":
	case "sqlite":
		if c.Repository.SQLitePath == "" {
			return fmt.Errorf("%w: repository.sqlite_path is required when repository.type is sqlite", ErrInvalidConfig)
		}
	case "postgres":
		if c.Repository.PostgresDSN == "" {
			return fmt.Errorf("%w: repository.postgres_dsn is required when repository.type is postgres", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown repository.type %q", ErrInvalidConfig, c.Repository.Type)
	}

	if c.Defaults.MaxAttempts < 1 {
		return fmt.Errorf("%w: defaults.max_attempts must be >= 1", ErrInvalidConfig)
	}
	if c.Defaults.MaxInsertions < 0 {
		return fmt.Errorf("%w: defaults.max_insertions must be >= 0", ErrInvalidConfig)
	}
	return nil
}
