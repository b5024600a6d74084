// Copyright 2025 UMH Systems GmbH
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

// Package config assembles the runtime configuration from compiled defaults,
// an optional YAML file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/backendapi"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/clarification/coordinator"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/clarification/domainstore"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/logger"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/sentry"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/transport"
)

// FileEnvVar names the variable holding the optional YAML file path.
const FileEnvVar = "SPATIAL_SYNC_CONFIG"

type PersistenceConfig struct {
	// Path of the SQLite state database. Empty keeps state in memory only.
	Path string `yaml:"path"`
}

type StatusServerConfig struct {
	// Addr is the listen address; empty disables the status server.
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SentryConfig struct {
	DSN        string `yaml:"dsn"`
	AppVersion string `yaml:"appVersion"`
}

type DomainSyncConfig struct {
	// SchemaVersion is the semver of the domain payloads this build understands.
	SchemaVersion string `yaml:"schemaVersion"`
}

type Config struct {
	Transport    transport.Config   `yaml:"transport"`
	Backend      backendapi.Config  `yaml:"backend"`
	Coordinator  coordinator.Config `yaml:"coordinator"`
	DomainStore  domainstore.Config `yaml:"domainStore"`
	DomainSync   DomainSyncConfig   `yaml:"domainSync"`
	Persistence  PersistenceConfig  `yaml:"persistence"`
	StatusServer StatusServerConfig `yaml:"statusServer"`
	Logging      LoggingConfig      `yaml:"logging"`
	Sentry       SentryConfig       `yaml:"sentry"`
}

func Defaults() Config {
	tc := transport.DefaultConfig()
	tc.URL = "ws://localhost:8080/ws"

	return Config{
		Transport:    tc,
		Backend:      backendapi.Config{BaseURL: "http://localhost:8080/api", Timeout: backendapi.DefaultTimeout},
		Coordinator:  coordinator.DefaultConfig(),
		DomainStore:  domainstore.DefaultConfig(),
		DomainSync:   DomainSyncConfig{SchemaVersion: "1.0.0"},
		StatusServer: StatusServerConfig{Addr: ":8081"},
		Logging:      LoggingConfig{Level: string(logger.ProductionLevel), Format: string(logger.FormatConsole)},
		Sentry:       SentryConfig{AppVersion: sentry.DefaultAppVersion},
	}
}

// Load returns the defaults, overlaid with the YAML file named by
// SPATIAL_SYNC_CONFIG (if set) and then with environment variables.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv(FileEnvVar); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// Validate rejects configurations the services cannot run with.
func (c Config) Validate() error {
	var errs []error

	if c.Transport.URL == "" {
		errs = append(errs, errors.New("transport url must not be empty"))
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend base url must not be empty"))
	}

	for name, d := range map[string]int64{
		"transport.reconnectDelay":     int64(c.Transport.ReconnectDelay),
		"transport.maxReconnectDelay":  int64(c.Transport.MaxReconnectDelay),
		"transport.heartbeatInterval":  int64(c.Transport.HeartbeatInterval),
		"transport.ackRetry.baseDelay": int64(c.Transport.AckRetry.BaseDelay),
		"transport.ackRetry.maxDelay":  int64(c.Transport.AckRetry.MaxDelay),
		"coordinator.initialDelay":     int64(c.Coordinator.InitialDelay),
		"coordinator.maxDelay":         int64(c.Coordinator.MaxDelay),
		"coordinator.retryInterval":    int64(c.Coordinator.RetryInterval),
		"coordinator.timeoutInterval":  int64(c.Coordinator.TimeoutInterval),
		"domainStore.defaultTimeout":   int64(c.DomainStore.DefaultTimeout),
		"backend.timeout":              int64(c.Backend.Timeout),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	for name, m := range map[string]float64{
		"transport.reconnectMultiplier": c.Transport.ReconnectMultiplier,
		"transport.ackRetry.multiplier": c.Transport.AckRetry.Multiplier,
		"coordinator.backoffMultiplier": c.Coordinator.BackoffMultiplier,
	} {
		if m < 1 {
			errs = append(errs, fmt.Errorf("%s must be at least 1, got %v", name, m))
		}
	}

	for name, n := range map[string]int{
		"transport.maxReconnectAttempts": c.Transport.MaxReconnectAttempts,
		"transport.ackRetry.maxRetries":  c.Transport.AckRetry.MaxRetries,
		"coordinator.maxRetries":         c.Coordinator.MaxRetries,
	} {
		if n < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	if _, err := semver.NewVersion(c.DomainSync.SchemaVersion); err != nil {
		errs = append(errs, fmt.Errorf("domainSync.schemaVersion %q: %w", c.DomainSync.SchemaVersion, err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}

	return nil
}
