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

package config

import (
	"errors"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/env"
)

// applyEnv overrides every field whose environment variable is set. The
// current value is the fallback, so unset variables keep file or default values.
func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		v, err := env.GetAsString(key, false, *dst)
		errs = append(errs, err)
		*dst = v
	}

	str("BACKEND_WS_URL", &c.Transport.URL)

	var err error
	c.Transport.Protocols, err = env.GetAsList("BACKEND_WS_PROTOCOLS", false, c.Transport.Protocols)
	errs = append(errs, err)
	c.Transport.AutoReconnect, err = env.GetAsBool("AUTO_RECONNECT", false, c.Transport.AutoReconnect)
	errs = append(errs, err)
	c.Transport.MaxReconnectAttempts, err = env.GetAsInt("MAX_RECONNECT_ATTEMPTS", false, c.Transport.MaxReconnectAttempts)
	errs = append(errs, err)
	c.Transport.ReconnectDelay, err = env.GetAsDuration("RECONNECT_DELAY", false, c.Transport.ReconnectDelay)
	errs = append(errs, err)
	c.Transport.ReconnectMultiplier, err = env.GetAsFloat("RECONNECT_MULTIPLIER", false, c.Transport.ReconnectMultiplier)
	errs = append(errs, err)
	c.Transport.MaxReconnectDelay, err = env.GetAsDuration("MAX_RECONNECT_DELAY", false, c.Transport.MaxReconnectDelay)
	errs = append(errs, err)
	c.Transport.HeartbeatInterval, err = env.GetAsDuration("HEARTBEAT_INTERVAL", false, c.Transport.HeartbeatInterval)
	errs = append(errs, err)

	ack := &c.Transport.AckRetry
	ack.MaxRetries, err = env.GetAsInt("ACK_MAX_RETRIES", false, ack.MaxRetries)
	errs = append(errs, err)
	ack.BaseDelay, err = env.GetAsDuration("ACK_BASE_DELAY", false, ack.BaseDelay)
	errs = append(errs, err)
	ack.Multiplier, err = env.GetAsFloat("ACK_MULTIPLIER", false, ack.Multiplier)
	errs = append(errs, err)
	ack.MaxDelay, err = env.GetAsDuration("ACK_MAX_DELAY", false, ack.MaxDelay)
	errs = append(errs, err)

	co := &c.Coordinator
	co.MaxRetries, err = env.GetAsInt("COORDINATOR_MAX_RETRIES", false, co.MaxRetries)
	errs = append(errs, err)
	co.InitialDelay, err = env.GetAsDuration("COORDINATOR_INITIAL_DELAY", false, co.InitialDelay)
	errs = append(errs, err)
	co.BackoffMultiplier, err = env.GetAsFloat("COORDINATOR_BACKOFF_MULTIPLIER", false, co.BackoffMultiplier)
	errs = append(errs, err)
	co.MaxDelay, err = env.GetAsDuration("COORDINATOR_MAX_DELAY", false, co.MaxDelay)
	errs = append(errs, err)
	co.RetryInterval, err = env.GetAsDuration("COORDINATOR_RETRY_INTERVAL", false, co.RetryInterval)
	errs = append(errs, err)
	co.TimeoutInterval, err = env.GetAsDuration("COORDINATOR_TIMEOUT_INTERVAL", false, co.TimeoutInterval)
	errs = append(errs, err)

	c.DomainStore.DefaultTimeout, err = env.GetAsDuration("CLARIFICATION_DEFAULT_TIMEOUT", false, c.DomainStore.DefaultTimeout)
	errs = append(errs, err)

	str("BACKEND_API_URL", &c.Backend.BaseURL)
	str("AUTH_TOKEN", &c.Backend.AuthToken)
	c.Backend.Timeout, err = env.GetAsDuration("BACKEND_API_TIMEOUT", false, c.Backend.Timeout)
	errs = append(errs, err)

	str("DOMAIN_SCHEMA_VERSION", &c.DomainSync.SchemaVersion)
	str("STATE_DB_PATH", &c.Persistence.Path)
	str("STATUS_ADDR", &c.StatusServer.Addr)
	str("SENTRY_DSN", &c.Sentry.DSN)
	str("APP_VERSION", &c.Sentry.AppVersion)
	str("LOGGING_LEVEL", &c.Logging.Level)
	str("LOGGING_FORMAT", &c.Logging.Format)

	return errors.Join(errs...)
}
