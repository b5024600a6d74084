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

package transport

import (
	"time"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/backoff"
)

// AckRetryConfig bounds the retry schedule of outbound protocol ACKs.
type AckRetryConfig struct {
	MaxRetries int           `yaml:"maxRetries"`
	BaseDelay  time.Duration `yaml:"baseDelay"`
	Multiplier float64       `yaml:"multiplier"`
	MaxDelay   time.Duration `yaml:"maxDelay"`
}

func (c AckRetryConfig) Policy() backoff.Policy {
	return backoff.Policy{
		BaseDelay:  c.BaseDelay,
		Multiplier: c.Multiplier,
		MaxDelay:   c.MaxDelay,
		MaxRetries: c.MaxRetries,
	}
}

// Config configures a Transport.
type Config struct {
	URL       string   `yaml:"url"`
	Protocols []string `yaml:"protocols"`

	AutoReconnect bool `yaml:"autoReconnect"`
	// MaxReconnectAttempts of 0 retries forever.
	MaxReconnectAttempts int           `yaml:"maxReconnectAttempts"`
	ReconnectDelay       time.Duration `yaml:"reconnectDelay"`
	ReconnectMultiplier  float64       `yaml:"reconnectMultiplier"`
	MaxReconnectDelay    time.Duration `yaml:"maxReconnectDelay"`

	// HeartbeatInterval of 0 disables pings.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	HandshakeTimeout  time.Duration `yaml:"handshakeTimeout"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`

	AckRetry AckRetryConfig `yaml:"ackRetry"`
}

func DefaultConfig() Config {
	return Config{
		AutoReconnect:        true,
		MaxReconnectAttempts: 10,
		ReconnectDelay:       time.Second,
		ReconnectMultiplier:  2,
		MaxReconnectDelay:    30 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		AckRetry: AckRetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Second,
			Multiplier: 2,
			MaxDelay:   30 * time.Second,
		},
	}
}
