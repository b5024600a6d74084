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

package coordinator

import (
	"context"
	"time"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/backendapi"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/backoff"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/clarification"
)

// Backend is the HTTP collaborator the coordinator reports to.
// *backendapi.Client implements it.
type Backend interface {
	Acknowledge(ctx context.Context, agentID, requestID string, req backendapi.AckRequest) error
	Respond(ctx context.Context, agentID, requestID string, req backendapi.RespondRequest) error
	ListPendingClarifications(ctx context.Context) ([]clarification.Request, error)
}

// Config is fixed for the lifetime of a Coordinator.
type Config struct {
	MaxRetries        int           `yaml:"maxRetries"`
	InitialDelay      time.Duration `yaml:"initialDelay"`
	BackoffMultiplier float64       `yaml:"backoffMultiplier"`
	MaxDelay          time.Duration `yaml:"maxDelay"`
	RetryInterval     time.Duration `yaml:"retryInterval"`
	TimeoutInterval   time.Duration `yaml:"timeoutInterval"`
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          30 * time.Second,
		RetryInterval:     time.Second,
		TimeoutInterval:   5 * time.Second,
	}
}

func (c Config) policy() backoff.Policy {
	return backoff.Policy{
		BaseDelay:  c.InitialDelay,
		Multiplier: c.BackoffMultiplier,
		MaxDelay:   c.MaxDelay,
		MaxRetries: c.MaxRetries,
	}
}

// PendingAck is an acknowledgement waiting for the retry sweep.
type PendingAck struct {
	NextAttempt  time.Time             `json:"nextAttempt"`
	RequestID    string                `json:"requestId"`
	AgentID      string                `json:"agentId"`
	RequestToken string                `json:"requestToken"`
	AckType      clarification.AckType `json:"ackType"`
	Reason       string                `json:"reason,omitempty"`
	Attempts     int                   `json:"attempts"`
}

// State is everything the coordinator mutates. It is only changed by
// Coordinator methods; callers get copies through Snapshot.
type State struct {
	// Active is sorted by priority, ties in arrival order.
	Active      []clarification.Request `json:"active"`
	PendingAcks []PendingAck            `json:"pendingAcks"`
	CurrentID   string                  `json:"currentId,omitempty"`
	LastError   string                  `json:"lastError,omitempty"`
}
