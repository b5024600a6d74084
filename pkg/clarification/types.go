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

// Package clarification holds the request models shared by the agent-path
// coordinator and the client-origin domain store.
package clarification

import "time"

// Priority orders agent-originated requests.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank returns the sort rank; lower is more urgent. Unknown values rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// AckType is the lifecycle stage acknowledged to the backend.
type AckType string

const (
	AckQueued    AckType = "queued"
	AckPresented AckType = "presented"
	AckAnswered  AckType = "answered"
	AckSkipped   AckType = "skipped"
	AckCancelled AckType = "cancelled"
	AckTimeout   AckType = "timeout"
)

// IsTerminal reports whether no transition leaves this stage.
func (a AckType) IsTerminal() bool {
	switch a {
	case AckAnswered, AckSkipped, AckCancelled, AckTimeout:
		return true
	default:
		return false
	}
}

// Request is a clarification raised by a backend agent.
type Request struct {
	RequestID      string         `json:"requestId"`
	AgentID        string         `json:"agentId"`
	RequestToken   string         `json:"requestToken"`
	Priority       Priority       `json:"priority"`
	CurrentAck     AckType        `json:"currentAck"`
	CreatedAt      time.Time      `json:"createdAt"`
	TimeoutSeconds int            `json:"timeoutSeconds"`
	Question       string         `json:"question,omitempty"`
	Options        []string       `json:"options,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

// Expired reports whether the request outlived its timeout at now.
// A zero timeout never expires.
func (r Request) Expired(now time.Time) bool {
	if r.TimeoutSeconds <= 0 {
		return false
	}

	return now.Sub(r.CreatedAt) > time.Duration(r.TimeoutSeconds)*time.Second
}
