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

package clarification

import "time"

// LocalPriority orders client-originated requests.
type LocalPriority string

const (
	PriorityRequired    LocalPriority = "required"
	PriorityRecommended LocalPriority = "recommended"
	PriorityOptional    LocalPriority = "optional"
)

// Rank returns the sort rank; lower is more urgent. Unknown values sort last.
func (p LocalPriority) Rank() int {
	switch p {
	case PriorityRequired:
		return 0
	case PriorityRecommended:
		return 1
	case PriorityOptional:
		return 2
	default:
		return 3
	}
}

// LocalType is the input control used to answer a client-originated request.
type LocalType string

const (
	TypeChoice       LocalType = "choice"
	TypeConfirmation LocalType = "confirmation"
	TypeText         LocalType = "text"
	TypeNumeric      LocalType = "numeric"
	// TypeContextual requests are answered by picking an object in the 3D scene
	// and occupy their own active slot.
	TypeContextual LocalType = "contextual"
)

// LocalStatus is the resolution state of a client-originated request.
type LocalStatus string

const (
	StatusPending  LocalStatus = "pending"
	StatusAnswered LocalStatus = "answered"
	StatusSkipped  LocalStatus = "skipped"
	StatusExpired  LocalStatus = "expired"
)

// LocalRequest is a clarification raised by the UI itself.
type LocalRequest struct {
	ID           string         `json:"id"`
	Type         LocalType      `json:"type"`
	Priority     LocalPriority  `json:"priority"`
	Status       LocalStatus    `json:"status"`
	Timestamp    time.Time      `json:"timestamp"`
	Question     string         `json:"question"`
	Options      []string       `json:"options,omitempty"`
	DefaultValue any            `json:"defaultValue,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	// Timeout expires the request this long after it becomes active. Zero disables it.
	Timeout    time.Duration `json:"timeout,omitempty"`
	Response   any           `json:"response,omitempty"`
	ResolvedAt time.Time     `json:"resolvedAt,omitempty"`
}

// IsContextual reports whether the request belongs to the contextual slot.
func (r LocalRequest) IsContextual() bool {
	return r.Type == TypeContextual
}
