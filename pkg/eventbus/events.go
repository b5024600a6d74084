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

package eventbus

import (
	"github.com/united-manufacturing-hub/spatial-sync/pkg/clarification"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/protocol"
)

// EventType is the subscription tag of an event.
type EventType string

const (
	TypeConnectionStateChanged EventType = "connection:state_changed"
	TypeMessageReceived        EventType = "message:received"
	TypeClarificationRequested EventType = "clarification:requested"
	TypeClarificationQueued    EventType = "clarification:queued"
	TypeClarificationPresented EventType = "clarification:presented"
	TypeClarificationCompleted EventType = "clarification:completed"
	TypeClarificationTimedOut  EventType = "clarification:timeout"
	TypeAckFailed              EventType = "clarification:ack_failed"
	TypeClarificationResolved  EventType = "clarification:resolved"
	TypeDomainSyncReceived     EventType = "domain:sync_received"
	TypeDomainUpdated          EventType = "domain:updated"
	TypeSyncConflict           EventType = "domain:sync_conflict"
)

// Event is implemented only by the payload types in this file.
type Event interface {
	Type() EventType
	isEvent()
}

type ConnectionStateChanged struct {
	From protocol.ConnectionState
	To   protocol.ConnectionState
}

// MessageReceived carries a parsed inbound frame in arrival order.
type MessageReceived struct {
	Message protocol.InboundMessage
}

type ClarificationRequested struct {
	Request clarification.Request
}

type ClarificationQueued struct {
	RequestID string
}

type ClarificationPresented struct {
	RequestID string
}

// ClarificationCompleted is emitted when a request reaches a terminal stage.
type ClarificationCompleted struct {
	RequestID string
	Ack       clarification.AckType
}

type ClarificationTimedOut struct {
	RequestID string
	AgentID   string
}

// AckFailed is emitted when a coordinator ACK exhausted its retries.
type AckFailed struct {
	RequestID string
	AckType   clarification.AckType
	Attempts  int
}

// ClarificationResolved is emitted by the domain store whenever a
// client-originated request is answered, skipped or expired.
type ClarificationResolved struct {
	RequestID string
	Status    clarification.LocalStatus
	Response  any
}

type DomainSyncReceived struct {
	Payload protocol.DomainSyncPayload
}

type DomainUpdated struct {
	Domain   string
	UpdateID string
	Hash     uint64
}

// SyncConflict is emitted instead of applying a payload with an incompatible schema.
type SyncConflict struct {
	Domain   string
	Expected string
	Got      string
	UpdateID string
}

func (ConnectionStateChanged) Type() EventType { return TypeConnectionStateChanged }
func (MessageReceived) Type() EventType        { return TypeMessageReceived }
func (ClarificationRequested) Type() EventType { return TypeClarificationRequested }
func (ClarificationQueued) Type() EventType    { return TypeClarificationQueued }
func (ClarificationPresented) Type() EventType { return TypeClarificationPresented }
func (ClarificationCompleted) Type() EventType { return TypeClarificationCompleted }
func (ClarificationTimedOut) Type() EventType  { return TypeClarificationTimedOut }
func (AckFailed) Type() EventType              { return TypeAckFailed }
func (ClarificationResolved) Type() EventType  { return TypeClarificationResolved }
func (DomainSyncReceived) Type() EventType     { return TypeDomainSyncReceived }
func (DomainUpdated) Type() EventType          { return TypeDomainUpdated }
func (SyncConflict) Type() EventType           { return TypeSyncConflict }

func (ConnectionStateChanged) isEvent() {}
func (MessageReceived) isEvent()        {}
func (ClarificationRequested) isEvent() {}
func (ClarificationQueued) isEvent()    {}
func (ClarificationPresented) isEvent() {}
func (ClarificationCompleted) isEvent() {}
func (ClarificationTimedOut) isEvent()  {}
func (AckFailed) isEvent()              {}
func (ClarificationResolved) isEvent()  {}
func (DomainSyncReceived) isEvent()     {}
func (DomainUpdated) isEvent()          {}
func (SyncConflict) isEvent()           {}
