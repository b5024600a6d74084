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

// Package protocol defines the JSON frames exchanged with the backend over the
// duplex connection.
package protocol

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Frame types known to the sync core.
const (
	TypeAck                    = "ack"
	TypePing                   = "ping"
	TypePong                   = "pong"
	TypeClarificationRequest   = "clarification_request"
	TypeClarificationCancelled = "clarification_cancelled"
	TypeDomainSync             = "domain_sync"
)

// ErrMissingType is returned by ParseInbound for frames without a type.
var ErrMissingType = errors.New("frame has no type")

// ChainInfo correlates a pushed message with a backend state update.
type ChainInfo struct {
	Domain   string `json:"domain"`
	UpdateID string `json:"update_id"`
}

// InboundMessage is a frame pushed by the backend.
type InboundMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Chain     *ChainInfo      `json:"chain,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
}

// NeedsAck reports whether the message carries chain-tracking metadata and an id,
// which obliges the client to acknowledge it.
func (m InboundMessage) NeedsAck() bool {
	return m.MessageID != "" && m.Chain != nil && m.Chain.Domain != "" && m.Chain.UpdateID != ""
}

// DecodePayload unmarshals the payload into v.
func (m InboundMessage) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s frame has no payload", m.Type)
	}

	return json.Unmarshal(m.Payload, v)
}

// ParseInbound decodes a raw text frame.
func ParseInbound(data []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return InboundMessage{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	if msg.Type == "" {
		return InboundMessage{}, ErrMissingType
	}

	return msg, nil
}

// AckFrame acknowledges a chain-tracked message.
type AckFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Domain    string `json:"domain"`
	UpdateID  string `json:"updateId"`
}

// NewAckFrame builds an outbound ACK.
func NewAckFrame(messageID, domain, updateID string) AckFrame {
	return AckFrame{Type: TypeAck, MessageID: messageID, Domain: domain, UpdateID: updateID}
}

// PingPayload carries the sender's clock in unix milliseconds.
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PingFrame is the heartbeat sent while connected.
type PingFrame struct {
	Type    string      `json:"type"`
	Payload PingPayload `json:"payload"`
}

func NewPingFrame(unixMillis int64) PingFrame {
	return PingFrame{Type: TypePing, Payload: PingPayload{Timestamp: unixMillis}}
}

// DomainSyncPayload is the payload of a domain_sync frame.
type DomainSyncPayload struct {
	Domain        string          `json:"domain"`
	SchemaVersion string          `json:"schemaVersion"`
	UpdateID      string          `json:"updateId"`
	Data          json.RawMessage `json:"data"`
}

// ClarificationCancelledPayload is pushed when the backend withdraws a request.
type ClarificationCancelledPayload struct {
	RequestID string `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}
