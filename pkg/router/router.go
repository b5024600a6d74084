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

// Package router turns inbound frames into typed events for the components
// that own them.
package router

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/clarification"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/eventbus"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/logger"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/protocol"
)

// Withdrawer evicts a request the backend no longer waits on.
type Withdrawer interface {
	Withdraw(ctx context.Context, requestID, reason string) bool
}

type Router struct {
	bus        *eventbus.Bus
	withdrawer Withdrawer
	log        *zap.SugaredLogger
}

// New creates a Router. withdrawer may be nil when no coordinator is wired.
func New(bus *eventbus.Bus, withdrawer Withdrawer, log *zap.SugaredLogger) *Router {
	return &Router{
		bus:        bus,
		withdrawer: withdrawer,
		log:        logger.OrNop(log),
	}
}

// Start routes every MessageReceived event until the returned func is called.
func (r *Router) Start() func() {
	return eventbus.On(r.bus, func(ctx context.Context, ev eventbus.MessageReceived) error {
		r.Route(ctx, ev.Message)

		return nil
	})
}

// Route handles a single message. Payloads that do not decode are logged and dropped.
func (r *Router) Route(ctx context.Context, msg protocol.InboundMessage) {
	if err := r.route(ctx, msg); err != nil {
		r.log.Warnw("Dropping message", "type", msg.Type, "messageId", msg.MessageID, "error", err)
	}
}

func (r *Router) route(ctx context.Context, msg protocol.InboundMessage) error {
	switch msg.Type {
	case protocol.TypeClarificationRequest:
		var req clarification.Request
		if err := msg.DecodePayload(&req); err != nil {
			return err
		}
		if req.RequestID == "" || req.AgentID == "" {
			return errors.New("clarification request without requestId or agentId")
		}
		r.bus.Emit(ctx, eventbus.ClarificationRequested{Request: req})

	case protocol.TypeClarificationCancelled:
		var p protocol.ClarificationCancelledPayload
		if err := msg.DecodePayload(&p); err != nil {
			return err
		}
		if r.withdrawer == nil {
			r.log.Debugf("No coordinator for cancellation of %s", p.RequestID)

			return nil
		}
		if !r.withdrawer.Withdraw(ctx, p.RequestID, p.Reason) {
			r.log.Debugf("Cancellation for unknown request %s", p.RequestID)
		}

	case protocol.TypeDomainSync:
		var p protocol.DomainSyncPayload
		if err := msg.DecodePayload(&p); err != nil {
			return err
		}
		r.bus.Emit(ctx, eventbus.DomainSyncReceived{Payload: p})

	case protocol.TypePong, protocol.TypePing:
		// liveness only

	default:
		r.log.Debugf("Unhandled message type %s", msg.Type)
	}

	return nil
}
