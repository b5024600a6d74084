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
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/backendapi"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/backoff"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/clarification"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/eventbus"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/metrics"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/sentry"
)

// sendAck reports a lifecycle stage. A failure queues the ACK for the retry
// sweep, replacing any older ACK still pending for the same request.
func (c *Coordinator) sendAck(ctx context.Context, req clarification.Request, ack clarification.AckType, reason string) {
	err := c.backend.Acknowledge(ctx, req.AgentID, req.RequestID, backendapi.AckRequest{
		AckType:      ack,
		RequestToken: req.RequestToken,
		Reason:       reason,
	})

	c.mu.Lock()
	c.dropPendingAckLocked(req.RequestID)
	if err == nil {
		c.mu.Unlock()
		metrics.IncAck(metrics.AckLayerCoordinator, "sent")

		return
	}

	pending := PendingAck{
		RequestID:    req.RequestID,
		AgentID:      req.AgentID,
		RequestToken: req.RequestToken,
		AckType:      ack,
		Reason:       reason,
		Attempts:     1,
	}
	if backoff.IsPermanentError(err) {
		c.mu.Unlock()
		c.ackFailed(ctx, pending, err)

		return
	}

	pending.NextAttempt = c.now().Add(c.retryDelay(pending.Attempts, err))
	c.state.PendingAcks = append(c.state.PendingAcks, pending)
	c.mu.Unlock()

	metrics.IncAck(metrics.AckLayerCoordinator, "retried")
	c.log.Debugw("Queued ACK for retry", "requestId", req.RequestID, "ackType", ack, "error", err)
}

func (c *Coordinator) dropPendingAckLocked(requestID string) {
	kept := c.state.PendingAcks[:0]
	for _, p := range c.state.PendingAcks {
		if p.RequestID != requestID {
			kept = append(kept, p)
		}
	}
	c.state.PendingAcks = kept
}

func (c *Coordinator) pendingIndexLocked(requestID string, ack clarification.AckType) int {
	for i := range c.state.PendingAcks {
		if c.state.PendingAcks[i].RequestID == requestID && c.state.PendingAcks[i].AckType == ack {
			return i
		}
	}

	return -1
}

// sweepAcks retries every due ACK once. The state is persisted after every
// pass, even when no entry left the queue.
func (c *Coordinator) sweepAcks(ctx context.Context) error {
	defer c.persist(context.WithoutCancel(ctx))

	now := c.now()

	c.mu.Lock()
	due := make([]PendingAck, 0, len(c.state.PendingAcks))
	for _, p := range c.state.PendingAcks {
		if !p.NextAttempt.After(now) {
			due = append(due, p)
		}
	}
	c.mu.Unlock()

	for _, p := range due {
		if ctx.Err() != nil {
			return nil
		}

		err := c.backend.Acknowledge(ctx, p.AgentID, p.RequestID, backendapi.AckRequest{
			AckType:      p.AckType,
			RequestToken: p.RequestToken,
			Reason:       p.Reason,
		})
		if err != nil && ctx.Err() != nil {
			// stopped mid-call; the entry keeps its attempt count for the next run
			c.log.Debugw("ACK retry interrupted", "requestId", p.RequestID, "ackType", p.AckType)

			return nil
		}

		c.mu.Lock()
		i := c.pendingIndexLocked(p.RequestID, p.AckType)
		if i < 0 {
			// superseded while the call was in flight
			c.mu.Unlock()

			continue
		}

		entry := &c.state.PendingAcks[i]
		switch {
		case err == nil:
			c.state.PendingAcks = append(c.state.PendingAcks[:i], c.state.PendingAcks[i+1:]...)
			c.mu.Unlock()
			metrics.IncAck(metrics.AckLayerCoordinator, "sent")

		case entry.Attempts < c.cfg.MaxRetries && !backoff.IsPermanentError(err):
			entry.Attempts++
			entry.NextAttempt = c.now().Add(c.retryDelay(entry.Attempts, err))
			c.mu.Unlock()
			metrics.IncAck(metrics.AckLayerCoordinator, "retried")

		default:
			failed := *entry
			c.state.PendingAcks = append(c.state.PendingAcks[:i], c.state.PendingAcks[i+1:]...)
			c.mu.Unlock()
			c.ackFailed(ctx, failed, err)
		}
	}

	return nil
}

// retryDelay is the backoff delay for attempt, stretched to the backend's
// Retry-After when that is longer.
func (c *Coordinator) retryDelay(attempt int, err error) time.Duration {
	delay := c.cfg.policy().Delay(attempt)
	if apiErr, ok := backendapi.AsAPIError(err); ok && apiErr.RetryAfter > delay {
		return apiErr.RetryAfter
	}

	return delay
}

func (c *Coordinator) ackFailed(ctx context.Context, p PendingAck, cause error) {
	metrics.IncAck(metrics.AckLayerCoordinator, "dropped")
	sentry.ReportIssueWithContext(
		fmt.Errorf("giving up %s ack for clarification %s after %d attempts: %w", p.AckType, p.RequestID, p.Attempts, cause),
		sentry.IssueTypeWarning, c.log,
		map[string]interface{}{"requestId": p.RequestID, "agentId": p.AgentID, "ackType": string(p.AckType)},
	)
	c.emit(ctx, eventbus.AckFailed{RequestID: p.RequestID, AckType: p.AckType, Attempts: p.Attempts})
}

// RunAckSweep runs one retry pass now; false means a pass was already running.
func (c *Coordinator) RunAckSweep(ctx context.Context) bool {
	return c.ackSweep.RunOnce(ctx)
}
