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

	"github.com/united-manufacturing-hub/spatial-sync/pkg/eventbus"
)

// sweepTimeouts cancels every request that outlived its timeout.
func (c *Coordinator) sweepTimeouts(ctx context.Context) error {
	now := c.now()

	c.mu.Lock()
	var expired []eventbus.ClarificationTimedOut
	for _, req := range c.state.Active {
		if req.Expired(now) {
			expired = append(expired, eventbus.ClarificationTimedOut{RequestID: req.RequestID, AgentID: req.AgentID})
		}
	}
	c.mu.Unlock()

	for _, ev := range expired {
		if c.Cancel(ctx, ev.RequestID, ReasonTimeout) {
			c.log.Infow("Clarification timed out", "requestId", ev.RequestID, "agentId", ev.AgentID)
			c.emit(ctx, ev)
		}
	}

	return nil
}

// RunTimeoutSweep runs one timeout pass now; false means a pass was already running.
func (c *Coordinator) RunTimeoutSweep(ctx context.Context) bool {
	return c.timeoutSweep.RunOnce(ctx)
}
