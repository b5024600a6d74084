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
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/metrics"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/persistence"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/sentry"
)

// persist writes the current state. persistMu spans marshal and save so an
// older snapshot can never overwrite a newer one.
func (c *Coordinator) persist(ctx context.Context) {
	if c.store == nil {
		return
	}

	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	data, err := json.Marshal(c.state)
	c.mu.Unlock()

	if err == nil {
		err = c.store.Save(ctx, StateKey, data)
	}
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentPersistence)
		sentry.ReportIssue(fmt.Errorf("failed to persist coordinator state: %w", err), sentry.IssueTypeWarning, c.log)
	}
}

// Restore replaces the in-memory state with the persisted snapshot, if any.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	data, err := c.store.Load(ctx, StateKey)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load coordinator state: %w", err)
	}

	var restored State
	if err := json.Unmarshal(data, &restored); err != nil {
		return fmt.Errorf("failed to decode coordinator state: %w", err)
	}

	c.mu.Lock()
	c.state = restored
	c.mu.Unlock()

	c.log.Infow("Restored coordinator state",
		"active", len(restored.Active), "pendingAcks", len(restored.PendingAcks), "current", restored.CurrentID)

	return nil
}
