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

// Package domainsync mirrors backend-owned domain state pushed over the
// transport and tracks a content hash per domain for cache invalidation.
package domainsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/eventbus"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/logger"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/metrics"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/protocol"
)

// ErrIncompatibleSchema is returned for payloads whose schema major version
// differs from the supported one.
var ErrIncompatibleSchema = errors.New("incompatible schema version")

// Domain is the mirrored state of one domain.
type Domain struct {
	UpdatedAt     time.Time       `json:"updatedAt"`
	Name          string          `json:"name"`
	SchemaVersion string          `json:"schemaVersion"`
	UpdateID      string          `json:"updateId"`
	Data          json.RawMessage `json:"data"`
	Hash          uint64          `json:"hash"`
}

type Mirror struct {
	bus       *eventbus.Bus
	log       *zap.SugaredLogger
	supported *semver.Version
	domains   map[string]*Domain
	mu        sync.RWMutex
}

// New returns a Mirror that accepts payloads with the same major version as
// schemaVersion.
func New(schemaVersion string, bus *eventbus.Bus, log *zap.SugaredLogger) (*Mirror, error) {
	supported, err := semver.NewVersion(schemaVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid supported schema version %q: %w", schemaVersion, err)
	}

	return &Mirror{
		bus:       bus,
		log:       logger.OrNop(log),
		supported: supported,
		domains:   make(map[string]*Domain),
	}, nil
}

// Attach applies every DomainSyncReceived event published on the bus.
func (m *Mirror) Attach() func() {
	return eventbus.On(m.bus, func(ctx context.Context, ev eventbus.DomainSyncReceived) error {
		err := m.Apply(ctx, ev.Payload)
		if errors.Is(err, ErrIncompatibleSchema) {
			// already surfaced as SyncConflict
			return nil
		}

		return err
	})
}

// Apply stores a payload. Incompatible payloads are rejected whole and reported
// as SyncConflict; payloads with unchanged content emit nothing.
func (m *Mirror) Apply(ctx context.Context, p protocol.DomainSyncPayload) error {
	if p.Domain == "" {
		return errors.New("domain sync payload has no domain")
	}

	if !m.compatible(p.SchemaVersion) {
		m.log.Warnw("Rejecting domain sync with incompatible schema",
			"domain", p.Domain, "expected", m.supported.String(), "got", p.SchemaVersion, "updateId", p.UpdateID)
		metrics.IncErrorCount(metrics.ComponentDomainSync)
		m.emit(ctx, eventbus.SyncConflict{
			Domain:   p.Domain,
			Expected: m.supported.String(),
			Got:      p.SchemaVersion,
			UpdateID: p.UpdateID,
		})

		return fmt.Errorf("%w: domain %s has %q, supported %s", ErrIncompatibleSchema, p.Domain, p.SchemaVersion, m.supported)
	}

	hash := xxhash.Sum64(p.Data)

	m.mu.Lock()
	current, ok := m.domains[p.Domain]
	if ok && current.Hash == hash {
		current.UpdateID = p.UpdateID
		m.mu.Unlock()

		return nil
	}
	m.domains[p.Domain] = &Domain{
		Name:          p.Domain,
		SchemaVersion: p.SchemaVersion,
		UpdateID:      p.UpdateID,
		Data:          append(json.RawMessage(nil), p.Data...),
		Hash:          hash,
		UpdatedAt:     time.Now(),
	}
	m.mu.Unlock()

	m.log.Debugw("Domain updated", "domain", p.Domain, "updateId", p.UpdateID, "hash", hash)
	m.emit(ctx, eventbus.DomainUpdated{Domain: p.Domain, UpdateID: p.UpdateID, Hash: hash})

	return nil
}

func (m *Mirror) compatible(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}

	return v.Major() == m.supported.Major()
}

func (m *Mirror) emit(ctx context.Context, ev eventbus.Event) {
	if m.bus != nil {
		m.bus.Emit(ctx, ev)
	}
}

// Snapshot returns a copy of a domain's state.
func (m *Mirror) Snapshot(domain string) (Domain, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	current, ok := m.domains[domain]
	if !ok {
		return Domain{}, false
	}

	var out Domain
	if err := deepcopy.Copy(&out, current); err != nil {
		m.log.Warnw("Failed to copy domain snapshot", "domain", domain, "error", err)

		return Domain{}, false
	}

	return out, true
}

// Hash returns the content hash of a domain.
func (m *Mirror) Hash(domain string) (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	current, ok := m.domains[domain]
	if !ok {
		return 0, false
	}

	return current.Hash, true
}

// Domains returns the mirrored domain names in lexical order.
func (m *Mirror) Domains() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.domains))
	for name := range m.domains {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// SupportedVersion returns the schema version this mirror was built for.
func (m *Mirror) SupportedVersion() string {
	return m.supported.String()
}
