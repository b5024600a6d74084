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

// Package domainstore queues clarifications raised by the client itself. It
// has no acknowledgement protocol; it keeps one ordinary and one contextual
// request active at a time and logs every resolution in an append-only history.
package domainstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/clarification"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/eventbus"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/logger"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/metrics"
)

// Config is fixed for the lifetime of a Store.
type Config struct {
	// DefaultTimeout applies to requests that carry no Timeout. Zero disables it.
	DefaultTimeout time.Duration `yaml:"defaultTimeout"`
}

func DefaultConfig() Config {
	return Config{}
}

// State is everything the store mutates. Callers get copies through Snapshot.
type State struct {
	// Queue is sorted by priority, ties in arrival order.
	Queue            []clarification.LocalRequest `json:"queue"`
	Active           *clarification.LocalRequest  `json:"active,omitempty"`
	ActiveContextual *clarification.LocalRequest  `json:"activeContextual,omitempty"`
	History          []clarification.LocalRequest `json:"history"`
}

type Option func(*Store)

// WithClock replaces time.Now for timestamps. Expiry timers still run on wall time.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	bus    *eventbus.Bus
	log    *zap.SugaredLogger
	now    func() time.Time
	timers map[string]*time.Timer

	state State
	cfg   Config
	mu    sync.Mutex
}

func New(cfg Config, bus *eventbus.Bus, log *zap.SugaredLogger, opts ...Option) *Store {
	s := &Store{
		cfg:    cfg,
		bus:    bus,
		log:    logger.OrNop(log),
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Config returns the read-only configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// RequestClarification queues req under a fresh id and promotes it if its slot is free.
func (s *Store) RequestClarification(ctx context.Context, req clarification.LocalRequest) string {
	req.ID = uuid.NewString()
	req.Status = clarification.StatusPending
	req.Timestamp = s.now()
	req.Response = nil
	req.ResolvedAt = time.Time{}
	if req.Timeout == 0 {
		req.Timeout = s.cfg.DefaultTimeout
	}

	s.mu.Lock()
	rank := req.Priority.Rank()
	i := sort.Search(len(s.state.Queue), func(i int) bool {
		return s.state.Queue[i].Priority.Rank() > rank
	})
	s.state.Queue = append(s.state.Queue, clarification.LocalRequest{})
	copy(s.state.Queue[i+1:], s.state.Queue[i:])
	s.state.Queue[i] = req
	s.mu.Unlock()

	metrics.IncClarification("local", string(clarification.StatusPending))
	s.log.Debugw("Queued clarification", "id", req.ID, "type", req.Type, "priority", req.Priority)

	s.promote(ctx)

	return req.ID
}

// promote fills the free slots from the head of the queue. It stops at the
// first head whose slot is taken, so a later request never jumps the queue.
func (s *Store) promote(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.state.Queue) > 0 {
		head := s.state.Queue[0]

		var slot **clarification.LocalRequest
		switch {
		case head.IsContextual() && s.state.ActiveContextual == nil:
			slot = &s.state.ActiveContextual
		case !head.IsContextual() && s.state.Active == nil:
			slot = &s.state.Active
		default:
			return
		}

		s.state.Queue = s.state.Queue[1:]
		*slot = &head
		s.armTimerLocked(ctx, head)
	}
}

func (s *Store) armTimerLocked(ctx context.Context, req clarification.LocalRequest) {
	if req.Timeout <= 0 {
		return
	}

	id := req.ID
	ctx = context.WithoutCancel(ctx)
	s.timers[id] = time.AfterFunc(req.Timeout, func() {
		s.ExpireClarification(ctx, id)
	})
}

func (s *Store) stopTimerLocked(id string) {
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// RespondToClarification answers the active request with the given id.
func (s *Store) RespondToClarification(ctx context.Context, id string, response any) bool {
	if !s.resolve(ctx, id, clarification.StatusAnswered, response, false) {
		s.log.Debugw("Ignoring response for inactive clarification", "id", id)

		return false
	}

	return true
}

// SkipClarification resolves the active request with its default value.
func (s *Store) SkipClarification(ctx context.Context, id string) bool {
	if !s.resolve(ctx, id, clarification.StatusSkipped, nil, true) {
		s.log.Warnw("Cannot skip clarification that is not active", "id", id)

		return false
	}

	return true
}

// ExpireClarification resolves the active request with its default value.
// Unknown ids are ignored without a log line; timers may fire late.
func (s *Store) ExpireClarification(ctx context.Context, id string) bool {
	return s.resolve(ctx, id, clarification.StatusExpired, nil, true)
}

func (s *Store) resolve(ctx context.Context, id string, status clarification.LocalStatus, response any, useDefault bool) bool {
	s.mu.Lock()
	var slot **clarification.LocalRequest
	switch {
	case s.state.Active != nil && s.state.Active.ID == id:
		slot = &s.state.Active
	case s.state.ActiveContextual != nil && s.state.ActiveContextual.ID == id:
		slot = &s.state.ActiveContextual
	default:
		s.mu.Unlock()

		return false
	}

	req := **slot
	*slot = nil
	s.stopTimerLocked(id)

	if useDefault {
		response = req.DefaultValue
	}
	req.Status = status
	req.Response = response
	req.ResolvedAt = s.now()
	s.state.History = append(s.state.History, req)
	s.mu.Unlock()

	metrics.IncClarification("local", string(status))
	if s.bus != nil {
		s.bus.Emit(ctx, eventbus.ClarificationResolved{RequestID: id, Status: status, Response: response})
	}

	s.promote(ctx)

	return true
}

// ResetClarificationStore drops the queue, both active requests and the history.
func (s *Store) ResetClarificationStore() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.timers {
		s.stopTimerLocked(id)
	}
	s.state = State{}
}

// ClearClarificationHistory empties the history only.
func (s *Store) ClearClarificationHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.History = nil
}

// Snapshot returns a deep copy of the state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out State
	if err := deepcopy.Copy(&out, &s.state); err != nil {
		s.log.Warnw("Failed to copy clarification store state", "error", err)
	}

	return out
}

func (s *Store) ActiveRequest() (clarification.LocalRequest, bool) {
	state := s.Snapshot()
	if state.Active == nil {
		return clarification.LocalRequest{}, false
	}

	return *state.Active, true
}

func (s *Store) ActiveContextualRequest() (clarification.LocalRequest, bool) {
	state := s.Snapshot()
	if state.ActiveContextual == nil {
		return clarification.LocalRequest{}, false
	}

	return *state.ActiveContextual, true
}

func (s *Store) Queue() []clarification.LocalRequest {
	return s.Snapshot().Queue
}

func (s *Store) History() []clarification.LocalRequest {
	return s.Snapshot().History
}
