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

// Package coordinator presents agent clarification requests to the user one
// at a time, in priority order, and reports each lifecycle stage
// (queued, presented, answered/skipped/cancelled/timeout) back to the backend
// with retrying acknowledgements.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/backendapi"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/clarification"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/eventbus"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/logger"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/mailbox"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/metrics"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/persistence"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/sweeper"
)

// ErrNoActiveClarification is returned by Respond and Skip when nothing is presented.
var ErrNoActiveClarification = errors.New("no active clarification")

// StateKey is the persistence key of the coordinator snapshot.
const StateKey = "coordinator.state"

// ReasonTimeout marks a cancellation caused by the timeout sweep.
const ReasonTimeout = "timeout"

type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

type Coordinator struct {
	backend Backend
	store   persistence.Store
	bus     *eventbus.Bus
	log     *zap.SugaredLogger
	now     func() time.Time

	ackSweep     *sweeper.Sweeper
	timeoutSweep *sweeper.Sweeper

	// intake is set while Attach is active
	intake   *mailbox.Mailbox[intakeItem]
	intakeMu sync.Mutex

	state     State
	cfg       Config
	mu        sync.Mutex
	persistMu sync.Mutex
}

// New wires a Coordinator. store may be nil to skip persistence.
func New(cfg Config, backend Backend, bus *eventbus.Bus, store persistence.Store, log *zap.SugaredLogger, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		backend: backend,
		store:   store,
		bus:     bus,
		log:     logger.OrNop(log),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.ackSweep = sweeper.New("ack_retry", cfg.RetryInterval, c.sweepAcks, c.log)
	c.timeoutSweep = sweeper.New("timeout", cfg.TimeoutInterval, c.sweepTimeouts, c.log)

	return c
}

// Config returns the read-only configuration.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// intakeItem is a published request, or a withdrawal when withdraw is set.
type intakeItem struct {
	reason   string
	req      clarification.Request
	withdraw bool
}

// Attach adds every ClarificationRequested event to the queue. Events are
// handed to a worker owned by the coordinator, which adds them in publish
// order, so the publisher never waits on backend acknowledgements. While
// attached, Withdraw is ordered behind the requests already handed over.
// The returned func detaches and waits until the worker is idle.
func (c *Coordinator) Attach() func() {
	intake := mailbox.New[intakeItem]()
	done := make(chan struct{})

	c.intakeMu.Lock()
	c.intake = intake
	c.intakeMu.Unlock()

	go func() {
		defer close(done)

		ctx := context.Background()
		for range intake.Signal() {
			for _, item := range intake.Drain() {
				if item.withdraw {
					c.withdraw(ctx, item.req.RequestID, item.reason)

					continue
				}
				c.AddClarification(ctx, item.req)
			}
		}
	}()

	off := eventbus.On(c.bus, func(_ context.Context, ev eventbus.ClarificationRequested) error {
		if !intake.Post(intakeItem{req: ev.Request}) {
			c.log.Debugf("Coordinator detached, dropping clarification %s", ev.Request.RequestID)
		}

		return nil
	})

	var once sync.Once

	return func() {
		once.Do(func() {
			off()

			c.intakeMu.Lock()
			if c.intake == intake {
				c.intake = nil
			}
			c.intakeMu.Unlock()

			intake.Close()
			<-done
		})
	}
}

// Start restores the persisted state and starts both sweeps.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.Restore(ctx); err != nil {
		return err
	}
	c.ackSweep.Start(ctx)
	c.timeoutSweep.Start(ctx)

	return nil
}

// Stop cancels both sweeps and waits for running passes.
func (c *Coordinator) Stop() {
	c.ackSweep.Stop()
	c.timeoutSweep.Stop()
}

// AddClarification queues req, acknowledges it as queued and presents the
// next request if none is current. Duplicate request ids are ignored.
func (c *Coordinator) AddClarification(ctx context.Context, req clarification.Request) {
	c.mu.Lock()
	if c.indexLocked(req.RequestID) >= 0 {
		c.mu.Unlock()
		c.log.Debugf("Ignoring duplicate clarification %s", req.RequestID)

		return
	}

	req.CurrentAck = clarification.AckQueued
	if req.CreatedAt.IsZero() {
		req.CreatedAt = c.now()
	}
	c.insertLocked(req)
	c.mu.Unlock()

	metrics.IncClarification("agent", string(clarification.AckQueued))
	c.emit(ctx, eventbus.ClarificationQueued{RequestID: req.RequestID})
	c.sendAck(ctx, req, clarification.AckQueued, "")

	c.PresentNext(ctx)
	c.persist(ctx)
}

// insertLocked keeps Active sorted by rank, after existing entries of equal rank.
func (c *Coordinator) insertLocked(req clarification.Request) {
	rank := req.Priority.Rank()
	i := sort.Search(len(c.state.Active), func(i int) bool {
		return c.state.Active[i].Priority.Rank() > rank
	})
	c.state.Active = append(c.state.Active, clarification.Request{})
	copy(c.state.Active[i+1:], c.state.Active[i:])
	c.state.Active[i] = req
}

func (c *Coordinator) indexLocked(requestID string) int {
	for i := range c.state.Active {
		if c.state.Active[i].RequestID == requestID {
			return i
		}
	}

	return -1
}

// PresentNext promotes the most urgent queued request when nothing is current.
// A current request is never replaced.
func (c *Coordinator) PresentNext(ctx context.Context) {
	c.mu.Lock()
	if c.state.CurrentID != "" && c.indexLocked(c.state.CurrentID) >= 0 {
		c.mu.Unlock()

		return
	}

	next := -1
	for i := range c.state.Active {
		if c.state.Active[i].CurrentAck == clarification.AckQueued {
			next = i

			break
		}
	}
	if next < 0 {
		c.state.CurrentID = ""
		c.mu.Unlock()

		return
	}

	req := c.presentLocked(next)
	c.mu.Unlock()

	c.announcePresented(ctx, req)
}

func (c *Coordinator) presentLocked(i int) clarification.Request {
	c.state.Active[i].CurrentAck = clarification.AckPresented
	c.state.CurrentID = c.state.Active[i].RequestID

	return c.state.Active[i]
}

func (c *Coordinator) announcePresented(ctx context.Context, req clarification.Request) {
	metrics.IncClarification("agent", string(clarification.AckPresented))
	c.emit(ctx, eventbus.ClarificationPresented{RequestID: req.RequestID})
	c.sendAck(ctx, req, clarification.AckPresented, "")
}

// Respond submits the user's answer for the current request. On success the
// request is answered and the next one presented; on failure the error is
// kept in State.LastError and the request stays current.
func (c *Coordinator) Respond(ctx context.Context, response string, data map[string]any) error {
	c.mu.Lock()
	i := c.indexLocked(c.state.CurrentID)
	if c.state.CurrentID == "" || i < 0 {
		c.mu.Unlock()

		return ErrNoActiveClarification
	}
	req := c.state.Active[i]
	c.mu.Unlock()

	err := c.backend.Respond(ctx, req.AgentID, req.RequestID, backendapi.RespondRequest{
		Response:     response,
		ResponseData: data,
	})
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentCoordinator)
		c.mu.Lock()
		c.state.LastError = err.Error()
		c.mu.Unlock()
		c.log.Warnw("Failed to submit response", "requestId", req.RequestID, "error", err)

		return fmt.Errorf("failed to respond to clarification %s: %w", req.RequestID, err)
	}

	c.mu.Lock()
	c.state.LastError = ""
	c.mu.Unlock()

	c.complete(ctx, req.RequestID, clarification.AckAnswered, "", true)

	return nil
}

// Skip ends the current request as skipped.
func (c *Coordinator) Skip(ctx context.Context, reason string) error {
	c.mu.Lock()
	current := c.state.CurrentID
	found := current != "" && c.indexLocked(current) >= 0
	c.mu.Unlock()

	if !found {
		return ErrNoActiveClarification
	}
	c.complete(ctx, current, clarification.AckSkipped, reason, true)

	return nil
}

// Cancel ends any active request. The reason "timeout" acknowledges it as a
// timeout instead of a cancellation. Unknown ids report false.
func (c *Coordinator) Cancel(ctx context.Context, requestID, reason string) bool {
	ack := clarification.AckCancelled
	if reason == ReasonTimeout {
		ack = clarification.AckTimeout
	}

	return c.complete(ctx, requestID, ack, reason, true)
}

// Withdraw drops a request the backend cancelled itself; no ACK is sent.
// While attached the withdrawal is queued behind earlier requests and
// reported as accepted.
func (c *Coordinator) Withdraw(ctx context.Context, requestID, reason string) bool {
	c.intakeMu.Lock()
	intake := c.intake
	c.intakeMu.Unlock()

	if intake != nil && intake.Post(intakeItem{req: clarification.Request{RequestID: requestID}, reason: reason, withdraw: true}) {
		return true
	}

	return c.withdraw(ctx, requestID, reason)
}

func (c *Coordinator) withdraw(ctx context.Context, requestID, reason string) bool {
	if !c.complete(ctx, requestID, clarification.AckCancelled, reason, false) {
		c.log.Debugf("Withdrawal for unknown clarification %s", requestID)

		return false
	}
	c.log.Debugw("Backend withdrew clarification", "requestId", requestID, "reason", reason)

	return true
}

// complete moves a request to a terminal stage, evicts it and presents the next one.
func (c *Coordinator) complete(ctx context.Context, requestID string, ack clarification.AckType, reason string, notify bool) bool {
	c.mu.Lock()
	i := c.indexLocked(requestID)
	if i < 0 {
		c.mu.Unlock()

		return false
	}

	req := c.state.Active[i]
	req.CurrentAck = ack
	c.state.Active = append(c.state.Active[:i], c.state.Active[i+1:]...)
	if c.state.CurrentID == requestID {
		c.state.CurrentID = ""
	}
	if !notify {
		c.dropPendingAckLocked(requestID)
	}
	c.mu.Unlock()

	metrics.IncClarification("agent", string(ack))
	c.emit(ctx, eventbus.ClarificationCompleted{RequestID: requestID, Ack: ack})
	if notify {
		c.sendAck(ctx, req, ack, reason)
	}

	c.PresentNext(ctx)
	c.persist(ctx)

	return true
}

// Sync replaces the active list with the backend's pending requests and
// presents the first one when nothing is current.
func (c *Coordinator) Sync(ctx context.Context) error {
	pending, err := c.backend.ListPendingClarifications(ctx)
	if err != nil {
		c.mu.Lock()
		c.state.LastError = err.Error()
		c.mu.Unlock()

		return fmt.Errorf("failed to sync clarifications: %w", err)
	}

	c.mu.Lock()
	active := make([]clarification.Request, 0, len(pending))
	for _, req := range pending {
		if req.CurrentAck == "" {
			req.CurrentAck = clarification.AckQueued
		}
		if req.CreatedAt.IsZero() {
			req.CreatedAt = c.now()
		}
		active = append(active, req)
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority.Rank() < active[j].Priority.Rank()
	})
	c.state.Active = active
	c.state.LastError = ""

	var presented *clarification.Request
	if i := c.indexLocked(c.state.CurrentID); c.state.CurrentID != "" && i >= 0 {
		c.state.Active[i].CurrentAck = clarification.AckPresented
	} else {
		c.state.CurrentID = ""
		if len(active) > 0 {
			req := c.presentLocked(0)
			presented = &req
		}
	}
	c.mu.Unlock()

	if presented != nil {
		c.announcePresented(ctx, *presented)
	}
	c.persist(ctx)

	return nil
}

// Current returns a copy of the presented request.
func (c *Coordinator) Current() (clarification.Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexLocked(c.state.CurrentID)
	if c.state.CurrentID == "" || i < 0 {
		return clarification.Request{}, false
	}

	var out clarification.Request
	if err := deepcopy.Copy(&out, &c.state.Active[i]); err != nil {
		return c.state.Active[i], true
	}

	return out, true
}

// Snapshot returns a deep copy of the state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() State {
	var out State
	if err := deepcopy.Copy(&out, &c.state); err != nil {
		c.log.Warnw("Failed to copy coordinator state", "error", err)
	}

	return out
}

// LastError returns the message of the last failed backend call, if any.
func (c *Coordinator) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state.LastError
}

func (c *Coordinator) emit(ctx context.Context, ev eventbus.Event) {
	if c.bus != nil {
		c.bus.Emit(ctx, ev)
	}
}
