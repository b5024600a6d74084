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

// Package transport keeps one duplex websocket connection to the backend alive.
//
// It owns the connection state machine, reconnects with exponential backoff,
// sends heartbeats, holds inbound messages while buffering is requested and
// acknowledges chain-tracked messages with a retrying ACK queue. Inbound
// messages are published on the event bus in arrival order by a single
// dispatcher goroutine; state-change listeners run on the same goroutine.
package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	expbackoff "github.com/cenkalti/backoff"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/eventbus"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/logger"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/mailbox"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/metrics"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/protocol"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/sentry"
)

// ErrNotConnected is returned when writing without an open connection.
var ErrNotConnected = errors.New("transport is not connected")

// seenMessages remembers delivered messageIds, keyed by transport id.
var seenMessages = expiremap.NewEx[string, time.Time](time.Minute, 5*time.Minute)

// StateListener observes connection state transitions.
type StateListener func(from, to protocol.ConnectionState)

type listener struct {
	fn StateListener
	id uint64
}

type Transport struct {
	ctx    context.Context
	cancel context.CancelFunc

	log     *zap.SugaredLogger
	bus     *eventbus.Bus
	dialer  *websocket.Dialer
	inbox   *mailbox.Mailbox[work]
	machine *fsm.FSM

	conn           *websocket.Conn
	reconnect      *expbackoff.ExponentialBackOff
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	pendingAcks    map[string]*pendingAck
	dispatcherDone chan struct{}

	id        string
	buffer    []protocol.InboundMessage
	listeners []listener
	cfg       Config

	connGen        uint64
	nextListenerID uint64
	attempts       int

	wg        sync.WaitGroup
	mu        sync.Mutex
	buffering bool
	closed    bool
}

// New creates a disconnected Transport and starts its dispatcher. A nil bus
// gets a private one. Call Close to release the dispatcher.
func New(cfg Config, bus *eventbus.Bus, log *zap.SugaredLogger) *Transport {
	if bus == nil {
		bus = eventbus.New(log)
	}

	exp := &expbackoff.ExponentialBackOff{
		InitialInterval:     cfg.ReconnectDelay,
		RandomizationFactor: 0,
		Multiplier:          cfg.ReconnectMultiplier,
		MaxInterval:         cfg.MaxReconnectDelay,
		MaxElapsedTime:      0,
		Clock:               expbackoff.SystemClock,
	}
	if exp.Multiplier < 1 {
		exp.Multiplier = 1
	}
	if exp.MaxInterval <= 0 {
		exp.MaxInterval = time.Duration(1<<63 - 1)
	}
	exp.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		id:     uuid.NewString(),
		log:    logger.OrNop(log),
		bus:    bus,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			Subprotocols:     cfg.Protocols,
		},
		inbox:          mailbox.New[work](),
		machine:        newConnectionFSM(),
		reconnect:      exp,
		pendingAcks:    make(map[string]*pendingAck),
		dispatcherDone: make(chan struct{}),
	}
	t.metricsState(protocol.StateDisconnected)

	go t.dispatch()

	return t
}

// Connect opens the connection in the background. It is a no-op while the
// connection is open or being opened. Failures surface as state changes.
func (t *Transport) Connect() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connectLocked()
}

func (t *Transport) connectLocked() {
	if t.closed {
		return
	}
	state := t.stateLocked()
	if state.IsOpen() || state == protocol.StateConnecting {
		return
	}

	t.stopReconnectTimerLocked()
	t.transitionLocked(eventConnect)
	t.connGen++

	t.wg.Add(1)
	go t.dial(t.connGen)
}

func (t *Transport) dial(gen uint64) {
	defer t.wg.Done()

	conn, resp, err := t.dialer.DialContext(t.ctx, t.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.connGen || t.closed {
		if conn != nil {
			_ = conn.Close()
		}

		return
	}

	if err != nil {
		t.log.Warnw("Failed to open connection", "url", t.cfg.URL, "error", err)
		metrics.IncErrorCount(metrics.ComponentTransport)
		t.transitionLocked(eventFail)
		t.scheduleReconnectLocked()

		return
	}

	t.conn = conn
	t.attempts = 0
	t.reconnect.Reset()

	if t.buffering {
		t.transitionLocked(eventOpenBuffered)
	} else {
		t.transitionLocked(eventOpen)
	}
	t.log.Infow("Connection opened", "url", t.cfg.URL)

	t.startHeartbeatLocked()
	t.flushPendingAcksLocked()

	t.wg.Add(1)
	go t.readLoop(conn, gen)
}

func (t *Transport) readLoop(conn *websocket.Conn, gen uint64) {
	defer t.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleClose(gen, err)

			return
		}
		t.inbox.Post(work{kind: workFrame, data: data})
	}
}

func (t *Transport) handleClose(gen uint64, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// closed by Disconnect or superseded by a newer connection
	if gen != t.connGen {
		return
	}

	t.stopHeartbeatLocked()
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}

	clean := websocket.IsCloseError(cause, websocket.CloseNormalClosure)
	t.log.Infow("Connection closed", "clean", clean, "reason", cause)
	t.transitionLocked(eventClose)

	if !clean {
		t.scheduleReconnectLocked()
	}
}

func (t *Transport) scheduleReconnectLocked() {
	if !t.cfg.AutoReconnect || t.closed {
		return
	}

	t.attempts++
	if t.cfg.MaxReconnectAttempts > 0 && t.attempts > t.cfg.MaxReconnectAttempts {
		t.transitionLocked(eventFail)
		sentry.ReportIssuef(sentry.IssueTypeError, t.log,
			"giving up reconnecting to %s after %d attempts", t.cfg.URL, t.attempts-1)

		return
	}

	delay := t.reconnect.NextBackOff()
	t.transitionLocked(eventReconnect)
	metrics.IncReconnectAttempts()
	t.log.Infow("Scheduling reconnect", "attempt", t.attempts, "delay", delay)

	gen := t.connGen
	t.reconnectTimer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		if gen != t.connGen || t.stateLocked() != protocol.StateReconnecting {
			return
		}
		t.reconnectTimer = nil
		t.connectLocked()
	})
}

func (t *Transport) stopReconnectTimerLocked() {
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
}

// Disconnect cancels the reconnect and heartbeat timers and parks every
// pending ACK, closes the connection and moves to disconnected. Buffered
// messages are kept.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.disconnectLocked()
}

func (t *Transport) disconnectLocked() {
	t.connGen++
	t.attempts = 0
	t.reconnect.Reset()
	t.stopReconnectTimerLocked()
	t.stopHeartbeatLocked()

	for _, e := range t.pendingAcks {
		t.parkAckLocked(e)
	}

	if t.conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = t.conn.Close()
		t.conn = nil
	}

	t.transitionLocked(eventClose)
}

// Close disconnects and stops the dispatcher after it delivered everything
// queued so far. The Transport cannot be reused. Close must not be called from
// a subscriber or state listener.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()

		return
	}
	t.disconnectLocked()
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.inbox.Post(work{kind: workStop})
	<-t.dispatcherDone
	t.wg.Wait()
}

// Send writes v as a JSON text frame. It reports false when the connection is
// not open or the write failed.
func (t *Transport) Send(v any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.writeLocked(v); err != nil {
		t.log.Debugw("Send failed", "error", err)

		return false
	}

	return true
}

func (t *Transport) writeLocked(v any) error {
	if t.conn == nil || !t.stateLocked().IsOpen() {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	if t.cfg.WriteTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}

	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *Transport) startHeartbeatLocked() {
	if t.cfg.HeartbeatInterval <= 0 {
		return
	}
	t.stopHeartbeatLocked()

	stop := make(chan struct{})
	t.heartbeatStop = stop

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ticker := time.NewTicker(t.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				t.Send(protocol.NewPingFrame(now.UnixMilli()))
			}
		}
	}()
}

func (t *Transport) stopHeartbeatLocked() {
	if t.heartbeatStop != nil {
		close(t.heartbeatStop)
		t.heartbeatStop = nil
	}
}

// StartBuffering holds inbound messages until StopBuffering. An open
// connection moves to the buffering state.
func (t *Transport) StartBuffering() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.buffering {
		return
	}
	t.buffering = true
	if t.stateLocked() == protocol.StateConnected {
		t.transitionLocked(eventBuffer)
	}
}

// StopBuffering delivers held messages in arrival order and restores connected.
func (t *Transport) StopBuffering() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.buffering {
		return
	}
	t.buffering = false
	if t.stateLocked() == protocol.StateBuffering {
		t.transitionLocked(eventUnbuffer)
	}
	t.inbox.Post(work{kind: workFlush})
}

func (t *Transport) dispatch() {
	defer close(t.dispatcherDone)

	for range t.inbox.Signal() {
		for _, w := range t.inbox.Drain() {
			switch w.kind {
			case workStop:
				return
			case workFrame:
				t.handleFrame(w.data)
			case workFlush:
				t.flushBuffer()
			case workStateChange:
				t.notifyState(w.from, w.to)
			}
		}
	}
}

func (t *Transport) handleFrame(data []byte) {
	msg, err := protocol.ParseInbound(data)
	if err != nil {
		t.log.Warnw("Dropping malformed frame", "error", err)
		metrics.IncMalformedFrame()

		return
	}
	metrics.IncInboundMessage(msg.Type)

	if msg.NeedsAck() {
		t.SendAck(msg.MessageID, msg.Chain.Domain, msg.Chain.UpdateID)
	}

	if msg.MessageID != "" {
		key := t.id + "/" + msg.MessageID
		if _, seen := seenMessages.Load(key); seen {
			t.log.Debugw("Dropping redelivered message", "messageId", msg.MessageID)

			return
		}
		seenMessages.Set(key, time.Now())
	}

	t.mu.Lock()
	// a pending flush keeps later frames behind the held ones
	if t.buffering || len(t.buffer) > 0 {
		t.buffer = append(t.buffer, msg)
		t.mu.Unlock()

		return
	}
	t.mu.Unlock()

	t.deliver(msg)
}

func (t *Transport) flushBuffer() {
	t.mu.Lock()
	held := t.buffer
	t.buffer = nil
	t.mu.Unlock()

	for _, msg := range held {
		t.deliver(msg)
	}
}

func (t *Transport) deliver(msg protocol.InboundMessage) {
	t.bus.Emit(t.ctx, eventbus.MessageReceived{Message: msg})
}

func (t *Transport) notifyState(from, to protocol.ConnectionState) {
	t.mu.Lock()
	ls := make([]listener, len(t.listeners))
	copy(ls, t.listeners)
	t.mu.Unlock()

	for _, l := range ls {
		l.fn(from, to)
	}
	t.bus.Emit(t.ctx, eventbus.ConnectionStateChanged{From: from, To: to})
}

func (t *Transport) metricsState(state protocol.ConnectionState) {
	metrics.SetConnectionState(string(state), protocol.AllConnectionStates)
}

// Subscribe registers a handler for inbound messages and returns its unsubscribe func.
func (t *Transport) Subscribe(handler func(ctx context.Context, msg protocol.InboundMessage)) func() {
	return eventbus.On(t.bus, func(ctx context.Context, ev eventbus.MessageReceived) error {
		handler(ctx, ev.Message)

		return nil
	})
}

// OnStateChange registers a state listener and returns its removal func.
func (t *Transport) OnStateChange(fn StateListener) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextListenerID++
	id := t.nextListenerID
	t.listeners = append(t.listeners, listener{id: id, fn: fn})

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		for i, l := range t.listeners {
			if l.id == id {
				t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)

				return
			}
		}
	}
}

func (t *Transport) State() protocol.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.stateLocked()
}

func (t *Transport) IsConnected() bool {
	return t.State().IsOpen()
}

func (t *Transport) IsBuffering() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.buffering
}

// BufferedCount returns the number of messages held for delivery.
func (t *Transport) BufferedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.buffer)
}

// ReconnectAttempts returns the attempts scheduled since the last successful open.
func (t *Transport) ReconnectAttempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.attempts
}
