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

package transport

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/protocol"
)

// Connection events.
const (
	eventConnect      = "connect"
	eventOpen         = "open"
	eventOpenBuffered = "open_buffered"
	eventBuffer       = "buffer"
	eventUnbuffer     = "unbuffer"
	eventClose        = "close"
	eventFail         = "fail"
	eventReconnect    = "reconnect"
)

func newConnectionFSM() *fsm.FSM {
	var (
		connecting   = string(protocol.StateConnecting)
		connected    = string(protocol.StateConnected)
		disconnected = string(protocol.StateDisconnected)
		reconnecting = string(protocol.StateReconnecting)
		buffering    = string(protocol.StateBuffering)
		failed       = string(protocol.StateError)
	)

	return fsm.NewFSM(
		disconnected,
		fsm.Events{
			{Name: eventConnect, Src: []string{disconnected, reconnecting, failed}, Dst: connecting},
			{Name: eventOpen, Src: []string{connecting}, Dst: connected},
			{Name: eventOpenBuffered, Src: []string{connecting}, Dst: buffering},
			{Name: eventBuffer, Src: []string{connected}, Dst: buffering},
			{Name: eventUnbuffer, Src: []string{buffering}, Dst: connected},
			{Name: eventClose, Src: []string{connecting, connected, buffering, reconnecting, failed}, Dst: disconnected},
			{Name: eventFail, Src: []string{connecting, connected, buffering, disconnected, reconnecting}, Dst: failed},
			{Name: eventReconnect, Src: []string{disconnected, failed}, Dst: reconnecting},
		},
		fsm.Callbacks{},
	)
}

// transitionLocked fires event and queues a state-change notification when the
// state actually moved. Events that are not valid from the current state are
// ignored. Caller holds t.mu.
func (t *Transport) transitionLocked(event string) bool {
	from := protocol.ConnectionState(t.machine.Current())
	if !t.machine.Can(event) {
		t.log.Debugf("Ignoring %s in state %s", event, from)

		return false
	}

	if err := t.machine.Event(context.Background(), event); err != nil {
		t.log.Debugf("Transition %s from %s: %s", event, from, err)
	}

	to := protocol.ConnectionState(t.machine.Current())
	if from == to {
		return false
	}

	t.log.Debugw("Connection state changed", "from", from, "to", to)
	t.metricsState(to)
	t.inbox.Post(work{kind: workStateChange, from: from, to: to})

	return true
}

func (t *Transport) stateLocked() protocol.ConnectionState {
	return protocol.ConnectionState(t.machine.Current())
}
