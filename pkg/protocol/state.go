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

package protocol

// ConnectionState is the lifecycle state of the duplex connection.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateReconnecting ConnectionState = "reconnecting"
	// StateBuffering is a sub-state of connected; the connection is open but
	// inbound messages are held until buffering ends.
	StateBuffering ConnectionState = "buffering"
	StateError     ConnectionState = "error"
)

// AllConnectionStates lists every state, used for metrics.
var AllConnectionStates = []string{
	string(StateConnecting),
	string(StateConnected),
	string(StateDisconnected),
	string(StateReconnecting),
	string(StateBuffering),
	string(StateError),
}

// IsOpen reports whether the state implies an open connection.
func (s ConnectionState) IsOpen() bool {
	return s == StateConnected || s == StateBuffering
}
