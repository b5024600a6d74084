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
// Package mailbox provides an unbounded FIFO drained by a single consumer
// goroutine. Posting never blocks, so the consumer itself may post.
package mailbox

import "sync"

type Mailbox[T any] struct {
	signal chan struct{}
	items  []T
	mu     sync.Mutex
	closed bool
}

func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{signal: make(chan struct{}, 1)}
}

// Post appends v and wakes the consumer. Posts after Close are dropped and
// report false.
func (m *Mailbox[T]) Post(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.items = append(m.items, v)

	select {
	case m.signal <- struct{}{}:
	default:
	}

	return true
}

// Signal fires after one or more posts. It is closed by Close; a wake-up that
// was pending at that point is still delivered first.
func (m *Mailbox[T]) Signal() <-chan struct{} {
	return m.signal
}

// Drain removes and returns everything posted so far, in order.
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.items
	m.items = nil

	return items
}

func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.items)
}

// Close stops accepting posts and ends a consumer ranging over Signal once it
// has drained what was already posted. Close is idempotent.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.signal)
}
