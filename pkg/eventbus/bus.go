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

// Package eventbus fans typed events out to in-process subscribers.
//
// Handlers for one event type run in subscription order. Emit works on a
// snapshot of the handler list, so subscribing or unsubscribing from inside a
// handler only affects later emits.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/logger"
)

// Handler receives one event. A returned error is logged by Emit and
// propagated by EmitAsync; it never stops other handlers.
type Handler func(ctx context.Context, ev Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is safe for concurrent use.
type Bus struct {
	log      *zap.SugaredLogger
	handlers map[EventType][]subscription
	mu       sync.RWMutex
	nextID   uint64
}

func New(log *zap.SugaredLogger) *Bus {
	return &Bus{
		log:      logger.OrNop(log),
		handlers: make(map[EventType][]subscription),
	}
}

// Subscribe registers handler for eventType and returns its unsubscribe func.
// Calling the returned func more than once is harmless.
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() { b.remove(eventType, id) })
	}
}

// SubscribeMany registers one handler for several event types.
func (b *Bus) SubscribeMany(eventTypes []EventType, handler Handler) func() {
	unsubs := make([]func(), 0, len(eventTypes))
	for _, t := range eventTypes {
		unsubs = append(unsubs, b.Subscribe(t, handler))
	}

	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// On subscribes a handler that receives the concrete payload type T.
func On[T Event](b *Bus, handler func(ctx context.Context, ev T) error) func() {
	var zero T

	return b.Subscribe(zero.Type(), func(ctx context.Context, ev Event) error {
		typed, ok := ev.(T)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", ev, zero.Type())
		}

		return handler(ctx, typed)
	})
}

func (b *Bus) remove(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[eventType]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		// copy so snapshots taken by running emits stay intact
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, eventType)
		} else {
			b.handlers[eventType] = next
		}

		return
	}
}

func (b *Bus) snapshot(eventType EventType) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.handlers[eventType]
	out := make([]subscription, len(subs))
	copy(out, subs)

	return out
}

// Emit calls every handler for ev synchronously. Errors and panics are
// logged per handler and do not prevent the remaining handlers from running.
func (b *Bus) Emit(ctx context.Context, ev Event) {
	for _, s := range b.snapshot(ev.Type()) {
		if err := b.call(ctx, s.handler, ev); err != nil {
			b.log.Warnw("Event handler failed", "event", ev.Type(), "error", err)
		}
	}
}

// EmitAsync runs every handler for ev concurrently and waits for all of them.
// It returns the first error; every handler is invoked regardless.
func (b *Bus) EmitAsync(ctx context.Context, ev Event) error {
	var g errgroup.Group
	for _, s := range b.snapshot(ev.Type()) {
		h := s.handler
		g.Go(func() error {
			return b.call(ctx, h, ev)
		})
	}

	return g.Wait()
}

func (b *Bus) call(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return h(ctx, ev)
}

// Clear drops all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = make(map[EventType][]subscription)
}

// TotalListenerCount returns the number of subscriptions across all types.
func (b *Bus) TotalListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, subs := range b.handlers {
		n += len(subs)
	}

	return n
}

func (b *Bus) ListenerCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.handlers[eventType])
}
