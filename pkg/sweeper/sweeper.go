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

// Package sweeper runs a periodic task that never overlaps with itself.
package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/logger"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/metrics"
)

// Func is one sweep pass.
type Func func(ctx context.Context) error

// Sweeper calls its Func every interval until stopped. A pass that is due while
// the previous one is still in flight is skipped.
type Sweeper struct {
	fn       Func
	log      *zap.SugaredLogger
	inFlight *semaphore.Weighted
	cancel   context.CancelFunc
	done     chan struct{}
	name     string
	interval time.Duration
	mu       sync.Mutex
}

func New(name string, interval time.Duration, fn Func, log *zap.SugaredLogger) *Sweeper {
	return &Sweeper{
		name:     name,
		interval: interval,
		fn:       fn,
		log:      logger.OrNop(log).With("sweep", name),
		inFlight: semaphore.NewWeighted(1),
	}
}

// Start launches the ticker loop. Calling Start on a running sweeper does nothing.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil || s.interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop cancels the loop and waits for an in-flight pass to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RunOnce executes a single pass now. It returns false without running when a
// pass is already in flight.
func (s *Sweeper) RunOnce(ctx context.Context) bool {
	if !s.inFlight.TryAcquire(1) {
		s.log.Debugf("Previous %s pass still running, skipping", s.name)

		return false
	}
	defer s.inFlight.Release(1)

	start := time.Now()
	if err := s.fn(ctx); err != nil {
		s.log.Warnw("Sweep pass failed", "error", err)
	}
	metrics.ObserveSweep(s.name, time.Since(start))

	return true
}

// Running reports whether the ticker loop is active.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cancel != nil
}
