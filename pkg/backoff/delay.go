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

// Package backoff provides the retry delay schedule shared by the transport and
// coordinator ACK queues, and the error categories that decide whether a failure
// is worth retrying at all.
package backoff

import (
	"math"
	"time"
)

// Policy describes an exponential retry schedule.
type Policy struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	MaxRetries int
}

// Delay returns the wait before retry number attempt (1-based):
// min(MaxDelay, BaseDelay * Multiplier^(attempt-1)).
func (p Policy) Delay(attempt int) time.Duration {
	return Delay(p.BaseDelay, p.Multiplier, p.MaxDelay, attempt)
}

// Exhausted reports whether retry number attempt exceeds MaxRetries.
func (p Policy) Exhausted(attempt int) bool {
	return attempt > p.MaxRetries
}

// Delay computes min(maxDelay, base * multiplier^(attempt-1)).
// attempt <= 0 yields 0. A maxDelay <= 0 disables the cap.
func Delay(base time.Duration, multiplier float64, maxDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(base) * math.Pow(multiplier, float64(attempt-1))
	if maxDelay > 0 && delay >= float64(maxDelay) {
		return maxDelay
	}
	// guard float overflow when no cap is set
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(delay)
}
