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

package backoff_test

import (
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/backoff"
)

var _ = Describe("Delay", func() {
	It("doubles from the base delay and caps at the max delay", func() {
		p := backoff.Policy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 8 * time.Second, MaxRetries: 3}

		Expect(p.Delay(1)).To(Equal(1 * time.Second))
		Expect(p.Delay(2)).To(Equal(2 * time.Second))
		Expect(p.Delay(3)).To(Equal(4 * time.Second))
		Expect(p.Delay(4)).To(Equal(8 * time.Second))
		Expect(p.Delay(10)).To(Equal(8 * time.Second))
	})

	It("is non-decreasing and never above the cap for long failure runs", func() {
		p := backoff.Policy{BaseDelay: 150 * time.Millisecond, Multiplier: 1.7, MaxDelay: 30 * time.Second}

		prev := time.Duration(0)
		for attempt := 1; attempt <= 200; attempt++ {
			d := p.Delay(attempt)
			Expect(d).To(BeNumerically(">=", prev), fmt.Sprintf("attempt %d", attempt))
			Expect(d).To(BeNumerically("<=", 30*time.Second))
			prev = d
		}
	})

	It("returns zero for non-positive attempts", func() {
		Expect(backoff.Delay(time.Second, 2, time.Minute, 0)).To(BeZero())
		Expect(backoff.Delay(time.Second, 2, time.Minute, -3)).To(BeZero())
	})

	It("treats multipliers below one as a constant schedule", func() {
		Expect(backoff.Delay(time.Second, 0.5, time.Minute, 5)).To(Equal(time.Second))
	})

	It("reports exhaustion once the attempt exceeds MaxRetries", func() {
		p := backoff.Policy{MaxRetries: 3}
		Expect(p.Exhausted(3)).To(BeFalse())
		Expect(p.Exhausted(4)).To(BeTrue())
	})
})

var _ = Describe("Error categories", func() {
	It("treats plain errors as transient", func() {
		err := errors.New("boom")
		Expect(backoff.CategoryOf(err)).To(Equal(backoff.CategoryTransient))
		Expect(backoff.IsTransientError(err)).To(BeTrue())
	})

	It("keeps the category through wrapping", func() {
		err := fmt.Errorf("ack failed: %w", backoff.NewPermanentError(errors.New("400")))
		Expect(backoff.IsPermanentError(err)).To(BeTrue())
		Expect(backoff.IsTransientError(err)).To(BeFalse())
	})

	It("does not report nil as anything", func() {
		Expect(backoff.IsTransientError(nil)).To(BeFalse())
		Expect(backoff.IsPermanentError(nil)).To(BeFalse())
	})
})
