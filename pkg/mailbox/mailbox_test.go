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
package mailbox_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/mailbox"
)

var _ = Describe("Mailbox", func() {
	It("drains posts in order and coalesces wake-ups", func() {
		m := mailbox.New[int]()
		Expect(m.Post(1)).To(BeTrue())
		Expect(m.Post(2)).To(BeTrue())
		Expect(m.Post(3)).To(BeTrue())

		Expect(m.Signal()).To(Receive())
		Expect(m.Signal()).NotTo(Receive())
		Expect(m.Len()).To(Equal(3))
		Expect(m.Drain()).To(Equal([]int{1, 2, 3}))
		Expect(m.Drain()).To(BeEmpty())
	})

	It("delivers everything posted before Close to a ranging consumer", func() {
		m := mailbox.New[string]()
		got := make(chan []string)
		go func() {
			var seen []string
			for range m.Signal() {
				seen = append(seen, m.Drain()...)
			}
			got <- seen
		}()

		for _, v := range []string{"a", "b", "c", "d"} {
			m.Post(v)
		}
		m.Close()

		Eventually(got).Should(Receive(Equal([]string{"a", "b", "c", "d"})))
	})

	It("drops posts after Close", func() {
		m := mailbox.New[int]()
		m.Close()
		m.Close()

		Expect(m.Post(1)).To(BeFalse())
		Expect(m.Len()).To(BeZero())
	})
})
