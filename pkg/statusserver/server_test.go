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

package statusserver_test

import (
	"context"
	"net/http"
	"net/http/httptest"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/clarification"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/clarification/coordinator"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/clarification/domainstore"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/domainsync"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/protocol"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/statusserver"
)

type fakeConnection struct {
	state protocol.ConnectionState
}

func (f fakeConnection) State() protocol.ConnectionState { return f.state }
func (fakeConnection) BufferedCount() int { return 2 }
func (fakeConnection) PendingAckCount() int { return 1 }
func (fakeConnection) ReconnectAttempts() int { return 0 }

type fixedClarifications coordinator.State

func (f fixedClarifications) Snapshot() coordinator.State { return coordinator.State(f) }

var _ = Describe("Server", func() {
	var (
		conn   *fakeConnection
		store  *domainstore.Store
		mirror *domainsync.Mirror
		server *statusserver.Server
	)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		server.Handler().ServeHTTP(rec, req)

		return rec
	}

	BeforeEach(func() {
		conn = &fakeConnection{state: protocol.StateConnected}
		store = domainstore.New(domainstore.DefaultConfig(), nil, nil)

		var err error
		mirror, err = domainsync.New("1.2.0", nil, nil)
		Expect(err).NotTo(HaveOccurred())

		server = statusserver.New(":0", statusserver.Sources{
			Connection: conn,
			Clarifications: fixedClarifications{
				Active:    []clarification.Request{{RequestID: "r1", Priority: clarification.PriorityHigh}},
				CurrentID: "r1",
			},
			LocalClarifications: store,
			Domains:             mirror,
		}, nil)
	})

	Context("/healthz", func() {
		It("reports 200 while connected", func() {
			rec := get("/healthz")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var health statusserver.Health
			Expect(json.Unmarshal(rec.Body.Bytes(), &health)).To(Succeed())
			Expect(health).To(Equal(statusserver.Health{
				State: protocol.StateConnected, BufferedMessages: 2, PendingAcks: 1,
			}))
		})

		It("stays healthy while buffering", func() {
			conn.state = protocol.StateBuffering
			Expect(get("/healthz").Code).To(Equal(http.StatusOK))
		})

		It("reports 503 while reconnecting", func() {
			conn.state = protocol.StateReconnecting
			Expect(get("/healthz").Code).To(Equal(http.StatusServiceUnavailable))
		})
	})

	It("serves Prometheus metrics", func() {
		rec := get("/metrics")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("go_goroutines"))
	})

	It("serves the coordinator snapshot", func() {
		rec := get("/v1/clarifications")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var state coordinator.State
		Expect(json.Unmarshal(rec.Body.Bytes(), &state)).To(Succeed())
		Expect(state.CurrentID).To(Equal("r1"))
		Expect(state.Active).To(HaveLen(1))
	})

	It("serves the local clarification snapshot", func() {
		store.RequestClarification(context.Background(), clarification.LocalRequest{
			Type: clarification.TypeContextual, Priority: clarification.PriorityRequired, Question: "pick the keel",
		})

		rec := get("/v1/clarifications/local")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var state domainstore.State
		Expect(json.Unmarshal(rec.Body.Bytes(), &state)).To(Succeed())
		Expect(state.ActiveContextual).NotTo(BeNil())
		Expect(state.ActiveContextual.Question).To(Equal("pick the keel"))
	})

	Context("/v1/domains", func() {
		BeforeEach(func() {
			Expect(mirror.Apply(context.Background(), protocol.DomainSyncPayload{
				Domain:        "geometry",
				SchemaVersion: "1.0.0",
				UpdateID:      "u-1",
				Data:          json.RawMessage(`{"frames":12}`),
			})).To(Succeed())
		})

		It("lists domains without their payload", func() {
			rec := get("/v1/domains")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).NotTo(ContainSubstring("frames"))

			var domains []statusserver.DomainSummary
			Expect(json.Unmarshal(rec.Body.Bytes(), &domains)).To(Succeed())
			Expect(domains).To(HaveLen(1))
			Expect(domains[0].Name).To(Equal("geometry"))
			Expect(domains[0].UpdateID).To(Equal("u-1"))
			Expect(domains[0].Hash).NotTo(BeZero())
		})

		It("returns one domain with its payload", func() {
			rec := get("/v1/domains/geometry")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"frames":12`))
		})

		It("returns 404 for unknown domains", func() {
			Expect(get("/v1/domains/arrangement").Code).To(Equal(http.StatusNotFound))
		})
	})

	It("leaves routes of missing sources unregistered", func() {
		server = statusserver.New(":0", statusserver.Sources{}, nil)

		Expect(get("/healthz").Code).To(Equal(http.StatusNotFound))
		Expect(get("/v1/clarifications").Code).To(Equal(http.StatusNotFound))
		Expect(get("/metrics").Code).To(Equal(http.StatusOK))
	})
})
