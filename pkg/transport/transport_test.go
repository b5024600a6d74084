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

package transport_test

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/eventbus"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/protocol"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/transport"
)

type collector struct {
	msgs []protocol.InboundMessage
	mu   sync.Mutex
}

func (c *collector) add(_ context.Context, msg protocol.InboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.msgs))
	for _, m := range c.msgs {
		out = append(out, string(m.Payload))
	}

	return out
}

func numbered(n int) protocol.InboundMessage {
	payload, _ := json.Marshal(n)

	return protocol.InboundMessage{Type: "update", Payload: payload}
}

func payloads(from, to int) []string {
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		b, _ := json.Marshal(i)
		out = append(out, string(b))
	}

	return out
}

var _ = Describe("Transport", func() {
	var (
		peer     *backendPeer
		tr       *transport.Transport
		bus      *eventbus.Bus
		received *collector
		baseline goleak.Option
	)

	BeforeEach(func() {
		baseline = goleak.IgnoreCurrent()
		peer = newBackendPeer()
		bus = eventbus.New(nil)
		received = &collector{}
	})

	AfterEach(func() {
		if tr != nil {
			tr.Close()
			tr = nil
		}
		peer.close()
		Eventually(func() error { return goleak.Find(baseline) }, 3*time.Second).Should(Succeed())
	})

	start := func(cfg transport.Config) {
		tr = transport.New(cfg, bus, nil)
		tr.Subscribe(received.add)
	}

	Context("connection lifecycle", func() {
		It("connects, reports transitions and ignores a second Connect", func() {
			var mu sync.Mutex
			var seen []protocol.ConnectionState
			start(testConfig(peer.url()))
			tr.OnStateChange(func(_, to protocol.ConnectionState) {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, to)
			})

			var busEvents []eventbus.ConnectionStateChanged
			eventbus.On(bus, func(_ context.Context, ev eventbus.ConnectionStateChanged) error {
				mu.Lock()
				defer mu.Unlock()
				busEvents = append(busEvents, ev)

				return nil
			})

			tr.Connect()
			peer.accept()
			Eventually(tr.State).Should(Equal(protocol.StateConnected))

			tr.Connect()
			Consistently(peer.conns, 50*time.Millisecond).ShouldNot(Receive())

			Eventually(func() []protocol.ConnectionState {
				mu.Lock()
				defer mu.Unlock()

				return append([]protocol.ConnectionState(nil), seen...)
			}).Should(Equal([]protocol.ConnectionState{protocol.StateConnecting, protocol.StateConnected}))

			Eventually(func() int {
				mu.Lock()
				defer mu.Unlock()

				return len(busEvents)
			}).Should(Equal(2))
			mu.Lock()
			Expect(busEvents[1].From).To(Equal(protocol.StateConnecting))
			mu.Unlock()

			tr.Disconnect()
			Expect(tr.State()).To(Equal(protocol.StateDisconnected))
			Expect(tr.IsConnected()).To(BeFalse())
		})

		It("reports false from Send while disconnected", func() {
			start(testConfig(peer.url()))
			Expect(tr.Send(map[string]string{"type": "noop"})).To(BeFalse())
		})

		It("reconnects after an unclean close", func() {
			start(testConfig(peer.url()))
			tr.Connect()
			first := peer.accept()
			Eventually(tr.State).Should(Equal(protocol.StateConnected))

			// drop the TCP connection without a close frame
			Expect(first.UnderlyingConn().Close()).To(Succeed())

			peer.accept()
			Eventually(tr.State).Should(Equal(protocol.StateConnected))
			Expect(tr.ReconnectAttempts()).To(BeZero())
		})

		It("stays disconnected after a clean close", func() {
			start(testConfig(peer.url()))
			tr.Connect()
			conn := peer.accept()
			Eventually(tr.State).Should(Equal(protocol.StateConnected))

			Expect(conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(time.Second))).To(Succeed())

			Eventually(tr.State).Should(Equal(protocol.StateDisconnected))
			Consistently(tr.State, 100*time.Millisecond).Should(Equal(protocol.StateDisconnected))
		})

		It("ends in error once the reconnect budget is spent", func() {
			unreachable := newBackendPeer()
			url := unreachable.url()
			unreachable.close()

			cfg := testConfig(url)
			cfg.MaxReconnectAttempts = 2
			cfg.ReconnectDelay = 5 * time.Millisecond
			start(cfg)

			tr.Connect()
			Eventually(tr.State, 2*time.Second).Should(Equal(protocol.StateError))
			Consistently(tr.State, 100*time.Millisecond).Should(Equal(protocol.StateError))
			Expect(tr.ReconnectAttempts()).To(Equal(3))
		})
	})

	Context("inbound messages", func() {
		It("delivers in arrival order and acknowledges chain-tracked frames", func() {
			start(testConfig(peer.url()))
			tr.Connect()
			conn := peer.accept()
			Eventually(tr.State).Should(Equal(protocol.StateConnected))

			for i := 1; i <= 3; i++ {
				push(conn, numbered(i))
			}
			tracked := numbered(4)
			tracked.MessageID = "m-4"
			tracked.Chain = &protocol.ChainInfo{Domain: "geometry", UpdateID: "u-9"}
			push(conn, tracked)

			Eventually(received.types).Should(Equal(payloads(1, 4)))

			ack := peer.nextFrameOfType(protocol.TypeAck)
			Expect(ack).To(HaveKeyWithValue("messageId", "m-4"))
			Expect(ack).To(HaveKeyWithValue("domain", "geometry"))
			Expect(ack).To(HaveKeyWithValue("updateId", "u-9"))
		})

		It("drops malformed frames without affecting the connection", func() {
			start(testConfig(peer.url()))
			tr.Connect()
			conn := peer.accept()
			Eventually(tr.State).Should(Equal(protocol.StateConnected))

			Expect(conn.WriteMessage(websocket.TextMessage, []byte("{not json"))).To(Succeed())
			Expect(conn.WriteMessage(websocket.TextMessage, []byte(`{"payload":1}`))).To(Succeed())
			push(conn, numbered(1))

			Eventually(received.types).Should(Equal(payloads(1, 1)))
			Expect(tr.State()).To(Equal(protocol.StateConnected))
		})

		It("delivers a redelivered messageId once but acknowledges it again", func() {
			start(testConfig(peer.url()))
			tr.Connect()
			conn := peer.accept()
			Eventually(tr.State).Should(Equal(protocol.StateConnected))

			msg := numbered(7)
			msg.MessageID = "dup-1"
			msg.Chain = &protocol.ChainInfo{Domain: "arrangement", UpdateID: "u-1"}
			push(conn, msg)
			push(conn, msg)

			peer.nextFrameOfType(protocol.TypeAck)
			peer.nextFrameOfType(protocol.TypeAck)
			Consistently(received.types, 50*time.Millisecond).Should(Equal(payloads(7, 7)))
		})
	})

	Context("buffering", func() {
		It("holds messages and flushes them in arrival order", func() {
			start(testConfig(peer.url()))
			tr.StartBuffering()
			tr.Connect()
			conn := peer.accept()
			Eventually(tr.State).Should(Equal(protocol.StateBuffering))

			for i := 1; i <= 5; i++ {
				push(conn, numbered(i))
			}
			Eventually(tr.BufferedCount).Should(Equal(5))
			Expect(received.types()).To(BeEmpty())

			tr.StopBuffering()
			push(conn, numbered(6))

			Eventually(received.types).Should(Equal(payloads(1, 6)))
			Consistently(received.types, 50*time.Millisecond).Should(HaveLen(6))
			Expect(tr.State()).To(Equal(protocol.StateConnected))
			Expect(tr.IsBuffering()).To(BeFalse())
		})

		It("moves an open connection into buffering and back", func() {
			start(testConfig(peer.url()))
			tr.Connect()
			conn := peer.accept()
			Eventually(tr.State).Should(Equal(protocol.StateConnected))

			push(conn, numbered(1))
			Eventually(received.types).Should(Equal(payloads(1, 1)))

			tr.StartBuffering()
			Expect(tr.State()).To(Equal(protocol.StateBuffering))
			Expect(tr.IsConnected()).To(BeTrue())
			push(conn, numbered(2))
			push(conn, numbered(3))
			Eventually(tr.BufferedCount).Should(Equal(2))

			tr.StopBuffering()
			Eventually(received.types).Should(Equal(payloads(1, 3)))
		})

		It("keeps the buffer across Disconnect", func() {
			start(testConfig(peer.url()))
			tr.StartBuffering()
			tr.Connect()
			conn := peer.accept()
			Eventually(tr.State).Should(Equal(protocol.StateBuffering))

			push(conn, numbered(1))
			Eventually(tr.BufferedCount).Should(Equal(1))

			tr.Disconnect()
			Expect(tr.BufferedCount()).To(Equal(1))

			tr.StopBuffering()
			Eventually(received.types).Should(Equal(payloads(1, 1)))
		})
	})

	Context("ACK retry queue", func() {
		It("backs off 1x, 2x, 4x and drops after the retry budget", func() {
			core, logs := observer.New(zap.DebugLevel)
			cfg := testConfig(peer.url())
			cfg.AutoReconnect = false
			cfg.AckRetry = transport.AckRetryConfig{
				MaxRetries: 3,
				BaseDelay:  100 * time.Millisecond,
				Multiplier: 2,
				MaxDelay:   800 * time.Millisecond,
			}
			tr = transport.New(cfg, bus, zap.New(core).Sugar())

			tr.SendAck("m-1", "geometry", "u-1")

			first := tr.PendingAcks()
			Expect(first).To(HaveLen(1))
			Expect(first[0].RetryCount).To(Equal(1))
			Expect(first[0].NextDelay).To(Equal(100 * time.Millisecond))

			retry := func() transport.PendingAck {
				acks := tr.PendingAcks()
				if len(acks) == 0 {
					return transport.PendingAck{}
				}

				return acks[0]
			}
			Eventually(retry, time.Second, 5*time.Millisecond).Should(And(
				HaveField("RetryCount", 2), HaveField("NextDelay", 200*time.Millisecond)))
			Eventually(retry, time.Second, 5*time.Millisecond).Should(And(
				HaveField("RetryCount", 3), HaveField("NextDelay", 400*time.Millisecond)))
			Eventually(tr.PendingAckCount, time.Second).Should(BeZero())

			Expect(logs.FilterMessageSnippet("dropping ack for message m-1").Len()).To(Equal(1))
		})

		It("keeps an existing schedule when the same ACK fails again", func() {
			cfg := testConfig(peer.url())
			cfg.AckRetry.BaseDelay = time.Hour
			start(cfg)

			tr.SendAck("m-1", "geometry", "u-1")
			tr.SendAck("m-1", "geometry", "u-1")

			acks := tr.PendingAcks()
			Expect(acks).To(HaveLen(1))
			Expect(acks[0].RetryCount).To(Equal(1))
		})

		It("flushes parked ACKs as soon as the connection opens", func() {
			cfg := testConfig(peer.url())
			cfg.AckRetry.BaseDelay = time.Hour
			start(cfg)

			tr.SendAck("m-2", "arrangement", "u-2")
			Expect(tr.PendingAckCount()).To(Equal(1))

			tr.Connect()
			peer.accept()

			ack := peer.nextFrameOfType(protocol.TypeAck)
			Expect(ack).To(HaveKeyWithValue("messageId", "m-2"))
			Eventually(tr.PendingAckCount).Should(BeZero())
		})
	})

	Context("heartbeat", func() {
		It("pings while connected", func() {
			cfg := testConfig(peer.url())
			cfg.HeartbeatInterval = 10 * time.Millisecond
			start(cfg)

			tr.Connect()
			peer.accept()

			ping := peer.nextFrameOfType(protocol.TypePing)
			Expect(ping).To(HaveKey("payload"))
			Expect(ping["payload"]).To(HaveKey("timestamp"))
		})
	})

	Context("Close", func() {
		It("is idempotent and disconnects", func() {
			start(testConfig(peer.url()))
			tr.Connect()
			peer.accept()
			Eventually(tr.State).Should(Equal(protocol.StateConnected))

			tr.Close()
			tr.Close()
			Expect(tr.State()).To(Equal(protocol.StateDisconnected))

			tr.Connect()
			Expect(tr.State()).To(Equal(protocol.StateDisconnected))
		})
	})
})
