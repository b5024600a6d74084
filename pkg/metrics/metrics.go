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

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Component labels.
	ComponentTransport   = "transport"
	ComponentCoordinator = "coordinator"
	ComponentDomainStore = "domainstore"
	ComponentDomainSync  = "domainsync"
	ComponentBackendAPI  = "backendapi"
	ComponentPersistence = "persistence"

	// ACK layers.
	AckLayerTransport   = "transport"
	AckLayerCoordinator = "coordinator"
)

var (
	namespace = "spatial"
	subsystem = "sync"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component"},
	)

	connectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connection_state",
			Help:      "1 for the current transport connection state, 0 for all others",
		},
		[]string{"state"},
	)

	reconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconnect_attempts_total",
			Help:      "Total number of scheduled reconnect attempts",
		},
	)

	inboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "inbound_messages_total",
			Help:      "Inbound frames by message type",
		},
		[]string{"type"},
	)

	malformedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "malformed_frames_total",
			Help:      "Inbound frames dropped because they could not be parsed",
		},
	)

	acks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "acks_total",
			Help:      "ACK attempts by layer and outcome (sent, retried, dropped)",
		},
		[]string{"layer", "outcome"},
	)

	clarifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "clarifications_total",
			Help:      "Clarification lifecycle transitions by path and status",
		},
		[]string{"path", "status"},
	)

	sweepDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sweep_duration_milliseconds",
			Help:      "Time taken by a periodic sweep pass (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
		[]string{"sweep"},
	)
)

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component string) {
	errorCounter.WithLabelValues(component).Inc()
}

// SetConnectionState marks state as the current connection state.
func SetConnectionState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		connectionState.WithLabelValues(s).Set(v)
	}
}

func IncReconnectAttempts() {
	reconnectAttempts.Inc()
}

func IncInboundMessage(messageType string) {
	inboundMessages.WithLabelValues(messageType).Inc()
}

func IncMalformedFrame() {
	malformedFrames.Inc()
}

// IncAck records an ACK outcome ("sent", "retried", "dropped") for a layer.
func IncAck(layer, outcome string) {
	acks.WithLabelValues(layer, outcome).Inc()
}

func IncClarification(path, status string) {
	clarifications.WithLabelValues(path, status).Inc()
}

// ObserveSweep records the duration of a sweep pass.
func ObserveSweep(sweep string, d time.Duration) {
	sweepDuration.WithLabelValues(sweep).Observe(float64(d.Microseconds()) / 1000)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
