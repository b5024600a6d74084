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

// Package statusserver exposes read-only operational endpoints: health,
// Prometheus metrics and snapshots of the clarification and domain state.
package statusserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/clarification/coordinator"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/clarification/domainstore"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/domainsync"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/logger"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/metrics"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/protocol"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/sentry"
)

// Connection is the transport view used by /healthz. *transport.Transport implements it.
type Connection interface {
	State() protocol.ConnectionState
	BufferedCount() int
	PendingAckCount() int
	ReconnectAttempts() int
}

type Clarifications interface {
	Snapshot() coordinator.State
}

type LocalClarifications interface {
	Snapshot() domainstore.State
}

type Domains interface {
	Domains() []string
	Snapshot(domain string) (domainsync.Domain, bool)
}

// Sources are the services the endpoints read from. Nil sources leave their
// routes unregistered.
type Sources struct {
	Connection          Connection
	Clarifications      Clarifications
	LocalClarifications LocalClarifications
	Domains             Domains
}

type Server struct {
	engine *gin.Engine
	http   *http.Server
	log    *zap.SugaredLogger
}

// Health is the body of /healthz.
type Health struct {
	State             protocol.ConnectionState `json:"state"`
	BufferedMessages  int                      `json:"bufferedMessages"`
	PendingAcks       int                      `json:"pendingAcks"`
	ReconnectAttempts int                      `json:"reconnectAttempts"`
}

// DomainSummary is a domain entry without its payload.
type DomainSummary struct {
	UpdatedAt     time.Time `json:"updatedAt"`
	Name          string    `json:"name"`
	SchemaVersion string    `json:"schemaVersion"`
	UpdateID      string    `json:"updateId"`
	Hash          uint64    `json:"hash"`
}

func New(addr string, src Sources, log *zap.SugaredLogger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine: gin.New(),
		log:    logger.OrNop(log),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())

	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	if src.Connection != nil {
		s.engine.GET("/healthz", healthHandler(src.Connection))
	}

	v1 := s.engine.Group("/v1")
	if src.Clarifications != nil {
		v1.GET("/clarifications", func(c *gin.Context) {
			c.JSON(http.StatusOK, src.Clarifications.Snapshot())
		})
	}
	if src.LocalClarifications != nil {
		v1.GET("/clarifications/local", func(c *gin.Context) {
			c.JSON(http.StatusOK, src.LocalClarifications.Snapshot())
		})
	}
	if src.Domains != nil {
		v1.GET("/domains", listDomainsHandler(src.Domains))
		v1.GET("/domains/:name", getDomainHandler(src.Domains))
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.log.Infow("Status server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeError, s.log)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debugw("Handled request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// healthHandler answers 200 while the connection is open and 503 otherwise.
func healthHandler(conn Connection) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := Health{
			State:             conn.State(),
			BufferedMessages:  conn.BufferedCount(),
			PendingAcks:       conn.PendingAckCount(),
			ReconnectAttempts: conn.ReconnectAttempts(),
		}

		status := http.StatusOK
		if !h.State.IsOpen() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, h)
	}
}

func listDomainsHandler(domains Domains) gin.HandlerFunc {
	return func(c *gin.Context) {
		names := domains.Domains()
		out := make([]DomainSummary, 0, len(names))
		for _, name := range names {
			d, ok := domains.Snapshot(name)
			if !ok {
				continue
			}
			out = append(out, DomainSummary{
				UpdatedAt:     d.UpdatedAt,
				Name:          d.Name,
				SchemaVersion: d.SchemaVersion,
				UpdateID:      d.UpdateID,
				Hash:          d.Hash,
			})
		}
		c.JSON(http.StatusOK, out)
	}
}

func getDomainHandler(domains Domains) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, ok := domains.Snapshot(c.Param("name"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown domain"})

			return
		}
		c.JSON(http.StatusOK, d)
	}
}
