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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/spatial-sync/pkg/backendapi"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/clarification/coordinator"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/clarification/domainstore"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/config"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/domainsync"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/eventbus"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/logger"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/persistence"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/router"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/sentry"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/statusserver"
	"github.com/united-manufacturing-hub/spatial-sync/pkg/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Initialize()
		sentry.ReportIssuef(sentry.IssueTypeFatal, logger.For(logger.ComponentCore), "Failed to load config: %w", err)
		os.Exit(1)
	}

	logger.InitializeWith(cfg.Logging.Level, logger.ParseFormat(cfg.Logging.Format, logger.FormatConsole))
	defer func() { _ = logger.Sync() }()

	sentry.InitSentry(cfg.Sentry.DSN, cfg.Sentry.AppVersion)
	defer sentry.Flush(2 * time.Second)

	log := logger.For(logger.ComponentCore)
	log.Infow("Starting spatial-sync", "version", cfg.Sentry.AppVersion, "backend", cfg.Transport.URL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		sentry.ReportIssue(err, sentry.IssueTypeFatal, log)
		os.Exit(1)
	}

	log.Info("spatial-sync stopped")
}

func run(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) error {
	store, err := openStore(cfg.Persistence)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warnw("Failed to close state store", "error", err)
		}
	}()

	bus := eventbus.New(logger.For(logger.ComponentEventBus))

	conn := transport.New(cfg.Transport, bus, logger.For(logger.ComponentTransport))
	defer conn.Close()

	backend := backendapi.New(cfg.Backend, logger.For(logger.ComponentBackendAPI))
	coord := coordinator.New(cfg.Coordinator, backend, bus, store, logger.For(logger.ComponentCoordinator))
	local := domainstore.New(cfg.DomainStore, bus, logger.For(logger.ComponentDomainStore))
	defer local.ResetClarificationStore()

	mirror, err := domainsync.New(cfg.DomainSync.SchemaVersion, bus, logger.For(logger.ComponentDomainSync))
	if err != nil {
		return err
	}

	detachCoordinator := coord.Attach()
	defer detachCoordinator()
	detachMirror := mirror.Attach()
	defer detachMirror()
	stopRouter := router.New(bus, coord, logger.For(logger.ComponentRouter)).Start()
	defer stopRouter()

	// hold inbound frames until the coordinator has restored and synced
	conn.StartBuffering()
	conn.Connect()

	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer coord.Stop()

	if err := coord.Sync(ctx); err != nil {
		log.Warnw("Initial clarification sync failed, continuing with restored state", "error", err)
	}
	conn.StopBuffering()

	if cfg.StatusServer.Addr != "" {
		srv := statusserver.New(cfg.StatusServer.Addr, statusserver.Sources{
			Connection:          conn,
			Clarifications:      coord,
			LocalClarifications: local,
			Domains:             mirror,
		}, logger.For(logger.ComponentStatusServer))
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown status server: %w", err)
			}
		}()
	}

	<-ctx.Done()
	log.Info("Shutting down")

	return nil
}

func openStore(cfg config.PersistenceConfig) (persistence.Store, error) {
	if cfg.Path == "" {
		return persistence.NewMemoryStore(), nil
	}

	return persistence.NewSQLiteStore(cfg.Path)
}
