// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

// Command deskline runs the support desk client core: backend login, local
// chat store, realtime room connection, the local HTTP API for the UI and
// the optional NATS event mirror, all under one supervisor tree.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/deskline/internal/api"
	"github.com/tomtom215/deskline/internal/backend"
	"github.com/tomtom215/deskline/internal/config"
	"github.com/tomtom215/deskline/internal/logging"
	"github.com/tomtom215/deskline/internal/store"
	"github.com/tomtom215/deskline/internal/supervisor"
	"github.com/tomtom215/deskline/internal/supervisor/services"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Str("backend", cfg.Backend.BaseURL).
		Str("protocol", cfg.Realtime.Protocol).
		Bool("operator_login", cfg.HasOperatorCredentials()).
		Msg("Starting deskline")

	ids, err := loadAgentIDs(cfg.Agent)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load agent ids")
	}

	st, err := store.Open(storeConfig(cfg))
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("Failed to open chat store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing chat store")
		}
	}()

	client := backend.New(backendConfig(cfg))

	d, transport, err := buildDesk(cfg, ids, st, client)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create desk")
		return
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing realtime transport")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(logging.Component("supervisor")), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	})
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create supervisor tree")
		return
	}

	// Storage layer
	tree.AddStorageService(services.NewStoreGCService(st, cfg.Store.GCInterval, cfg.Store.GCDiscardRatio))

	// Realtime layer
	tree.AddRealtimeService(services.NewDeskService(d))
	if bus := initEventBus(cfg, transport); bus != nil {
		tree.AddRealtimeService(services.NewEventBusService(bus, 10*time.Second))
	}

	// API layer
	if cfg.Server.Enabled {
		mw := api.NewChiMiddleware(&api.MiddlewareConfig{
			RateLimitRequests: cfg.Server.RateLimitRequests,
			RateLimitWindow:   cfg.Server.RateLimitWindow,
			RateLimitDisabled: cfg.Server.RateLimitDisabled,
		})
		server := &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           api.NewHandler(d, version).Router(mw),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		}
		tree.AddAPIService(services.NewAPIService(server, server.Addr, cfg.Server.ShutdownTimeout))
		logging.Info().Str("addr", server.Addr).Msg("Local API enabled")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}
	logging.Info().Msg("Deskline stopped")
}
