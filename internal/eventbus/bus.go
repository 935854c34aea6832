// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package eventbus

import (
	"context"
	"errors"
	"sync"

	"github.com/tomtom215/deskline/internal/logging"
	"github.com/tomtom215/deskline/internal/realtime"
)

// Source is where mirrored events come from, normally the realtime transport.
type Source interface {
	Subscribe(l realtime.Listener) func()
}

// BusConfig configures Components.
type BusConfig struct {
	// Embedded starts an in-process server and mirrors to it; Mirror.URL
	// is then ignored.
	Embedded bool
	Server   ServerConfig
	Mirror   Config
}

// Components owns the optional embedded server and the mirror subscribed to
// the transport. Start and Shutdown may be called repeatedly.
type Components struct {
	cfg    BusConfig
	source Source

	mu      sync.Mutex
	server  *EmbeddedServer
	mirror  *Mirror
	unsub   func()
	running bool
}

// NewComponents creates the event bus for source.
func NewComponents(cfg BusConfig, source Source) *Components {
	return &Components{cfg: cfg, source: source}
}

// Start launches the embedded server when configured, connects the mirror and
// subscribes it to the source.
func (c *Components) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	mcfg := c.cfg.Mirror
	if c.cfg.Embedded {
		srv, err := StartEmbedded(c.cfg.Server)
		if err != nil {
			return err
		}
		c.server = srv
		mcfg.URL = srv.ClientURL()
	}

	m, err := Connect(mcfg)
	if err != nil {
		c.shutdownServer(context.Background())
		return err
	}
	c.mirror = m
	c.unsub = c.source.Subscribe(m)
	c.running = true

	logging.Info().Str("url", mcfg.URL).Str("prefix", m.prefix).Bool("embedded", c.cfg.Embedded).
		Msg("Event bus started")
	return nil
}

// Shutdown unsubscribes the mirror, drains it and stops the embedded server.
func (c *Components) Shutdown(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false

	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
	if err := c.mirror.Close(); err != nil {
		logging.Warn().Err(err).Msg("Event bus mirror close failed")
	}
	c.mirror = nil
	c.shutdownServer(ctx)
	logging.Info().Msg("Event bus stopped")
}

func (c *Components) shutdownServer(ctx context.Context) {
	if c.server == nil {
		return
	}
	if err := c.server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn().Err(err).Msg("Embedded NATS shutdown incomplete")
	}
	c.server = nil
}

// IsRunning reports whether the mirror is attached.
func (c *Components) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Mirror returns the active mirror, or nil when stopped.
func (c *Components) Mirror() *Mirror {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror
}
