// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package main

import (
	"github.com/tomtom215/deskline/internal/config"
	"github.com/tomtom215/deskline/internal/eventbus"
	"github.com/tomtom215/deskline/internal/logging"
)

// initEventBus returns the NATS mirror components, or nil when disabled.
func initEventBus(cfg *config.Config, source eventbus.Source) *eventbus.Components {
	n := cfg.NATS
	if !n.Enabled {
		logging.Info().Msg("NATS event mirror disabled (NATS_ENABLED=false)")
		return nil
	}
	return eventbus.NewComponents(eventbus.BusConfig{
		Embedded: n.Embedded,
		Server:   eventbus.ServerConfig{Host: n.Host, Port: n.Port},
		Mirror: eventbus.Config{
			URL:           n.URL,
			SubjectPrefix: n.SubjectPrefix,
			ClientName:    n.ClientName,
		},
	}, source)
}
