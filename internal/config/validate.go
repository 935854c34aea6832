// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package config

import (
	"errors"
	"fmt"

	"github.com/tomtom215/deskline/internal/validation"
)

// Validate checks struct tags first, then the rules that span fields.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}

	var errs []error
	switch c.Realtime.Protocol {
	case ProtocolRoom:
		if c.Realtime.WSBase == "" {
			errs = append(errs, errors.New("realtime.ws_base is required for the room protocol"))
		}
	case ProtocolMux:
		if c.Realtime.MuxURL == "" {
			errs = append(errs, errors.New("realtime.mux_url is required for the mux protocol"))
		}
	}
	if c.Realtime.ReconnectBase > c.Realtime.ReconnectCap {
		errs = append(errs, fmt.Errorf("realtime.reconnect_base (%s) exceeds reconnect_cap (%s)",
			c.Realtime.ReconnectBase, c.Realtime.ReconnectCap))
	}
	if (c.Auth.Username == "") != (c.Auth.Password == "") {
		errs = append(errs, errors.New("auth.username and auth.password must be set together"))
	}
	if c.NATS.Enabled && !c.NATS.Embedded && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required unless nats.embedded is set"))
	}
	return errors.Join(errs...)
}

// HasOperatorCredentials reports whether operator login is configured.
func (c *Config) HasOperatorCredentials() bool {
	return c.Auth.Username != "" && c.Auth.Password != ""
}
