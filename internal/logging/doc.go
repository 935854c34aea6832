// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

// Package logging provides the zerolog-based structured logger used across Deskline.
//
// A global logger is configured once from main via Init and accessed through
// level helpers:
//
//	logging.Init(logging.Config{Level: "debug", Format: "console"})
//	logging.Info().Str("room", room).Msg("Room activated")
//
// Long-lived components take a child logger tagged with their name:
//
//	log := logging.Component("realtime")
//	log.Warn().Err(err).Int("attempt", n).Msg("Connect failed")
//
// NewSlogLogger bridges zerolog to log/slog for the supervisor's sutureslog hook.
//
// Always terminate event chains with Msg or Send; an unterminated chain is
// never written.
package logging
