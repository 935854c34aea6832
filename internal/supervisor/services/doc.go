// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

// Package services adapts deskline components to suture.Service.
//
// Every wrapper follows the same contract: Serve blocks until ctx is
// canceled, returns ctx.Err() after a clean stop and a wrapped error when the
// component fails, which makes the supervisor restart it with backoff.
package services
