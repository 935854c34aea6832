// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

// Package metrics defines the Prometheus collectors exported by Deskline.
//
// Collectors are registered on the default registry at package init through
// promauto and exposed by the local status server at /metrics:
//
//   - deskline_realtime_*: connection state, connect attempts, backoff,
//     inbound/outbound frames, echo suppression, send errors
//   - deskline_backend_*: HTTP API latency and outcome, circuit breaker state
//   - deskline_store_*: local chat store latency and errors
//   - deskline_eventbus_*: NATS mirror publishes
package metrics
