// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

/*
Package cache provides thread-safe in-memory structures with TTL support.

# Overview

ExpiringSet is a set of string keys bounded by capacity and by a per-key
time-to-live:
  - Thread-safe concurrent access (sync.Mutex)
  - Least recently added keys are evicted once capacity is reached
  - Lazy expiration on lookup, plus CleanupExpired for a full sweep
  - O(1) Add, Contains, Take and Remove

# Use Cases

The realtime dispatcher keeps the ids of messages this client sent over HTTP
in an ExpiringSet. When the server echoes such a message back over the
websocket, Take consumes the id and the echo is suppressed. Ids whose echo
never arrives age out after the TTL.

# Usage Example

	pending := cache.NewExpiringSet(1024, 10*time.Minute)

	// After a successful HTTP send
	pending.Add(resp.MessageID)

	// On an inbound new_message frame
	if pending.Take(frame.MessageID) {
	    return // own echo
	}

# Thread Safety

All methods may be called from multiple goroutines. Stats returns a
consistent snapshot of the eviction and expiry counters.
*/
package cache
