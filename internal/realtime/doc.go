// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

/*
Package realtime implements the WebSocket layer of the support desk client.

Key Components:

  - Session: one socket. Optional hello handshake, single writer goroutine
    draining an OutboundQueue, ping-based liveness, idempotent Stop.
  - Controller: keeps a logical connection alive with exponential backoff
    (1s, 2s, 4s ... capped at 30s), gives up with StateFailed after the
    attempt ceiling or on an authentication rejection.
  - Dispatcher: decodes frames into typed events, drops our own echoes
    (sender identity or ids recorded with TrackSent) and frames for rooms
    with no local mapping, ignores unknown frame types.
  - Notifier: delivers state changes, events and send failures to
    listeners on a single goroutine in emission order.
  - RoomTransport: one connection per active room
    ({base}/{room}/?token=...). Activating another room closes the old
    connection before the new one is dialed.
  - MuxTransport: one socket for many rooms. Subscriptions are replayed
    after every hello_ack.

State Machine:

	Disconnected -> Connecting -> Connected -> Disconnected -> Reconnecting -> Connected ...
	                     |                                           |
	                     +------------ Reconnecting ... -------------+-> Failed

Usage Example:

	d := realtime.NewDispatcher(realtime.Identity{Role: "client", Username: "alice"}, nil)
	t := realtime.NewRoomTransport(realtime.RoomConfig{
	    BaseURL: "ws://localhost:8000/ws/rooms",
	    Tokens:  realtime.StaticToken(token),
	}, d)
	defer t.Close()

	t.Subscribe(realtime.ListenerFuncs{
	    OnState: func(c realtime.StateChange) { ... },
	    OnEvent: func(ev realtime.Delivery) { ... },
	})
	d.MapRoom("77", "CH-0001")
	_ = t.Activate("77")
*/
package realtime
