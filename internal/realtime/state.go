// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package realtime

import (
	"errors"
	"time"
)

// RoomID identifies one backend conversation (ticket). It is the socket path
// segment of the per-room protocol and the subscription key of the
// multiplexed protocol.
type RoomID string

// ConnectionState is the lifecycle state of a realtime transport.
type ConnectionState int

const (
	StateUnknown ConnectionState = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateReconnecting
	// StateNoService means no realtime service can be used at all, for
	// example because no bearer token could be obtained.
	StateNoService
	// StateNoRoom means the application selected a chat that has no backend
	// room yet.
	StateNoRoom
	// StateFailed is terminal: the controller gave up after the attempt
	// ceiling or a permanent failure. Only an explicit re-activation retries.
	StateFailed
)

// String returns the wire/log name of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateNoService:
		return "no_service"
	case StateNoRoom:
		return "no_room"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so states serialize by name.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StateChange is emitted on every state transition.
type StateChange struct {
	Room  RoomID
	State ConnectionState

	// Attempt and MaxAttempts describe the failed attempt that caused a
	// Reconnecting or Failed transition. MaxAttempts is 0 when unlimited.
	Attempt     int
	MaxAttempts int

	// Delay is the backoff scheduled before the next attempt (Reconnecting only).
	Delay time.Duration

	// Reason is a human-readable description suitable for a status bar.
	Reason string
	Err    error
	At     time.Time
}

var (
	// ErrUnauthorized marks permanent authentication failures: upgrade
	// rejected with 401/403, policy close codes, or no usable token.
	ErrUnauthorized = errors.New("realtime: unauthorized")

	// ErrMaxAttempts is attached to the terminal Failed state when the
	// reconnect ceiling is reached.
	ErrMaxAttempts = errors.New("realtime: max reconnect attempts reached")

	// ErrNotConnected is returned when a frame cannot be accepted because
	// no room is active.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrQueueClosed is returned by Enqueue after the queue was closed.
	ErrQueueClosed = errors.New("realtime: outbound queue closed")

	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("realtime: transport closed")

	// ErrHandshakeTimeout is returned when hello_ack does not arrive in time.
	ErrHandshakeTimeout = errors.New("realtime: hello handshake timed out")
)
