// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package realtime

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/deskline/internal/logging"
	"github.com/tomtom215/deskline/internal/retry"
)

// Transport is the application's view of the realtime layer. Both the
// per-room protocol and the multiplexed protocol implement it.
type Transport interface {
	// Activate makes room the focus of the transport. It may wait for a
	// previous connection to close but never for the new one to open;
	// progress is reported through listeners.
	Activate(room RoomID) error

	// Deactivate stops receiving frames for room.
	Deactivate(room RoomID)

	// Send queues a frame for the active connection.
	Send(f OutboundFrame) error

	// State returns the current connection state.
	State() ConnectionState

	// Subscribe registers a listener and returns its removal function.
	Subscribe(l Listener) func()

	// Close tears everything down. Further calls return nil.
	Close() error
}

// TokenSource supplies the bearer token for each connection attempt.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", fmt.Errorf("%w: no token", ErrUnauthorized)
	}
	return string(t), nil
}

// RoomURL builds the per-room socket URL: {base}/{room}/?token={token}.
func RoomURL(base string, room RoomID, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid websocket base %q: %w", base, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid websocket base %q: unsupported scheme", base)
	}
	u.Path = u.Path + "/" + string(room) + "/"
	u.RawPath = ""
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// RoomConfig configures a RoomTransport.
type RoomConfig struct {
	// BaseURL is the socket base, e.g. ws://localhost:8000/ws/rooms.
	BaseURL string

	Tokens      TokenSource
	Dialer      Dialer
	Options     SessionOptions
	Policy      retry.Policy
	StableAfter time.Duration
}

// RoomTransport holds one connection per active room. Activating another
// room closes the previous room's connection before the new one is dialed.
type RoomTransport struct {
	cfg        RoomConfig
	dispatcher *Dispatcher
	notifier   *Notifier
	log        zerolog.Logger

	// Replaceable in tests.
	newController func(ControllerConfig) *Controller

	mu     sync.Mutex
	active RoomID
	ctrl   *Controller
	closed bool
}

// NewRoomTransport creates an idle per-room transport.
func NewRoomTransport(cfg RoomConfig, dispatcher *Dispatcher) *RoomTransport {
	if dispatcher == nil {
		dispatcher = NewDispatcher(Identity{Role: "client"}, nil)
	}
	return &RoomTransport{
		cfg:           cfg,
		dispatcher:    dispatcher,
		notifier:      NewNotifier(),
		log:           logging.Component("realtime").With().Str("transport", "room").Logger(),
		newController: NewController,
	}
}

// Activate switches to room. Activating the room that is already active and
// still connecting or connected does nothing.
func (t *RoomTransport) Activate(room RoomID) error {
	if room == "" {
		return errors.New("realtime: empty room id")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.ctrl != nil && t.active == room && t.ctrl.Running() {
		return nil
	}

	if t.ctrl != nil {
		t.log.Info().Str("from", string(t.active)).Str("to", string(room)).Msg("Switching realtime room")
		t.ctrl.Stop()
	}

	t.active = room
	t.ctrl = t.newController(ControllerConfig{
		Name:        "room",
		Room:        room,
		Policy:      t.cfg.Policy,
		StableAfter: t.cfg.StableAfter,
		Notifier:    t.notifier,
		Session:     t.sessionFor(room),
		OnFrame:     t.onFrame,
	})
	t.ctrl.Start()
	return nil
}

func (t *RoomTransport) sessionFor(room RoomID) func() (SessionConfig, error) {
	return func() (SessionConfig, error) {
		if t.cfg.Tokens == nil {
			return SessionConfig{}, fmt.Errorf("%w: no token source", ErrUnauthorized)
		}
		token, err := t.cfg.Tokens.Token()
		if err != nil {
			if !errors.Is(err, ErrUnauthorized) {
				err = fmt.Errorf("%w: %w", ErrUnauthorized, err)
			}
			return SessionConfig{}, err
		}
		u, err := RoomURL(t.cfg.BaseURL, room, token)
		if err != nil {
			return SessionConfig{}, err
		}
		return SessionConfig{
			URL:     u,
			Dialer:  t.cfg.Dialer,
			Options: t.cfg.Options,
		}, nil
	}
}

func (t *RoomTransport) onFrame(env Envelope) {
	if d, ok := t.dispatcher.Route(env); ok {
		t.notifier.Deliver(d)
	}
}

// Deactivate closes the connection if room is the active room.
func (t *RoomTransport) Deactivate(room RoomID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctrl == nil || t.active != room {
		return
	}
	t.ctrl.Stop()
	t.ctrl = nil
	t.active = ""
}

// Active returns the active room, or "" when none.
func (t *RoomTransport) Active() RoomID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Send queues f on the active room's connection. The per-room protocol
// carries chat messages over HTTP, so this is rarely needed.
func (t *RoomTransport) Send(f OutboundFrame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.ctrl == nil {
		return ErrNotConnected
	}
	return t.ctrl.Queue().Enqueue(f)
}

// State returns the active controller's state, or Disconnected when idle.
func (t *RoomTransport) State() ConnectionState {
	t.mu.Lock()
	ctrl := t.ctrl
	t.mu.Unlock()
	if ctrl == nil {
		return StateDisconnected
	}
	return ctrl.State()
}

// Attempts returns the active controller's consecutive failure count.
func (t *RoomTransport) Attempts() int {
	t.mu.Lock()
	ctrl := t.ctrl
	t.mu.Unlock()
	if ctrl == nil {
		return 0
	}
	return ctrl.Attempts()
}

// Subscribe implements Transport.
func (t *RoomTransport) Subscribe(l Listener) func() {
	return t.notifier.Subscribe(l)
}

// Dispatcher returns the dispatcher used for inbound frames.
func (t *RoomTransport) Dispatcher() *Dispatcher {
	return t.dispatcher
}

// Close stops the active connection and flushes pending notifications.
func (t *RoomTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ctrl := t.ctrl
	t.ctrl = nil
	t.active = ""
	t.mu.Unlock()

	if ctrl != nil {
		ctrl.Stop()
	}
	t.notifier.Close()
	return nil
}
