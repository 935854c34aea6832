// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

// Package desk is the application service of the support client. It logs
// in, owns the list of local chats, keeps the realtime transport pointed at
// the selected chat's room, sends messages and files over HTTP and persists
// everything operators send back.
//
// A Desk has a Start/Stop lifecycle: Start logs in and launches the periodic
// connection check, Stop waits for every background goroutine it spawned.
package desk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/deskline/internal/agent"
	"github.com/tomtom215/deskline/internal/auth"
	"github.com/tomtom215/deskline/internal/backend"
	"github.com/tomtom215/deskline/internal/logging"
	"github.com/tomtom215/deskline/internal/realtime"
	"github.com/tomtom215/deskline/internal/retry"
	"github.com/tomtom215/deskline/internal/store"
)

var (
	// ErrRoomNotReady is returned by sends when the backend room of a chat
	// did not appear within the wait budget.
	ErrRoomNotReady = errors.New("desk: room not ready")

	// ErrChatLeft is returned for sends to a chat the user has left.
	ErrChatLeft = errors.New("desk: chat was left")

	// ErrNotLoggedIn is returned by operations that need a backend session.
	ErrNotLoggedIn = errors.New("desk: not logged in")

	// ErrInvalidInput wraps validation failures of user input.
	ErrInvalidInput = errors.New("desk: invalid input")
)

// Limits on user input.
const (
	MaxMessageLength = 5000
	MaxFileSize      = 50 << 20
)

// Backend is the subset of the REST API the desk uses. *backend.Client
// implements it.
type Backend interface {
	Login(ctx context.Context, username, password string) (*backend.LoginResponse, error)
	ClientLogin(ctx context.Context, instance string) (*backend.LoginResponse, error)
	FxLogin(ctx context.Context, fxID, operatorID string) (*backend.LoginResponse, error)
	StartChat(ctx context.Context, req backend.StartChatRequest) (*backend.StartChatResponse, error)
	SendMessage(ctx context.Context, roomID, instanceUID, text string, files []string) (*backend.SendResponse, error)
	SendFiles(ctx context.Context, roomID, instanceUID string, files []string) (*backend.SendResponse, error)
	Leave(ctx context.Context, roomID, instanceUID string) error
}

var _ Backend = (*backend.Client)(nil)

// Config configures a Desk.
type Config struct {
	// UserID owns the local chats.
	// Default: "local"
	UserID string

	// Username and Password select operator login. When empty the desk
	// uses fx-login with FxID, then client login by instance.
	Username string
	Password string
	FxID     string

	Agent agent.IDs

	// RoomWait bounds how long a send waits for a chat's backend room.
	// Default: 40 attempts every 100ms
	RoomWait retry.Options

	// CheckInterval is the period of the connection check.
	// Default: 10s
	CheckInterval time.Duration

	// RequestTimeout bounds background backend calls.
	// Default: 30s
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.UserID == "" {
		c.UserID = "local"
	}
	if c.Agent.InstanceID == "" || c.Agent.OperatorID == "" {
		ids := c.Agent
		if ids.InstanceID == "" {
			ids.InstanceID = agent.DevInstanceID
		}
		if ids.OperatorID == "" {
			ids.OperatorID = agent.DevOperatorID
		}
		c.Agent = ids
	}
	if c.RoomWait.MaxAttempts <= 0 {
		c.RoomWait.MaxAttempts = 40
	}
	if c.RoomWait.Delay <= 0 {
		c.RoomWait.Delay = 100 * time.Millisecond
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return c
}

// Status is a snapshot of the desk for status displays.
type Status struct {
	State       realtime.ConnectionState `json:"state"`
	Reason      string                   `json:"reason,omitempty"`
	Attempt     int                      `json:"attempt,omitempty"`
	MaxAttempts int                      `json:"max_attempts,omitempty"`
	ChatID      string                   `json:"chat_id,omitempty"`
	Room        string                   `json:"room,omitempty"`
	LoggedIn    bool                     `json:"logged_in"`
	Username    string                   `json:"username,omitempty"`
	InstanceID  string                   `json:"instance_id"`
	Since       time.Time                `json:"since"`
}

// Desk is the application service. It is safe for concurrent use.
type Desk struct {
	cfg        Config
	store      store.Store
	api        Backend
	transport  realtime.Transport
	dispatcher *realtime.Dispatcher
	tokens     *auth.Source
	log        zerolog.Logger

	now func() time.Time

	mu       sync.Mutex
	status   Status
	instance string
	username string
	loggedIn bool
	active   string
	started  bool
	cancel   context.CancelFunc
	unsub    func()

	// guards concurrent logins
	loginMu sync.Mutex

	wg sync.WaitGroup
}

// New creates a desk. The dispatcher must be the one the transport routes
// through so room mappings and pending sends reach it.
func New(cfg Config, st store.Store, api Backend, transport realtime.Transport, dispatcher *realtime.Dispatcher) (*Desk, error) {
	if st == nil || api == nil || transport == nil || dispatcher == nil {
		return nil, errors.New("desk: store, backend, transport and dispatcher are required")
	}
	cfg = cfg.withDefaults()
	d := &Desk{
		cfg:        cfg,
		store:      st,
		api:        api,
		transport:  transport,
		dispatcher: dispatcher,
		log:        logging.Component("desk"),
		now:        time.Now,
		instance:   cfg.Agent.InstanceID,
	}
	d.tokens = auth.NewSource(d.relogin)
	d.status = Status{State: realtime.StateDisconnected, InstanceID: d.instance, Since: d.now()}
	return d, nil
}

// Tokens returns the bearer token source realtime connections should use.
func (d *Desk) Tokens() *auth.Source {
	return d.tokens
}

// Start restores room mappings, subscribes to the transport, logs in and
// launches the connection check. It returns an error only when the store
// cannot be read; login failures are reported through Status.
func (d *Desk) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()

	rooms, err := d.store.Rooms(ctx)
	if err != nil {
		d.mu.Lock()
		d.started = false
		d.mu.Unlock()
		return err
	}
	for room, chatID := range rooms {
		chat, err := d.store.GetChat(ctx, chatID)
		if err != nil || chat.Left {
			continue
		}
		d.dispatcher.MapRoom(realtime.RoomID(room), chatID)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancel = cancel
	d.unsub = d.transport.Subscribe(realtime.ListenerFuncs{
		OnState:     d.onState,
		OnEvent:     d.onEvent,
		OnSendError: d.onSendFailed,
	})
	d.mu.Unlock()

	d.log.Info().Int("rooms", len(rooms)).Str("instance", d.InstanceID()).Msg("Desk starting")
	if err := d.Login(ctx); err != nil {
		d.log.Warn().Err(err).Msg("Login failed, realtime unavailable until the next check")
	} else if _, ok := d.transport.(multiplexed); ok {
		for room := range rooms {
			if _, mapped := d.dispatcher.LocalID(realtime.RoomID(room)); !mapped {
				continue
			}
			if err := d.transport.Activate(realtime.RoomID(room)); err != nil {
				d.log.Warn().Err(err).Str("room", room).Msg("Subscribe failed")
			}
		}
	}

	d.wg.Add(1)
	go d.checkLoop(runCtx)
	return nil
}

// Stop ends the connection check and waits for background work. The
// transport stays open; its owner closes it.
func (d *Desk) Stop() error {
	d.mu.Lock()
	wasStarted := d.started
	d.started = false
	cancel := d.cancel
	unsub := d.unsub
	d.cancel, d.unsub = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	if unsub != nil {
		unsub()
	}
	if wasStarted {
		d.log.Info().Msg("Desk stopped")
	}
	return nil
}

// Status returns the current snapshot.
func (d *Desk) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.status
	s.ChatID = d.active
	s.LoggedIn = d.loggedIn
	s.Username = d.username
	s.InstanceID = d.instance
	return s
}

// InstanceID returns the agent instance id, possibly overridden by fx-login.
func (d *Desk) InstanceID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.instance
}

func (d *Desk) setState(state realtime.ConnectionState, room, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = Status{State: state, Room: room, Reason: reason, Since: d.now()}
}

func (d *Desk) checkLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Check(ctx)
		}
	}
}

// Check logs in again when there is no session and re-activates the
// selected chat's room when the transport is down.
func (d *Desk) Check(ctx context.Context) {
	d.mu.Lock()
	loggedIn := d.loggedIn
	active := d.active
	d.mu.Unlock()

	if !loggedIn {
		if err := d.Login(ctx); err != nil {
			d.log.Debug().Err(err).Msg("Login retry failed")
			return
		}
	}
	if active == "" {
		return
	}
	switch d.transport.State() {
	case realtime.StateDisconnected, realtime.StateFailed, realtime.StateUnknown:
	default:
		return
	}
	chat, err := d.store.GetChat(ctx, active)
	if err != nil || chat.RoomID == "" || chat.Left {
		return
	}
	d.log.Info().Str("chat", chat.ID).Str("room", chat.RoomID).Msg("Realtime down, reconnecting")
	if err := d.transport.Activate(realtime.RoomID(chat.RoomID)); err != nil {
		d.log.Warn().Err(err).Str("room", chat.RoomID).Msg("Re-activation failed")
	}
}

// goBackground runs fn with a request timeout and tracks it for Stop.
func (d *Desk) goBackground(fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.RequestTimeout)
		defer cancel()
		fn(ctx)
	}()
}
