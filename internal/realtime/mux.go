// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package realtime

import (
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/deskline/internal/logging"
	"github.com/tomtom215/deskline/internal/retry"
)

// MuxConfig configures a MuxTransport.
type MuxConfig struct {
	// URL is the single socket endpoint, e.g. ws://127.0.0.1:8765.
	URL    string
	Header http.Header

	// ClientID identifies this client in hello and message frames.
	// A random id is generated when empty.
	ClientID string
	Username string
	Agent    AgentInfo

	Dialer      Dialer
	Options     SessionOptions
	Policy      retry.Policy
	StableAfter time.Duration
}

// MuxTransport multiplexes many room subscriptions over one socket. The
// subscription set survives reconnects and is replayed after every
// hello_ack, before any queued frame is written. A controller that gave up
// is replaced by the next Start, Activate or Send.
type MuxTransport struct {
	cfg        MuxConfig
	dispatcher *Dispatcher
	notifier   *Notifier
	queue      *OutboundQueue
	log        zerolog.Logger

	// Replaceable in tests.
	newController func(ControllerConfig) *Controller

	mu     sync.Mutex
	ctrl   *Controller
	rooms  map[RoomID]struct{}
	ready  bool
	closed bool
}

// NewMuxTransport creates a multiplexed transport. It does not connect
// until Start or the first Activate.
func NewMuxTransport(cfg MuxConfig, dispatcher *Dispatcher) *MuxTransport {
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}
	if dispatcher == nil {
		dispatcher = NewDispatcher(Identity{}, nil)
	}
	id := dispatcher.Identity()
	id.ClientID = cfg.ClientID
	if id.Username == "" {
		id.Username = cfg.Username
	}
	dispatcher.SetIdentity(id)

	t := &MuxTransport{
		cfg:           cfg,
		dispatcher:    dispatcher,
		notifier:      NewNotifier(),
		queue:         NewOutboundQueue(),
		rooms:         make(map[RoomID]struct{}),
		log:           logging.Component("realtime").With().Str("transport", "mux").Logger(),
		newController: NewController,
	}
	t.ctrl = t.buildController()
	return t
}

func (t *MuxTransport) buildController() *Controller {
	return t.newController(ControllerConfig{
		Name:        "mux",
		Policy:      t.cfg.Policy,
		StableAfter: t.cfg.StableAfter,
		Notifier:    t.notifier,
		Queue:       t.queue,
		Session:     t.session,
		OnFrame:     t.onFrame,
	})
}

// startLocked starts the controller, first replacing it when it has
// already stopped. Must be called with mu held.
func (t *MuxTransport) startLocked() {
	select {
	case <-t.ctrl.Done():
		t.log.Info().Str("previous", t.ctrl.State().String()).Msg("Restarting multiplexed connection")
		t.ctrl = t.buildController()
	default:
	}
	t.ctrl.Start()
}

// ClientID returns the id sent in hello.
func (t *MuxTransport) ClientID() string {
	return t.cfg.ClientID
}

// Start connects in the background. Safe to call repeatedly; after the
// connection failed for good it starts a fresh attempt cycle.
func (t *MuxTransport) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.startLocked()
}

func (t *MuxTransport) session() (SessionConfig, error) {
	return SessionConfig{
		URL:     t.cfg.URL,
		Header:  t.cfg.Header,
		Dialer:  t.cfg.Dialer,
		Options: t.cfg.Options,
		Hello: &Hello{
			ClientID: t.cfg.ClientID,
			Username: t.cfg.Username,
			Agent:    t.cfg.Agent,
		},
		OnReady: t.replay,
		OnState: t.onState,
	}, nil
}

// replay re-subscribes every active room on a fresh session. Holding mu
// while marking the session ready guarantees that a concurrent Activate
// either lands in this snapshot or is queued afterwards.
func (t *MuxTransport) replay(w FrameWriter) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rooms := make([]string, 0, len(t.rooms))
	for r := range t.rooms {
		rooms = append(rooms, string(r))
	}
	sort.Strings(rooms)
	for _, r := range rooms {
		if err := w.WriteFrame(Subscribe{Room: RoomID(r)}); err != nil {
			return err
		}
	}
	t.ready = true
	t.log.Debug().Int("rooms", len(rooms)).Msg("Subscriptions replayed")
	return nil
}

func (t *MuxTransport) onState(state ConnectionState, _ error) {
	if state == StateDisconnected {
		t.mu.Lock()
		t.ready = false
		t.mu.Unlock()
	}
}

func (t *MuxTransport) onFrame(env Envelope) {
	if d, ok := t.dispatcher.Route(env); ok {
		t.notifier.Deliver(d)
	}
}

// Activate subscribes to room. Frames are routed to the local chat the
// application mapped the room to, or to a chat with the room's id.
func (t *MuxTransport) Activate(room RoomID) error {
	if _, ok := t.dispatcher.LocalID(room); !ok && room != "" {
		t.dispatcher.MapRoom(room, string(room))
	}
	return t.subscribe(room)
}

// ActivateAs subscribes to room and routes its frames to localID.
func (t *MuxTransport) ActivateAs(room RoomID, localID string) error {
	if room != "" {
		t.dispatcher.MapRoom(room, localID)
	}
	return t.subscribe(room)
}

func (t *MuxTransport) subscribe(room RoomID) error {
	if room == "" {
		return errors.New("realtime: empty room id")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	_, known := t.rooms[room]
	t.rooms[room] = struct{}{}
	ready := t.ready
	t.startLocked()
	t.mu.Unlock()

	if ready && !known {
		return t.queue.Enqueue(Subscribe{Room: room})
	}
	return nil
}

// Deactivate drops room from the subscription set. The server protocol has
// no unsubscribe frame, so frames already routed to us are discarded by
// the dispatcher.
func (t *MuxTransport) Deactivate(room RoomID) {
	t.mu.Lock()
	delete(t.rooms, room)
	t.mu.Unlock()
	t.dispatcher.UnmapRoom(room)
}

// Rooms returns the subscribed rooms in sorted order.
func (t *MuxTransport) Rooms() []RoomID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RoomID, 0, len(t.rooms))
	for r := range t.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Send queues f; it is written once the socket is up.
func (t *MuxTransport) Send(f OutboundFrame) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.startLocked()
	t.mu.Unlock()
	return t.queue.Enqueue(f)
}

// SendText queues a chat message from the local user.
func (t *MuxTransport) SendText(room RoomID, dialogID, userID, text string) error {
	return t.Send(ChatText{
		Room:     room,
		DialogID: dialogID,
		Sender:   "user",
		UserID:   userID,
		ClientID: t.cfg.ClientID,
		Text:     text,
	})
}

// StartChat asks the server to open a dialog in room.
func (t *MuxTransport) StartChat(room RoomID, dialogID, userID string) error {
	return t.Send(StartChat{
		Room:     room,
		DialogID: dialogID,
		UserID:   userID,
		Agent:    t.cfg.Agent,
	})
}

// State implements Transport.
func (t *MuxTransport) State() ConnectionState {
	t.mu.Lock()
	ctrl := t.ctrl
	t.mu.Unlock()
	return ctrl.State()
}

// Attempts returns the current controller's consecutive failure count.
func (t *MuxTransport) Attempts() int {
	t.mu.Lock()
	ctrl := t.ctrl
	t.mu.Unlock()
	return ctrl.Attempts()
}

// Subscribe implements Transport.
func (t *MuxTransport) Subscribe(l Listener) func() {
	return t.notifier.Subscribe(l)
}

// Dispatcher returns the dispatcher used for inbound frames.
func (t *MuxTransport) Dispatcher() *Dispatcher {
	return t.dispatcher
}

// Close stops the socket and flushes pending notifications.
func (t *MuxTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ctrl := t.ctrl
	t.mu.Unlock()

	ctrl.Stop()
	t.queue.Close()
	t.notifier.Close()
	return nil
}
