// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package realtime

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/deskline/internal/cache"
	"github.com/tomtom215/deskline/internal/logging"
	"github.com/tomtom215/deskline/internal/metrics"
)

// Identity describes the local participant for echo suppression. A message
// is our own echo when its sender role equals Role, its sender name equals
// Username, or its client id equals ClientID. Empty fields never match.
type Identity struct {
	// Role is the senderRole this client sends with ("client" on the
	// per-room protocol, "user" on the multiplexed one).
	Role string
	// Username is the sender name of this client, known after login.
	Username string
	// ClientID is the multiplexed session id this client put in hello.
	ClientID string
}

// Drop reasons reported to metrics.
const (
	dropDecode       = "decode"
	dropUnknownType  = "unknown_type"
	dropUnmappedRoom = "unmapped_room"
	dropEcho         = "echo"
)

// Dispatcher decodes inbound frames, suppresses echoes of our own messages
// and maps backend rooms to local chat ids.
type Dispatcher struct {
	mu       sync.RWMutex
	identity Identity
	rooms    map[RoomID]string
	pending  *cache.ExpiringSet
	now      func() time.Time
	log      zerolog.Logger
}

// NewDispatcher creates a dispatcher. pending holds the ids of messages
// sent over HTTP whose realtime echo must be dropped; nil uses a default set.
func NewDispatcher(id Identity, pending *cache.ExpiringSet) *Dispatcher {
	if pending == nil {
		pending = cache.NewExpiringSet(0, 0)
	}
	return &Dispatcher{
		identity: id,
		rooms:    make(map[RoomID]string),
		pending:  pending,
		now:      time.Now,
		log:      logging.Component("realtime"),
	}
}

// Identity returns the current local identity.
func (d *Dispatcher) Identity() Identity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.identity
}

// SetIdentity replaces the local identity, e.g. after login.
func (d *Dispatcher) SetIdentity(id Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identity = id
}

// MapRoom associates a backend room with a local chat id.
func (d *Dispatcher) MapRoom(room RoomID, localID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms[room] = localID
}

// UnmapRoom forgets a room; its frames are dropped afterwards.
func (d *Dispatcher) UnmapRoom(room RoomID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rooms, room)
}

// LocalID returns the local chat id mapped to room.
func (d *Dispatcher) LocalID(room RoomID) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.rooms[room]
	return id, ok
}

// TrackSent records a message id returned by the HTTP send endpoint so the
// matching realtime echo is suppressed once.
func (d *Dispatcher) TrackSent(id string) {
	if id == "" {
		return
	}
	d.pending.Add(id)
	metrics.RealtimePendingSends.Set(float64(d.pending.Len()))
}

// ForgetSent stops suppressing id, e.g. when the send was abandoned.
func (d *Dispatcher) ForgetSent(id string) bool {
	ok := d.pending.Remove(id)
	metrics.RealtimePendingSends.Set(float64(d.pending.Len()))
	return ok
}

// PendingSends returns the number of ids awaiting their echo.
func (d *Dispatcher) PendingSends() int {
	return d.pending.Len()
}

// Route decodes env and decides whether it reaches the application.
// It returns false for frames that are dropped.
func (d *Dispatcher) Route(env Envelope) (Delivery, bool) {
	metrics.RealtimeFramesReceived.WithLabelValues(env.Type).Inc()

	ev, known, err := DecodeEvent(env)
	if !known {
		d.drop(dropUnknownType, env.Type, "")
		return Delivery{}, false
	}
	if err != nil {
		d.log.Warn().Err(err).Str("type", env.Type).Msg("Dropping malformed frame")
		metrics.RealtimeFramesDropped.WithLabelValues(dropDecode).Inc()
		return Delivery{}, false
	}
	return d.RouteEvent(ev)
}

// RouteEvent applies echo suppression and room mapping to a decoded event.
func (d *Dispatcher) RouteEvent(ev Event) (Delivery, bool) {
	switch e := ev.(type) {
	case NewMessage:
		if d.isOwnEcho(e) {
			d.drop(dropEcho, e.Kind(), e.Room)
			return Delivery{}, false
		}
		local, ok := d.LocalID(e.Room)
		if !ok {
			d.drop(dropUnmappedRoom, e.Kind(), e.Room)
			return Delivery{}, false
		}
		if e.ID != "" && d.pending.Take(e.ID) {
			metrics.RealtimePendingSends.Set(float64(d.pending.Len()))
			d.drop(dropEcho, e.Kind(), e.Room)
			return Delivery{}, false
		}
		return d.deliver(local, ev), true

	case HelloAck:
		return Delivery{}, false

	default:
		if ev.ServerRoom() == "" {
			return d.deliver("", ev), true
		}
		local, ok := d.LocalID(ev.ServerRoom())
		if !ok {
			d.drop(dropUnmappedRoom, ev.Kind(), ev.ServerRoom())
			return Delivery{}, false
		}
		return d.deliver(local, ev), true
	}
}

func (d *Dispatcher) isOwnEcho(m NewMessage) bool {
	id := d.Identity()
	if id.ClientID != "" && m.ClientID == id.ClientID {
		return true
	}
	if id.Role != "" && m.SenderRole == id.Role {
		return true
	}
	return id.Username != "" && m.SenderName == id.Username
}

func (d *Dispatcher) deliver(local string, ev Event) Delivery {
	return Delivery{LocalID: local, Event: ev, ReceivedAt: d.now()}
}

func (d *Dispatcher) drop(reason, kind string, room RoomID) {
	metrics.RealtimeFramesDropped.WithLabelValues(reason).Inc()
	d.log.Debug().Str("reason", reason).Str("type", kind).Str("room", string(room)).Msg("Frame dropped")
}
