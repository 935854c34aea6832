// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

// Package eventbus mirrors routed realtime events to NATS so other local
// processes (notifiers, tray icons, CRM plugins) can follow the desk
// without opening their own sockets to the backend.
//
// Subjects:
//
//	<prefix>.room.<room>   new_message, room_update, system, start_chat_ack
//	<prefix>.state         connection state changes
//	<prefix>.send_errors   realtime frames that could not be written
package eventbus

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tomtom215/deskline/internal/logging"
	"github.com/tomtom215/deskline/internal/metrics"
	"github.com/tomtom215/deskline/internal/realtime"
)

// DefaultSubjectPrefix is the subject root of mirrored events.
const DefaultSubjectPrefix = "deskline.events"

// Config configures a Mirror.
type Config struct {
	URL           string
	SubjectPrefix string
	// ClientName identifies the connection in server monitoring.
	// Default: "deskline"
	ClientName    string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Event is the JSON payload of a mirrored delivery.
type Event struct {
	Type       string    `json:"type"`
	ChatID     string    `json:"chat_id,omitempty"`
	Room       string    `json:"room,omitempty"`
	ReceivedAt time.Time `json:"received_at"`

	MessageID  string    `json:"message_id,omitempty"`
	SenderRole string    `json:"sender_role,omitempty"`
	SenderName string    `json:"sender_name,omitempty"`
	Text       string    `json:"text,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`

	OperatorsCount    *int `json:"operators_count,omitempty"`
	ParticipantsCount *int `json:"participants_count,omitempty"`
}

// StateEvent is the JSON payload of a mirrored state change.
type StateEvent struct {
	Room        string    `json:"room,omitempty"`
	State       string    `json:"state"`
	Attempt     int       `json:"attempt,omitempty"`
	MaxAttempts int       `json:"max_attempts,omitempty"`
	DelayMS     int64     `json:"delay_ms,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// SendErrorEvent is the JSON payload of a mirrored send failure.
type SendErrorEvent struct {
	Room  string `json:"room,omitempty"`
	Frame string `json:"frame"`
	Error string `json:"error"`
}

// Mirror publishes transport notifications to NATS. It implements
// realtime.Listener; publish failures are logged and counted, never
// returned to the transport.
type Mirror struct {
	nc     *natsgo.Conn
	prefix string
	log    zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// Connect dials NATS and returns a mirror.
func Connect(cfg Config) (*Mirror, error) {
	if cfg.URL == "" {
		return nil, errors.New("eventbus: NATS URL is required")
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "deskline"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	log := logging.Component("eventbus")

	nc, err := natsgo.Connect(cfg.URL,
		natsgo.Name(cfg.ClientName),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect %s: %w", cfg.URL, err)
	}
	return NewMirror(nc, cfg.SubjectPrefix), nil
}

// NewMirror wraps an existing connection.
func NewMirror(nc *natsgo.Conn, prefix string) *Mirror {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Mirror{nc: nc, prefix: prefix, log: logging.Component("eventbus")}
}

// RoomSubject returns the subject events of room are published on.
func (m *Mirror) RoomSubject(room realtime.RoomID) string {
	return m.prefix + ".room." + subjectToken(string(room))
}

// StateSubject returns the subject of connection state changes.
func (m *Mirror) StateSubject() string {
	return m.prefix + ".state"
}

// SendErrorSubject returns the subject of send failures.
func (m *Mirror) SendErrorSubject() string {
	return m.prefix + ".send_errors"
}

// StateChanged implements realtime.Listener.
func (m *Mirror) StateChanged(c realtime.StateChange) {
	m.publish(m.StateSubject(), StateEvent{
		Room:        string(c.Room),
		State:       c.State.String(),
		Attempt:     c.Attempt,
		MaxAttempts: c.MaxAttempts,
		DelayMS:     c.Delay.Milliseconds(),
		Reason:      c.Reason,
		At:          c.At,
	})
}

// EventReceived implements realtime.Listener.
func (m *Mirror) EventReceived(d realtime.Delivery) {
	ev := Event{
		Type:       d.Event.Kind(),
		ChatID:     d.LocalID,
		Room:       string(d.Event.ServerRoom()),
		ReceivedAt: d.ReceivedAt,
	}
	switch e := d.Event.(type) {
	case realtime.NewMessage:
		ev.MessageID = e.ID
		ev.SenderRole = e.SenderRole
		ev.SenderName = e.SenderName
		ev.Text = e.Text
		ev.CreatedAt = e.CreatedAt
	case realtime.RoomUpdate:
		ev.OperatorsCount = e.OperatorsCount
		ev.ParticipantsCount = e.ParticipantsCount
	case realtime.SystemNotice:
		ev.Text = e.Text
	}
	subject := m.prefix + ".room._"
	if ev.Room != "" {
		subject = m.RoomSubject(d.Event.ServerRoom())
	}
	m.publish(subject, ev)
}

// SendFailed implements realtime.Listener.
func (m *Mirror) SendFailed(f realtime.SendFailure) {
	ev := SendErrorEvent{Room: string(f.Room)}
	if f.Frame != nil {
		ev.Frame = f.Frame.Type()
	}
	if f.Err != nil {
		ev.Error = f.Err.Error()
	}
	m.publish(m.SendErrorSubject(), ev)
}

func (m *Mirror) publish(subject string, v any) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		metrics.EventBusPublished.WithLabelValues("closed").Inc()
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		metrics.EventBusPublished.WithLabelValues("encode_error").Inc()
		m.log.Warn().Err(err).Str("subject", subject).Msg("Failed to encode event")
		return
	}
	if err := m.nc.Publish(subject, data); err != nil {
		metrics.EventBusPublished.WithLabelValues("error").Inc()
		m.log.Warn().Err(err).Str("subject", subject).Msg("Failed to publish event")
		return
	}
	metrics.EventBusPublished.WithLabelValues("success").Inc()
}

// Flush waits until the server has processed every published event.
func (m *Mirror) Flush(timeout time.Duration) error {
	return m.nc.FlushTimeout(timeout)
}

// Close drains the connection. Further events are dropped.
func (m *Mirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if err := m.nc.Drain(); err != nil && !errors.Is(err, natsgo.ErrConnectionClosed) {
		return fmt.Errorf("eventbus: drain: %w", err)
	}
	return nil
}

// subjectToken makes s safe as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

var _ realtime.Listener = (*Mirror)(nil)
