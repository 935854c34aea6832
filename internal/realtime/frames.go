// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

/*
frames.go - Realtime wire format

Every frame is a JSON object with a "type" discriminator. The per-room
protocol (Django Channels, ws://{base}/{room}/?token=...) sends new_message,
room_update and system frames. The multiplexed protocol uses a single socket
with hello/subscribe/message/start_chat frames from the client and
hello_ack/message/start_chat_ack/system frames from the server.
*/

package realtime

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Frame type discriminators.
const (
	TypeNewMessage   = "new_message"
	TypeRoomUpdate   = "room_update"
	TypeSystem       = "system"
	TypeHello        = "hello"
	TypeHelloAck     = "hello_ack"
	TypeSubscribe    = "subscribe"
	TypeMessage      = "message"
	TypeStartChat    = "start_chat"
	TypeStartChatAck = "start_chat_ack"
)

// Envelope is a decoded frame header plus the raw frame bytes.
type Envelope struct {
	Type string
	Raw  []byte
}

type envelopeHeader struct {
	Type string `json:"type"`
}

// DecodeEnvelope reads the type discriminator of a text frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var h envelopeHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if h.Type == "" {
		return Envelope{}, fmt.Errorf("decode frame: missing type")
	}
	return Envelope{Type: h.Type, Raw: data}, nil
}

// FlexID accepts both JSON strings and numbers. The backend serializes
// primary keys as integers while other producers send strings.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", data)
	}
	*f = FlexID(n.String())
	return nil
}

// Event is an inbound frame decoded into its typed form.
type Event interface {
	// Kind returns the frame type discriminator.
	Kind() string
	// ServerRoom returns the backend room the event belongs to, or "" for
	// connection-wide events.
	ServerRoom() RoomID
}

// NewMessage is a chat message pushed by the server.
type NewMessage struct {
	ID         string
	Room       RoomID
	SenderRole string
	SenderName string
	Text       string
	CreatedAt  time.Time

	// Multiplexed protocol only.
	DialogID string
	UserID   string
	ClientID string
}

func (e NewMessage) Kind() string       { return TypeNewMessage }
func (e NewMessage) ServerRoom() RoomID { return e.Room }

// RoomUpdate carries participant counters for a room.
type RoomUpdate struct {
	Room              RoomID
	OperatorsCount    *int
	ParticipantsCount *int
}

func (e RoomUpdate) Kind() string       { return TypeRoomUpdate }
func (e RoomUpdate) ServerRoom() RoomID { return e.Room }

// SystemNotice is an informational message from the server.
type SystemNotice struct {
	Room RoomID
	Text string
}

func (e SystemNotice) Kind() string       { return TypeSystem }
func (e SystemNotice) ServerRoom() RoomID { return e.Room }

// HelloAck completes the multiplexed handshake.
type HelloAck struct {
	ClientID string
}

func (e HelloAck) Kind() string       { return TypeHelloAck }
func (e HelloAck) ServerRoom() RoomID { return "" }

// StartChatAck confirms a start_chat request.
type StartChatAck struct {
	Room     RoomID
	DialogID string
}

func (e StartChatAck) Kind() string       { return TypeStartChatAck }
func (e StartChatAck) ServerRoom() RoomID { return e.Room }

type wireMessage struct {
	ID         FlexID `json:"id"`
	RoomID     FlexID `json:"roomId"`
	SenderRole string `json:"senderRole"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	CreatedAt  string `json:"createdAt"`
}

type wireNewMessage struct {
	Message *wireMessage `json:"message"`
}

type wireRoom struct {
	ID                FlexID `json:"id"`
	OperatorsCount    *int   `json:"operatorsCount"`
	ParticipantsCount *int   `json:"participantsCount"`
}

type wireRoomUpdate struct {
	Room *wireRoom `json:"room"`
}

type wireSystem struct {
	Room FlexID `json:"room"`
	Text string `json:"text"`
}

type wireLegacyMessage struct {
	Room         FlexID `json:"room"`
	DialogID     FlexID `json:"dialog_id"`
	Sender       string `json:"sender"`
	OperatorName string `json:"operator_name"`
	UserID       FlexID `json:"user_id"`
	ClientID     string `json:"client_id"`
	Text         string `json:"text"`
	TS           string `json:"ts"`
	MessageID    FlexID `json:"message_id"`
}

type wireHelloAck struct {
	ClientID string `json:"client_id"`
}

type wireStartChatAck struct {
	Room     FlexID `json:"room"`
	DialogID FlexID `json:"dialog_id"`
}

// DecodeEvent converts an envelope into a typed Event. The boolean is false
// for unknown frame types; an error means the frame type is known but its
// payload is malformed.
func DecodeEvent(env Envelope) (Event, bool, error) {
	switch env.Type {
	case TypeNewMessage:
		var w wireNewMessage
		if err := json.Unmarshal(env.Raw, &w); err != nil {
			return nil, true, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if w.Message == nil {
			return nil, true, fmt.Errorf("decode %s: missing message", env.Type)
		}
		m := w.Message
		return NewMessage{
			ID:         string(m.ID),
			Room:       RoomID(m.RoomID),
			SenderRole: m.SenderRole,
			SenderName: m.SenderName,
			Text:       m.Content,
			CreatedAt:  parseTimestamp(m.CreatedAt),
		}, true, nil

	case TypeRoomUpdate:
		var w wireRoomUpdate
		if err := json.Unmarshal(env.Raw, &w); err != nil {
			return nil, true, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		if w.Room == nil {
			return nil, true, fmt.Errorf("decode %s: missing room", env.Type)
		}
		return RoomUpdate{
			Room:              RoomID(w.Room.ID),
			OperatorsCount:    w.Room.OperatorsCount,
			ParticipantsCount: w.Room.ParticipantsCount,
		}, true, nil

	case TypeSystem:
		var w wireSystem
		if err := json.Unmarshal(env.Raw, &w); err != nil {
			return nil, true, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return SystemNotice{Room: RoomID(w.Room), Text: w.Text}, true, nil

	case TypeMessage:
		var w wireLegacyMessage
		if err := json.Unmarshal(env.Raw, &w); err != nil {
			return nil, true, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return NewMessage{
			ID:         string(w.MessageID),
			Room:       RoomID(w.Room),
			SenderRole: w.Sender,
			SenderName: w.OperatorName,
			Text:       w.Text,
			CreatedAt:  parseTimestamp(w.TS),
			DialogID:   string(w.DialogID),
			UserID:     string(w.UserID),
			ClientID:   w.ClientID,
		}, true, nil

	case TypeHelloAck:
		var w wireHelloAck
		if err := json.Unmarshal(env.Raw, &w); err != nil {
			return nil, true, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return HelloAck(w), true, nil

	case TypeStartChatAck:
		var w wireStartChatAck
		if err := json.Unmarshal(env.Raw, &w); err != nil {
			return nil, true, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return StartChatAck{Room: RoomID(w.Room), DialogID: string(w.DialogID)}, true, nil

	default:
		return nil, false, nil
	}
}

// parseTimestamp accepts RFC 3339 strings and unix seconds; anything else
// yields the zero time.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
	}
	return time.Time{}
}

// OutboundFrame is a client-to-server frame.
type OutboundFrame interface {
	Type() string
}

// AgentInfo identifies the desktop installation in hello and start_chat frames.
type AgentInfo struct {
	InstanceID string `json:"instance_id,omitempty"`
	OperatorID string `json:"operator_id,omitempty"`
}

// Hello opens a multiplexed session.
type Hello struct {
	ClientID string
	Username string
	Agent    AgentInfo
}

func (Hello) Type() string { return TypeHello }

// Subscribe asks the multiplexed server to route a room's frames to us.
type Subscribe struct {
	Room RoomID
}

func (Subscribe) Type() string { return TypeSubscribe }

// ChatText sends a text message over the multiplexed socket.
type ChatText struct {
	Room     RoomID
	DialogID string
	Sender   string
	UserID   string
	ClientID string
	Text     string
}

func (ChatText) Type() string { return TypeMessage }

// StartChat opens a dialog in a room over the multiplexed socket.
type StartChat struct {
	Room     RoomID
	DialogID string
	UserID   string
	Agent    AgentInfo
}

func (StartChat) Type() string { return TypeStartChat }

type wireHello struct {
	Type     string    `json:"type"`
	ClientID string    `json:"client_id"`
	Username string    `json:"username,omitempty"`
	Agent    AgentInfo `json:"agent"`
}

type wireSubscribe struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

type wireChatText struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	DialogID string `json:"dialog_id,omitempty"`
	Sender   string `json:"sender,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Text     string `json:"text"`
}

type wireStartChat struct {
	Type     string    `json:"type"`
	Room     string    `json:"room"`
	DialogID string    `json:"dialog_id,omitempty"`
	UserID   string    `json:"user_id,omitempty"`
	Agent    AgentInfo `json:"agent"`
}

// EncodeFrame serializes an outbound frame. Text is written verbatim as
// UTF-8, without \u escapes for non-ASCII or HTML characters.
func EncodeFrame(f OutboundFrame) ([]byte, error) {
	var v any
	switch f := f.(type) {
	case Hello:
		v = wireHello{Type: TypeHello, ClientID: f.ClientID, Username: f.Username, Agent: f.Agent}
	case Subscribe:
		v = wireSubscribe{Type: TypeSubscribe, Room: string(f.Room)}
	case ChatText:
		v = wireChatText{
			Type: TypeMessage, Room: string(f.Room), DialogID: f.DialogID,
			Sender: f.Sender, UserID: f.UserID, ClientID: f.ClientID, Text: f.Text,
		}
	case StartChat:
		v = wireStartChat{
			Type: TypeStartChat, Room: string(f.Room), DialogID: f.DialogID,
			UserID: f.UserID, Agent: f.Agent,
		}
	case nil:
		return nil, fmt.Errorf("encode frame: nil frame")
	default:
		return nil, fmt.Errorf("encode frame: unsupported frame type %T", f)
	}
	data, err := json.MarshalWithOption(v, json.DisableHTMLEscape())
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f.Type(), err)
	}
	return data, nil
}
