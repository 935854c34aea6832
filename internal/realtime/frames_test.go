// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package realtime

import (
	"strings"
	"testing"
	"time"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"new message", `{"type":"new_message","message":{}}`, TypeNewMessage, false},
		{"unknown type still decodes", `{"type":"typing"}`, "typing", false},
		{"missing type", `{"message":{}}`, "", true},
		{"not json", `hello`, "", true},
		{"array", `[1,2]`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeEnvelope() error = %v, wantErr %v", err, tt.wantErr)
			}
			if env.Type != tt.want {
				t.Errorf("Type = %q, want %q", env.Type, tt.want)
			}
		})
	}
}

func mustEnvelope(t *testing.T, s string) Envelope {
	t.Helper()
	env, err := DecodeEnvelope([]byte(s))
	if err != nil {
		t.Fatalf("DecodeEnvelope(%s): %v", s, err)
	}
	return env
}

func TestDecodeEvent_NewMessage(t *testing.T) {
	env := mustEnvelope(t, `{"type":"new_message","message":{"id":42,"roomId":77,"senderRole":"operator",`+
		`"senderName":"Олег","content":"Здравствуйте","createdAt":"2026-03-01T10:00:00Z"}}`)

	ev, known, err := DecodeEvent(env)
	if err != nil || !known {
		t.Fatalf("DecodeEvent() = %v, %v", known, err)
	}
	msg, ok := ev.(NewMessage)
	if !ok {
		t.Fatalf("event type = %T, want NewMessage", ev)
	}
	if msg.ID != "42" || msg.Room != "77" {
		t.Errorf("numeric ids decoded as %q/%q, want 42/77", msg.ID, msg.Room)
	}
	if msg.SenderName != "Олег" || msg.Text != "Здравствуйте" {
		t.Errorf("unexpected text fields: %+v", msg)
	}
	if !msg.CreatedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", msg.CreatedAt)
	}
	if msg.Kind() != TypeNewMessage || msg.ServerRoom() != "77" {
		t.Errorf("Kind/ServerRoom = %s/%s", msg.Kind(), msg.ServerRoom())
	}
}

func TestDecodeEvent_Variants(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, ev Event)
	}{
		{
			name:  "room update",
			input: `{"type":"room_update","room":{"id":"77","operatorsCount":2}}`,
			check: func(t *testing.T, ev Event) {
				u := ev.(RoomUpdate)
				if u.Room != "77" || u.OperatorsCount == nil || *u.OperatorsCount != 2 {
					t.Errorf("unexpected room update %+v", u)
				}
				if u.ParticipantsCount != nil {
					t.Errorf("ParticipantsCount should be absent")
				}
			},
		},
		{
			name:  "global system notice",
			input: `{"type":"system","text":"maintenance at 22:00"}`,
			check: func(t *testing.T, ev Event) {
				n := ev.(SystemNotice)
				if n.Room != "" || n.Text != "maintenance at 22:00" {
					t.Errorf("unexpected notice %+v", n)
				}
			},
		},
		{
			name: "legacy message",
			input: `{"type":"message","room":"dialog:5","dialog_id":"5","sender":"operator",` +
				`"operator_name":"Anna","client_id":"abc","text":"hi","ts":"2026-03-01T10:00:00+00:00"}`,
			check: func(t *testing.T, ev Event) {
				m := ev.(NewMessage)
				if m.Room != "dialog:5" || m.DialogID != "5" || m.SenderRole != "operator" ||
					m.SenderName != "Anna" || m.ClientID != "abc" {
					t.Errorf("unexpected legacy message %+v", m)
				}
				if m.CreatedAt.IsZero() {
					t.Error("ts not parsed")
				}
			},
		},
		{
			name:  "hello ack",
			input: `{"type":"hello_ack","client_id":"abc"}`,
			check: func(t *testing.T, ev Event) {
				if a := ev.(HelloAck); a.ClientID != "abc" {
					t.Errorf("ClientID = %q", a.ClientID)
				}
			},
		},
		{
			name:  "start chat ack",
			input: `{"type":"start_chat_ack","room":"dialog:9","dialog_id":9}`,
			check: func(t *testing.T, ev Event) {
				a := ev.(StartChatAck)
				if a.Room != "dialog:9" || a.DialogID != "9" {
					t.Errorf("unexpected ack %+v", a)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, known, err := DecodeEvent(mustEnvelope(t, tt.input))
			if err != nil || !known {
				t.Fatalf("DecodeEvent() = %v, %v", known, err)
			}
			tt.check(t, ev)
		})
	}
}

func TestDecodeEvent_UnknownAndMalformed(t *testing.T) {
	if _, known, err := DecodeEvent(mustEnvelope(t, `{"type":"typing","room":"77"}`)); known || err != nil {
		t.Errorf("unknown type: known=%v err=%v, want false/nil", known, err)
	}
	if _, known, err := DecodeEvent(mustEnvelope(t, `{"type":"new_message"}`)); !known || err == nil {
		t.Errorf("missing payload: known=%v err=%v, want true/error", known, err)
	}
	if _, known, err := DecodeEvent(mustEnvelope(t, `{"type":"new_message","message":{"id":{"x":1}}}`)); !known || err == nil {
		t.Errorf("object id: known=%v err=%v, want true/error", known, err)
	}
}

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame OutboundFrame
		want  []string
	}{
		{
			name:  "subscribe",
			frame: Subscribe{Room: "dialog:1"},
			want:  []string{`"type":"subscribe"`, `"room":"dialog:1"`},
		},
		{
			name:  "hello",
			frame: Hello{ClientID: "c1", Agent: AgentInfo{InstanceID: "INST-1", OperatorID: "OPER-1"}},
			want:  []string{`"type":"hello"`, `"client_id":"c1"`, `"instance_id":"INST-1"`, `"operator_id":"OPER-1"`},
		},
		{
			name:  "message keeps utf-8",
			frame: ChatText{Room: "dialog:1", Sender: "user", ClientID: "c1", Text: "Привет <b>"},
			want:  []string{`"type":"message"`, `"sender":"user"`, `"text":"Привет <b>"`},
		},
		{
			name:  "start chat",
			frame: StartChat{Room: "dialog:2", DialogID: "2", UserID: "u1"},
			want:  []string{`"type":"start_chat"`, `"dialog_id":"2"`, `"user_id":"u1"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeFrame(tt.frame)
			if err != nil {
				t.Fatalf("EncodeFrame() error = %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(string(data), w) {
					t.Errorf("encoded %s missing %s", data, w)
				}
			}
		})
	}

	if _, err := EncodeFrame(nil); err == nil {
		t.Error("EncodeFrame(nil) should fail")
	}
}

func TestParseTimestamp(t *testing.T) {
	if got := parseTimestamp("1700000000.5"); got.Unix() != 1700000000 {
		t.Errorf("unix seconds parsed as %v", got)
	}
	if !parseTimestamp("yesterday").IsZero() {
		t.Error("garbage should yield zero time")
	}
}

func TestConnectionStateString(t *testing.T) {
	tests := map[ConnectionState]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
		StateNoService:    "no_service",
		StateNoRoom:       "no_room",
		StateFailed:       "failed",
		StateUnknown:      "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
		text, _ := s.MarshalText()
		if string(text) != want {
			t.Errorf("MarshalText() = %q, want %q", text, want)
		}
	}
}
