// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package realtime

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/tomtom215/deskline/internal/retry"
)

func newTestMux(t *testing.T, mock *mockServer) (*MuxTransport, *recorder) {
	t.Helper()
	return newTestMuxWithPolicy(t, mock, retry.Policy{})
}

func newTestMuxWithPolicy(t *testing.T, mock *mockServer, policy retry.Policy) (*MuxTransport, *recorder) {
	t.Helper()
	mock.helloAck.Store(true)
	tr := NewMuxTransport(MuxConfig{
		URL:         mock.url(),
		ClientID:    "c1",
		Username:    "alice",
		Agent:       AgentInfo{InstanceID: "INST-1", OperatorID: "OPER-1"},
		Options:     fastOptions(),
		Policy:      policy,
		StableAfter: -1,
	}, nil)
	sleeps := &sleepRecorder{}
	tr.newController = func(cfg ControllerConfig) *Controller {
		c := NewController(cfg)
		c.sleep = sleeps.sleep
		return c
	}
	tr.ctrl.sleep = sleeps.sleep
	rec := newRecorder()
	tr.Subscribe(rec)
	t.Cleanup(func() { _ = tr.Close() })
	return tr, rec
}

func expectFrame(t *testing.T, sc *serverConn, typ string, fields map[string]any) map[string]any {
	t.Helper()
	f := sc.nextFrame(t)
	if f["type"] != typ {
		t.Fatalf("frame type = %v, want %s (%v)", f["type"], typ, f)
	}
	for k, v := range fields {
		if f[k] != v {
			t.Errorf("%s.%s = %v, want %v", typ, k, f[k], v)
		}
	}
	return f
}

func TestMuxTransport_HelloThenSubscriptions(t *testing.T) {
	mock := newMockServer(t)
	tr, rec := newTestMux(t, mock)

	if err := tr.ActivateAs("dialog:1", "CH-0001"); err != nil {
		t.Fatalf("ActivateAs() error = %v", err)
	}
	rec.waitState(t, StateConnected)
	sc := mock.accept(t)

	hello := expectFrame(t, sc, TypeHello, map[string]any{"client_id": "c1", "username": "alice"})
	agent, _ := hello["agent"].(map[string]any)
	if agent["instance_id"] != "INST-1" || agent["operator_id"] != "OPER-1" {
		t.Errorf("hello agent = %v", hello["agent"])
	}
	expectFrame(t, sc, TypeSubscribe, map[string]any{"room": "dialog:1"})

	// A room added while connected is subscribed immediately.
	if err := tr.Activate("dialog:2"); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	expectFrame(t, sc, TypeSubscribe, map[string]any{"room": "dialog:2"})

	// Re-activating a known room sends nothing new.
	_ = tr.Activate("dialog:2")
	_ = tr.SendText("dialog:2", "", "", "marker")
	expectFrame(t, sc, TypeMessage, map[string]any{"text": "marker"})

	if got := tr.Rooms(); !reflect.DeepEqual(got, []RoomID{"dialog:1", "dialog:2"}) {
		t.Errorf("Rooms() = %v", got)
	}
}

func TestMuxTransport_ReplaysAfterReconnect(t *testing.T) {
	mock := newMockServer(t)
	tr, rec := newTestMux(t, mock)

	_ = tr.ActivateAs("dialog:2", "CH-0002")
	_ = tr.ActivateAs("dialog:1", "CH-0001")
	rec.waitState(t, StateConnected)
	first := mock.accept(t)
	expectFrame(t, first, TypeHello, nil)

	first.closeWith(1011, "restart")
	rec.waitState(t, StateDisconnected)
	rec.waitState(t, StateConnected)
	second := mock.accept(t)

	expectFrame(t, second, TypeHello, map[string]any{"client_id": "c1"})
	expectFrame(t, second, TypeSubscribe, map[string]any{"room": "dialog:1"})
	expectFrame(t, second, TypeSubscribe, map[string]any{"room": "dialog:2"})

	_ = tr.SendText("dialog:1", "", "", "after reconnect")
	expectFrame(t, second, TypeMessage, map[string]any{"text": "after reconnect"})
}

func TestMuxTransport_SendTextAndEchoSuppression(t *testing.T) {
	mock := newMockServer(t)
	tr, rec := newTestMux(t, mock)

	_ = tr.ActivateAs("dialog:1", "CH-0001")
	rec.waitState(t, StateConnected)
	sc := mock.accept(t)
	expectFrame(t, sc, TypeHello, nil)
	expectFrame(t, sc, TypeSubscribe, nil)

	for _, text := range []string{"first", "second"} {
		if err := tr.SendText("dialog:1", "15", "42", text); err != nil {
			t.Fatalf("SendText() error = %v", err)
		}
	}
	expectFrame(t, sc, TypeMessage, map[string]any{
		"room": "dialog:1", "dialog_id": "15", "user_id": "42",
		"sender": "user", "client_id": "c1", "text": "first",
	})
	expectFrame(t, sc, TypeMessage, map[string]any{"text": "second"})

	// The server broadcasts our own message back, then an operator reply.
	_ = sc.sendRaw(`{"type":"message","room":"dialog:1","sender":"user","client_id":"c1","text":"first"}`)
	_ = sc.sendRaw(`{"type":"message","room":"dialog:1","dialog_id":15,"sender":"operator","operator_name":"Anna","text":"reply"}`)

	d := rec.waitEvent(t)
	msg, ok := d.Event.(NewMessage)
	if !ok || msg.Text != "reply" {
		t.Fatalf("first delivered event = %+v, want operator reply", d.Event)
	}
	if d.LocalID != "CH-0001" {
		t.Errorf("LocalID = %q", d.LocalID)
	}
}

func TestMuxTransport_StartChat(t *testing.T) {
	mock := newMockServer(t)
	tr, rec := newTestMux(t, mock)

	if err := tr.StartChat("dialog:9", "9", "42"); err != nil {
		t.Fatalf("StartChat() error = %v", err)
	}
	rec.waitState(t, StateConnected)
	sc := mock.accept(t)
	expectFrame(t, sc, TypeHello, nil)
	f := expectFrame(t, sc, TypeStartChat, map[string]any{"room": "dialog:9", "dialog_id": "9", "user_id": "42"})
	if agent, _ := f["agent"].(map[string]any); agent["operator_id"] != "OPER-1" {
		t.Errorf("start_chat agent = %v", f["agent"])
	}
}

func TestMuxTransport_DeactivateAndClose(t *testing.T) {
	mock := newMockServer(t)
	tr, rec := newTestMux(t, mock)

	_ = tr.ActivateAs("dialog:1", "CH-0001")
	_ = tr.ActivateAs("dialog:2", "CH-0002")
	rec.waitState(t, StateConnected)
	sc := mock.accept(t)

	tr.Deactivate("dialog:1")
	if got := tr.Rooms(); !reflect.DeepEqual(got, []RoomID{"dialog:2"}) {
		t.Errorf("Rooms() = %v", got)
	}
	if _, ok := tr.Dispatcher().LocalID("dialog:1"); ok {
		t.Error("deactivated room should be unmapped")
	}

	_ = sc.sendRaw(`{"type":"message","room":"dialog:1","sender":"operator","text":"late"}`)
	_ = sc.sendRaw(`{"type":"message","room":"dialog:2","sender":"operator","text":"live"}`)
	if d := rec.waitEvent(t); d.LocalID != "CH-0002" {
		t.Errorf("delivered to %q, want CH-0002", d.LocalID)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	sc.waitClosed(t)
	if err := tr.Send(Subscribe{Room: "x"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close = %v", err)
	}
	if err := tr.Activate("x"); !errors.Is(err, ErrClosed) {
		t.Errorf("Activate() after Close = %v", err)
	}
	if tr.State() != StateDisconnected {
		t.Errorf("State() = %s", tr.State())
	}
}

func TestMuxTransport_GeneratesClientID(t *testing.T) {
	tr := NewMuxTransport(MuxConfig{URL: "ws://127.0.0.1:1"}, nil)
	defer tr.Close()
	if tr.ClientID() == "" {
		t.Fatal("ClientID() should be generated")
	}
	if got := tr.Dispatcher().Identity().ClientID; got != tr.ClientID() {
		t.Errorf("dispatcher ClientID = %q", got)
	}
}

func TestMuxTransport_ActivateAfterFailedReconnects(t *testing.T) {
	mock := newMockServer(t)
	mock.status.Store(503)
	tr, rec := newTestMuxWithPolicy(t, mock, retry.Policy{
		Base: time.Second, Cap: 30 * time.Second, Factor: 2, MaxAttempts: 2,
	})

	if err := tr.Activate("r1"); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	rec.waitState(t, StateFailed)
	eventually(t, func() bool { return tr.State() == StateFailed }, "mux transport failed")
	if got := mock.requests.Load(); got != 2 {
		t.Errorf("requests before retry = %d, want 2", got)
	}

	// The server recovers; re-activating a known room starts a new cycle
	// and the subscription is replayed on the fresh socket.
	mock.status.Store(0)
	if err := tr.Activate("r1"); err != nil {
		t.Fatalf("Activate() after failure error = %v", err)
	}
	rec.waitState(t, StateConnected)
	sc := mock.accept(t)
	expectFrame(t, sc, TypeHello, map[string]any{"client_id": "c1"})
	expectFrame(t, sc, TypeSubscribe, map[string]any{"room": "r1"})
	eventually(t, func() bool { return tr.Attempts() == 0 }, "Attempts() reset after reconnect")

	// Frames queued through Send also reach the new socket.
	if err := tr.SendText("r1", "d1", "u1", "after restart"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	expectFrame(t, sc, TypeMessage, map[string]any{"text": "after restart"})
}
