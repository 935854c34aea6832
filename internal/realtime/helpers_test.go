// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const waitTimeout = 5 * time.Second

// mockServer is a WebSocket server that can refuse upgrades, reject
// credentials and auto-acknowledge hello frames.
type mockServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *serverConn

	refuse   atomic.Int32 // upcoming upgrades answered with 503
	status   atomic.Int32 // when non-zero every upgrade is answered with it
	requests atomic.Int32
	helloAck atomic.Bool
	silent   atomic.Bool // stop reading after upgrade (no pong replies)

	mu     sync.Mutex
	paths  []string
	tokens []string
}

// serverConn is the server side of one accepted connection.
type serverConn struct {
	conn    *websocket.Conn
	path    string
	writeMu sync.Mutex
	frames  chan map[string]any
	closed  chan struct{}
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	m := &mockServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		conns: make(chan *serverConn, 16),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockServer) handle(w http.ResponseWriter, r *http.Request) {
	m.requests.Add(1)
	m.mu.Lock()
	m.paths = append(m.paths, r.URL.Path)
	m.tokens = append(m.tokens, r.URL.Query().Get("token"))
	m.mu.Unlock()

	if code := m.status.Load(); code != 0 {
		http.Error(w, http.StatusText(int(code)), int(code))
		return
	}
	if m.refuse.Load() > 0 {
		m.refuse.Add(-1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sc := &serverConn{
		conn:   conn,
		path:   r.URL.Path,
		frames: make(chan map[string]any, 64),
		closed: make(chan struct{}),
	}
	if m.silent.Load() {
		m.conns <- sc
		return
	}
	go sc.readLoop(m.helloAck.Load())
	m.conns <- sc
}

func (sc *serverConn) readLoop(ackHello bool) {
	defer close(sc.closed)
	for {
		_, data, err := sc.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if ackHello && frame["type"] == TypeHello {
			_ = sc.sendJSON(map[string]any{"type": TypeHelloAck, "client_id": frame["client_id"]})
		}
		sc.frames <- frame
	}
}

func (sc *serverConn) sendJSON(v any) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return sc.conn.WriteJSON(v)
}

func (sc *serverConn) sendRaw(s string) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return sc.conn.WriteMessage(websocket.TextMessage, []byte(s))
}

func (sc *serverConn) closeWith(code int, text string) {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	_ = sc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	_ = sc.conn.Close()
}

func (sc *serverConn) nextFrame(t *testing.T) map[string]any {
	t.Helper()
	select {
	case f := <-sc.frames:
		return f
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for client frame")
		return nil
	}
}

func (sc *serverConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-sc.closed:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for client to close the socket")
	}
}

func (m *mockServer) url() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

func (m *mockServer) accept(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-m.conns:
		return sc
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func (m *mockServer) recordedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.paths...)
}

func (m *mockServer) recordedTokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tokens...)
}

// recorder is a Listener that keeps everything it receives.
type recorder struct {
	mu       sync.Mutex
	states   []StateChange
	events   []Delivery
	failures []SendFailure

	stateCh chan StateChange
	eventCh chan Delivery
}

func newRecorder() *recorder {
	return &recorder{
		stateCh: make(chan StateChange, 256),
		eventCh: make(chan Delivery, 256),
	}
}

func (r *recorder) StateChanged(c StateChange) {
	r.mu.Lock()
	r.states = append(r.states, c)
	r.mu.Unlock()
	r.stateCh <- c
}

func (r *recorder) EventReceived(d Delivery) {
	r.mu.Lock()
	r.events = append(r.events, d)
	r.mu.Unlock()
	r.eventCh <- d
}

func (r *recorder) SendFailed(f SendFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
}

// waitState consumes state changes until one with the wanted state arrives.
func (r *recorder) waitState(t *testing.T, want ConnectionState) StateChange {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case c := <-r.stateCh:
			if c.State == want {
				return c
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s; seen %v", want, r.stateNames())
			return StateChange{}
		}
	}
}

func (r *recorder) waitEvent(t *testing.T) Delivery {
	t.Helper()
	select {
	case d := <-r.eventCh:
		return d
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
		return Delivery{}
	}
}

func (r *recorder) noEvent(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case d := <-r.eventCh:
		t.Fatalf("unexpected event %+v", d)
	case <-time.After(within):
	}
}

func (r *recorder) snapshot() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StateChange(nil), r.states...)
}

func (r *recorder) stateNames() []string {
	var names []string
	for _, c := range r.snapshot() {
		names = append(names, string(c.Room)+":"+c.State.String())
	}
	return names
}

func (r *recorder) count(room RoomID, state ConnectionState) int {
	n := 0
	for _, c := range r.snapshot() {
		if c.Room == room && c.State == state {
			n++
		}
	}
	return n
}

// sleepRecorder replaces backoff sleeps so tests run without waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func fastOptions() SessionOptions {
	return SessionOptions{
		HandshakeTimeout: 2 * time.Second,
		HelloTimeout:     2 * time.Second,
		PingInterval:     time.Second,
		PingTimeout:      time.Second,
		WriteTimeout:     time.Second,
	}
}

// eventually polls cond until it holds or the wait times out.
func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
