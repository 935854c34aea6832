// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/deskline/internal/backend"
	"github.com/tomtom215/deskline/internal/desk"
	"github.com/tomtom215/deskline/internal/realtime"
	"github.com/tomtom215/deskline/internal/store"
)

// fakeDesk keeps chats in memory and records the calls it receives.
type fakeDesk struct {
	mu       sync.Mutex
	status   desk.Status
	chats    map[string]*store.Chat
	messages map[string][]store.Message
	calls    []string
	sendErr  error
	checks   int
}

func newFakeDesk() *fakeDesk {
	return &fakeDesk{
		status: desk.Status{State: realtime.StateConnected, LoggedIn: true, Username: "anna", ChatID: "CH-0001", Room: "77"},
		chats: map[string]*store.Chat{
			"CH-0001": {ID: "CH-0001", Title: "Printer", Status: store.StatusNew, RoomID: "77"},
		},
		messages: map[string][]store.Message{
			"CH-0001": {{Seq: 1, ChatID: "CH-0001", Sender: store.SenderOperator, Text: "Здравствуйте"}},
		},
	}
}

func (f *fakeDesk) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeDesk) Status() desk.Status { return f.status }

func (f *fakeDesk) Check(context.Context) {
	f.mu.Lock()
	f.checks++
	f.mu.Unlock()
}

func (f *fakeDesk) Chats(context.Context) ([]*store.Chat, error) {
	out := make([]*store.Chat, 0, len(f.chats))
	for _, c := range f.chats {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeDesk) Chat(_ context.Context, id string) (*store.Chat, error) {
	c, ok := f.chats[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, store.ErrChatNotFound)
	}
	return c, nil
}

func (f *fakeDesk) Messages(_ context.Context, id string) ([]store.Message, error) {
	if _, ok := f.chats[id]; !ok {
		return nil, store.ErrChatNotFound
	}
	return f.messages[id], nil
}

func (f *fakeDesk) CreateChat(_ context.Context, title string) (*store.Chat, error) {
	f.record("create:" + title)
	c := &store.Chat{ID: "CH-0002", Title: title, Status: store.StatusNew}
	f.chats[c.ID] = c
	return c, nil
}

func (f *fakeDesk) SelectChat(ctx context.Context, id string) (*store.Chat, error) {
	f.record("select:" + id)
	return f.Chat(ctx, id)
}

func (f *fakeDesk) RenameChat(_ context.Context, id, title string) error {
	f.record("rename:" + id + ":" + title)
	c, ok := f.chats[id]
	if !ok {
		return store.ErrChatNotFound
	}
	c.Title = title
	return nil
}

func (f *fakeDesk) SetStatus(_ context.Context, id string, status store.ChatStatus) error {
	f.record("status:" + id + ":" + string(status))
	f.chats[id].Status = status
	return nil
}

func (f *fakeDesk) LeaveChat(_ context.Context, id string) error {
	f.record("leave:" + id)
	if _, ok := f.chats[id]; !ok {
		return store.ErrChatNotFound
	}
	f.chats[id].Left = true
	f.chats[id].Status = store.StatusClosed
	return nil
}

func (f *fakeDesk) DeleteChat(_ context.Context, id string) error {
	f.record("delete:" + id)
	if _, ok := f.chats[id]; !ok {
		return store.ErrChatNotFound
	}
	delete(f.chats, id)
	return nil
}

func (f *fakeDesk) SendText(_ context.Context, id, text string) (*store.Message, error) {
	f.record("send:" + id + ":" + text)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &store.Message{Seq: 2, ChatID: id, Sender: store.SenderUser, Text: text, RemoteID: "m-1"}, nil
}

func (f *fakeDesk) SendFiles(_ context.Context, id string, paths []string) ([]store.Message, error) {
	f.record("files:" + id + ":" + strings.Join(paths, ","))
	out := make([]store.Message, len(paths))
	for i, p := range paths {
		out[i] = store.Message{ChatID: id, Sender: store.SenderUser, Attachment: &store.Attachment{Path: p}}
	}
	return out, nil
}

type envelope struct {
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata"`
	Error    *APIError       `json:"error"`
}

func newTestRouter(t *testing.T) (*fakeDesk, http.Handler) {
	t.Helper()
	fd := newFakeDesk()
	h := NewHandler(fd, "test")
	return fd, h.Router(NewChiMiddleware(&MiddlewareConfig{RateLimitDisabled: true}))
}

func do(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec, env
}

func TestHealth(t *testing.T) {
	fd, router := newTestRouter(t)

	if rec, _ := do(t, router, http.MethodGet, "/api/v1/health/live", ""); rec.Code != http.StatusOK {
		t.Errorf("live = %d", rec.Code)
	}
	if rec, _ := do(t, router, http.MethodGet, "/api/v1/health/ready", ""); rec.Code != http.StatusOK {
		t.Errorf("ready = %d", rec.Code)
	}

	fd.status = desk.Status{State: realtime.StateNoService, Reason: "connection refused"}
	rec, env := do(t, router, http.MethodGet, "/api/v1/health/ready", "")
	if rec.Code != http.StatusServiceUnavailable || env.Error == nil || env.Error.Code != "NOT_READY" {
		t.Errorf("ready without login = %d %+v", rec.Code, env.Error)
	}
}

func TestGetStatus(t *testing.T) {
	_, router := newTestRouter(t)
	rec, env := do(t, router, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK || env.Status != "success" {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got["state"] != "connected" || got["chat_id"] != "CH-0001" || got["version"] != "test" {
		t.Errorf("status body = %v", got)
	}
	if rec.Header().Get("ETag") == "" || rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("headers = %v", rec.Header())
	}
}

func TestReconnect(t *testing.T) {
	fd, router := newTestRouter(t)
	if rec, _ := do(t, router, http.MethodPost, "/api/v1/reconnect", ""); rec.Code != http.StatusAccepted {
		t.Errorf("reconnect = %d", rec.Code)
	}
	if fd.checks != 1 {
		t.Errorf("checks = %d, want 1", fd.checks)
	}
}

func TestChats(t *testing.T) {
	fd, router := newTestRouter(t)

	rec, env := do(t, router, http.MethodGet, "/api/v1/chats", "")
	if rec.Code != http.StatusOK || env.Metadata.Count == nil || *env.Metadata.Count != 1 {
		t.Fatalf("list = %d %s", rec.Code, rec.Body.String())
	}

	rec, env = do(t, router, http.MethodPost, "/api/v1/chats", `{"title":"VPN"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	var chat store.Chat
	_ = json.Unmarshal(env.Data, &chat)
	if chat.ID != "CH-0002" || chat.Title != "VPN" {
		t.Errorf("created = %+v", chat)
	}

	rec, _ = do(t, router, http.MethodGet, "/api/v1/chats/CH-0002", "")
	if rec.Code != http.StatusOK {
		t.Errorf("get = %d", rec.Code)
	}

	rec, env = do(t, router, http.MethodPatch, "/api/v1/chats/CH-0002", `{"title":"VPN down","status":"closed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch = %d %s", rec.Code, rec.Body.String())
	}
	_ = json.Unmarshal(env.Data, &chat)
	if chat.Title != "VPN down" || chat.Status != store.StatusClosed {
		t.Errorf("patched = %+v", chat)
	}

	if rec, _ = do(t, router, http.MethodPost, "/api/v1/chats/CH-0001/select", ""); rec.Code != http.StatusOK {
		t.Errorf("select = %d", rec.Code)
	}

	rec, env = do(t, router, http.MethodPost, "/api/v1/chats/CH-0001/leave", "")
	_ = json.Unmarshal(env.Data, &chat)
	if rec.Code != http.StatusOK || !chat.Left {
		t.Errorf("leave = %d %+v", rec.Code, chat)
	}

	if rec, _ = do(t, router, http.MethodDelete, "/api/v1/chats/CH-0002", ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete = %d", rec.Code)
	}

	want := []string{
		"create:VPN", "rename:CH-0002:VPN down", "status:CH-0002:closed",
		"select:CH-0001", "leave:CH-0001", "delete:CH-0002",
	}
	if strings.Join(fd.calls, "|") != strings.Join(want, "|") {
		t.Errorf("calls = %v, want %v", fd.calls, want)
	}
}

func TestChats_BadRequests(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"bad chat id", http.MethodGet, "/api/v1/chats/42", "", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown chat", http.MethodGet, "/api/v1/chats/CH-0404", "", http.StatusNotFound, "CHAT_NOT_FOUND"},
		{"empty body", http.MethodPost, "/api/v1/chats/CH-0001/messages", "", http.StatusBadRequest, "INVALID_JSON"},
		{"not json", http.MethodPost, "/api/v1/chats", "{", http.StatusBadRequest, "INVALID_JSON"},
		{"missing text", http.MethodPost, "/api/v1/chats/CH-0001/messages", `{"text":""}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad status", http.MethodPatch, "/api/v1/chats/CH-0001", `{"status":"archived"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"no files", http.MethodPost, "/api/v1/chats/CH-0001/files", `{"paths":[]}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown route", http.MethodGet, "/api/v1/nope", "", http.StatusNotFound, "NOT_FOUND"},
		{"wrong method", http.MethodPut, "/api/v1/chats", "", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router := newTestRouter(t)
			rec, env := do(t, router, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if env.Status != "error" || env.Error == nil || env.Error.Code != tt.wantErr {
				t.Errorf("error = %+v, want %s", env.Error, tt.wantErr)
			}
		})
	}
}

func TestMessages(t *testing.T) {
	fd, router := newTestRouter(t)

	rec, env := do(t, router, http.MethodGet, "/api/v1/chats/CH-0001/messages", "")
	if rec.Code != http.StatusOK || *env.Metadata.Count != 1 {
		t.Fatalf("history = %d %s", rec.Code, rec.Body.String())
	}

	rec, env = do(t, router, http.MethodPost, "/api/v1/chats/CH-0001/messages", `{"text":"не печатает"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send = %d %s", rec.Code, rec.Body.String())
	}
	var msg store.Message
	_ = json.Unmarshal(env.Data, &msg)
	if msg.Text != "не печатает" || msg.RemoteID != "m-1" {
		t.Errorf("sent = %+v", msg)
	}

	rec, _ = do(t, router, http.MethodPost, "/api/v1/chats/CH-0001/files", `{"paths":["/tmp/a.png","/tmp/b.pdf"]}`)
	if rec.Code != http.StatusCreated {
		t.Errorf("files = %d %s", rec.Code, rec.Body.String())
	}
	if last := fd.calls[len(fd.calls)-1]; last != "files:CH-0001:/tmp/a.png,/tmp/b.pdf" {
		t.Errorf("last call = %s", last)
	}

	long := strings.Repeat("я", 5001)
	rec, _ = do(t, router, http.MethodPost, "/api/v1/chats/CH-0001/messages", `{"text":"`+long+`"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("long text = %d", rec.Code)
	}
}

func TestSendErrorMapping(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantErr  string
	}{
		{fmt.Errorf("%w: chat CH-0001", desk.ErrRoomNotReady), http.StatusConflict, "ROOM_NOT_READY"},
		{desk.ErrChatLeft, http.StatusConflict, "CHAT_LEFT"},
		{fmt.Errorf("%w: text is empty", desk.ErrInvalidInput), http.StatusBadRequest, "INVALID_INPUT"},
		{fmt.Errorf("send: %w", backend.ErrCircuitOpen), http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE"},
		{&backend.APIError{Endpoint: "send", StatusCode: 500}, http.StatusBadGateway, "BACKEND_ERROR"},
		{context.DeadlineExceeded, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.wantErr, func(t *testing.T) {
			fd, router := newTestRouter(t)
			fd.sendErr = tt.err
			rec, env := do(t, router, http.MethodPost, "/api/v1/chats/CH-0001/messages", `{"text":"hi"}`)
			if rec.Code != tt.wantCode || env.Error == nil || env.Error.Code != tt.wantErr {
				t.Errorf("got %d %+v, want %d %s", rec.Code, env.Error, tt.wantCode, tt.wantErr)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	fd := newFakeDesk()
	router := NewHandler(fd, "").Router(NewChiMiddleware(&MiddlewareConfig{
		RateLimitRequests: 2,
		RateLimitWindow:   time.Minute,
	}))

	codes := make([]int, 0, 3)
	for range 3 {
		rec, _ := do(t, router, http.MethodGet, "/api/v1/status", "")
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}

	if rec, _ := do(t, router, http.MethodGet, "/api/v1/health/live", ""); rec.Code != http.StatusOK {
		t.Errorf("health is not rate limited, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, router := newTestRouter(t)
	do(t, router, http.MethodGet, "/api/v1/status", "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `deskline_api_requests_total{method="GET",route="/api/v1/status",status="200"}`) {
		t.Error("metrics missing api request counter for /api/v1/status")
	}
}

func TestSanitizeLogValue(t *testing.T) {
	if got := sanitizeLogValue("a\nb\x7f"); got != `a\x0ab\x7f` {
		t.Errorf("sanitizeLogValue() = %q", got)
	}
}
