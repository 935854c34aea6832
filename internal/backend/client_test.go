// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/deskline/internal/metrics"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/api/v1/", BreakerFailures: 3, BreakerTimeout: time.Hour})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLoginEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		call     func(c *Client) (*LoginResponse, error)
		path     string
		wantBody map[string]string
	}{
		{
			name:     "operator login",
			call:     func(c *Client) (*LoginResponse, error) { return c.Login(context.Background(), "op", "pw") },
			path:     "/api/v1/auth/login",
			wantBody: map[string]string{"username": "op", "password": "pw"},
		},
		{
			name:     "client login",
			call:     func(c *Client) (*LoginResponse, error) { return c.ClientLogin(context.Background(), "INST-1") },
			path:     "/api/v1/clients/auth/login",
			wantBody: map[string]string{"instance": "INST-1"},
		},
		{
			name:     "fx login",
			call:     func(c *Client) (*LoginResponse, error) { return c.FxLogin(context.Background(), "17", "OPER-1") },
			path:     "/api/v1/clients/auth/fx-login",
			wantBody: map[string]string{"fx_id": "17", "operator_id": "OPER-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != tt.path {
					t.Errorf("request = %s %s, want POST %s", r.Method, r.URL.Path, tt.path)
				}
				var body map[string]string
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Errorf("decode body: %v", err)
				}
				for k, v := range tt.wantBody {
					if body[k] != v {
						t.Errorf("body[%s] = %q, want %q", k, body[k], v)
					}
				}
				writeJSON(w, http.StatusOK, map[string]string{
					"access": "jwt-token", "username": "client_17", "instance_uid": "INST-9",
				})
			})

			got, err := tt.call(c)
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got.Access != "jwt-token" || got.Username != "client_17" || got.InstanceUID != "INST-9" {
				t.Errorf("response = %+v", got)
			}
		})
	}
}

func TestLogin_Failures(t *testing.T) {
	t.Run("rejected credentials", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "bad credentials"})
		})
		_, err := c.Login(context.Background(), "op", "wrong")
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
			t.Fatalf("error = %v, want 401 APIError", err)
		}
		if !IsStatus(err, http.StatusUnauthorized) || apiErr.Temporary() {
			t.Errorf("IsStatus/Temporary mismatch for %v", err)
		}
	})

	t.Run("missing access token", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{})
		})
		if _, err := c.Login(context.Background(), "op", "pw"); err == nil {
			t.Error("expected error for response without access token")
		}
	})
}

func TestStartChat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/clients/start-chat/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		want := map[string]string{
			"instance_uid":   "INST-1",
			"crm_client_fio": "OPER-1",
			"title":          "Не печатает",
			"message":        "Не печатает",
		}
		for k, v := range want {
			if got := r.FormValue(k); got != v {
				t.Errorf("form[%s] = %q, want %q", k, got, v)
			}
		}
		writeJSON(w, http.StatusCreated, map[string]any{"room": map[string]any{"id": 77, "title": "x"}})
	})

	got, err := c.StartChat(context.Background(), StartChatRequest{
		InstanceUID: "INST-1", ClientFIO: "OPER-1", Title: "Не печатает",
	})
	if err != nil {
		t.Fatalf("StartChat() error = %v", err)
	}
	if got.Room.ID != "77" {
		t.Errorf("room id = %q, want 77", got.Room.ID)
	}
}

func TestSendMessageAndFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "screen.png")
	if err := os.WriteFile(file, []byte("PNGDATA"), 0o600); err != nil {
		t.Fatal(err)
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if r.FormValue("instance_uid") != "INST-1" {
			t.Errorf("instance_uid = %q", r.FormValue("instance_uid"))
		}
		switch r.URL.Path {
		case "/api/v1/clients/rooms/77/send/":
			if r.FormValue("message") != "Привет" {
				t.Errorf("message = %q", r.FormValue("message"))
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": 501})
		case "/api/v1/clients/rooms/77/files/":
			fhs := r.MultipartForm.File["files"]
			if len(fhs) != 1 || fhs[0].Filename != "screen.png" {
				t.Fatalf("files = %v", fhs)
			}
			f, _ := fhs[0].Open()
			data, _ := io.ReadAll(f)
			f.Close()
			if string(data) != "PNGDATA" {
				t.Errorf("file content = %q", data)
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": "502"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	sent, err := c.SendMessage(context.Background(), "77", "INST-1", "Привет", nil)
	if err != nil || sent.ID != "501" {
		t.Fatalf("SendMessage() = %+v, %v", sent, err)
	}
	up, err := c.SendFiles(context.Background(), "77", "INST-1", []string{file})
	if err != nil || up.ID != "502" {
		t.Fatalf("SendFiles() = %+v, %v", up, err)
	}

	if _, err := c.SendFiles(context.Background(), "77", "INST-1", nil); err == nil {
		t.Error("SendFiles() without files should fail")
	}
	if _, err := c.SendFiles(context.Background(), "77", "INST-1", []string{filepath.Join(dir, "nope")}); err == nil {
		t.Error("SendFiles() with missing file should fail")
	}
}

func TestLeave(t *testing.T) {
	var called atomic.Bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
		if r.URL.Path != "/api/v1/clients/rooms/77/leave/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("instance_uid") != "INST-1" {
			t.Errorf("form = %v, %v", r.PostForm, err)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.Leave(context.Background(), "77", "INST-1"); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if !called.Load() {
		t.Error("server not called")
	}
}

func TestCircuitBreaker(t *testing.T) {
	t.Run("server errors open the circuit", func(t *testing.T) {
		var hits atomic.Int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		})
		before := testutil.ToFloat64(metrics.BackendRequests.WithLabelValues("leave", "rejected"))

		for i := 0; i < 3; i++ {
			if err := c.Leave(context.Background(), "1", "i"); !IsStatus(err, http.StatusBadGateway) {
				t.Fatalf("call %d error = %v", i, err)
			}
		}
		if err := c.Leave(context.Background(), "1", "i"); !errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("error = %v, want ErrCircuitOpen", err)
		}
		if hits.Load() != 3 {
			t.Errorf("server hit %d times, want 3", hits.Load())
		}
		if got := testutil.ToFloat64(metrics.BackendRequests.WithLabelValues("leave", "rejected")) - before; got != 1 {
			t.Errorf("rejected requests = %v, want 1", got)
		}
	})

	t.Run("client errors do not", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		for i := 0; i < 5; i++ {
			if err := c.Leave(context.Background(), "1", "i"); !IsStatus(err, http.StatusNotFound) {
				t.Fatalf("call %d error = %v", i, err)
			}
		}
	})
}

func TestTransportError(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1/api/v1", Timeout: time.Second})
	err := c.Leave(context.Background(), "1", "i")
	var apiErr *APIError
	if err == nil || errors.As(err, &apiErr) {
		t.Errorf("error = %v, want transport error", err)
	}
}

func TestIDUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want ID
	}{
		{`77`, "77"},
		{`"77"`, "77"},
		{`null`, ""},
		{`"dialog:1"`, "dialog:1"},
	}
	for _, tt := range tests {
		var got ID
		if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
			t.Errorf("Unmarshal(%s) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Unmarshal(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
	var bad ID
	if err := json.Unmarshal([]byte(`{}`), &bad); err == nil {
		t.Error("object should not unmarshal into ID")
	}
}
