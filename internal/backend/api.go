// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// ID is a backend identifier that may arrive as a JSON string or number.
type ID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// LoginResponse is returned by the login endpoints.
type LoginResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
	// Username is the websocket username (fx-login only).
	Username string `json:"username,omitempty"`
	// InstanceUID overrides the agent instance id (fx-login only).
	InstanceUID string `json:"instance_uid,omitempty"`
}

// Room is the backend's view of a chat room.
type Room struct {
	ID    ID     `json:"id"`
	Title string `json:"title,omitempty"`
}

// StartChatRequest opens a new room.
type StartChatRequest struct {
	InstanceUID string
	// ClientFIO is the client's full name as known to the CRM.
	ClientFIO string
	Title     string
	// Message is the first message; the title is used when empty.
	Message string
	Files   []string
}

// StartChatResponse carries the created room.
type StartChatResponse struct {
	Room Room `json:"room"`
}

// SendResponse carries the id of the stored message.
type SendResponse struct {
	ID ID `json:"id"`
}

// Login authenticates an operator with username and password.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.postJSON(ctx, "login", "/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, &out)
	return loginResult(&out, err)
}

// ClientLogin authenticates as the client bound to an agent instance; the
// backend creates the client on first use.
func (c *Client) ClientLogin(ctx context.Context, instance string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.postJSON(ctx, "client_login", "/clients/auth/login", map[string]string{
		"instance": instance,
	}, &out)
	return loginResult(&out, err)
}

// FxLogin authenticates a CRM user on behalf of an operator.
func (c *Client) FxLogin(ctx context.Context, fxID, operatorID string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.postJSON(ctx, "fx_login", "/clients/auth/fx-login", map[string]string{
		"fx_id":       fxID,
		"operator_id": operatorID,
	}, &out)
	return loginResult(&out, err)
}

func loginResult(out *LoginResponse, err error) (*LoginResponse, error) {
	if err != nil {
		return nil, err
	}
	if out.Access == "" {
		return nil, errors.New("backend: login response without access token")
	}
	return out, nil
}

// StartChat creates a room for a new support request.
func (c *Client) StartChat(ctx context.Context, req StartChatRequest) (*StartChatResponse, error) {
	msg := req.Message
	if msg == "" {
		msg = req.Title
	}
	var out StartChatResponse
	err := c.postForm(ctx, "start_chat", "/clients/start-chat/", [][2]string{
		{"instance_uid", req.InstanceUID},
		{"crm_client_fio", req.ClientFIO},
		{"title", req.Title},
		{"message", msg},
	}, req.Files, false, &out)
	if err != nil {
		return nil, err
	}
	if out.Room.ID == "" {
		return nil, errors.New("backend: start chat response without room id")
	}
	return &out, nil
}

// SendMessage posts a text message, optionally with files, to a room.
func (c *Client) SendMessage(ctx context.Context, roomID, instanceUID, text string, files []string) (*SendResponse, error) {
	var out SendResponse
	err := c.postForm(ctx, "send_message", roomPath(roomID, "send"), [][2]string{
		{"instance_uid", instanceUID},
		{"message", text},
	}, files, false, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SendFiles uploads files to a room.
func (c *Client) SendFiles(ctx context.Context, roomID, instanceUID string, files []string) (*SendResponse, error) {
	if len(files) == 0 {
		return nil, errors.New("backend: no files to send")
	}
	var out SendResponse
	err := c.postForm(ctx, "send_files", roomPath(roomID, "files"), [][2]string{
		{"instance_uid", instanceUID},
	}, files, true, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Leave removes the client from a room.
func (c *Client) Leave(ctx context.Context, roomID, instanceUID string) error {
	form := url.Values{"instance_uid": {instanceUID}}
	return c.do(ctx, request{
		endpoint:    "leave",
		path:        roomPath(roomID, "leave"),
		contentType: "application/x-www-form-urlencoded",
		body:        []byte(form.Encode()),
	}, nil)
}

func roomPath(roomID, action string) string {
	return "/clients/rooms/" + url.PathEscape(roomID) + "/" + action + "/"
}

// postForm sends fields as multipart/form-data, attaching each file under
// the "files" field.
func (c *Client) postForm(ctx context.Context, endpoint, path string, fields [][2]string, files []string, upload bool, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("backend %s: %w", endpoint, err)
		}
	}
	for _, p := range files {
		if err := attachFile(w, p); err != nil {
			return fmt.Errorf("backend %s: %w", endpoint, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("backend %s: %w", endpoint, err)
	}

	req := request{
		endpoint:    endpoint,
		path:        path,
		contentType: w.FormDataContentType(),
		body:        buf.Bytes(),
	}
	if upload || len(files) > 0 {
		req.timeout = c.cfg.UploadTimeout
	}
	return c.do(ctx, req, out)
}

func attachFile(w *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("attach %s: %w", path, err)
	}
	defer f.Close()

	part, err := w.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("attach %s: %w", path, err)
	}
	return nil
}

// String returns the id as a string.
func (id ID) String() string {
	return string(id)
}
