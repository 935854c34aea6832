// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/deskline/internal/backend"
	"github.com/tomtom215/deskline/internal/desk"
	"github.com/tomtom215/deskline/internal/store"
)

// errorMapping maps a sentinel error to its HTTP status and error code.
type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{store.ErrChatNotFound, http.StatusNotFound, "CHAT_NOT_FOUND"},
	{desk.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},
	{desk.ErrRoomNotReady, http.StatusConflict, "ROOM_NOT_READY"},
	{desk.ErrChatLeft, http.StatusConflict, "CHAT_LEFT"},
	{desk.ErrNotLoggedIn, http.StatusServiceUnavailable, "NOT_LOGGED_IN"},
	{backend.ErrCircuitOpen, http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE"},
}

// classifyError returns the status and code for an error returned by the desk.
func classifyError(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway, "BACKEND_ERROR"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// respondDeskError writes the response for a desk operation failure. Only
// server-side failures are logged.
func respondDeskError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	var logged error
	if status >= http.StatusInternalServerError {
		logged = err
	}
	respondError(w, status, code, err.Error(), logged)
}
