// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/deskline/internal/desk"
	"github.com/tomtom215/deskline/internal/realtime"
)

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	desk.Status
	Version string  `json:"version"`
	Uptime  float64 `json:"uptime_seconds"`
}

// HealthLive reports that the process is up.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondData(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthReady reports whether the desk is logged in to the backend.
func (h *Handler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	st := h.desk.Status()
	if !st.LoggedIn || st.State == realtime.StateNoService {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "Backend service unavailable", nil)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "ready", "state": st.State.String()})
}

// GetStatus returns the realtime connection status of the active chat.
func (h *Handler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	respondData(w, http.StatusOK, StatusResponse{
		Status:  h.desk.Status(),
		Version: h.version,
		Uptime:  time.Since(h.startTime).Seconds(),
	})
}

// Reconnect runs a connection check now instead of waiting for the next tick.
func (h *Handler) Reconnect(w http.ResponseWriter, r *http.Request) {
	h.desk.Check(r.Context())
	respondData(w, http.StatusAccepted, h.desk.Status())
}
