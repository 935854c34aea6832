// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// requestTimeout bounds handlers; file uploads are the slowest.
const requestTimeout = 2 * time.Minute

// Router builds the chi router for h.
func (h *Handler) Router(mw *ChiMiddleware) http.Handler {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(mw.RequestLogger())
	r.Use(chimiddleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/health", func(r chi.Router) {
			r.Get("/live", h.HealthLive)
			r.Get("/ready", h.HealthReady)
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.RateLimit())
			r.Use(chimiddleware.Timeout(requestTimeout))

			r.Get("/status", h.GetStatus)
			r.Post("/reconnect", h.Reconnect)

			r.Route("/chats", func(r chi.Router) {
				r.Get("/", h.ListChats)
				r.Post("/", h.CreateChat)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetChat)
					r.Patch("/", h.UpdateChat)
					r.Delete("/", h.DeleteChat)
					r.Post("/select", h.SelectChat)
					r.Post("/leave", h.LeaveChat)
					r.Get("/messages", h.ListMessages)
					r.Post("/messages", h.SendMessage)
					r.Post("/files", h.SendFiles)
				})
			})
		})
	})

	return r
}
