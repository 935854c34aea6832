// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

// Package api serves the local HTTP API the desk UI talks to: chat history,
// chat lifecycle, message sending and the realtime connection status.
//
// Handler methods are split across files:
//   - handlers.go: Handler struct and constructor
//   - handlers_helpers.go: response and request helpers
//   - handlers_health.go: liveness, readiness and status
//   - handlers_chats.go: chats and messages
package api

import (
	"context"
	"time"

	"github.com/tomtom215/deskline/internal/desk"
	"github.com/tomtom215/deskline/internal/store"
)

// Desk is the part of *desk.Desk the handlers use.
type Desk interface {
	Status() desk.Status
	Check(ctx context.Context)

	Chats(ctx context.Context) ([]*store.Chat, error)
	Chat(ctx context.Context, id string) (*store.Chat, error)
	Messages(ctx context.Context, chatID string) ([]store.Message, error)

	CreateChat(ctx context.Context, title string) (*store.Chat, error)
	SelectChat(ctx context.Context, id string) (*store.Chat, error)
	RenameChat(ctx context.Context, id, title string) error
	SetStatus(ctx context.Context, id string, status store.ChatStatus) error
	LeaveChat(ctx context.Context, id string) error
	DeleteChat(ctx context.Context, id string) error

	SendText(ctx context.Context, chatID, text string) (*store.Message, error)
	SendFiles(ctx context.Context, chatID string, paths []string) ([]store.Message, error)
}

// Handler contains dependencies for API handlers.
type Handler struct {
	desk      Desk
	startTime time.Time
	version   string
}

// NewHandler creates a handler serving d.
func NewHandler(d Desk, version string) *Handler {
	if version == "" {
		version = "dev"
	}
	return &Handler{desk: d, startTime: time.Now(), version: version}
}

var _ Desk = (*desk.Desk)(nil)
