// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

// Package store persists support chats, their message history and the
// mapping between local chats and backend rooms in BadgerDB.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrChatNotFound is returned when a chat id is not in the store.
var ErrChatNotFound = errors.New("store: chat not found")

// ChatStatus is the lifecycle state of a support request.
type ChatStatus string

const (
	StatusNew        ChatStatus = "new"
	StatusInProgress ChatStatus = "in_progress"
	StatusAwaiting   ChatStatus = "awaiting_operator"
	StatusClosed     ChatStatus = "closed"
)

// Valid reports whether s is a known status.
func (s ChatStatus) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusAwaiting, StatusClosed:
		return true
	}
	return false
}

// Message senders.
const (
	SenderUser     = "user"
	SenderOperator = "operator"
)

// Chat is a local support request.
type Chat struct {
	ID     string     `json:"id"`
	UserID string     `json:"user_id"`
	Title  string     `json:"title"`
	Status ChatStatus `json:"status"`

	// RoomID is the backend room, empty until the backend created it.
	RoomID string `json:"room_id,omitempty"`

	OperatorsCount    int `json:"operators_count"`
	ParticipantsCount int `json:"participants_count"`

	// Left is set once the user left the backend room.
	Left bool `json:"left,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attachment describes a file sent by the user.
type Attachment struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	IsImage bool   `json:"is_image"`
}

// Message is one entry of a chat's history.
type Message struct {
	Seq        uint64      `json:"seq"`
	ChatID     string      `json:"chat_id"`
	Sender     string      `json:"sender"`
	Operator   string      `json:"operator,omitempty"`
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	// RemoteID is the backend message id, when known.
	RemoteID  string    `json:"remote_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists chats, their messages and the chat to room mapping.
type Store interface {
	// CreateChat adds a chat with the next CH-NNNN id, status new and an
	// operator greeting as its first message.
	CreateChat(ctx context.Context, userID, title string) (*Chat, error)
	GetChat(ctx context.Context, id string) (*Chat, error)
	// ListChats returns the user's chats, most recently updated first.
	ListChats(ctx context.Context, userID string) ([]*Chat, error)
	UpdateStatus(ctx context.Context, id string, status ChatStatus) error
	Rename(ctx context.Context, id, title string) error
	MarkLeft(ctx context.Context, id string) error
	// SetCounts updates the room counters; nil leaves a counter unchanged.
	SetCounts(ctx context.Context, id string, operators, participants *int) error
	DeleteChat(ctx context.Context, id string) error

	// SetRoom records the backend room of a chat.
	SetRoom(ctx context.Context, chatID, roomID string) error
	// ChatForRoom returns the chat mapped to roomID.
	ChatForRoom(ctx context.Context, roomID string) (string, error)
	// Rooms returns every room to chat mapping.
	Rooms(ctx context.Context) (map[string]string, error)

	// AddMessage appends m to its chat and bumps the chat's UpdatedAt.
	AddMessage(ctx context.Context, m *Message) error
	// Messages returns a chat's history in insertion order.
	Messages(ctx context.Context, chatID string) ([]Message, error)

	Close() error
}
