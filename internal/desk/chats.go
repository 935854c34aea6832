// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package desk

import (
	"context"
	"fmt"
	"strings"

	"github.com/tomtom215/deskline/internal/backend"
	"github.com/tomtom215/deskline/internal/realtime"
	"github.com/tomtom215/deskline/internal/store"
)

// Chats returns the user's chats, most recently updated first.
func (d *Desk) Chats(ctx context.Context) ([]*store.Chat, error) {
	return d.store.ListChats(ctx, d.cfg.UserID)
}

// Chat returns one chat.
func (d *Desk) Chat(ctx context.Context, id string) (*store.Chat, error) {
	return d.store.GetChat(ctx, id)
}

// Messages returns a chat's history.
func (d *Desk) Messages(ctx context.Context, chatID string) ([]store.Message, error) {
	return d.store.Messages(ctx, chatID)
}

// ActiveChat returns the selected chat id, or "".
func (d *Desk) ActiveChat() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// CreateChat stores a new chat, selects it and asks the backend for a room
// in the background. The room is activated when it arrives if the chat is
// still selected.
func (d *Desk) CreateChat(ctx context.Context, title string) (*store.Chat, error) {
	title = strings.TrimSpace(title)
	chat, err := d.store.CreateChat(ctx, d.cfg.UserID, title)
	if err != nil {
		return nil, err
	}
	d.log.Info().Str("chat", chat.ID).Str("title", chat.Title).Msg("Chat created")

	d.mu.Lock()
	prev := d.active
	d.active = chat.ID
	d.mu.Unlock()
	d.releaseRoom(ctx, prev)
	d.setState(realtime.StateNoRoom, "", "waiting for backend room")

	d.goBackground(func(ctx context.Context) {
		if err := d.startRoom(ctx, chat); err != nil {
			d.log.Error().Err(err).Str("chat", chat.ID).Msg("Failed to start chat on backend")
		}
	})
	return chat, nil
}

func (d *Desk) startRoom(ctx context.Context, chat *store.Chat) error {
	resp, err := d.api.StartChat(ctx, backend.StartChatRequest{
		InstanceUID: d.InstanceID(),
		ClientFIO:   d.cfg.Agent.OperatorID,
		Title:       chat.Title,
	})
	if err != nil {
		return err
	}
	room := resp.Room.ID.String()
	if err := d.store.SetRoom(ctx, chat.ID, room); err != nil {
		return fmt.Errorf("record room %s: %w", room, err)
	}
	d.dispatcher.MapRoom(realtime.RoomID(room), chat.ID)
	d.log.Info().Str("chat", chat.ID).Str("room", room).Msg("Backend room created")

	if d.ActiveChat() != chat.ID {
		return nil
	}
	return d.transport.Activate(realtime.RoomID(room))
}

// SelectChat makes id the active chat. A chat without a backend room yet
// leaves the transport idle in the NoRoom state.
func (d *Desk) SelectChat(ctx context.Context, id string) (*store.Chat, error) {
	chat, err := d.store.GetChat(ctx, id)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	prev := d.active
	d.active = chat.ID
	d.mu.Unlock()

	if chat.RoomID == "" || chat.Left {
		d.releaseRoom(ctx, prev)
		reason := "waiting for backend room"
		if chat.Left {
			reason = "chat was left"
		}
		d.setState(realtime.StateNoRoom, "", reason)
		return chat, nil
	}
	if err := d.transport.Activate(realtime.RoomID(chat.RoomID)); err != nil {
		return chat, err
	}
	return chat, nil
}

// RenameChat changes a chat's title.
func (d *Desk) RenameChat(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: empty title", ErrInvalidInput)
	}
	return d.store.Rename(ctx, id, title)
}

// SetStatus changes a chat's status.
func (d *Desk) SetStatus(ctx context.Context, id string, status store.ChatStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return d.store.UpdateStatus(ctx, id, status)
}

// LeaveChat leaves the backend room and closes the chat locally. The
// history is kept.
func (d *Desk) LeaveChat(ctx context.Context, id string) error {
	chat, err := d.store.GetChat(ctx, id)
	if err != nil {
		return err
	}
	if chat.RoomID != "" && !chat.Left {
		if err := d.api.Leave(ctx, chat.RoomID, d.InstanceID()); err != nil {
			return err
		}
	}
	d.detach(chat)
	if err := d.store.MarkLeft(ctx, id); err != nil {
		return err
	}
	return d.store.UpdateStatus(ctx, id, store.StatusClosed)
}

// DeleteChat leaves the backend room when possible and removes the chat
// with its history. A failed leave does not prevent the local delete.
func (d *Desk) DeleteChat(ctx context.Context, id string) error {
	chat, err := d.store.GetChat(ctx, id)
	if err != nil {
		return err
	}
	if chat.RoomID != "" && !chat.Left {
		if err := d.api.Leave(ctx, chat.RoomID, d.InstanceID()); err != nil {
			d.log.Warn().Err(err).Str("chat", id).Str("room", chat.RoomID).Msg("Leave failed, deleting locally anyway")
		}
	}
	d.detach(chat)
	if err := d.store.DeleteChat(ctx, id); err != nil {
		return err
	}
	d.log.Info().Str("chat", id).Msg("Chat deleted")
	return nil
}

// detach stops routing the chat's room and clears the selection if needed.
func (d *Desk) detach(chat *store.Chat) {
	if chat.RoomID != "" {
		room := realtime.RoomID(chat.RoomID)
		d.transport.Deactivate(room)
		d.dispatcher.UnmapRoom(room)
	}
	d.mu.Lock()
	wasActive := d.active == chat.ID
	if wasActive {
		d.active = ""
	}
	d.mu.Unlock()
	if wasActive {
		d.setState(realtime.StateDisconnected, "", "")
	}
}

// multiplexed is implemented by transports that keep every mapped room
// subscribed at once.
type multiplexed interface {
	Rooms() []realtime.RoomID
}

// releaseRoom drops the socket of a previously selected chat on the
// per-room transport. Multiplexed subscriptions stay so history keeps
// flowing for unselected chats.
func (d *Desk) releaseRoom(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if _, ok := d.transport.(multiplexed); ok {
		return
	}
	chat, err := d.store.GetChat(ctx, id)
	if err != nil || chat.RoomID == "" {
		return
	}
	d.transport.Deactivate(realtime.RoomID(chat.RoomID))
}
