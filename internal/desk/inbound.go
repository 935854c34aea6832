// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package desk

import (
	"context"
	"time"

	"github.com/tomtom215/deskline/internal/realtime"
	"github.com/tomtom215/deskline/internal/store"
)

const inboundTimeout = 5 * time.Second

// onState tracks the transport for Status. Changes of rooms that are no
// longer selected are ignored.
func (d *Desk) onState(c realtime.StateChange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.Room != "" && d.active != "" {
		if local, ok := d.dispatcher.LocalID(c.Room); ok && local != d.active {
			return
		}
	}
	if d.status.State == realtime.StateNoService && !d.loggedIn {
		return
	}
	d.status = Status{
		State:       c.State,
		Room:        string(c.Room),
		Reason:      c.Reason,
		Attempt:     c.Attempt,
		MaxAttempts: c.MaxAttempts,
		Since:       c.At,
	}
}

// onEvent persists routed events.
func (d *Desk) onEvent(dl realtime.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
	defer cancel()

	switch ev := dl.Event.(type) {
	case realtime.NewMessage:
		d.storeIncoming(ctx, dl, ev)
	case realtime.RoomUpdate:
		if err := d.store.SetCounts(ctx, dl.LocalID, ev.OperatorsCount, ev.ParticipantsCount); err != nil {
			d.log.Warn().Err(err).Str("chat", dl.LocalID).Msg("Failed to update room counters")
		}
	case realtime.SystemNotice:
		d.log.Info().Str("chat", dl.LocalID).Str("text", ev.Text).Msg("System notice")
	case realtime.StartChatAck:
		d.log.Debug().Str("chat", dl.LocalID).Str("dialog", ev.DialogID).Msg("Chat start acknowledged")
	}
}

func (d *Desk) storeIncoming(ctx context.Context, dl realtime.Delivery, ev realtime.NewMessage) {
	created := ev.CreatedAt
	if created.IsZero() {
		created = dl.ReceivedAt
	}
	msg := &store.Message{
		ChatID:    dl.LocalID,
		Sender:    store.SenderOperator,
		Operator:  ev.SenderName,
		Text:      ev.Text,
		RemoteID:  ev.ID,
		CreatedAt: created,
	}
	if err := d.store.AddMessage(ctx, msg); err != nil {
		d.log.Error().Err(err).Str("chat", dl.LocalID).Msg("Failed to store incoming message")
		return
	}

	chat, err := d.store.GetChat(ctx, dl.LocalID)
	if err != nil {
		return
	}
	if chat.Status == store.StatusNew || chat.Status == store.StatusAwaiting {
		if err := d.store.UpdateStatus(ctx, chat.ID, store.StatusInProgress); err != nil {
			d.log.Warn().Err(err).Str("chat", chat.ID).Msg("Failed to update chat status")
		}
	}
}

func (d *Desk) onSendFailed(f realtime.SendFailure) {
	frame := ""
	if f.Frame != nil {
		frame = f.Frame.Type()
	}
	d.log.Warn().Err(f.Err).Str("room", string(f.Room)).Str("frame", frame).Msg("Realtime send failed")
}
