// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package desk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/tomtom215/deskline/internal/retry"
	"github.com/tomtom215/deskline/internal/store"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// IsImage reports whether path has an image extension.
func IsImage(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// ValidateText checks a message before it is sent.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(text); n > MaxMessageLength {
		return fmt.Errorf("%w: message has %d characters, limit is %d", ErrInvalidInput, n, MaxMessageLength)
	}
	return nil
}

// ValidateFile checks that path is a regular file within the size limit and
// returns its attachment description.
func ValidateFile(path string) (*store.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrInvalidInput, path)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrInvalidInput, info.Name(), info.Size(), MaxFileSize)
	}
	return &store.Attachment{
		Path:    path,
		Name:    info.Name(),
		Size:    info.Size(),
		IsImage: IsImage(path),
	}, nil
}

// SendText posts a message to the chat's room, waiting for the room to be
// created if necessary, and appends it to the local history. The returned
// message carries the backend id when one was reported.
func (d *Desk) SendText(ctx context.Context, chatID, text string) (*store.Message, error) {
	if err := ValidateText(text); err != nil {
		return nil, err
	}
	room, err := d.waitRoom(ctx, chatID)
	if err != nil {
		return nil, err
	}

	resp, err := d.api.SendMessage(ctx, room, d.InstanceID(), text, nil)
	if err != nil {
		return nil, err
	}
	remote := resp.ID.String()
	d.dispatcher.TrackSent(remote)

	msg := &store.Message{
		ChatID:   chatID,
		Sender:   store.SenderUser,
		Text:     text,
		RemoteID: remote,
	}
	if err := d.recordOutgoing(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// SendFiles uploads files to the chat's room and records one history entry
// per file.
func (d *Desk) SendFiles(ctx context.Context, chatID string, paths []string) ([]store.Message, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no files", ErrInvalidInput)
	}
	attachments := make([]*store.Attachment, 0, len(paths))
	for _, p := range paths {
		a, err := ValidateFile(p)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}
	room, err := d.waitRoom(ctx, chatID)
	if err != nil {
		return nil, err
	}

	resp, err := d.api.SendFiles(ctx, room, d.InstanceID(), paths)
	if err != nil {
		return nil, err
	}
	remote := resp.ID.String()
	d.dispatcher.TrackSent(remote)

	out := make([]store.Message, 0, len(attachments))
	for _, a := range attachments {
		msg := &store.Message{
			ChatID:     chatID,
			Sender:     store.SenderUser,
			Attachment: a,
			RemoteID:   remote,
		}
		if err := d.recordOutgoing(ctx, msg); err != nil {
			return out, err
		}
		out = append(out, *msg)
	}
	return out, nil
}

func (d *Desk) recordOutgoing(ctx context.Context, msg *store.Message) error {
	if err := d.store.AddMessage(ctx, msg); err != nil {
		return err
	}
	return d.store.UpdateStatus(ctx, msg.ChatID, store.StatusAwaiting)
}

// waitRoom polls for the chat's backend room.
func (d *Desk) waitRoom(ctx context.Context, chatID string) (string, error) {
	var room string
	err := retry.Until(ctx, d.cfg.RoomWait, func(ctx context.Context) (bool, error) {
		chat, err := d.store.GetChat(ctx, chatID)
		if err != nil {
			return false, err
		}
		if chat.Left {
			return false, ErrChatLeft
		}
		room = chat.RoomID
		return room != "", nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return "", fmt.Errorf("%w: chat %s", ErrRoomNotReady, chatID)
	}
	return room, err
}
