// Deskline - Support Desk Realtime Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/deskline

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/deskline/internal/store"
)

// CreateChatRequest is the body of POST /api/v1/chats.
type CreateChatRequest struct {
	Title string `json:"title" validate:"max=200"`
}

// UpdateChatRequest is the body of PATCH /api/v1/chats/{id}. Absent fields
// are left unchanged.
type UpdateChatRequest struct {
	Title  *string `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Status *string `json:"status,omitempty" validate:"omitempty,oneof=new in_progress awaiting_operator closed"`
}

// SendMessageRequest is the body of POST /api/v1/chats/{id}/messages.
type SendMessageRequest struct {
	Text string `json:"text" validate:"required,max=5000"`
}

// SendFilesRequest is the body of POST /api/v1/chats/{id}/files. Paths are
// local to the machine running the desk.
type SendFilesRequest struct {
	Paths []string `json:"paths" validate:"required,min=1,max=20,dive,required"`
}

type chatPath struct {
	ID string `validate:"required,chatid"`
}

// chatID extracts and validates the {id} URL parameter.
func chatID(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := chatPath{ID: chi.URLParam(r, "id")}
	if apiErr := validateRequest(&p); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return "", false
	}
	return p.ID, true
}

// ListChats returns the user's chats, most recently updated first.
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.desk.Chats(r.Context())
	if err != nil {
		respondDeskError(w, err)
		return
	}
	respondList(w, chats)
}

// CreateChat opens a new chat and selects it. The backend room is requested
// in the background; its arrival shows up in the status.
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	chat, err := h.desk.CreateChat(r.Context(), req.Title)
	if err != nil {
		respondDeskError(w, err)
		return
	}
	respondData(w, http.StatusCreated, chat)
}

// GetChat returns one chat.
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(w, r)
	if !ok {
		return
	}
	chat, err := h.desk.Chat(r.Context(), id)
	if err != nil {
		respondDeskError(w, err)
		return
	}
	respondData(w, http.StatusOK, chat)
}

// UpdateChat renames a chat or changes its status.
func (h *Handler) UpdateChat(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(w, r)
	if !ok {
		return
	}
	var req UpdateChatRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	ctx := r.Context()
	if req.Title != nil {
		if err := h.desk.RenameChat(ctx, id, *req.Title); err != nil {
			respondDeskError(w, err)
			return
		}
	}
	if req.Status != nil {
		if err := h.desk.SetStatus(ctx, id, store.ChatStatus(*req.Status)); err != nil {
			respondDeskError(w, err)
			return
		}
	}
	chat, err := h.desk.Chat(ctx, id)
	if err != nil {
		respondDeskError(w, err)
		return
	}
	respondData(w, http.StatusOK, chat)
}

// DeleteChat leaves the chat's room and removes it with its history.
func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(w, r)
	if !ok {
		return
	}
	if err := h.desk.DeleteChat(r.Context(), id); err != nil {
		respondDeskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SelectChat makes a chat the active one and switches the realtime
// subscription to its room.
func (h *Handler) SelectChat(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(w, r)
	if !ok {
		return
	}
	chat, err := h.desk.SelectChat(r.Context(), id)
	if err != nil {
		respondDeskError(w, err)
		return
	}
	respondData(w, http.StatusOK, chat)
}

// LeaveChat leaves the backend room and closes the chat.
func (h *Handler) LeaveChat(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(w, r)
	if !ok {
		return
	}
	if err := h.desk.LeaveChat(r.Context(), id); err != nil {
		respondDeskError(w, err)
		return
	}
	chat, err := h.desk.Chat(r.Context(), id)
	if err != nil {
		respondDeskError(w, err)
		return
	}
	respondData(w, http.StatusOK, chat)
}

// ListMessages returns a chat's history in order.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(w, r)
	if !ok {
		return
	}
	msgs, err := h.desk.Messages(r.Context(), id)
	if err != nil {
		respondDeskError(w, err)
		return
	}
	respondList(w, msgs)
}

// SendMessage sends a text message to the chat's room.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(w, r)
	if !ok {
		return
	}
	var req SendMessageRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	msg, err := h.desk.SendText(r.Context(), id, req.Text)
	if err != nil {
		respondDeskError(w, err)
		return
	}
	respondData(w, http.StatusCreated, msg)
}

// SendFiles uploads local files to the chat's room.
func (h *Handler) SendFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(w, r)
	if !ok {
		return
	}
	var req SendFilesRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	msgs, err := h.desk.SendFiles(r.Context(), id, req.Paths)
	if err != nil {
		respondDeskError(w, err)
		return
	}
	respondData(w, http.StatusCreated, msgs)
}
