package api

import (
	"net/http"
	"strconv"

	"github.com/MrWong99/voxgate/internal/store"
)

type createChatRequest struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

func (h *Handler) createChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	chat, err := h.store.CreateChat(r.Context(), req.Name, req.Model)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *Handler) listChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.store.ListChats(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *Handler) deleteChat(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeErrorMsg(w, http.StatusBadRequest, "chat id must be a positive integer")
		return
	}
	if err := h.store.DeleteChat(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type idResponse struct {
	ID int64 `json:"id"`
}

func (h *Handler) appendMessage(w http.ResponseWriter, r *http.Request) {
	var req store.NewMessage
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	msg, err := h.store.AppendMessage(r.Context(), req)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: msg.ID})
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "chat_id query parameter must be an integer")
		return
	}
	msgs, err := h.store.ListMessages(r.Context(), chatID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
