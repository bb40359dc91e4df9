package api

import (
	"net/http"

	"github.com/MrWong99/voxgate/internal/store"
)

type saveSettingsResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

func (h *Handler) saveSettings(w http.ResponseWriter, r *http.Request) {
	var in store.SettingsInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	id, err := h.store.SaveSettings(r.Context(), in)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saveSettingsResponse{Message: "Settings saved successfully", ID: id})
}

func (h *Handler) loadSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.LoadSettings(r.Context())
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
