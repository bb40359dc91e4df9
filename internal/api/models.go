package api

import (
	"net/http"
	"time"

	"github.com/MrWong99/voxgate/internal/model"
	"github.com/MrWong99/voxgate/internal/observe"
)

type modelsResponse struct {
	Models []string `json:"models"`
}

func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.models.List(r.Context())
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	ids := make([]string, len(catalog))
	for i, d := range catalog {
		ids[i] = d.ID
	}
	writeJSON(w, http.StatusOK, modelsResponse{Models: ids})
}

type currentResponse struct {
	Model    *string      `json:"model"`
	Params   model.Params `json:"params"`
	LoadedAt *time.Time   `json:"loadedAt"`
}

func (h *Handler) currentModel(w http.ResponseWriter, _ *http.Request) {
	active, ok := h.models.Current()
	if !ok {
		writeJSON(w, http.StatusOK, currentResponse{Params: h.models.Params()})
		return
	}
	writeJSON(w, http.StatusOK, currentResponse{
		Model:    &active.ID,
		Params:   active.Params,
		LoadedAt: &active.LoadedAt,
	})
}

type switchRequest struct {
	Model string `json:"model"`
}

type switchResponse struct {
	Message string `json:"message"`
	Model   string `json:"model"`
}

func (h *Handler) switchModel(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Model == "" {
		writeErrorMsg(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := h.models.Switch(r.Context(), req.Model); err != nil {
		observe.Logger(r.Context()).Warn("api: model switch failed", "model", req.Model, "err", err)
		writeErrorMsg(w, http.StatusBadRequest, "Failed to switch model")
		return
	}
	writeJSON(w, http.StatusOK, switchResponse{Message: "Model switched successfully", Model: req.Model})
}
