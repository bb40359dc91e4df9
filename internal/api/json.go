package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/store"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMsg(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeJSON strictly decodes a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON object")
	}
	return nil
}

// writeStoreError maps store errors onto status codes. Backend details are
// logged and never sent to the client.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *store.ValidationError
	switch {
	case errors.As(err, &ve):
		writeErrorMsg(w, http.StatusBadRequest, "invalid "+ve.Field+": "+ve.Reason)
	case errors.Is(err, store.ErrNotFound):
		writeErrorMsg(w, http.StatusNotFound, "chat not found")
	default:
		writeInternal(w, r, err)
	}
}

func writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	observe.Logger(r.Context()).Error("api: request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"err", err,
	)
	writeErrorMsg(w, http.StatusInternalServerError, "Internal server error")
}
