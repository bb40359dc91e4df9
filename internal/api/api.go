// Package api serves the JSON control surface: model listing and switching,
// chat and message CRUD, and the settings history.
package api

import (
	"context"
	"net/http"

	"github.com/MrWong99/voxgate/internal/gateway"
	"github.com/MrWong99/voxgate/internal/model"
	"github.com/MrWong99/voxgate/internal/store"
)

// Models is the model registry as seen by the API. Satisfied by
// *model.Registry.
type Models interface {
	List(ctx context.Context) ([]model.Descriptor, error)
	Current() (model.Active, bool)
	Params() model.Params
	Switch(ctx context.Context, id string) error
}

// SessionLister reports live websocket sessions. Satisfied by
// *gateway.Server.
type SessionLister interface {
	Sessions() []gateway.SessionInfo
}

// Handler holds the dependencies of every route.
type Handler struct {
	models    Models
	store     store.Store
	sessions  SessionLister
	staticDir string
}

// Option configures a Handler.
type Option func(*Handler)

// WithStaticDir serves a single page app from dir for GET requests that
// match no other route.
func WithStaticDir(dir string) Option {
	return func(h *Handler) { h.staticDir = dir }
}

// WithSessions exposes GET /sessions.
func WithSessions(s SessionLister) Option {
	return func(h *Handler) { h.sessions = s }
}

// New creates a Handler.
func New(models Models, st store.Store, opts ...Option) *Handler {
	h := &Handler{models: models, store: st}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds all routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /models", h.listModels)
	mux.HandleFunc("GET /models/current", h.currentModel)
	mux.HandleFunc("POST /models/switch", h.switchModel)

	mux.HandleFunc("POST /chat", h.createChat)
	mux.HandleFunc("GET /chats", h.listChats)
	mux.HandleFunc("DELETE /chat/{id}", h.deleteChat)
	mux.HandleFunc("POST /chat/message", h.appendMessage)
	mux.HandleFunc("GET /chat/messages", h.listMessages)

	mux.HandleFunc("POST /settings/save", h.saveSettings)
	mux.HandleFunc("GET /settings/load", h.loadSettings)

	if h.sessions != nil {
		mux.HandleFunc("GET /sessions", h.listSessions)
	}
	if h.staticDir != "" {
		mux.Handle("GET /", spaHandler(h.staticDir))
	}
}

func (h *Handler) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Sessions())
}
