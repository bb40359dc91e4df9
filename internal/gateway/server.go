// Package gateway implements the websocket session protocol.
//
// Each connection is one [Session]. Text frames carry a JSON envelope with
// a prompt and the chat it belongs to; binary frames carry a WAV clip that
// is transcribed first. Replies come from the active model and both turns
// are persisted before the reply is sent. Frames of one connection are
// handled strictly in order; only the model call itself is serialised
// across connections.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/store"
)

// Generator produces a reply for a prompt. Satisfied by *model.Registry.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Transcriber turns audio into text. Satisfied by *transcribe.Adapter.
type Transcriber interface {
	Ready() bool
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// MessageStore persists conversation turns. Satisfied by every store.Store.
type MessageStore interface {
	AppendMessage(ctx context.Context, m store.NewMessage) (store.Message, error)
}

// Defaults for Config.
const (
	DefaultMaxFrameBytes  = 25 << 20
	DefaultProcessTimeout = 2 * time.Minute
)

// Config tunes the gateway.
type Config struct {
	// MaxFrameBytes is the largest accepted inbound frame.
	MaxFrameBytes int64

	// ProcessTimeout bounds the handling of one frame, including generation.
	ProcessTimeout time.Duration

	// FramesPerSecond and Burst configure the per-session limiter. A zero
	// FramesPerSecond disables limiting.
	FramesPerSecond float64
	Burst           int
}

func (c Config) withDefaults() Config {
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = DefaultProcessTimeout
	}
	if c.FramesPerSecond > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Server accepts websocket connections and runs one Session per
// connection. It tracks live sessions so they can be listed and closed on
// shutdown.
type Server struct {
	cfg  Config
	deps *deps

	mu       sync.Mutex
	sessions map[string]*liveSession
	closing  bool
	wg       sync.WaitGroup
}

type liveSession struct {
	*Session
	conn *websocket.Conn
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.deps.metrics = m }
}

// New creates a Server. stt and st may be nil: audio frames are then
// answered with an error and turns are not persisted.
func New(gen Generator, stt Transcriber, st MessageStore, cfg Config, opts ...Option) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg: cfg,
		deps: &deps{
			gen:     gen,
			stt:     stt,
			store:   st,
			timeout: cfg.ProcessTimeout,
		},
		sessions: make(map[string]*liveSession),
	}
	for _, o := range opts {
		o(s)
	}
	if s.deps.metrics == nil {
		s.deps.metrics = observe.DefaultMetrics()
	}
	return s
}

// ServeHTTP upgrades the request and runs the session until the client
// goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("gateway: websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxFrameBytes)

	var limiter *rate.Limiter
	if s.cfg.FramesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.FramesPerSecond), s.cfg.Burst)
	}
	sess := newSession(uuid.NewString(), r.RemoteAddr, conn, s.deps, limiter)
	s.track(sess, conn)
	defer s.untrack(sess)

	s.run(r.Context(), sess, conn)
}

func (s *Server) run(ctx context.Context, sess *Session, conn *websocket.Conn) {
	m := s.deps.metrics
	m.ActiveSessions.Add(ctx, 1)
	defer m.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	sess.log.Info("gateway: session opened", "remote", sess.remoteAddr)
	defer func() {
		sess.setState(StateClosed)
		sess.log.Info("gateway: session closed", "duration", time.Since(sess.connectedAt))
	}()

	sess.emit(ctx, connectionFrame(sess.id))
	sess.setState(StateAwaitingFrame)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			logReadError(sess.log, err)
			conn.CloseNow()
			return
		}
		sess.handleFrame(ctx, typ, data)
	}
}

func logReadError(log *slog.Logger, err error) {
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure, status == websocket.StatusGoingAway:
	case errors.Is(err, context.Canceled):
	default:
		log.Debug("gateway: read ended", "err", err, "status", status)
	}
}

func (s *Server) track(sess *Session, conn *websocket.Conn) {
	s.mu.Lock()
	s.sessions[sess.id] = &liveSession{Session: sess, conn: conn}
	s.mu.Unlock()
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}

// Sessions returns a snapshot of the live sessions ordered by connect time.
func (s *Server) Sessions() []SessionInfo {
	s.mu.Lock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, ls := range s.sessions {
		out = append(out, ls.Info())
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b SessionInfo) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Shutdown refuses new connections, asks every live session to close and
// waits for their handlers to return. A frame that is being processed is
// allowed to finish. When ctx ends first the remaining connections are
// dropped without a handshake.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	live := make([]*liveSession, 0, len(s.sessions))
	for _, ls := range s.sessions {
		live = append(live, ls)
	}
	s.mu.Unlock()

	if len(live) > 0 {
		slog.Info("gateway: closing sessions", "count", len(live))
	}
	for _, ls := range live {
		go func() {
			_ = ls.conn.Close(websocket.StatusGoingAway, "server shutting down")
		}()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, ls := range live {
			_ = ls.conn.CloseNow()
		}
		return ctx.Err()
	}
}
