package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/MrWong99/voxgate/internal/model"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/store"
	"github.com/MrWong99/voxgate/internal/transcribe"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateConnected State = iota
	StateAwaitingFrame
	StateProcessing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAwaitingFrame:
		return "awaiting_frame"
	case StateProcessing:
		return "processing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// writeTimeout bounds a single outbound frame write.
const writeTimeout = 10 * time.Second

// frameWriter is the write half of a websocket connection.
type frameWriter interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// SessionInfo is a snapshot of one live session.
type SessionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
	ChatID      int64     `json:"chatId,omitempty"`
	State       string    `json:"state"`
}

// Session is the per-connection protocol state. Frames are handled one at
// a time, so only the fields read by Info need to be atomic.
type Session struct {
	id          string
	remoteAddr  string
	connectedAt time.Time

	state  atomic.Int32
	chatID atomic.Int64

	out     frameWriter
	deps    *deps
	limiter *rate.Limiter
	log     *slog.Logger
}

// deps are the collaborators shared by every session of a Server.
type deps struct {
	gen     Generator
	stt     Transcriber
	store   MessageStore
	metrics *observe.Metrics
	timeout time.Duration
}

func newSession(id, remoteAddr string, out frameWriter, d *deps, limiter *rate.Limiter) *Session {
	s := &Session{
		id:          id,
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
		out:         out,
		deps:        d,
		limiter:     limiter,
		log:         slog.With("session_id", id),
	}
	s.setState(StateConnected)
	return s
}

// ID returns the session's uuid.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// ChatID returns the last chat id bound by an envelope, or 0.
func (s *Session) ChatID() int64 { return s.chatID.Load() }

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.log.Debug("session state", "from", prev, "to", st)
	}
}

// Info returns a snapshot for listings.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:          s.id,
		RemoteAddr:  s.remoteAddr,
		ConnectedAt: s.connectedAt,
		ChatID:      s.ChatID(),
		State:       s.State().String(),
	}
}

// handleFrame processes one inbound frame on a context detached from the
// connection, so a disconnect does not abort work already started. A panic
// is converted into an error frame.
func (s *Session) handleFrame(connCtx context.Context, typ websocket.MessageType, data []byte) {
	kind := "text"
	if typ == websocket.MessageBinary {
		kind = "binary"
	}
	s.deps.metrics.RecordFrameIn(connCtx, kind)

	if s.limiter != nil && !s.limiter.Allow() {
		s.log.Warn("gateway: frame dropped, rate limit exceeded", "kind", kind)
		s.emit(connCtx, errorFrame(msgRateLimited))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(connCtx), s.deps.timeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "gateway.frame")
	defer span.End()

	s.setState(StateProcessing)
	defer s.setState(StateAwaitingFrame)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("gateway: panic while handling frame", "panic", r, "stack", string(debug.Stack()))
			s.emit(ctx, errorFrame(msgInternal))
		}
	}()

	switch typ {
	case websocket.MessageBinary:
		s.handleAudio(ctx, data)
	default:
		s.handleText(ctx, data)
	}
}

func (s *Session) handleText(ctx context.Context, data []byte) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		s.log.Debug("gateway: rejecting envelope", "err", err)
		msg := ErrInvalidEnvelope.Error()
		var envErr *EnvelopeError
		if errors.As(err, &envErr) {
			msg = envErr.ClientMessage()
		}
		s.emit(ctx, errorFrame(msg))
		return
	}
	s.chatID.Store(env.ChatID)
	if env.IsAudio || env.Content == "" {
		return
	}
	s.respond(ctx, env.ChatID, env.Content)
}

func (s *Session) handleAudio(ctx context.Context, data []byte) {
	if s.deps.stt == nil || !s.deps.stt.Ready() {
		s.emit(ctx, errorFrame(msgSTTUnavailable))
		return
	}
	text, err := s.deps.stt.Transcribe(ctx, data)
	if err != nil {
		s.log.Warn("gateway: transcription failed", "err", err, "bytes", len(data))
		s.emit(ctx, errorFrame(transcriptionFailure(err)))
		return
	}
	s.emit(ctx, transcriptionFrame(text))
	if text == "" {
		return
	}
	chatID := s.ChatID()
	if chatID == 0 {
		s.emit(ctx, errorFrame(msgNoChat))
		return
	}
	s.respond(ctx, chatID, text)
}

func transcriptionFailure(err error) string {
	if errors.Is(err, transcribe.ErrUnavailable) {
		return msgSTTUnavailable
	}
	var te *transcribe.Error
	if errors.As(err, &te) {
		return "transcription failed: " + te.Reason
	}
	return "transcription failed: " + err.Error()
}

// respond generates a reply for prompt, persists both turns and sends the
// reply. Nothing is persisted when generation fails or yields only
// whitespace, so a chat never holds a user turn without its answer.
func (s *Session) respond(ctx context.Context, chatID int64, prompt string) {
	reply, err := s.deps.gen.Generate(ctx, prompt)
	if err != nil {
		if errors.Is(err, model.ErrNoModelLoaded) {
			s.emit(ctx, errorFrame(msgNoModel))
			return
		}
		s.log.Error("gateway: generation failed", "chat_id", chatID, "err", err)
		s.emit(ctx, errorFrame(msgGeneration))
		return
	}
	if strings.TrimSpace(reply) == "" {
		s.log.Warn("gateway: model returned an empty reply", "chat_id", chatID)
		s.emit(ctx, errorFrame(msgEmptyReply))
		return
	}

	s.persist(ctx, store.NewMessage{ChatID: chatID, Sender: "user", Content: prompt})
	s.persist(ctx, store.NewMessage{ChatID: chatID, Sender: "assistant", Content: reply})
	s.emit(ctx, responseFrame(reply, chatID))
}

// persist records one turn. Failures never change what the client sees.
func (s *Session) persist(ctx context.Context, m store.NewMessage) {
	if s.deps.store == nil {
		return
	}
	if _, err := s.deps.store.AppendMessage(ctx, m); err != nil {
		s.deps.metrics.RecordStoreError(ctx, "append_message")
		s.log.Error("gateway: persisting message failed", "chat_id", m.ChatID, "sender", m.Sender, "err", err)
	}
}

// emit writes f to the client. A failed write is logged and dropped; the
// read loop notices a dead connection on its own.
func (s *Session) emit(ctx context.Context, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		s.log.Error("gateway: encoding frame failed", "type", f.FrameType(), "err", err)
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.out.Write(wctx, websocket.MessageText, data); err != nil {
		s.log.Debug("gateway: frame not delivered", "type", f.FrameType(), "err", err)
		return
	}
	s.deps.metrics.RecordFrameOut(ctx, f.FrameType())
}
