package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Outbound frame types.
const (
	TypeConnection    = "connection"
	TypeTranscription = "transcription"
	TypeResponse      = "response"
	TypeError         = "error"
)

// Client-visible error messages.
const (
	msgSTTUnavailable = "speech-to-text unavailable"
	msgNoChat         = "no chat selected"
	msgNoModel        = "no model currently loaded"
	msgGeneration     = "generation failed"
	msgEmptyReply     = "model returned an empty reply"
	msgRateLimited    = "rate limit exceeded"
	msgInternal       = "internal error"
)

// ErrInvalidEnvelope is returned by DecodeEnvelope for malformed text frames.
var ErrInvalidEnvelope = errors.New("invalid message")

// EnvelopeError explains why a text frame was rejected. Reason is a fixed
// phrase safe to show to clients; Cause keeps the decoder detail for logs.
type EnvelopeError struct {
	Reason string
	Cause  error
}

func (e *EnvelopeError) Error() string {
	if e.Cause != nil {
		return e.ClientMessage() + ": " + e.Cause.Error()
	}
	return e.ClientMessage()
}

// ClientMessage is the text sent back in the error frame.
func (e *EnvelopeError) ClientMessage() string {
	return ErrInvalidEnvelope.Error() + ": " + e.Reason
}

func (e *EnvelopeError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrInvalidEnvelope}
	}
	return []error{ErrInvalidEnvelope, e.Cause}
}

func rejectEnvelope(reason string, cause error) error {
	return &EnvelopeError{Reason: reason, Cause: cause}
}

// decodeReason maps an encoding/json failure to a fixed phrase.
func decodeReason(err error) string {
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typeErr):
		return "field has the wrong type"
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		return "unknown field"
	default:
		return "malformed JSON"
	}
}

// Frame is anything the gateway sends to a client.
type Frame interface {
	FrameType() string
}

// ConnectionFrame acknowledges a new session.
type ConnectionFrame struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// TranscriptionFrame echoes what was heard in a binary frame. Content may
// be empty.
type TranscriptionFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ResponseFrame carries the generated reply.
type ResponseFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	ChatID  int64  `json:"chatId"`
}

// ErrorFrame reports a failure for one inbound frame. The session stays open.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (ConnectionFrame) FrameType() string    { return TypeConnection }
func (TranscriptionFrame) FrameType() string { return TypeTranscription }
func (ResponseFrame) FrameType() string      { return TypeResponse }
func (ErrorFrame) FrameType() string         { return TypeError }

func connectionFrame(sessionID string) ConnectionFrame {
	return ConnectionFrame{Type: TypeConnection, Status: "connected", Message: "Server Connected", SessionID: sessionID}
}

func transcriptionFrame(text string) TranscriptionFrame {
	return TranscriptionFrame{Type: TypeTranscription, Content: text}
}

func responseFrame(text string, chatID int64) ResponseFrame {
	return ResponseFrame{Type: TypeResponse, Content: text, ChatID: chatID}
}

func errorFrame(msg string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: msg}
}

// Envelope is the JSON body of an inbound text frame.
type Envelope struct {
	Content string
	ChatID  int64
	// IsAudio marks an envelope that only binds ChatID for the binary
	// frame that follows.
	IsAudio bool
}

type wireEnvelope struct {
	Content *string `json:"content"`
	ChatID  *int64  `json:"chatId"`
	IsAudio *bool   `json:"isAudio"`
}

// DecodeEnvelope strictly decodes one text frame. Unknown fields, trailing
// data, a missing or non-positive chatId and a missing content (unless
// isAudio is true) are all rejected with ErrInvalidEnvelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireEnvelope
	if err := dec.Decode(&w); err != nil {
		return Envelope{}, rejectEnvelope(decodeReason(err), err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Envelope{}, rejectEnvelope("trailing data after object", nil)
	}

	var env Envelope
	if w.IsAudio != nil {
		env.IsAudio = *w.IsAudio
	}
	if w.ChatID == nil {
		return Envelope{}, rejectEnvelope("chatId is required", nil)
	}
	if *w.ChatID <= 0 {
		return Envelope{}, rejectEnvelope("chatId must be positive", nil)
	}
	env.ChatID = *w.ChatID
	if w.Content == nil && !env.IsAudio {
		return Envelope{}, rejectEnvelope("content is required", nil)
	}
	if w.Content != nil {
		env.Content = *w.Content
	}
	return env, nil
}
