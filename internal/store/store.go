// Package store persists chats, their messages and the UI settings history.
//
// Three backends implement [Store]: [MemStore] for tests and throwaway
// instances, [PostgresStore] on pgx and [SQLiteStore] on gorm. All of them
// enforce that a message references an existing chat and that deleting a
// chat removes its messages.
package store

import (
	"context"
	"time"
)

// Chat is one conversation.
type Chat struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one turn in a chat. Messages are append-only.
type Message struct {
	ID           int64     `json:"id"`
	ChatID       int64     `json:"chat_id"`
	Sender       string    `json:"sender"`
	Content      string    `json:"content"`
	IsAttachment bool      `json:"is_attachment"`
	FileType     string    `json:"file_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewMessage is the input to AppendMessage.
type NewMessage struct {
	ChatID       int64  `json:"chat_id"`
	Sender       string `json:"sender"`
	Content      string `json:"content"`
	IsAttachment bool   `json:"is_attachment"`
	FileType     string `json:"file_type"`
}

// Settings is one row of the settings history. ID 0 marks the built-in
// defaults returned when nothing has been saved yet.
type Settings struct {
	ID            int64     `json:"id"`
	HeaderColor   string    `json:"headerColor"`
	IsGradient    bool      `json:"isGradient"`
	GradientColor string    `json:"gradientColor"`
	TextSpeed     string    `json:"textSpeed"`
	FontSize      int       `json:"fontSize"`
	Model         string    `json:"model"`
	RunTime       string    `json:"runTime"`
	CreatedAt     time.Time `json:"createdAt"`
}

// SettingsInput carries the fields of a SaveSettings call. Nil fields take
// their value from [DefaultSettings].
type SettingsInput struct {
	HeaderColor   *string `json:"headerColor"`
	IsGradient    *bool   `json:"isGradient"`
	GradientColor *string `json:"gradientColor"`
	TextSpeed     *string `json:"textSpeed"`
	FontSize      *int    `json:"fontSize"`
	Model         *string `json:"model"`
	RunTime       *string `json:"runTime"`
}

// Speed values understood by the client for TextSpeed and RunTime.
const (
	SpeedRealtime = "Realtime"
	SpeedInstant  = "Instant"
)

// DefaultSettings returns the record LoadSettings yields on an empty store.
func DefaultSettings() Settings {
	return Settings{
		HeaderColor:   "#1f2937",
		IsGradient:    false,
		GradientColor: "#3b82f6",
		TextSpeed:     SpeedRealtime,
		FontSize:      16,
		RunTime:       SpeedRealtime,
	}
}

// Store is the persistence contract shared by every backend.
type Store interface {
	// CreateChat inserts a chat. An empty name is a *ValidationError.
	CreateChat(ctx context.Context, name, model string) (Chat, error)

	// ListChats returns all chats, newest first.
	ListChats(ctx context.Context) ([]Chat, error)

	// DeleteChat removes a chat and all of its messages. Returns
	// ErrNotFound for an unknown id.
	DeleteChat(ctx context.Context, id int64) error

	// AppendMessage appends m to its chat. Returns ErrNotFound without
	// writing anything when the chat does not exist.
	AppendMessage(ctx context.Context, m NewMessage) (Message, error)

	// ListMessages returns a chat's messages, oldest first.
	ListMessages(ctx context.Context, chatID int64) ([]Message, error)

	// SaveSettings appends a settings row and returns its id.
	SaveSettings(ctx context.Context, in SettingsInput) (int64, error)

	// LoadSettings returns the most recently saved row, or DefaultSettings.
	LoadSettings(ctx context.Context) (Settings, error)

	Ping(ctx context.Context) error
	Close() error
}
