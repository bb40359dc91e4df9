package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemStore is an in-process Store. Every operation runs under one mutex, so
// the existence check in AppendMessage is atomic with the insert.
type MemStore struct {
	mu       sync.Mutex
	now      func() time.Time
	chats    map[int64]Chat
	messages []Message
	settings []Settings

	nextChat, nextMsg, nextSettings int64
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{now: time.Now, chats: make(map[int64]Chat)}
}

func (s *MemStore) CreateChat(_ context.Context, name, model string) (Chat, error) {
	name, err := validateChatName(name)
	if err != nil {
		return Chat{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextChat++
	c := Chat{ID: s.nextChat, Name: name, Model: model, CreatedAt: s.now()}
	s.chats[c.ID] = c
	return c, nil
}

func (s *MemStore) ListChats(context.Context) ([]Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Chat) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

func (s *MemStore) DeleteChat(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[id]; !ok {
		return ErrNotFound
	}
	delete(s.chats, id)
	s.messages = slices.DeleteFunc(s.messages, func(m Message) bool { return m.ChatID == id })
	return nil
}

func (s *MemStore) AppendMessage(_ context.Context, m NewMessage) (Message, error) {
	if err := validateMessage(m); err != nil {
		return Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[m.ChatID]; !ok {
		return Message{}, ErrNotFound
	}
	s.nextMsg++
	msg := Message{
		ID:           s.nextMsg,
		ChatID:       m.ChatID,
		Sender:       m.Sender,
		Content:      m.Content,
		IsAttachment: m.IsAttachment,
		FileType:     m.FileType,
		CreatedAt:    s.now(),
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *MemStore) ListMessages(_ context.Context, chatID int64) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Message{}
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *MemStore) SaveSettings(_ context.Context, in SettingsInput) (int64, error) {
	rec, err := resolveSettings(in)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSettings++
	rec.ID = s.nextSettings
	rec.CreatedAt = s.now()
	s.settings = append(s.settings, rec)
	return rec.ID, nil
}

func (s *MemStore) LoadSettings(context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.settings) == 0 {
		return DefaultSettings(), nil
	}
	return s.settings[len(s.settings)-1], nil
}

func (s *MemStore) Ping(context.Context) error { return nil }
func (s *MemStore) Close() error               { return nil }
