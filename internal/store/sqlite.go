package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type chatRow struct {
	ID        int64        `gorm:"primaryKey;autoIncrement"`
	Name      string       `gorm:"not null"`
	Model     string       `gorm:"not null;default:''"`
	CreatedAt time.Time    `gorm:"not null;index"`
	Messages  []messageRow `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE"`
}

func (chatRow) TableName() string { return "chats" }

type messageRow struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	ChatID       int64     `gorm:"not null;index:idx_messages_chat_created,priority:1"`
	Sender       string    `gorm:"not null"`
	Content      string    `gorm:"not null;default:''"`
	IsAttachment bool      `gorm:"not null;default:false"`
	FileType     string    `gorm:"not null;default:''"`
	CreatedAt    time.Time `gorm:"not null;index:idx_messages_chat_created,priority:2"`
}

func (messageRow) TableName() string { return "messages" }

type settingsRow struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	HeaderColor   string `gorm:"not null"`
	IsGradient    bool   `gorm:"not null"`
	GradientColor string `gorm:"not null"`
	TextSpeed     string `gorm:"not null"`
	FontSize      int    `gorm:"not null"`
	Model         string `gorm:"not null;default:''"`
	RunTime       string `gorm:"not null"`
	CreatedAt     time.Time
}

func (settingsRow) TableName() string { return "profile_settings" }

// SQLiteStore is a Store on a SQLite file through gorm. The pool is pinned
// to one connection, so transactions serialise all writers.
type SQLiteStore struct {
	db *gorm.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and migrates
// it. Use ":memory:" for a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store: path must not be empty")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: newGormLogger(logger.Warn, 200*time.Millisecond),
		// Timestamps are stored as text and ordered as strings, so every
		// row must carry the same offset.
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.AutoMigrate(&chatRow{}, &messageRow{}, &settingsRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite store: auto migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateChat(ctx context.Context, name, model string) (Chat, error) {
	name, err := validateChatName(name)
	if err != nil {
		return Chat{}, err
	}
	row := chatRow{Name: name, Model: model}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Chat{}, persistErr("create chat", err)
	}
	return row.toChat(), nil
}

func (s *SQLiteStore) ListChats(ctx context.Context) ([]Chat, error) {
	var rows []chatRow
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, persistErr("list chats", err)
	}
	out := make([]Chat, len(rows))
	for i, r := range rows {
		out[i] = r.toChat()
	}
	return out, nil
}

// DeleteChat removes the messages explicitly inside the transaction so the
// cascade holds even on a database opened without foreign key enforcement.
func (s *SQLiteStore) DeleteChat(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&messageRow{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&chatRow{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	default:
		return persistErr("delete chat", err)
	}
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, m NewMessage) (Message, error) {
	if err := validateMessage(m); err != nil {
		return Message{}, err
	}
	row := messageRow{
		ChatID:       m.ChatID,
		Sender:       m.Sender,
		Content:      m.Content,
		IsAttachment: m.IsAttachment,
		FileType:     m.FileType,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&chatRow{}).Where("id = ?", m.ChatID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return tx.Create(&row).Error
	})
	switch {
	case err == nil:
		return row.toMessage(), nil
	case errors.Is(err, ErrNotFound):
		return Message{}, ErrNotFound
	default:
		return Message{}, persistErr("append message", err)
	}
}

func (s *SQLiteStore) ListMessages(ctx context.Context, chatID int64) ([]Message, error) {
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, persistErr("list messages", err)
	}
	out := make([]Message, len(rows))
	for i, r := range rows {
		out[i] = r.toMessage()
	}
	return out, nil
}

func (s *SQLiteStore) SaveSettings(ctx context.Context, in SettingsInput) (int64, error) {
	rec, err := resolveSettings(in)
	if err != nil {
		return 0, err
	}
	row := settingsRow{
		HeaderColor:   rec.HeaderColor,
		IsGradient:    rec.IsGradient,
		GradientColor: rec.GradientColor,
		TextSpeed:     rec.TextSpeed,
		FontSize:      rec.FontSize,
		Model:         rec.Model,
		RunTime:       rec.RunTime,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, persistErr("save settings", err)
	}
	return row.ID, nil
}

func (s *SQLiteStore) LoadSettings(ctx context.Context) (Settings, error) {
	var row settingsRow
	err := s.db.WithContext(ctx).Order("id DESC").Take(&row).Error
	switch {
	case err == nil:
		return Settings{
			ID:            row.ID,
			HeaderColor:   row.HeaderColor,
			IsGradient:    row.IsGradient,
			GradientColor: row.GradientColor,
			TextSpeed:     row.TextSpeed,
			FontSize:      row.FontSize,
			Model:         row.Model,
			RunTime:       row.RunTime,
			CreatedAt:     row.CreatedAt,
		}, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return DefaultSettings(), nil
	default:
		return Settings{}, persistErr("load settings", err)
	}
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return persistErr("ping", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r chatRow) toChat() Chat {
	return Chat{ID: r.ID, Name: r.Name, Model: r.Model, CreatedAt: r.CreatedAt}
}

func (r messageRow) toMessage() Message {
	return Message{
		ID:           r.ID,
		ChatID:       r.ChatID,
		Sender:       r.Sender,
		Content:      r.Content,
		IsAttachment: r.IsAttachment,
		FileType:     r.FileType,
		CreatedAt:    r.CreatedAt,
	}
}
