package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// fkViolation is the SQLSTATE for foreign_key_violation.
const fkViolation = "23503"

// DB is the subset of [pgxpool.Pool] used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

var _ DB = (*pgxpool.Pool)(nil)

// PostgresStore is a Store on PostgreSQL. Ids come from BIGSERIAL columns,
// and the messages foreign key cascades on chat deletion.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to dsn, verifies the connection and runs [Migrate].
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return NewPostgresStore(pool), nil
}

// NewPostgresStore wraps an already migrated connection.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateChat(ctx context.Context, name, model string) (Chat, error) {
	name, err := validateChatName(name)
	if err != nil {
		return Chat{}, err
	}
	const q = `
		INSERT INTO chats (name, model)
		VALUES ($1, $2)
		RETURNING id, created_at`

	c := Chat{Name: name, Model: model}
	if err := s.db.QueryRow(ctx, q, name, model).Scan(&c.ID, &c.CreatedAt); err != nil {
		return Chat{}, persistErr("create chat", err)
	}
	return c, nil
}

func (s *PostgresStore) ListChats(ctx context.Context) ([]Chat, error) {
	const q = `
		SELECT id, name, model, created_at
		FROM   chats
		ORDER  BY created_at DESC, id DESC`

	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, persistErr("list chats", err)
	}
	chats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Chat, error) {
		var c Chat
		err := row.Scan(&c.ID, &c.Name, &c.Model, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return nil, persistErr("list chats", err)
	}
	if chats == nil {
		chats = []Chat{}
	}
	return chats, nil
}

func (s *PostgresStore) DeleteChat(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return persistErr("delete chat", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage inserts only when the chat exists, in one statement. A chat
// deleted between the check and the insert surfaces as an FK violation,
// which is reported as ErrNotFound as well.
func (s *PostgresStore) AppendMessage(ctx context.Context, m NewMessage) (Message, error) {
	if err := validateMessage(m); err != nil {
		return Message{}, err
	}
	const q = `
		INSERT INTO messages (chat_id, sender, content, is_attachment, file_type)
		SELECT $1::bigint, $2::text, $3::text, $4::boolean, $5::text
		WHERE  EXISTS (SELECT 1 FROM chats WHERE id = $1::bigint)
		RETURNING id, created_at`

	msg := Message{
		ChatID:       m.ChatID,
		Sender:       m.Sender,
		Content:      m.Content,
		IsAttachment: m.IsAttachment,
		FileType:     m.FileType,
	}
	err := s.db.QueryRow(ctx, q, m.ChatID, m.Sender, m.Content, m.IsAttachment, m.FileType).
		Scan(&msg.ID, &msg.CreatedAt)
	switch {
	case err == nil:
		return msg, nil
	case errors.Is(err, pgx.ErrNoRows), isFKViolation(err):
		return Message{}, ErrNotFound
	default:
		return Message{}, persistErr("append message", err)
	}
}

func (s *PostgresStore) ListMessages(ctx context.Context, chatID int64) ([]Message, error) {
	const q = `
		SELECT id, chat_id, sender, content, is_attachment, file_type, created_at
		FROM   messages
		WHERE  chat_id = $1
		ORDER  BY created_at ASC, id ASC`

	rows, err := s.db.Query(ctx, q, chatID)
	if err != nil {
		return nil, persistErr("list messages", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		err := row.Scan(&m.ID, &m.ChatID, &m.Sender, &m.Content, &m.IsAttachment, &m.FileType, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, persistErr("list messages", err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

func (s *PostgresStore) SaveSettings(ctx context.Context, in SettingsInput) (int64, error) {
	rec, err := resolveSettings(in)
	if err != nil {
		return 0, err
	}
	const q = `
		INSERT INTO profile_settings
		    (header_color, is_gradient, gradient_color, text_speed, font_size, model, run_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	var id int64
	err = s.db.QueryRow(ctx, q,
		rec.HeaderColor,
		rec.IsGradient,
		rec.GradientColor,
		rec.TextSpeed,
		rec.FontSize,
		rec.Model,
		rec.RunTime,
	).Scan(&id)
	if err != nil {
		return 0, persistErr("save settings", err)
	}
	return id, nil
}

func (s *PostgresStore) LoadSettings(ctx context.Context) (Settings, error) {
	const q = `
		SELECT id, header_color, is_gradient, gradient_color, text_speed, font_size, model, run_time, created_at
		FROM   profile_settings
		ORDER  BY id DESC
		LIMIT  1`

	var rec Settings
	err := s.db.QueryRow(ctx, q).Scan(
		&rec.ID,
		&rec.HeaderColor,
		&rec.IsGradient,
		&rec.GradientColor,
		&rec.TextSpeed,
		&rec.FontSize,
		&rec.Model,
		&rec.RunTime,
		&rec.CreatedAt,
	)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, pgx.ErrNoRows):
		return DefaultSettings(), nil
	default:
		return Settings{}, persistErr("load settings", err)
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return persistErr("ping", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func isFKViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == fkViolation
}
