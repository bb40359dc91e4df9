package store

import (
	"context"
	"fmt"
)

const ddlChats = `
CREATE TABLE IF NOT EXISTS chats (
    id          BIGSERIAL    PRIMARY KEY,
    name        TEXT         NOT NULL,
    model       TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chats_created_at
    ON chats (created_at DESC, id DESC);
`

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id             BIGSERIAL    PRIMARY KEY,
    chat_id        BIGINT       NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
    sender         TEXT         NOT NULL,
    content        TEXT         NOT NULL DEFAULT '',
    is_attachment  BOOLEAN      NOT NULL DEFAULT false,
    file_type      TEXT         NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_chat_created
    ON messages (chat_id, created_at, id);
`

const ddlSettings = `
CREATE TABLE IF NOT EXISTS profile_settings (
    id              BIGSERIAL    PRIMARY KEY,
    header_color    TEXT         NOT NULL,
    is_gradient     BOOLEAN      NOT NULL DEFAULT false,
    gradient_color  TEXT         NOT NULL,
    text_speed      TEXT         NOT NULL,
    font_size       INTEGER      NOT NULL,
    model           TEXT         NOT NULL DEFAULT '',
    run_time        TEXT         NOT NULL,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate creates the tables used by PostgresStore. It is idempotent and
// safe to run on every start.
func Migrate(ctx context.Context, db DB) error {
	for _, stmt := range []string{ddlChats, ddlMessages, ddlSettings} {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
