package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id UUID PRIMARY KEY,
	org_id UUID NOT NULL,
	participant_a UUID NOT NULL,
	participant_b UUID NOT NULL,
	last_message_id TEXT,
	last_message_preview TEXT NOT NULL DEFAULT '',
	last_message_at TIMESTAMPTZ,
	last_message_sender UUID,
	unread_a BIGINT NOT NULL DEFAULT 0,
	unread_b BIGINT NOT NULL DEFAULT 0,
	archived_a BOOLEAN NOT NULL DEFAULT FALSE,
	archived_b BOOLEAN NOT NULL DEFAULT FALSE,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT conversations_org_pair UNIQUE (org_id, participant_a, participant_b)
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id UUID NOT NULL REFERENCES conversations(id),
	sender_id UUID NOT NULL,
	recipient_id UUID NOT NULL,
	content TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT 'text',
	status TEXT NOT NULL DEFAULT 'sent',
	read_at TIMESTAMPTZ,
	is_edited BOOLEAN NOT NULL DEFAULT FALSE,
	edited_at TIMESTAMPTZ,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	deleted_at TIMESTAMPTZ,
	deleted_by UUID,
	parent_id TEXT REFERENCES messages(id),
	thread_count BIGINT NOT NULL DEFAULT 0,
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS read_receipts (
	message_id TEXT NOT NULL REFERENCES messages(id),
	user_id UUID NOT NULL,
	read_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (message_id, user_id)
);

CREATE TABLE IF NOT EXISTS reactions (
	message_id TEXT NOT NULL REFERENCES messages(id),
	user_id UUID NOT NULL,
	value TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (message_id, user_id, value)
);

CREATE INDEX IF NOT EXISTS idx_conversations_participant_a ON conversations(participant_a, last_message_at DESC);
CREATE INDEX IF NOT EXISTS idx_conversations_participant_b ON conversations(participant_b, last_message_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(conversation_id, recipient_id)
	WHERE status <> 'read' AND is_deleted = FALSE;
CREATE INDEX IF NOT EXISTS idx_messages_parent ON messages(parent_id) WHERE parent_id IS NOT NULL;
`

// RunMigrations applies the schema. Statements are idempotent so this is
// safe to run on every boot.
func RunMigrations(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, postgresSchema)
	return err
}
