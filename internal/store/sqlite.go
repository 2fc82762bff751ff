package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/ids"
	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/models"
)

// SQLiteStore is the development and test backend. It mirrors
// PostgresStore semantics over a single-writer SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/messaging.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/messaging.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// under concurrent request handling.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		participant_a TEXT NOT NULL,
		participant_b TEXT NOT NULL,
		last_message_id TEXT,
		last_message_preview TEXT NOT NULL DEFAULT '',
		last_message_at DATETIME,
		last_message_sender TEXT,
		unread_a INTEGER NOT NULL DEFAULT 0,
		unread_b INTEGER NOT NULL DEFAULT 0,
		archived_a INTEGER NOT NULL DEFAULT 0,
		archived_b INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (org_id, participant_a, participant_b)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		sender_id TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		content TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT 'text',
		status TEXT NOT NULL DEFAULT 'sent',
		read_at DATETIME,
		is_edited INTEGER NOT NULL DEFAULT 0,
		edited_at DATETIME,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at DATETIME,
		deleted_by TEXT,
		parent_id TEXT REFERENCES messages(id),
		thread_count INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS read_receipts (
		message_id TEXT NOT NULL REFERENCES messages(id),
		user_id TEXT NOT NULL,
		read_at DATETIME NOT NULL,
		PRIMARY KEY (message_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS reactions (
		message_id TEXT NOT NULL REFERENCES messages(id),
		user_id TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (message_id, user_id, value)
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_participant_a ON conversations(participant_a);
	CREATE INDEX IF NOT EXISTS idx_conversations_participant_b ON conversations(participant_b);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type liteRow interface {
	Scan(dest ...any) error
}

func scanLiteConversation(row liteRow) (*models.Conversation, error) {
	c := &models.Conversation{}
	var id, org, pa, pb string
	var lastID, lastSender sql.NullString
	var lastAt sql.NullTime
	err := row.Scan(
		&id, &org, &pa, &pb,
		&lastID, &c.LastMessagePreview, &lastAt, &lastSender,
		&c.UnreadA, &c.UnreadB, &c.ArchivedA, &c.ArchivedB,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if c.OrgID, err = uuid.Parse(org); err != nil {
		return nil, err
	}
	if c.ParticipantA, err = uuid.Parse(pa); err != nil {
		return nil, err
	}
	if c.ParticipantB, err = uuid.Parse(pb); err != nil {
		return nil, err
	}
	if lastID.Valid {
		c.LastMessageID = &lastID.String
	}
	if lastAt.Valid {
		t := lastAt.Time
		c.LastMessageAt = &t
	}
	if lastSender.Valid {
		u, err := uuid.Parse(lastSender.String)
		if err != nil {
			return nil, err
		}
		c.LastMessageSender = &u
	}
	return c, nil
}

func scanLiteMessage(row liteRow) (*models.Message, error) {
	m := &models.Message{}
	var conv, sender, recipient string
	var readAt, editedAt, deletedAt sql.NullTime
	var deletedBy, parentID sql.NullString
	var metadata string
	err := row.Scan(
		&m.ID, &conv, &sender, &recipient, &m.Content, &m.ContentType,
		&m.Status, &readAt, &m.IsEdited, &editedAt, &m.IsDeleted, &deletedAt, &deletedBy,
		&parentID, &m.ThreadCount, &metadata, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if m.ConversationID, err = uuid.Parse(conv); err != nil {
		return nil, err
	}
	if m.SenderID, err = uuid.Parse(sender); err != nil {
		return nil, err
	}
	if m.RecipientID, err = uuid.Parse(recipient); err != nil {
		return nil, err
	}
	if readAt.Valid {
		t := readAt.Time
		m.ReadAt = &t
	}
	if editedAt.Valid {
		t := editedAt.Time
		m.EditedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		m.DeletedAt = &t
	}
	if deletedBy.Valid {
		u, err := uuid.Parse(deletedBy.String)
		if err != nil {
			return nil, err
		}
		m.DeletedBy = &u
	}
	if parentID.Valid {
		m.ParentID = &parentID.String
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableUUID(u *uuid.UUID) any {
	if u == nil {
		return nil
	}
	return u.String()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// GetOrCreateConversation resolves the canonical conversation for a
// participant pair, creating it on first contact. Same create-then-refetch
// conflict handling as the Postgres store.
func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, orgID, x, y uuid.UUID) (*models.Conversation, error) {
	if x == y {
		return nil, models.ErrSelfMessage
	}
	a, b := models.CanonicalPair(x, y)

	conv, err := s.getConversationByPair(ctx, orgID, a, b)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, models.ErrConversationNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (id, org_id, participant_a, participant_b, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, participant_a, participant_b) DO NOTHING
		RETURNING `+conversationColumns,
		ids.NewConversationID().String(), orgID.String(), a.String(), b.String(), now, now)

	conv, err = scanLiteConversation(row)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return s.getConversationByPair(ctx, orgID, a, b)
}

func (s *SQLiteStore) getConversationByPair(ctx context.Context, orgID, a, b uuid.UUID) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE org_id = ? AND participant_a = ? AND participant_b = ? AND is_active = 1
	`, orgID.String(), a.String(), b.String())
	conv, err := scanLiteConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrConversationNotFound
	}
	return conv, err
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id.String())
	conv, err := scanLiteConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrConversationNotFound
	}
	return conv, err
}

// ListConversations returns the user's conversations, newest activity first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID uuid.UUID, page, pageSize int, includeArchived bool) ([]models.Conversation, int, error) {
	page, pageSize = normalizePage(page, pageSize)
	uid := userID.String()

	const visible = `(participant_a = ?1 OR participant_b = ?1) AND is_active = 1
		AND (?2 OR (CASE WHEN participant_a = ?1 THEN archived_a ELSE archived_b END) = 0)`

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE `+visible,
		uid, includeArchived).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE `+visible+`
		ORDER BY last_message_at IS NULL, last_message_at DESC, created_at DESC
		LIMIT ?3 OFFSET ?4
	`, uid, includeArchived, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		conv, err := scanLiteConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *conv)
	}
	return out, total, rows.Err()
}

// SetConversationArchived flips the requesting participant's archive flag.
func (s *SQLiteStore) SetConversationArchived(ctx context.Context, convID, userID uuid.UUID, archived bool) error {
	conv, err := s.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return models.ErrNotParticipant
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE conversations SET
			archived_a = CASE WHEN participant_a = ?2 THEN ?3 ELSE archived_a END,
			archived_b = CASE WHEN participant_b = ?2 THEN ?3 ELSE archived_b END,
			updated_at = ?4
		WHERE id = ?1
	`, convID.String(), userID.String(), archived, time.Now().UTC())
	return err
}

// SendMessage appends to the ledger; see PostgresStore.SendMessage for
// the transactional contract.
func (s *SQLiteStore) SendMessage(ctx context.Context, p SendMessageParams) (*models.Message, error) {
	if err := validateSendParams(&p); err != nil {
		return nil, err
	}

	conv, err := s.GetOrCreateConversation(ctx, p.OrgID, p.SenderID, p.RecipientID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if p.ParentID != nil {
		var parentConv string
		var parentParent sql.NullString
		var parentDeleted bool
		err := tx.QueryRowContext(ctx,
			`SELECT conversation_id, parent_id, is_deleted FROM messages WHERE id = ?`,
			*p.ParentID).Scan(&parentConv, &parentParent, &parentDeleted)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrMessageNotFound
		}
		if err != nil {
			return nil, err
		}
		if parentDeleted || parentConv != conv.ID.String() {
			return nil, models.ErrMessageNotFound
		}
		if parentParent.Valid {
			return nil, models.ErrNestedThread
		}
	}

	now := time.Now().UTC()
	msg := &models.Message{
		ID:             ids.NewMessageID(),
		ConversationID: conv.ID,
		SenderID:       p.SenderID,
		RecipientID:    p.RecipientID,
		Content:        p.Content,
		ContentType:    p.ContentType,
		Status:         models.StatusSent,
		ParentID:       p.ParentID,
		Metadata:       p.Metadata,
		CreatedAt:      now,
	}

	metadata := "{}"
	if msg.Metadata != nil {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return nil, err
		}
		metadata = string(b)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, recipient_id, content, content_type,
			status, parent_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID.String(), msg.SenderID.String(), msg.RecipientID.String(),
		msg.Content, msg.ContentType, msg.Status, nullableString(msg.ParentID), metadata, msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET
			last_message_id = ?2,
			last_message_preview = ?3,
			last_message_at = ?4,
			last_message_sender = ?5,
			unread_a = unread_a + CASE WHEN participant_a = ?6 THEN 1 ELSE 0 END,
			unread_b = unread_b + CASE WHEN participant_b = ?6 THEN 1 ELSE 0 END,
			updated_at = ?4
		WHERE id = ?1
	`, conv.ID.String(), msg.ID, previewOf(msg.Content), now, msg.SenderID.String(), msg.RecipientID.String())
	if err != nil {
		return nil, err
	}

	if p.ParentID != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE messages SET thread_count = thread_count + 1 WHERE id = ?`, *p.ParentID)
		if err != nil {
			return nil, err
		}
	}

	return msg, tx.Commit()
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanLiteMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrMessageNotFound
	}
	return msg, err
}

// EditMessage updates a message's content; sender-only, deleted reads as
// not found.
func (s *SQLiteStore) EditMessage(ctx context.Context, id string, editorID uuid.UUID, content string) (*models.Message, error) {
	content = trimContent(content)
	if content == "" {
		return nil, models.ErrEmptyContent
	}
	if len(content) > models.MaxContentLength {
		return nil, models.ErrContentTooLong
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var convID, senderID string
	var deleted bool
	err = tx.QueryRowContext(ctx,
		`SELECT conversation_id, sender_id, is_deleted FROM messages WHERE id = ?`,
		id).Scan(&convID, &senderID, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, models.ErrMessageNotFound
	}
	if senderID != editorID.String() {
		return nil, models.ErrNotSender
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE messages SET content = ?2, is_edited = 1, edited_at = ?3 WHERE id = ?1`,
		id, content, now)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_preview = ?3, updated_at = ?4
		WHERE id = ?1 AND last_message_id = ?2
	`, convID, id, previewOf(content), now)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanLiteMessage(row)
	if err != nil {
		return nil, err
	}
	return msg, tx.Commit()
}

// DeleteMessage soft-deletes a message with the conditional counter
// adjustment and snapshot recompute.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string, requesterID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var convID, senderID, recipientID, status string
	var deleted bool
	err = tx.QueryRowContext(ctx, `
		SELECT conversation_id, sender_id, recipient_id, status, is_deleted
		FROM messages WHERE id = ?
	`, id).Scan(&convID, &senderID, &recipientID, &status, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	if deleted {
		return models.ErrMessageNotFound
	}
	if senderID != requesterID.String() {
		return models.ErrNotSender
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE messages SET is_deleted = 1, deleted_at = ?2, deleted_by = ?3 WHERE id = ?1`,
		id, now, requesterID.String())
	if err != nil {
		return err
	}

	if status != models.StatusRead {
		_, err = tx.ExecContext(ctx, `
			UPDATE conversations SET
				unread_a = MAX(unread_a - CASE WHEN participant_a = ?2 THEN 1 ELSE 0 END, 0),
				unread_b = MAX(unread_b - CASE WHEN participant_b = ?2 THEN 1 ELSE 0 END, 0)
			WHERE id = ?1
		`, convID, recipientID)
		if err != nil {
			return err
		}
	}

	var lastID sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT last_message_id FROM conversations WHERE id = ?`, convID).Scan(&lastID)
	if err != nil {
		return err
	}
	if lastID.Valid && lastID.String == id {
		var newID, newSender any
		var newPreview string
		var newAt any
		row := tx.QueryRowContext(ctx, `
			SELECT id, content, created_at, sender_id FROM messages
			WHERE conversation_id = ? AND is_deleted = 0
			ORDER BY created_at DESC, id DESC LIMIT 1
		`, convID)
		var prev, content, sender string
		var at time.Time
		err = row.Scan(&prev, &content, &at, &sender)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Ledger emptied; clear the snapshot.
		case err != nil:
			return err
		default:
			newID, newPreview, newAt, newSender = prev, previewOf(content), at, sender
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE conversations SET
				last_message_id = ?2, last_message_preview = ?3,
				last_message_at = ?4, last_message_sender = ?5, updated_at = ?6
			WHERE id = ?1
		`, convID, newID, newPreview, newAt, newSender, now)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListMessages returns a chronological page and marks unread messages in
// it addressed to the requester as read, all in one transaction.
func (s *SQLiteStore) ListMessages(ctx context.Context, convID, requesterID uuid.UUID, page, pageSize int) ([]models.Message, int, error) {
	page, pageSize = normalizePage(page, pageSize)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	var pa, pb string
	err = tx.QueryRowContext(ctx,
		`SELECT participant_a, participant_b FROM conversations WHERE id = ?`,
		convID.String()).Scan(&pa, &pb)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, models.ErrConversationNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	uid := requesterID.String()
	if uid != pa && uid != pb {
		return nil, 0, models.ErrNotParticipant
	}

	var total int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, convID.String()).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?
	`, convID.String(), pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	var out []models.Message
	for rows.Next() {
		msg, err := scanLiteMessage(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		out = append(out, *msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	now := time.Now().UTC()
	marked := 0
	for i := range out {
		m := &out[i]
		if m.RecipientID != requesterID || m.IsDeleted || m.Status == models.StatusRead {
			continue
		}
		did, err := s.markReadTx(ctx, tx, m.ID, requesterID, now)
		if err != nil {
			return nil, 0, err
		}
		if did {
			marked++
			m.Status = models.StatusRead
			m.ReadAt = &now
		}
	}
	if marked > 0 {
		if err := s.decrementUnreadTx(ctx, tx, convID, requesterID, int64(marked)); err != nil {
			return nil, 0, err
		}
	}

	return out, total, tx.Commit()
}

func (s *SQLiteStore) markReadTx(ctx context.Context, tx *sql.Tx, msgID string, userID uuid.UUID, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE messages SET status = ?3, read_at = ?4
		WHERE id = ?1 AND recipient_id = ?2 AND status <> ?3 AND is_deleted = 0
	`, msgID, userID.String(), models.StatusRead, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO read_receipts (message_id, user_id, read_at)
		VALUES (?, ?, ?)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, msgID, userID.String(), now)
	return true, err
}

func (s *SQLiteStore) decrementUnreadTx(ctx context.Context, tx *sql.Tx, convID, userID uuid.UUID, n int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE conversations SET
			unread_a = MAX(unread_a - CASE WHEN participant_a = ?2 THEN ?3 ELSE 0 END, 0),
			unread_b = MAX(unread_b - CASE WHEN participant_b = ?2 THEN ?3 ELSE 0 END, 0)
		WHERE id = ?1
	`, convID.String(), userID.String(), n)
	return err
}

// MarkMessageRead transitions one message to read; idempotent.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, id string, userID uuid.UUID) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var convID, recipientID string
	var deleted bool
	err = tx.QueryRowContext(ctx,
		`SELECT conversation_id, recipient_id, is_deleted FROM messages WHERE id = ?`,
		id).Scan(&convID, &recipientID, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, models.ErrMessageNotFound
	}
	if err != nil {
		return false, err
	}
	if deleted {
		return false, models.ErrMessageNotFound
	}
	if recipientID != userID.String() {
		return false, models.ErrNotRecipient
	}

	conv, err := uuid.Parse(convID)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	did, err := s.markReadTx(ctx, tx, id, userID, now)
	if err != nil {
		return false, err
	}
	if did {
		if err := s.decrementUnreadTx(ctx, tx, conv, userID, 1); err != nil {
			return false, err
		}
	}
	return did, tx.Commit()
}

// MarkConversationRead marks all unread messages addressed to the user.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, convID, userID uuid.UUID) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var pa, pb string
	err = tx.QueryRowContext(ctx,
		`SELECT participant_a, participant_b FROM conversations WHERE id = ?`,
		convID.String()).Scan(&pa, &pb)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, models.ErrConversationNotFound
	}
	if err != nil {
		return 0, err
	}
	uid := userID.String()
	if uid != pa && uid != pb {
		return 0, models.ErrNotParticipant
	}

	now := time.Now().UTC()
	rows, err := tx.QueryContext(ctx, `
		UPDATE messages SET status = ?3, read_at = ?4
		WHERE conversation_id = ?1 AND recipient_id = ?2 AND status <> ?3 AND is_deleted = 0
		RETURNING id
	`, convID.String(), uid, models.StatusRead, now)
	if err != nil {
		return 0, err
	}
	var marked []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		marked = append(marked, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range marked {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO read_receipts (message_id, user_id, read_at)
			VALUES (?, ?, ?)
			ON CONFLICT (message_id, user_id) DO NOTHING
		`, id, uid, now)
		if err != nil {
			return 0, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET
			unread_a = CASE WHEN participant_a = ?2 THEN 0 ELSE unread_a END,
			unread_b = CASE WHEN participant_b = ?2 THEN 0 ELSE unread_b END
		WHERE id = ?1
	`, convID.String(), uid)
	if err != nil {
		return 0, err
	}

	return len(marked), tx.Commit()
}

// UnreadSummary aggregates unread counters across active conversations.
func (s *SQLiteStore) UnreadSummary(ctx context.Context, userID uuid.UUID) (*UnreadSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, CASE WHEN participant_a = ?1 THEN unread_a ELSE unread_b END AS unread
		FROM conversations
		WHERE (participant_a = ?1 OR participant_b = ?1) AND is_active = 1
			AND (CASE WHEN participant_a = ?1 THEN unread_a ELSE unread_b END) > 0
	`, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := &UnreadSummary{ByConversation: make(map[uuid.UUID]int64)}
	for rows.Next() {
		var idStr string
		var unread int64
		if err := rows.Scan(&idStr, &unread); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		summary.ByConversation[id] = unread
		summary.TotalUnread += unread
		summary.ConversationsWithUnread++
	}
	return summary, rows.Err()
}

// RecomputeUnread recalculates both counters from the ledger truth set.
func (s *SQLiteStore) RecomputeUnread(ctx context.Context, convID uuid.UUID) (*RecomputeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res := &RecomputeResult{ConversationID: convID}
	var pa, pb string
	err = tx.QueryRowContext(ctx, `
		SELECT participant_a, participant_b, unread_a, unread_b
		FROM conversations WHERE id = ?
	`, convID.String()).Scan(&pa, &pb, &res.BeforeA, &res.BeforeB)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	const truth = `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND recipient_id = ? AND status <> ? AND is_deleted = 0`
	if err := tx.QueryRowContext(ctx, truth, convID.String(), pa, models.StatusRead).Scan(&res.AfterA); err != nil {
		return nil, err
	}
	if err := tx.QueryRowContext(ctx, truth, convID.String(), pb, models.StatusRead).Scan(&res.AfterB); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET unread_a = ?2, unread_b = ?3 WHERE id = ?1`,
		convID.String(), res.AfterA, res.AfterB)
	if err != nil {
		return nil, err
	}

	return res, tx.Commit()
}

// ToggleReaction inserts or removes the reaction and returns the set.
func (s *SQLiteStore) ToggleReaction(ctx context.Context, msgID string, userID uuid.UUID, value string) ([]models.Reaction, error) {
	if !models.ValidReaction(value) {
		return nil, models.ErrInvalidReaction
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var pa, pb string
	var deleted bool
	err = tx.QueryRowContext(ctx, `
		SELECT c.participant_a, c.participant_b, m.is_deleted
		FROM messages m JOIN conversations c ON c.id = m.conversation_id
		WHERE m.id = ?
	`, msgID).Scan(&pa, &pb, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, models.ErrMessageNotFound
	}
	uid := userID.String()
	if uid != pa && uid != pb {
		return nil, models.ErrNotParticipant
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND value = ?`,
		msgID, uid, value)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reactions (message_id, user_id, value, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (message_id, user_id, value) DO NOTHING
		`, msgID, uid, value, time.Now().UTC())
		if err != nil {
			return nil, err
		}
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT message_id, user_id, value, created_at FROM reactions
		WHERE message_id = ? ORDER BY created_at ASC, value ASC
	`, msgID)
	if err != nil {
		return nil, err
	}
	var out []models.Reaction
	for rows.Next() {
		var re models.Reaction
		var user string
		if err := rows.Scan(&re.MessageID, &user, &re.Value, &re.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if re.UserID, err = uuid.Parse(user); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, re)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, tx.Commit()
}

// SearchMessages runs the scoped substring search; authorization sits in
// the query predicate ahead of content matching.
func (s *SQLiteStore) SearchMessages(ctx context.Context, p SearchParams) ([]models.Message, error) {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.recipient_id, m.content, m.content_type,
			m.status, m.read_at, m.is_edited, m.edited_at, m.is_deleted, m.deleted_at, m.deleted_by,
			m.parent_id, m.thread_count, m.metadata, m.created_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.org_id = ?1
			AND (c.participant_a = ?2 OR c.participant_b = ?2)
			AND m.is_deleted = 0
			AND instr(lower(m.content), lower(?3)) > 0
			AND (?4 IS NULL OR m.conversation_id = ?4)
			AND (?5 IS NULL OR m.sender_id = ?5)
			AND (?6 IS NULL OR m.created_at >= ?6)
			AND (?7 IS NULL OR m.created_at <= ?7)
			AND (?8 = '' OR m.content_type = ?8)
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?9
	`, p.OrgID.String(), p.UserID.String(), p.Query,
		nullableUUID(p.ConversationID), nullableUUID(p.SenderID),
		nullableTime(p.From), nullableTime(p.To), p.ContentType, p.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		msg, err := scanLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}
