package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/ids"
	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/models"
)

const conversationColumns = `id, org_id, participant_a, participant_b,
	last_message_id, last_message_preview, last_message_at, last_message_sender,
	unread_a, unread_b, archived_a, archived_b, is_active, created_at, updated_at`

const messageColumns = `id, conversation_id, sender_id, recipient_id, content, content_type,
	status, read_at, is_edited, edited_at, is_deleted, deleted_at, deleted_by,
	parent_id, thread_count, metadata, created_at`

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type pgRow interface {
	Scan(dest ...any) error
}

func scanPGConversation(row pgRow) (*models.Conversation, error) {
	c := &models.Conversation{}
	err := row.Scan(
		&c.ID, &c.OrgID, &c.ParticipantA, &c.ParticipantB,
		&c.LastMessageID, &c.LastMessagePreview, &c.LastMessageAt, &c.LastMessageSender,
		&c.UnreadA, &c.UnreadB, &c.ArchivedA, &c.ArchivedB,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func scanPGMessage(row pgRow) (*models.Message, error) {
	m := &models.Message{}
	var metadata []byte
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.Content, &m.ContentType,
		&m.Status, &m.ReadAt, &m.IsEdited, &m.EditedAt, &m.IsDeleted, &m.DeletedAt, &m.DeletedBy,
		&m.ParentID, &m.ThreadCount, &metadata, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// GetOrCreateConversation resolves the canonical conversation for a
// participant pair, creating it on first contact. Concurrent first sends
// from both sides resolve to one row: the insert uses ON CONFLICT DO
// NOTHING and the loser of the race re-fetches the winner's row.
func (s *PostgresStore) GetOrCreateConversation(ctx context.Context, orgID, x, y uuid.UUID) (*models.Conversation, error) {
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
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, org_id, participant_a, participant_b, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (org_id, participant_a, participant_b) DO NOTHING
		RETURNING `+conversationColumns,
		ids.NewConversationID(), orgID, a, b, now)

	conv, err = scanPGConversation(row)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	// Lost the creation race; the other side's row exists now.
	return s.getConversationByPair(ctx, orgID, a, b)
}

func (s *PostgresStore) getConversationByPair(ctx context.Context, orgID, a, b uuid.UUID) (*models.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE org_id = $1 AND participant_a = $2 AND participant_b = $3 AND is_active
	`, orgID, a, b)
	conv, err := scanPGConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrConversationNotFound
	}
	return conv, err
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE id = $1
	`, id)
	conv, err := scanPGConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrConversationNotFound
	}
	return conv, err
}

// ListConversations returns the user's conversations ordered by last
// activity, newest first. Archive visibility is evaluated from the
// requesting participant's own flag only.
func (s *PostgresStore) ListConversations(ctx context.Context, userID uuid.UUID, page, pageSize int, includeArchived bool) ([]models.Conversation, int, error) {
	page, pageSize = normalizePage(page, pageSize)

	const visible = `(participant_a = $1 OR participant_b = $1) AND is_active
		AND ($2 OR (CASE WHEN participant_a = $1 THEN archived_a ELSE archived_b END) = FALSE)`

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversations WHERE `+visible,
		userID, includeArchived).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE `+visible+`
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC
		LIMIT $3 OFFSET $4
	`, userID, includeArchived, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		conv, err := scanPGConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *conv)
	}
	return out, total, rows.Err()
}

// SetConversationArchived flips the requesting participant's archive flag.
func (s *PostgresStore) SetConversationArchived(ctx context.Context, convID, userID uuid.UUID, archived bool) error {
	conv, err := s.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return models.ErrNotParticipant
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE conversations SET
			archived_a = CASE WHEN participant_a = $2 THEN $3 ELSE archived_a END,
			archived_b = CASE WHEN participant_b = $2 THEN $3 ELSE archived_b END,
			updated_at = $4
		WHERE id = $1
	`, convID, userID, archived, time.Now().UTC())
	return err
}

// SendMessage appends to the ledger. The insert, the conversation's
// last-message snapshot, the recipient's unread counter and the parent's
// thread count all commit as one transaction.
func (s *PostgresStore) SendMessage(ctx context.Context, p SendMessageParams) (*models.Message, error) {
	if err := validateSendParams(&p); err != nil {
		return nil, err
	}

	conv, err := s.GetOrCreateConversation(ctx, p.OrgID, p.SenderID, p.RecipientID)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if p.ParentID != nil {
		var parentConv uuid.UUID
		var parentParent *string
		var parentDeleted bool
		err := tx.QueryRow(ctx,
			`SELECT conversation_id, parent_id, is_deleted FROM messages WHERE id = $1`,
			*p.ParentID).Scan(&parentConv, &parentParent, &parentDeleted)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrMessageNotFound
		}
		if err != nil {
			return nil, err
		}
		if parentDeleted || parentConv != conv.ID {
			return nil, models.ErrMessageNotFound
		}
		if parentParent != nil {
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

	metadata := []byte("{}")
	if msg.Metadata != nil {
		metadata, err = json.Marshal(msg.Metadata)
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, recipient_id, content, content_type,
			status, parent_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.RecipientID, msg.Content, msg.ContentType,
		msg.Status, msg.ParentID, metadata, msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE conversations SET
			last_message_id = $2,
			last_message_preview = $3,
			last_message_at = $4,
			last_message_sender = $5,
			unread_a = unread_a + CASE WHEN participant_a = $6 THEN 1 ELSE 0 END,
			unread_b = unread_b + CASE WHEN participant_b = $6 THEN 1 ELSE 0 END,
			updated_at = $4
		WHERE id = $1
	`, conv.ID, msg.ID, previewOf(msg.Content), now, msg.SenderID, msg.RecipientID)
	if err != nil {
		return nil, err
	}

	if p.ParentID != nil {
		_, err = tx.Exec(ctx,
			`UPDATE messages SET thread_count = thread_count + 1 WHERE id = $1`,
			*p.ParentID)
		if err != nil {
			return nil, err
		}
	}

	return msg, tx.Commit(ctx)
}

// GetMessage retrieves a message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanPGMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrMessageNotFound
	}
	return msg, err
}

// EditMessage updates a message's content. Sender-only; deleted messages
// read as not found. Delivery status and counters stay untouched, but the
// conversation snapshot preview follows an edit of the last message.
func (s *PostgresStore) EditMessage(ctx context.Context, id string, editorID uuid.UUID, content string) (*models.Message, error) {
	content = trimContent(content)
	if content == "" {
		return nil, models.ErrEmptyContent
	}
	if len(content) > models.MaxContentLength {
		return nil, models.ErrContentTooLong
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var convID uuid.UUID
	var senderID uuid.UUID
	var deleted bool
	err = tx.QueryRow(ctx,
		`SELECT conversation_id, sender_id, is_deleted FROM messages WHERE id = $1 FOR UPDATE`,
		id).Scan(&convID, &senderID, &deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, models.ErrMessageNotFound
	}
	if senderID != editorID {
		return nil, models.ErrNotSender
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE messages SET content = $2, is_edited = TRUE, edited_at = $3 WHERE id = $1`,
		id, content, now)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE conversations SET last_message_preview = $3, updated_at = $4
		WHERE id = $1 AND last_message_id = $2
	`, convID, id, previewOf(content), now)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanPGMessage(row)
	if err != nil {
		return nil, err
	}
	return msg, tx.Commit(ctx)
}

// DeleteMessage soft-deletes a message. The row lock taken by the initial
// SELECT serializes this against a concurrent MarkMessageRead, so the
// unread decrement is decided from the committed prior status and the
// counter is adjusted exactly once.
func (s *PostgresStore) DeleteMessage(ctx context.Context, id string, requesterID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var convID, senderID, recipientID uuid.UUID
	var status string
	var deleted bool
	err = tx.QueryRow(ctx, `
		SELECT conversation_id, sender_id, recipient_id, status, is_deleted
		FROM messages WHERE id = $1 FOR UPDATE
	`, id).Scan(&convID, &senderID, &recipientID, &status, &deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	if deleted {
		return models.ErrMessageNotFound
	}
	if senderID != requesterID {
		return models.ErrNotSender
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE messages SET is_deleted = TRUE, deleted_at = $2, deleted_by = $3 WHERE id = $1`,
		id, now, requesterID)
	if err != nil {
		return err
	}

	if status != models.StatusRead {
		_, err = tx.Exec(ctx, `
			UPDATE conversations SET
				unread_a = GREATEST(unread_a - CASE WHEN participant_a = $2 THEN 1 ELSE 0 END, 0),
				unread_b = GREATEST(unread_b - CASE WHEN participant_b = $2 THEN 1 ELSE 0 END, 0)
			WHERE id = $1
		`, convID, recipientID)
		if err != nil {
			return err
		}
	}

	// If this was the snapshot message, recompute from the remaining ledger.
	var lastID *string
	err = tx.QueryRow(ctx,
		`SELECT last_message_id FROM conversations WHERE id = $1 FOR UPDATE`,
		convID).Scan(&lastID)
	if err != nil {
		return err
	}
	if lastID != nil && *lastID == id {
		var newID *string
		var newPreview string
		var newAt *time.Time
		var newSender *uuid.UUID
		row := tx.QueryRow(ctx, `
			SELECT id, content, created_at, sender_id FROM messages
			WHERE conversation_id = $1 AND is_deleted = FALSE
			ORDER BY created_at DESC, id DESC LIMIT 1
		`, convID)
		var content string
		var at time.Time
		var sender uuid.UUID
		var prev string
		err = row.Scan(&prev, &content, &at, &sender)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// Ledger emptied; clear the snapshot.
		case err != nil:
			return err
		default:
			newID, newPreview, newAt, newSender = &prev, previewOf(content), &at, &sender
		}

		_, err = tx.Exec(ctx, `
			UPDATE conversations SET
				last_message_id = $2, last_message_preview = $3,
				last_message_at = $4, last_message_sender = $5, updated_at = $6
			WHERE id = $1
		`, convID, newID, newPreview, newAt, newSender, now)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ListMessages returns a chronological page for a participant. Unread
// messages in the page addressed to the requester are marked read in the
// same transaction ("viewing marks read").
func (s *PostgresStore) ListMessages(ctx context.Context, convID, requesterID uuid.UUID, page, pageSize int) ([]models.Message, int, error) {
	page, pageSize = normalizePage(page, pageSize)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback(ctx)

	var pa, pb uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT participant_a, participant_b FROM conversations WHERE id = $1`,
		convID).Scan(&pa, &pb)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, models.ErrConversationNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	if requesterID != pa && requesterID != pb {
		return nil, 0, models.ErrNotParticipant
	}

	var total int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, convID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := tx.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, convID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectPGMessages(rows)
	if err != nil {
		return nil, 0, err
	}

	now := time.Now().UTC()
	marked := 0
	for i := range out {
		m := &out[i]
		if m.RecipientID != requesterID || m.IsDeleted || m.Status == models.StatusRead {
			continue
		}
		did, err := markReadTx(ctx, tx, m.ID, requesterID, now)
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
		if err := decrementUnreadTx(ctx, tx, convID, requesterID, int64(marked)); err != nil {
			return nil, 0, err
		}
	}

	return out, total, tx.Commit(ctx)
}

func collectPGMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		msg, err := scanPGMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

// markReadTx applies the conditional read transition and receipt insert.
// Returns false when the message was already read (idempotent no-op).
func markReadTx(ctx context.Context, tx pgx.Tx, msgID string, userID uuid.UUID, now time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE messages SET status = $3, read_at = $4
		WHERE id = $1 AND recipient_id = $2 AND status <> $3 AND is_deleted = FALSE
	`, msgID, userID, models.StatusRead, now)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO read_receipts (message_id, user_id, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, msgID, userID, now)
	return true, err
}

func decrementUnreadTx(ctx context.Context, tx pgx.Tx, convID, userID uuid.UUID, n int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE conversations SET
			unread_a = GREATEST(unread_a - CASE WHEN participant_a = $2 THEN $3 ELSE 0 END, 0),
			unread_b = GREATEST(unread_b - CASE WHEN participant_b = $2 THEN $3 ELSE 0 END, 0)
		WHERE id = $1
	`, convID, userID, n)
	return err
}

// MarkMessageRead transitions one message to read. Recipient-only and
// idempotent: the decrement is conditional on the transition taking
// effect, so double calls or races with delete never double-adjust.
func (s *PostgresStore) MarkMessageRead(ctx context.Context, id string, userID uuid.UUID) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var convID, recipientID uuid.UUID
	var deleted bool
	err = tx.QueryRow(ctx,
		`SELECT conversation_id, recipient_id, is_deleted FROM messages WHERE id = $1 FOR UPDATE`,
		id).Scan(&convID, &recipientID, &deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, models.ErrMessageNotFound
	}
	if err != nil {
		return false, err
	}
	if deleted {
		return false, models.ErrMessageNotFound
	}
	if recipientID != userID {
		return false, models.ErrNotRecipient
	}

	now := time.Now().UTC()
	did, err := markReadTx(ctx, tx, id, userID, now)
	if err != nil {
		return false, err
	}
	if did {
		if err := decrementUnreadTx(ctx, tx, convID, userID, 1); err != nil {
			return false, err
		}
	}
	return did, tx.Commit(ctx)
}

// MarkConversationRead marks every unread message addressed to the user
// as read in one transaction; receipts and the counter move together.
func (s *PostgresStore) MarkConversationRead(ctx context.Context, convID, userID uuid.UUID) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var pa, pb uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT participant_a, participant_b FROM conversations WHERE id = $1 FOR UPDATE`,
		convID).Scan(&pa, &pb)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, models.ErrConversationNotFound
	}
	if err != nil {
		return 0, err
	}
	if userID != pa && userID != pb {
		return 0, models.ErrNotParticipant
	}

	now := time.Now().UTC()
	rows, err := tx.Query(ctx, `
		UPDATE messages SET status = $3, read_at = $4
		WHERE conversation_id = $1 AND recipient_id = $2 AND status <> $3 AND is_deleted = FALSE
		RETURNING id
	`, convID, userID, models.StatusRead, now)
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
		_, err = tx.Exec(ctx, `
			INSERT INTO read_receipts (message_id, user_id, read_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (message_id, user_id) DO NOTHING
		`, id, userID, now)
		if err != nil {
			return 0, err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE conversations SET
			unread_a = CASE WHEN participant_a = $2 THEN 0 ELSE unread_a END,
			unread_b = CASE WHEN participant_b = $2 THEN 0 ELSE unread_b END
		WHERE id = $1
	`, convID, userID)
	if err != nil {
		return 0, err
	}

	return len(marked), tx.Commit(ctx)
}

// UnreadSummary aggregates unread counters across the user's active
// conversations. Reads denormalized counters only; no ledger scan.
func (s *PostgresStore) UnreadSummary(ctx context.Context, userID uuid.UUID) (*UnreadSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, CASE WHEN participant_a = $1 THEN unread_a ELSE unread_b END AS unread
		FROM conversations
		WHERE (participant_a = $1 OR participant_b = $1) AND is_active
			AND (CASE WHEN participant_a = $1 THEN unread_a ELSE unread_b END) > 0
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := &UnreadSummary{ByConversation: make(map[uuid.UUID]int64)}
	for rows.Next() {
		var id uuid.UUID
		var unread int64
		if err := rows.Scan(&id, &unread); err != nil {
			return nil, err
		}
		summary.ByConversation[id] = unread
		summary.TotalUnread += unread
		summary.ConversationsWithUnread++
	}
	return summary, rows.Err()
}

// RecomputeUnread recalculates both counters from the ledger truth set.
// Administrative repair tool; performs a full per-conversation scan.
func (s *PostgresStore) RecomputeUnread(ctx context.Context, convID uuid.UUID) (*RecomputeResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	res := &RecomputeResult{ConversationID: convID}
	var pa, pb uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT participant_a, participant_b, unread_a, unread_b
		FROM conversations WHERE id = $1 FOR UPDATE
	`, convID).Scan(&pa, &pb, &res.BeforeA, &res.BeforeB)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	const truth = `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND recipient_id = $2 AND status <> $3 AND is_deleted = FALSE`
	if err := tx.QueryRow(ctx, truth, convID, pa, models.StatusRead).Scan(&res.AfterA); err != nil {
		return nil, err
	}
	if err := tx.QueryRow(ctx, truth, convID, pb, models.StatusRead).Scan(&res.AfterB); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE conversations SET unread_a = $2, unread_b = $3 WHERE id = $1`,
		convID, res.AfterA, res.AfterB)
	if err != nil {
		return nil, err
	}

	return res, tx.Commit(ctx)
}

// ToggleReaction inserts the reaction if absent, removes it if present,
// and returns the message's resulting reaction set.
func (s *PostgresStore) ToggleReaction(ctx context.Context, msgID string, userID uuid.UUID, value string) ([]models.Reaction, error) {
	if !models.ValidReaction(value) {
		return nil, models.ErrInvalidReaction
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var pa, pb uuid.UUID
	var deleted bool
	err = tx.QueryRow(ctx, `
		SELECT c.participant_a, c.participant_b, m.is_deleted
		FROM messages m JOIN conversations c ON c.id = m.conversation_id
		WHERE m.id = $1
	`, msgID).Scan(&pa, &pb, &deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, models.ErrMessageNotFound
	}
	if userID != pa && userID != pb {
		return nil, models.ErrNotParticipant
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND value = $3`,
		msgID, userID, value)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO reactions (message_id, user_id, value, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (message_id, user_id, value) DO NOTHING
		`, msgID, userID, value, time.Now().UTC())
		if err != nil {
			return nil, err
		}
	}

	rows, err := tx.Query(ctx, `
		SELECT message_id, user_id, value, created_at FROM reactions
		WHERE message_id = $1 ORDER BY created_at ASC, value ASC
	`, msgID)
	if err != nil {
		return nil, err
	}
	var out []models.Reaction
	for rows.Next() {
		var re models.Reaction
		if err := rows.Scan(&re.MessageID, &re.UserID, &re.Value, &re.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, re)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, tx.Commit(ctx)
}

// SearchMessages runs a scoped substring search over the ledger. The
// participant predicate sits in the query itself, ahead of content
// matching, so a match can never reveal a foreign conversation.
func (s *PostgresStore) SearchMessages(ctx context.Context, p SearchParams) ([]models.Message, error) {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}

	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.recipient_id, m.content, m.content_type,
			m.status, m.read_at, m.is_edited, m.edited_at, m.is_deleted, m.deleted_at, m.deleted_by,
			m.parent_id, m.thread_count, m.metadata, m.created_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.org_id = $1
			AND (c.participant_a = $2 OR c.participant_b = $2)
			AND m.is_deleted = FALSE
			AND m.content ILIKE '%' || $3 || '%'
			AND ($4::uuid IS NULL OR m.conversation_id = $4)
			AND ($5::uuid IS NULL OR m.sender_id = $5)
			AND ($6::timestamptz IS NULL OR m.created_at >= $6)
			AND ($7::timestamptz IS NULL OR m.created_at <= $7)
			AND ($8 = '' OR m.content_type = $8)
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $9
	`, p.OrgID, p.UserID, p.Query, p.ConversationID, p.SenderID, p.From, p.To, p.ContentType, p.Limit)
	if err != nil {
		return nil, err
	}
	return collectPGMessages(rows)
}
