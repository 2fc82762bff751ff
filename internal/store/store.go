package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/models"
)

// SendMessageParams carries everything needed to append to the ledger.
type SendMessageParams struct {
	OrgID       uuid.UUID
	SenderID    uuid.UUID
	RecipientID uuid.UUID
	Content     string
	ContentType string
	ParentID    *string
	Metadata    map[string]string
}

// SearchParams scopes a ledger search. Authorization (UserID must be a
// participant) is applied inside the query, before content matching.
type SearchParams struct {
	UserID         uuid.UUID
	OrgID          uuid.UUID
	Query          string
	ConversationID *uuid.UUID
	SenderID       *uuid.UUID
	From           *time.Time
	To             *time.Time
	ContentType    string
	Limit          int
}

// UnreadSummary aggregates a user's unread state across conversations.
type UnreadSummary struct {
	TotalUnread             int64               `json:"total_unread"`
	ConversationsWithUnread int                 `json:"conversations_with_unread"`
	ByConversation          map[uuid.UUID]int64 `json:"by_conversation"`
}

// RecomputeResult reports a counter reconciliation run.
type RecomputeResult struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	BeforeA        int64     `json:"before_a"`
	BeforeB        int64     `json:"before_b"`
	AfterA         int64     `json:"after_a"`
	AfterB         int64     `json:"after_b"`
}

// Drifted reports whether the stored counters disagreed with the ledger.
func (r *RecomputeResult) Drifted() bool {
	return r.BeforeA != r.AfterA || r.BeforeB != r.AfterB
}

// MessageStore defines the interface for persistent storage of
// conversations, messages, receipts and reactions.
// Both PostgresStore and SQLiteStore implement this interface.
type MessageStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Conversation directory
	GetOrCreateConversation(ctx context.Context, orgID, x, y uuid.UUID) (*models.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID, page, pageSize int, includeArchived bool) ([]models.Conversation, int, error)
	SetConversationArchived(ctx context.Context, convID, userID uuid.UUID, archived bool) error

	// Message ledger
	SendMessage(ctx context.Context, p SendMessageParams) (*models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	EditMessage(ctx context.Context, id string, editorID uuid.UUID, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, id string, requesterID uuid.UUID) error
	// ListMessages returns a chronological page and, in the same
	// transaction, marks every unread message in the page addressed to
	// the requester as read.
	ListMessages(ctx context.Context, convID, requesterID uuid.UUID, page, pageSize int) ([]models.Message, int, error)

	// Delivery state
	// MarkMessageRead reports whether the call transitioned the message
	// (false means it was already read: an idempotent no-op).
	MarkMessageRead(ctx context.Context, id string, userID uuid.UUID) (bool, error)
	MarkConversationRead(ctx context.Context, convID, userID uuid.UUID) (int, error)

	// Unread counters
	UnreadSummary(ctx context.Context, userID uuid.UUID) (*UnreadSummary, error)
	RecomputeUnread(ctx context.Context, convID uuid.UUID) (*RecomputeResult, error)

	// Reactions
	ToggleReaction(ctx context.Context, msgID string, userID uuid.UUID, value string) ([]models.Reaction, error)

	// Search
	SearchMessages(ctx context.Context, p SearchParams) ([]models.Message, error)
}
