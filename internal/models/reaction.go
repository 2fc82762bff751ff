package models

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxReactionLength is the maximum reaction value length in runes.
const MaxReactionLength = 32

// Reaction is a per-user reaction on a message. A user may hold several
// distinct values on one message but never duplicates of the same value.
type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Value     string    `json:"reaction"`
	CreatedAt time.Time `json:"created_at"`
}

// ReadReceipt records that a user has read a message. Unique per
// (message_id, user_id).
type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// ValidReaction reports whether v is an acceptable reaction value.
func ValidReaction(v string) bool {
	n := utf8.RuneCountInString(v)
	return n > 0 && n <= MaxReactionLength
}
