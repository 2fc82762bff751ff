package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is the canonical relationship between two participants
// within one organization. The pair is stored in canonical order
// (lower UUID string first) so an unordered pair maps to exactly one row.
type Conversation struct {
	ID           uuid.UUID `json:"id"`
	OrgID        uuid.UUID `json:"organization_id"`
	ParticipantA uuid.UUID `json:"participant_a_id"`
	ParticipantB uuid.UUID `json:"participant_b_id"`

	// Denormalized last-message snapshot, maintained transactionally
	// with every ledger mutation that affects it.
	LastMessageID      *string    `json:"last_message_id,omitempty"`
	LastMessagePreview string     `json:"last_message_preview,omitempty"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	LastMessageSender  *uuid.UUID `json:"last_message_sender,omitempty"`

	// Per-participant unread counters, one per side of the pair.
	UnreadA int64 `json:"-"`
	UnreadB int64 `json:"-"`

	ArchivedA bool `json:"-"`
	ArchivedB bool `json:"-"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// Other returns the participant opposite to userID. The caller must have
// verified participation first.
func (c *Conversation) Other(userID uuid.UUID) uuid.UUID {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// UnreadFor returns the unread counter belonging to userID's side.
func (c *Conversation) UnreadFor(userID uuid.UUID) int64 {
	if c.ParticipantA == userID {
		return c.UnreadA
	}
	return c.UnreadB
}

// ArchivedFor returns the archive flag belonging to userID's side.
func (c *Conversation) ArchivedFor(userID uuid.UUID) bool {
	if c.ParticipantA == userID {
		return c.ArchivedA
	}
	return c.ArchivedB
}

// CanonicalPair orders two participant ids into their canonical
// (participant_a, participant_b) form: lower UUID string first,
// independent of who initiated contact.
func CanonicalPair(x, y uuid.UUID) (uuid.UUID, uuid.UUID) {
	if x.String() <= y.String() {
		return x, y
	}
	return y, x
}
