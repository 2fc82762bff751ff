package models

import "errors"

// Sentinel errors returned by the store layer. Handlers translate these
// to HTTP status codes; raw storage errors are never sent to clients.
var (
	// Not found: the target is absent or invisible to the requester.
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")

	// Forbidden: the requester is not allowed to perform the operation.
	ErrNotParticipant = errors.New("not a participant of this conversation")
	ErrNotSender      = errors.New("only the sender may modify this message")
	ErrNotRecipient   = errors.New("only the recipient may mark this message read")

	// Validation.
	ErrEmptyContent       = errors.New("content is required")
	ErrContentTooLong     = errors.New("content too long")
	ErrInvalidContentType = errors.New("unsupported content type")
	ErrNestedThread       = errors.New("nested threading not supported")
	ErrInvalidReaction    = errors.New("invalid reaction value")
	ErrSelfMessage        = errors.New("cannot message yourself")
)

// IsNotFound reports whether err is a not-found class error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConversationNotFound) || errors.Is(err, ErrMessageNotFound)
}

// IsForbidden reports whether err is an authorization class error.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrNotParticipant) || errors.Is(err, ErrNotSender) || errors.Is(err, ErrNotRecipient)
}

// IsValidation reports whether err is a validation class error.
func IsValidation(err error) bool {
	switch {
	case errors.Is(err, ErrEmptyContent),
		errors.Is(err, ErrContentTooLong),
		errors.Is(err, ErrInvalidContentType),
		errors.Is(err, ErrNestedThread),
		errors.Is(err, ErrInvalidReaction),
		errors.Is(err, ErrSelfMessage):
		return true
	}
	return false
}
