package store

import (
	"strings"

	"github.com/IIoT-Solutions-SA/p2p-messaging/internal/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100

	previewLength = 120
)

// validateSendParams normalizes and validates a send request.
// Structural checks (parent threading, participation) happen inside the
// send transaction; this covers everything checkable up front.
func validateSendParams(p *SendMessageParams) error {
	p.Content = strings.TrimSpace(p.Content)
	if p.ContentType == "" {
		p.ContentType = models.ContentTypeText
	}
	if !models.ValidContentType(p.ContentType) {
		return models.ErrInvalidContentType
	}
	if p.Content == "" {
		return models.ErrEmptyContent
	}
	if len(p.Content) > models.MaxContentLength {
		return models.ErrContentTooLong
	}
	if p.SenderID == p.RecipientID {
		return models.ErrSelfMessage
	}
	return nil
}

// trimContent normalizes message content before validation.
func trimContent(content string) string {
	return strings.TrimSpace(content)
}

// previewOf truncates content to the snapshot preview length.
func previewOf(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength])
}

// normalizePage clamps pagination parameters.
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
