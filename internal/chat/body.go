// Package chat implements the per-repair message thread as seen by one
// participant: optimistic sends reconciled against the persisted row by
// a client correlation id, deduplicated feed echoes, and unread counts
// derived from a read cursor.
package chat

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/model"
)

// ValidateBody trims body and rejects empty or over-long text.
func ValidateBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", errors.Wrap(model.ErrInvalidInput, "message body is empty")
	}
	if n := utf8.RuneCountInString(body); n > model.MaxMessageRunes {
		return "", errors.Wrapf(model.ErrInvalidInput, "message body has %d characters, limit is %d", n, model.MaxMessageRunes)
	}
	return body, nil
}

// Render escapes a stored body for HTML output. Bodies are stored raw so
// every render surface applies its own escaping.
func Render(body string) string {
	return html.EscapeString(body)
}
