package chat

import (
	"time"

	"github.com/iliyamo/repair-sync/internal/model"
)

// CountUnread counts messages from the other party that are newer than
// the viewer's cursor. A nil cursor means the viewer never opened the
// thread, so every message from the other party is unread.
func CountUnread(msgs []model.Message, viewer model.Role, lastReadAt *time.Time) int {
	n := 0
	for _, m := range msgs {
		if m.SenderRole == viewer {
			continue
		}
		if lastReadAt == nil || m.CreatedAt.After(*lastReadAt) {
			n++
		}
	}
	return n
}
