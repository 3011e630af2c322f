package model

import "time"

// MaxMessageRunes bounds a chat message body.
const MaxMessageRunes = 2000

// Message mirrors the messages table. ClientID is the correlation id
// generated by the sending client before the row exists.
type Message struct {
	ID         uint64    `db:"id" json:"id"`
	ClientID   string    `db:"client_id" json:"client_id"`
	RepairID   string    `db:"repair_id" json:"repair_id"`
	SenderID   uint64    `db:"sender_id" json:"sender_id"`
	SenderRole Role      `db:"sender_role" json:"sender_role"`
	Body       string    `db:"body" json:"body"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ReadCursor mirrors chat_last_read: one row per (repair, user).
type ReadCursor struct {
	RepairID   string    `db:"repair_id" json:"repair_id"`
	UserID     uint64    `db:"user_id" json:"user_id"`
	LastReadAt time.Time `db:"last_read_at" json:"last_read_at"`
}
