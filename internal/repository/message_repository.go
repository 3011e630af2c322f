package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/model"
)

const messageColumns = "id, client_id, repair_id, sender_id, sender_role, body, created_at"

// MessageRepo stores chat messages and per-user read cursors.
type MessageRepo struct{ DB *sqlx.DB }

func NewMessageRepo(db *sqlx.DB) *MessageRepo { return &MessageRepo{DB: db} }

// Create inserts m. A retry with the same client id returns the row that
// already exists and created=false. A client id already used by another
// sender or on another repair is ErrInvalidInput.
func (r *MessageRepo) Create(ctx context.Context, m model.Message) (saved model.Message, created bool, err error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO messages (client_id, repair_id, sender_id, sender_role, body, created_at) VALUES (?,?,?,?,?,?)",
		m.ClientID, m.RepairID, m.SenderID, m.SenderRole, m.Body, m.CreatedAt)
	if err != nil {
		if isDuplicate(err) {
			saved, err = r.GetByClientID(ctx, m.ClientID)
			if err != nil {
				return model.Message{}, false, err
			}
			if saved.RepairID != m.RepairID || saved.SenderID != m.SenderID {
				return model.Message{}, false, errors.Wrapf(model.ErrInvalidInput, "client id %q is taken", m.ClientID)
			}
			return saved, false, nil
		}
		return model.Message{}, false, errors.Wrap(err, "insert message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Message{}, false, errors.Wrap(err, "last insert id")
	}
	m.ID = uint64(id)
	return m, true, nil
}

// GetByClientID loads a message by its correlation id.
func (r *MessageRepo) GetByClientID(ctx context.Context, clientID string) (model.Message, error) {
	var m model.Message
	err := r.DB.GetContext(ctx, &m, "SELECT "+messageColumns+" FROM messages WHERE client_id=? LIMIT 1", clientID)
	if err != nil {
		return model.Message{}, notFound(err, "get message")
	}
	return m, nil
}

// ListByRepair returns the thread in display order.
func (r *MessageRepo) ListByRepair(ctx context.Context, repairID string) ([]model.Message, error) {
	out := []model.Message{}
	err := r.DB.SelectContext(ctx, &out,
		"SELECT "+messageColumns+" FROM messages WHERE repair_id=? ORDER BY created_at, id", repairID)
	return out, errors.Wrap(err, "list messages")
}

// MarkRead moves the viewer's cursor to at. Only the viewer's own row is
// touched.
func (r *MessageRepo) MarkRead(ctx context.Context, repairID string, userID uint64, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO chat_last_read (repair_id, user_id, last_read_at) VALUES (?,?,?)
		ON DUPLICATE KEY UPDATE last_read_at=VALUES(last_read_at)`, repairID, userID, at)
	return errors.Wrap(err, "mark read")
}

// LastRead returns the viewer's cursor, or nil when they never read the
// thread.
func (r *MessageRepo) LastRead(ctx context.Context, repairID string, userID uint64) (*time.Time, error) {
	var at time.Time
	err := r.DB.GetContext(ctx, &at,
		"SELECT last_read_at FROM chat_last_read WHERE repair_id=? AND user_id=?", repairID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "last read")
	}
	return &at, nil
}

// CountUnread counts the other party's messages after the viewer's
// cursor, or all of them without a cursor.
func (r *MessageRepo) CountUnread(ctx context.Context, repairID string, userID uint64, viewer model.Role) (int, error) {
	var n int
	err := r.DB.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages m
		LEFT JOIN chat_last_read c ON c.repair_id=m.repair_id AND c.user_id=?
		WHERE m.repair_id=? AND m.sender_role<>? AND (c.last_read_at IS NULL OR m.created_at > c.last_read_at)`,
		userID, repairID, viewer)
	return n, errors.Wrap(err, "count unread")
}
