package cache

import (
	"time"

	"github.com/plumahq/messaging/internal/model"
)

// UpsertMessage mirrors a message row (idempotent on id). Pending
// optimistic entries are never cached; only server-confirmed messages
// carry stable IDs.
func (db *DB) UpsertMessage(m model.Message) error {
	if m.Pending {
		return nil
	}
	var attURL, attType, attName string
	if m.Attachment != nil {
		attURL, attType, attName = m.Attachment.URL, m.Attachment.Type, m.Attachment.Name
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (id, thread_id, sender_id, body, attachment_url, attachment_type, attachment_name, created_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			attachment_url = excluded.attachment_url,
			attachment_type = excluded.attachment_type,
			attachment_name = excluded.attachment_name`,
		m.ID, m.ThreadID, m.SenderID, m.Text, attURL, attType, attName, m.CreatedAt.UnixMilli(), now)
	return err
}

// Messages returns cached messages for a thread, oldest first.
func (db *DB) Messages(threadID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, thread_id, sender_id, body, attachment_url, attachment_type, attachment_name, created_at
		FROM messages
		WHERE thread_id = ?
		ORDER BY created_at ASC
		LIMIT ?`, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		var (
			m                     model.Message
			attURL, attType, name string
			createdAt             int64
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.Text, &attURL, &attType, &name, &createdAt); err != nil {
			return nil, err
		}
		if attURL != "" {
			m.Attachment = &model.Attachment{URL: attURL, Type: attType, Name: name}
		}
		m.CreatedAt = time.UnixMilli(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
