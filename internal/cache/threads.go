package cache

import (
	"strings"
	"time"

	"github.com/plumahq/messaging/internal/model"
)

// UpsertThread mirrors a thread row (idempotent on id). last_message_at
// keeps the newest value so an out-of-order write never regresses the
// cached preview.
func (db *DB) UpsertThread(t model.Thread) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO threads (id, participant_ids, last_message, last_message_at, unread_count, is_request, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			participant_ids = excluded.participant_ids,
			last_message = CASE WHEN excluded.last_message_at >= threads.last_message_at THEN excluded.last_message ELSE threads.last_message END,
			last_message_at = MAX(threads.last_message_at, excluded.last_message_at),
			unread_count = excluded.unread_count,
			is_request = excluded.is_request,
			updated_at = excluded.updated_at`,
		t.ID,
		strings.Join(t.ParticipantIDs, ","),
		t.LastMessage,
		t.LastMessageAt.UnixMilli(),
		t.UnreadCounts[db.selfID],
		t.IsRequest,
		now)
	return err
}

// Threads returns cached threads sorted by last activity, newest first.
func (db *DB) Threads() ([]model.Thread, error) {
	rows, err := db.Query(`
		SELECT id, participant_ids, last_message, last_message_at, unread_count, is_request
		FROM threads
		ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var threads []model.Thread
	for rows.Next() {
		var (
			t            model.Thread
			participants string
			lastAt       int64
			unread       int
		)
		if err := rows.Scan(&t.ID, &participants, &t.LastMessage, &lastAt, &unread, &t.IsRequest); err != nil {
			return nil, err
		}
		if participants != "" {
			t.ParticipantIDs = strings.Split(participants, ",")
		}
		if lastAt > 0 {
			t.LastMessageAt = time.UnixMilli(lastAt)
		}
		t.UnreadCounts = map[string]int{db.selfID: unread}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// DeleteThread drops a thread and its cached messages.
func (db *DB) DeleteThread(threadID string) error {
	if _, err := db.Exec(`DELETE FROM messages WHERE thread_id = ?`, threadID); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM threads WHERE id = ?`, threadID)
	return err
}
