package store

import (
	"context"
	"time"
)

type OutboxMessage struct {
	ID        int64
	Topic     string
	Key       string
	MsgType   string
	Payload   []byte
	Retries   int
	CreatedAt time.Time
	SentAt    *time.Time
}

func enqueueOutbox(ctx context.Context, r runner, topic, key, msgType string, payload []byte) error {
	_, err := r.ExecContext(ctx, r.Q(`INSERT INTO outbox (topic, msg_key, msg_type, payload, created_at) VALUES (?, ?, ?, ?, ?)`),
		topic, key, msgType, string(payload), time.Now().UTC())
	return err
}

func (db *DB) EnqueueOutbox(ctx context.Context, topic, key, msgType string, payload []byte) error {
	return enqueueOutbox(ctx, db, topic, key, msgType, payload)
}

// EnqueueOutbox stages a message in the same transaction as the state change
// it announces.
func (tx *Tx) EnqueueOutbox(ctx context.Context, topic, key, msgType string, payload []byte) error {
	return enqueueOutbox(ctx, tx, topic, key, msgType, payload)
}

// ListPendingOutbox returns unsent messages that have not exhausted maxRetries.
func (db *DB) ListPendingOutbox(ctx context.Context, limit, maxRetries int) ([]*OutboxMessage, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT id, topic, msg_key, msg_type, payload, retries, created_at FROM outbox WHERE sent_at IS NULL AND retries < ? ORDER BY id LIMIT ?`), maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []*OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		var payload string
		var createdAt any
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &m.MsgType, &payload, &m.Retries, &createdAt); err != nil {
			return nil, err
		}
		m.Payload = []byte(payload)
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func (db *DB) AckOutbox(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, db.Q(`UPDATE outbox SET sent_at=? WHERE id=?`), time.Now().UTC(), id)
	return err
}

func (db *DB) IncrementOutboxRetries(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, db.Q(`UPDATE outbox SET retries=retries+1 WHERE id=?`), id)
	return err
}

func (db *DB) CountPendingOutbox(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE sent_at IS NULL`).Scan(&n)
	return n, err
}
