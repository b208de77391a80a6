package store

import (
	"context"
	"time"
)

type AuditEntry struct {
	ID         int64     `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   int64     `json:"entity_id"`
	Action     string    `json:"action"`
	OldValue   string    `json:"old_value"`
	NewValue   string    `json:"new_value"`
	Actor      string    `json:"actor"`
	CreatedAt  time.Time `json:"created_at"`
}

func (db *DB) AppendAudit(ctx context.Context, entityType string, entityID int64, action, oldValue, newValue, actor string) error {
	_, err := db.ExecContext(ctx, db.Q(`INSERT INTO audit_log (entity_type, entity_id, action, old_value, new_value, actor, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		entityType, entityID, action, oldValue, newValue, actor, time.Now().UTC())
	return err
}

func (db *DB) ListAuditLog(ctx context.Context, limit int) ([]*AuditEntry, error) {
	return db.queryAudit(ctx, `SELECT id, entity_type, entity_id, action, old_value, new_value, actor, created_at FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
}

func (db *DB) ListEntityAudit(ctx context.Context, entityType string, entityID int64) ([]*AuditEntry, error) {
	return db.queryAudit(ctx, `SELECT id, entity_type, entity_id, action, old_value, new_value, actor, created_at FROM audit_log WHERE entity_type=? AND entity_id=? ORDER BY id DESC`, entityType, entityID)
}

func (db *DB) queryAudit(ctx context.Context, query string, args ...any) ([]*AuditEntry, error) {
	rows, err := db.QueryContext(ctx, db.Q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var createdAt any
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.OldValue, &e.NewValue, &e.Actor, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
