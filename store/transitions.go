package store

import (
	"context"
	"fmt"
	"time"

	"firecore/protocol"
)

// Transition is one committed status change. Creation is recorded with an
// empty FromStatus.
type Transition struct {
	ID           int64               `json:"id"`
	TransitionID string              `json:"transition_id"`
	EntityKind   protocol.EntityKind `json:"entity_kind"`
	EntityID     int64               `json:"entity_id"`
	FromStatus   string              `json:"from_status"`
	ToStatus     string              `json:"to_status"`
	Version      int                 `json:"version"`
	OccurredAt   time.Time           `json:"occurred_at"`
}

// Notice converts the row to its wire form.
func (t *Transition) Notice() protocol.TransitionNotice {
	return protocol.TransitionNotice{
		TransitionID: t.TransitionID,
		EntityKind:   t.EntityKind,
		EntityID:     t.EntityID,
		FromStatus:   t.FromStatus,
		ToStatus:     t.ToStatus,
		Version:      t.Version,
		OccurredAt:   t.OccurredAt,
	}
}

func (tx *Tx) InsertTransition(ctx context.Context, t *Transition) error {
	id, err := insertID(ctx, tx, `INSERT INTO transitions (transition_id, entity_kind, entity_id, from_status, to_status, version, occurred_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.TransitionID, string(t.EntityKind), t.EntityID, t.FromStatus, t.ToStatus, t.Version, t.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	t.ID = id
	return nil
}

const transitionSelectCols = `id, transition_id, entity_kind, entity_id, from_status, to_status, version, occurred_at`

func scanTransition(row interface{ Scan(...any) error }) (*Transition, error) {
	var t Transition
	var kind string
	var occurredAt any
	if err := row.Scan(&t.ID, &t.TransitionID, &kind, &t.EntityID, &t.FromStatus, &t.ToStatus, &t.Version, &occurredAt); err != nil {
		return nil, err
	}
	t.EntityKind = protocol.EntityKind(kind)
	t.OccurredAt = parseTime(occurredAt)
	return &t, nil
}

// ListTransitions pages through the transition log in commit order.
func (db *DB) ListTransitions(ctx context.Context, afterID int64, limit int) ([]*Transition, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT `+transitionSelectCols+` FROM transitions WHERE id > ? ORDER BY id LIMIT ?`), afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Transition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (db *DB) ListEntityTransitions(ctx context.Context, kind protocol.EntityKind, id int64) ([]*Transition, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT `+transitionSelectCols+` FROM transitions WHERE entity_kind=? AND entity_id=? ORDER BY id`), string(kind), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Transition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
