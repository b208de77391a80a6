package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Escalation struct {
	ID            int64      `json:"id"`
	DispatchID    int64      `json:"dispatch_id"`
	SupportType   string     `json:"support_type"`
	Priority      string     `json:"priority"`
	Description   string     `json:"description"`
	Status        string     `json:"status"`
	Version       int        `json:"version"`
	RequestedAt   time.Time  `json:"requested_at"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	DispatchedAt  *time.Time `json:"dispatched_at,omitempty"`
	ArrivedAt     *time.Time `json:"arrived_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	EstimatedCost *float64   `json:"estimated_cost,omitempty"`
	ActualCost    *float64   `json:"actual_cost,omitempty"`
	ActualMinutes *int       `json:"actual_minutes,omitempty"`
	Summary       string     `json:"summary"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

const escalationSelectCols = `id, dispatch_id, support_type, priority, description, status, version, requested_at, approved_at, dispatched_at, arrived_at, completed_at, cancelled_at, estimated_cost, actual_cost, actual_minutes, summary, created_at, updated_at`

func scanEscalation(row interface{ Scan(...any) error }) (*Escalation, error) {
	var e Escalation
	var requestedAt, approvedAt, dispatchedAt, arrivedAt, completedAt, cancelledAt, createdAt, updatedAt any
	var estCost, actCost sql.NullFloat64
	var actMin sql.NullInt64
	err := row.Scan(&e.ID, &e.DispatchID, &e.SupportType, &e.Priority, &e.Description,
		&e.Status, &e.Version, &requestedAt, &approvedAt, &dispatchedAt, &arrivedAt,
		&completedAt, &cancelledAt, &estCost, &actCost, &actMin, &e.Summary, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.RequestedAt = parseTime(requestedAt)
	e.ApprovedAt = parseTimePtr(approvedAt)
	e.DispatchedAt = parseTimePtr(dispatchedAt)
	e.ArrivedAt = parseTimePtr(arrivedAt)
	e.CompletedAt = parseTimePtr(completedAt)
	e.CancelledAt = parseTimePtr(cancelledAt)
	if estCost.Valid {
		e.EstimatedCost = &estCost.Float64
	}
	if actCost.Valid {
		e.ActualCost = &actCost.Float64
	}
	if actMin.Valid {
		v := int(actMin.Int64)
		e.ActualMinutes = &v
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

// InsertEscalation stores e with version 1. A second escalation for the same
// dispatch fails with a unique violation.
func (tx *Tx) InsertEscalation(ctx context.Context, e *Escalation) error {
	now := time.Now().UTC()
	if e.RequestedAt.IsZero() {
		e.RequestedAt = now
	}
	e.Version = 1
	e.CreatedAt, e.UpdatedAt = now, now
	id, err := insertID(ctx, tx, `INSERT INTO escalations (dispatch_id, support_type, priority, description, status, version, requested_at, estimated_cost, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.DispatchID, e.SupportType, e.Priority, e.Description, e.Status, e.Version, e.RequestedAt, e.EstimatedCost, now, now)
	if err != nil {
		return fmt.Errorf("insert escalation: %w", err)
	}
	e.ID = id
	return nil
}

func (db *DB) GetEscalation(ctx context.Context, id int64) (*Escalation, error) {
	row := db.QueryRowContext(ctx, db.Q(`SELECT `+escalationSelectCols+` FROM escalations WHERE id=?`), id)
	e, err := scanEscalation(row)
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (db *DB) GetEscalationByDispatch(ctx context.Context, dispatchID int64) (*Escalation, error) {
	row := db.QueryRowContext(ctx, db.Q(`SELECT `+escalationSelectCols+` FROM escalations WHERE dispatch_id=?`), dispatchID)
	e, err := scanEscalation(row)
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (db *DB) CountEscalationsByDispatch(ctx context.Context, dispatchID int64) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, db.Q(`SELECT COUNT(*) FROM escalations WHERE dispatch_id=?`), dispatchID).Scan(&n)
	return n, err
}

func (db *DB) ListEscalations(ctx context.Context, status string, limit int) ([]*Escalation, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT `+escalationSelectCols+` FROM escalations WHERE (? = '' OR status = ?) ORDER BY id DESC LIMIT ?`), status, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
