package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Dispatch struct {
	ID             int64      `json:"id"`
	DispatchNumber string     `json:"dispatch_number"`
	ReportID       int64      `json:"report_id"`
	DispatchType   string     `json:"dispatch_type"`
	Priority       string     `json:"priority"`
	Status         string     `json:"status"`
	Version        int        `json:"version"`
	Notes          string     `json:"notes"`
	DispatchedAt   time.Time  `json:"dispatched_at"`
	EnRouteAt      *time.Time `json:"en_route_at,omitempty"`
	ArrivedAt      *time.Time `json:"arrived_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

const dispatchSelectCols = `id, dispatch_number, report_id, dispatch_type, priority, status, version, notes, dispatched_at, en_route_at, arrived_at, completed_at, cancelled_at, created_at, updated_at`

func scanDispatch(row interface{ Scan(...any) error }) (*Dispatch, error) {
	var d Dispatch
	var dispatchedAt, enRouteAt, arrivedAt, completedAt, cancelledAt, createdAt, updatedAt any
	err := row.Scan(&d.ID, &d.DispatchNumber, &d.ReportID, &d.DispatchType, &d.Priority,
		&d.Status, &d.Version, &d.Notes, &dispatchedAt, &enRouteAt, &arrivedAt,
		&completedAt, &cancelledAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	d.DispatchedAt = parseTime(dispatchedAt)
	d.EnRouteAt = parseTimePtr(enRouteAt)
	d.ArrivedAt = parseTimePtr(arrivedAt)
	d.CompletedAt = parseTimePtr(completedAt)
	d.CancelledAt = parseTimePtr(cancelledAt)
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}

func scanDispatches(rows *sql.Rows) ([]*Dispatch, error) {
	var out []*Dispatch
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// InsertDispatch stores d with version 1. A duplicate dispatch number or a
// second active dispatch for the same report fails with a unique violation.
func (tx *Tx) InsertDispatch(ctx context.Context, d *Dispatch) error {
	now := time.Now().UTC()
	if d.DispatchedAt.IsZero() {
		d.DispatchedAt = now
	}
	d.Version = 1
	d.CreatedAt, d.UpdatedAt = now, now
	id, err := insertID(ctx, tx, `INSERT INTO dispatches (dispatch_number, report_id, dispatch_type, priority, status, version, notes, dispatched_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.DispatchNumber, d.ReportID, d.DispatchType, d.Priority, d.Status, d.Version, d.Notes, d.DispatchedAt, now, now)
	if err != nil {
		return fmt.Errorf("insert dispatch: %w", err)
	}
	d.ID = id
	return nil
}

func getDispatch(ctx context.Context, r runner, id int64) (*Dispatch, error) {
	row := r.QueryRowContext(ctx, r.Q(`SELECT `+dispatchSelectCols+` FROM dispatches WHERE id=?`), id)
	d, err := scanDispatch(row)
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

func (db *DB) GetDispatch(ctx context.Context, id int64) (*Dispatch, error) {
	return getDispatch(ctx, db, id)
}

func (tx *Tx) GetDispatch(ctx context.Context, id int64) (*Dispatch, error) {
	return getDispatch(ctx, tx, id)
}

func (db *DB) GetDispatchByNumber(ctx context.Context, number string) (*Dispatch, error) {
	row := db.QueryRowContext(ctx, db.Q(`SELECT `+dispatchSelectCols+` FROM dispatches WHERE dispatch_number=?`), number)
	d, err := scanDispatch(row)
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

// GetActiveDispatchForReport returns the report's non-terminal dispatch.
func (db *DB) GetActiveDispatchForReport(ctx context.Context, reportID int64) (*Dispatch, error) {
	row := db.QueryRowContext(ctx, db.Q(`SELECT `+dispatchSelectCols+` FROM dispatches WHERE report_id=? AND status NOT IN ('COMPLETED', 'CANCELLED')`), reportID)
	d, err := scanDispatch(row)
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

func (db *DB) ListDispatchesByReport(ctx context.Context, reportID int64) ([]*Dispatch, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT `+dispatchSelectCols+` FROM dispatches WHERE report_id=? ORDER BY id`), reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDispatches(rows)
}

// ListDispatches returns the newest dispatches first; an empty status matches all.
func (db *DB) ListDispatches(ctx context.Context, status string, limit int) ([]*Dispatch, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT `+dispatchSelectCols+` FROM dispatches WHERE (? = '' OR status = ?) ORDER BY id DESC LIMIT ?`), status, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDispatches(rows)
}

// ListUnassignedActiveDispatches returns active dispatches holding no
// assignment that is still in progress.
func (db *DB) ListUnassignedActiveDispatches(ctx context.Context) ([]*Dispatch, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT `+dispatchSelectCols+` FROM dispatches d
		WHERE d.status NOT IN ('COMPLETED', 'CANCELLED')
		AND NOT EXISTS (SELECT 1 FROM unit_assignments a WHERE a.dispatch_id = d.id AND a.status NOT IN ('CANCELLED', 'UNAVAILABLE'))
		ORDER BY d.id`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDispatches(rows)
}
