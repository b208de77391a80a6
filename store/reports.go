package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Report struct {
	ID            int64      `json:"id"`
	ReportNumber  string     `json:"report_number"`
	ReporterName  string     `json:"reporter_name"`
	ReporterPhone string     `json:"reporter_phone"`
	Address       string     `json:"address"`
	Latitude      float64    `json:"latitude"`
	Longitude     float64    `json:"longitude"`
	Description   string     `json:"description"`
	EmergencyType string     `json:"emergency_type"`
	Priority      string     `json:"priority"`
	Status        string     `json:"status"`
	Version       int        `json:"version"`
	ReceivedAt    time.Time  `json:"received_at"`
	DispatchedAt  *time.Time `json:"dispatched_at,omitempty"`
	EnRouteAt     *time.Time `json:"en_route_at,omitempty"`
	ArrivedAt     *time.Time `json:"arrived_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

const reportSelectCols = `id, report_number, reporter_name, reporter_phone, address, latitude, longitude, description, emergency_type, priority, status, version, received_at, dispatched_at, en_route_at, arrived_at, completed_at, cancelled_at, created_at, updated_at`

func scanReport(row interface{ Scan(...any) error }) (*Report, error) {
	var r Report
	var receivedAt, dispatchedAt, enRouteAt, arrivedAt, completedAt, cancelledAt, createdAt, updatedAt any
	err := row.Scan(&r.ID, &r.ReportNumber, &r.ReporterName, &r.ReporterPhone, &r.Address,
		&r.Latitude, &r.Longitude, &r.Description, &r.EmergencyType, &r.Priority,
		&r.Status, &r.Version, &receivedAt, &dispatchedAt, &enRouteAt, &arrivedAt,
		&completedAt, &cancelledAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.ReceivedAt = parseTime(receivedAt)
	r.DispatchedAt = parseTimePtr(dispatchedAt)
	r.EnRouteAt = parseTimePtr(enRouteAt)
	r.ArrivedAt = parseTimePtr(arrivedAt)
	r.CompletedAt = parseTimePtr(completedAt)
	r.CancelledAt = parseTimePtr(cancelledAt)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func scanReports(rows *sql.Rows) ([]*Report, error) {
	var out []*Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertReport stores r with version 1 and sets r.ID.
func (tx *Tx) InsertReport(ctx context.Context, r *Report) error {
	now := time.Now().UTC()
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = now
	}
	r.Version = 1
	r.CreatedAt, r.UpdatedAt = now, now
	id, err := insertID(ctx, tx, `INSERT INTO reports (report_number, reporter_name, reporter_phone, address, latitude, longitude, description, emergency_type, priority, status, version, received_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ReportNumber, r.ReporterName, r.ReporterPhone, r.Address, r.Latitude, r.Longitude,
		r.Description, r.EmergencyType, r.Priority, r.Status, r.Version, r.ReceivedAt, now, now)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	r.ID = id
	return nil
}

func getReport(ctx context.Context, r runner, id int64) (*Report, error) {
	row := r.QueryRowContext(ctx, r.Q(`SELECT `+reportSelectCols+` FROM reports WHERE id=?`), id)
	rep, err := scanReport(row)
	if err != nil {
		return nil, notFound(err)
	}
	return rep, nil
}

func (db *DB) GetReport(ctx context.Context, id int64) (*Report, error) { return getReport(ctx, db, id) }
func (tx *Tx) GetReport(ctx context.Context, id int64) (*Report, error) { return getReport(ctx, tx, id) }

func (db *DB) GetReportByNumber(ctx context.Context, number string) (*Report, error) {
	row := db.QueryRowContext(ctx, db.Q(`SELECT `+reportSelectCols+` FROM reports WHERE report_number=?`), number)
	rep, err := scanReport(row)
	if err != nil {
		return nil, notFound(err)
	}
	return rep, nil
}

// ListReports returns the newest reports first. Empty status or priority
// matches all.
func (db *DB) ListReports(ctx context.Context, status, priority string, limit int) ([]*Report, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT `+reportSelectCols+` FROM reports
		WHERE (? = '' OR status = ?) AND (? = '' OR priority = ?) ORDER BY id DESC LIMIT ?`), status, status, priority, priority, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReports(rows)
}
