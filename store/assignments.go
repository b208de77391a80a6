package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Assignment struct {
	ID               int64      `json:"id"`
	DispatchID       int64      `json:"dispatch_id"`
	UnitID           int64      `json:"unit_id"`
	Status           string     `json:"status"`
	Version          int        `json:"version"`
	DispatchedAt     time.Time  `json:"dispatched_at"`
	EnRouteAt        *time.Time `json:"en_route_at,omitempty"`
	ArrivedAt        *time.Time `json:"arrived_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	EstimatedArrival time.Time  `json:"estimated_arrival"`
	ActualArrival    *time.Time `json:"actual_arrival,omitempty"`
	ResponseMinutes  *int       `json:"response_minutes,omitempty"`
	TravelMinutes    *int       `json:"travel_minutes,omitempty"`
	TravelDistanceKm *float64   `json:"travel_distance_km,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

const assignmentSelectCols = `id, dispatch_id, unit_id, status, version, dispatched_at, en_route_at, arrived_at, completed_at, cancelled_at, estimated_arrival, actual_arrival, response_minutes, travel_minutes, travel_distance_km, created_at, updated_at`

func scanAssignment(row interface{ Scan(...any) error }) (*Assignment, error) {
	var a Assignment
	var dispatchedAt, enRouteAt, arrivedAt, completedAt, cancelledAt, eta, actual, createdAt, updatedAt any
	var response, travel sql.NullInt64
	var distance sql.NullFloat64
	err := row.Scan(&a.ID, &a.DispatchID, &a.UnitID, &a.Status, &a.Version,
		&dispatchedAt, &enRouteAt, &arrivedAt, &completedAt, &cancelledAt,
		&eta, &actual, &response, &travel, &distance, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	a.DispatchedAt = parseTime(dispatchedAt)
	a.EnRouteAt = parseTimePtr(enRouteAt)
	a.ArrivedAt = parseTimePtr(arrivedAt)
	a.CompletedAt = parseTimePtr(completedAt)
	a.CancelledAt = parseTimePtr(cancelledAt)
	a.EstimatedArrival = parseTime(eta)
	a.ActualArrival = parseTimePtr(actual)
	if response.Valid {
		v := int(response.Int64)
		a.ResponseMinutes = &v
	}
	if travel.Valid {
		v := int(travel.Int64)
		a.TravelMinutes = &v
	}
	if distance.Valid {
		a.TravelDistanceKm = &distance.Float64
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func scanAssignments(rows *sql.Rows) ([]*Assignment, error) {
	var out []*Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertAssignment stores a with version 1. A unit already holding an active
// assignment fails with a unique violation.
func (tx *Tx) InsertAssignment(ctx context.Context, a *Assignment) error {
	now := time.Now().UTC()
	if a.DispatchedAt.IsZero() {
		a.DispatchedAt = now
	}
	a.Version = 1
	a.CreatedAt, a.UpdatedAt = now, now
	id, err := insertID(ctx, tx, `INSERT INTO unit_assignments (dispatch_id, unit_id, status, version, dispatched_at, estimated_arrival, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.DispatchID, a.UnitID, a.Status, a.Version, a.DispatchedAt, a.EstimatedArrival, now, now)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	a.ID = id
	return nil
}

func (db *DB) GetAssignment(ctx context.Context, id int64) (*Assignment, error) {
	row := db.QueryRowContext(ctx, db.Q(`SELECT `+assignmentSelectCols+` FROM unit_assignments WHERE id=?`), id)
	a, err := scanAssignment(row)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (db *DB) ListAssignmentsByDispatch(ctx context.Context, dispatchID int64) ([]*Assignment, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT `+assignmentSelectCols+` FROM unit_assignments WHERE dispatch_id=? ORDER BY id`), dispatchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssignments(rows)
}

// ListActiveAssignmentsByUnit returns in-progress assignments for a unit.
// More than one row would violate unit exclusivity.
func (db *DB) ListActiveAssignmentsByUnit(ctx context.Context, unitID int64) ([]*Assignment, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT `+assignmentSelectCols+` FROM unit_assignments WHERE unit_id=? AND status IN ('DISPATCHED', 'EN_ROUTE', 'ON_SCENE') ORDER BY id`), unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssignments(rows)
}

// RecordArrival stores actual arrival and the derived response/travel minutes.
func (db *DB) RecordArrival(ctx context.Context, id int64, at time.Time, responseMin, travelMin int) error {
	_, err := db.ExecContext(ctx, db.Q(`UPDATE unit_assignments SET actual_arrival=COALESCE(actual_arrival, ?), response_minutes=?, travel_minutes=? WHERE id=?`),
		at, responseMin, travelMin, id)
	if err != nil {
		return fmt.Errorf("record arrival: %w", err)
	}
	return nil
}
