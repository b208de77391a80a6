package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Unit struct {
	ID         int64     `json:"id"`
	UnitNumber string    `json:"unit_number"`
	UnitType   string    `json:"unit_type"`
	StationID  *int64    `json:"station_id,omitempty"`
	Status     string    `json:"status"`
	Version    int       `json:"version"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	DispatchID *int64    `json:"dispatch_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UnitFilter narrows ListUnits; empty fields match everything.
type UnitFilter struct {
	UnitType string
	Status   string
}

const unitSelectCols = `id, unit_number, unit_type, station_id, status, version, latitude, longitude, dispatch_id, created_at, updated_at`

func scanUnit(row interface{ Scan(...any) error }) (*Unit, error) {
	var u Unit
	var stationID, dispatchID sql.NullInt64
	var createdAt, updatedAt any
	err := row.Scan(&u.ID, &u.UnitNumber, &u.UnitType, &stationID, &u.Status, &u.Version,
		&u.Latitude, &u.Longitude, &dispatchID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if stationID.Valid {
		u.StationID = &stationID.Int64
	}
	if dispatchID.Valid {
		u.DispatchID = &dispatchID.Int64
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

func scanUnits(rows *sql.Rows) ([]*Unit, error) {
	var out []*Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (tx *Tx) InsertUnit(ctx context.Context, u *Unit) error {
	now := time.Now().UTC()
	u.Version = 1
	u.CreatedAt, u.UpdatedAt = now, now
	id, err := insertID(ctx, tx, `INSERT INTO units (unit_number, unit_type, station_id, status, version, latitude, longitude, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.UnitNumber, u.UnitType, u.StationID, u.Status, u.Version, u.Latitude, u.Longitude, now, now)
	if err != nil {
		return fmt.Errorf("insert unit: %w", err)
	}
	u.ID = id
	return nil
}

func getUnit(ctx context.Context, r runner, id int64) (*Unit, error) {
	row := r.QueryRowContext(ctx, r.Q(`SELECT `+unitSelectCols+` FROM units WHERE id=?`), id)
	u, err := scanUnit(row)
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

func (db *DB) GetUnit(ctx context.Context, id int64) (*Unit, error) { return getUnit(ctx, db, id) }
func (tx *Tx) GetUnit(ctx context.Context, id int64) (*Unit, error) { return getUnit(ctx, tx, id) }

func (db *DB) ListUnits(ctx context.Context, f UnitFilter) ([]*Unit, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT `+unitSelectCols+` FROM units WHERE (? = '' OR unit_type = ?) AND (? = '' OR status = ?) ORDER BY id`),
		f.UnitType, f.UnitType, f.Status, f.Status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnits(rows)
}

// FindAvailableUnits returns AVAILABLE units of unitType in registry order.
// The result is a snapshot; availability is only confirmed by a reservation write.
func (db *DB) FindAvailableUnits(ctx context.Context, unitType string) ([]*Unit, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT `+unitSelectCols+` FROM units WHERE unit_type=? AND status='AVAILABLE' ORDER BY id`), unitType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnits(rows)
}

// ListUnitsByDispatch returns the units currently held by dispatchID.
func (db *DB) ListUnitsByDispatch(ctx context.Context, dispatchID int64) ([]*Unit, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT `+unitSelectCols+` FROM units WHERE dispatch_id=? ORDER BY id`), dispatchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnits(rows)
}

// UpdateUnitLocation moves a unit without touching its lifecycle version.
func (db *DB) UpdateUnitLocation(ctx context.Context, id int64, lat, lon float64) error {
	res, err := db.ExecContext(ctx, db.Q(`UPDATE units SET latitude=?, longitude=?, updated_at=? WHERE id=?`), lat, lon, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update unit location: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
