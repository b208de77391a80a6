package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"firecore/protocol"
)

var kindTables = map[protocol.EntityKind]string{
	protocol.KindReport:     "reports",
	protocol.KindDispatch:   "dispatches",
	protocol.KindAssignment: "unit_assignments",
	protocol.KindUnit:       "units",
	protocol.KindEscalation: "escalations",
}

func tableFor(kind protocol.EntityKind) (string, error) {
	t, ok := kindTables[kind]
	if !ok {
		return "", fmt.Errorf("store: unknown entity kind %q", kind)
	}
	return t, nil
}

// StatusRow is the lifecycle-relevant slice of any entity row.
type StatusRow struct {
	Status  string
	Version int
}

// Stamp sets a timestamp column as part of a status update.
type Stamp struct {
	Column  string
	IfUnset bool
}

// Assign sets an extra column as part of a status update.
type Assign struct {
	Column string
	Value  any
}

func loadStatus(ctx context.Context, r runner, kind protocol.EntityKind, id int64) (StatusRow, error) {
	table, err := tableFor(kind)
	if err != nil {
		return StatusRow{}, err
	}
	var row StatusRow
	err = r.QueryRowContext(ctx, r.Q(`SELECT status, version FROM `+table+` WHERE id=?`), id).Scan(&row.Status, &row.Version)
	if err != nil {
		return StatusRow{}, notFound(err)
	}
	return row, nil
}

func (db *DB) LoadStatus(ctx context.Context, kind protocol.EntityKind, id int64) (StatusRow, error) {
	return loadStatus(ctx, db, kind, id)
}

func (tx *Tx) LoadStatus(ctx context.Context, kind protocol.EntityKind, id int64) (StatusRow, error) {
	return loadStatus(ctx, tx, kind, id)
}

// UpdateStatus moves an entity to status `to` only if its stored version is
// still expectedVersion, and returns the new version. A stale version yields
// ErrVersionConflict; a missing row yields ErrNotFound.
func (tx *Tx) UpdateStatus(ctx context.Context, kind protocol.EntityKind, id int64, expectedVersion int, to string, at time.Time, stamps []Stamp, extra []Assign) (int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	sets := []string{"status=?", "version=version+1", "updated_at=?"}
	args := []any{to, time.Now().UTC()}
	for _, s := range stamps {
		if s.IfUnset {
			sets = append(sets, fmt.Sprintf("%s=COALESCE(%s, ?)", s.Column, s.Column))
		} else {
			sets = append(sets, s.Column+"=?")
		}
		args = append(args, at)
	}
	for _, a := range extra {
		sets = append(sets, a.Column+"=?")
		args = append(args, a.Value)
	}
	args = append(args, id, expectedVersion)

	query := `UPDATE ` + table + ` SET ` + strings.Join(sets, ", ") + ` WHERE id=? AND version=?`
	res, err := tx.ExecContext(ctx, tx.Q(query), args...)
	if err != nil {
		return 0, fmt.Errorf("update %s status: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		if _, err := tx.LoadStatus(ctx, kind, id); err != nil {
			return 0, err
		}
		return 0, ErrVersionConflict
	}
	return expectedVersion + 1, nil
}
