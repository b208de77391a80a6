package store

import (
	"context"
	"fmt"
	"time"
)

type Station struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	CreatedAt time.Time `json:"created_at"`
}

func (db *DB) CreateStation(ctx context.Context, s *Station) error {
	s.CreatedAt = time.Now().UTC()
	id, err := insertID(ctx, db, `INSERT INTO stations (name, address, latitude, longitude, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.Name, s.Address, s.Latitude, s.Longitude, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("create station: %w", err)
	}
	s.ID = id
	return nil
}

func (db *DB) GetStation(ctx context.Context, id int64) (*Station, error) {
	var s Station
	var createdAt any
	err := db.QueryRowContext(ctx, db.Q(`SELECT id, name, address, latitude, longitude, created_at FROM stations WHERE id=?`), id).
		Scan(&s.ID, &s.Name, &s.Address, &s.Latitude, &s.Longitude, &createdAt)
	if err != nil {
		return nil, notFound(err)
	}
	s.CreatedAt = parseTime(createdAt)
	return &s, nil
}

func (db *DB) ListStations(ctx context.Context) ([]*Station, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, address, latitude, longitude, created_at FROM stations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Station
	for rows.Next() {
		var s Station
		var createdAt any
		if err := rows.Scan(&s.ID, &s.Name, &s.Address, &s.Latitude, &s.Longitude, &createdAt); err != nil {
			return nil, err
		}
		s.CreatedAt = parseTime(createdAt)
		out = append(out, &s)
	}
	return out, rows.Err()
}
