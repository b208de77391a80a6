package unitstate

import (
	"time"

	"firecore/store"
)

// UnitState is the board view of one unit.
type UnitState struct {
	ID         int64     `json:"id"`
	UnitNumber string    `json:"unit_number"`
	UnitType   string    `json:"unit_type"`
	StationID  *int64    `json:"station_id,omitempty"`
	Status     string    `json:"status"`
	Version    int       `json:"version"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	DispatchID *int64    `json:"dispatch_id,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func fromUnit(u *store.Unit) *UnitState {
	return &UnitState{
		ID:         u.ID,
		UnitNumber: u.UnitNumber,
		UnitType:   u.UnitType,
		StationID:  u.StationID,
		Status:     u.Status,
		Version:    u.Version,
		Latitude:   u.Latitude,
		Longitude:  u.Longitude,
		DispatchID: u.DispatchID,
		UpdatedAt:  u.UpdatedAt,
	}
}

func (s *UnitState) matches(f store.UnitFilter) bool {
	return (f.UnitType == "" || s.UnitType == f.UnitType) && (f.Status == "" || s.Status == f.Status)
}
