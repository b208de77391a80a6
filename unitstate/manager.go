package unitstate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"firecore/lifecycle"
	"firecore/protocol"
	"firecore/store"
)

var ErrInvalidUnit = errors.New("unitstate: invalid unit")

// Manager provides write-through unit state: SQL first, then the cache.
// The reservation path never reads the cache.
type Manager struct {
	db      *store.DB
	machine *lifecycle.Machine
	cache   Cache
	log     zerolog.Logger
}

// NewManager accepts a nil cache, in which case every read goes to SQL.
func NewManager(db *store.DB, machine *lifecycle.Machine, cache Cache, logger zerolog.Logger) *Manager {
	return &Manager{db: db, machine: machine, cache: cache, log: logger.With().Str("component", "unitstate").Logger()}
}

var knownUnitTypes = map[string]bool{
	protocol.UnitFireEngine:     true,
	protocol.UnitAmbulance:      true,
	protocol.UnitLadderTruck:    true,
	protocol.UnitRescueVehicle:  true,
	protocol.UnitCommandVehicle: true,
	protocol.UnitWaterTanker:    true,
	protocol.UnitFoamTruck:      true,
	protocol.UnitSpecialUnit:    true,
}

// CreateUnit registers an AVAILABLE unit and caches it.
func (m *Manager) CreateUnit(ctx context.Context, u *store.Unit) error {
	if u.UnitNumber == "" {
		return fmt.Errorf("%w: unit number required", ErrInvalidUnit)
	}
	if !knownUnitTypes[u.UnitType] {
		return fmt.Errorf("%w: unknown unit type %q", ErrInvalidUnit, u.UnitType)
	}
	if u.StationID != nil {
		if _, err := m.db.GetStation(ctx, *u.StationID); err != nil {
			return fmt.Errorf("%w: station %d: %v", ErrInvalidUnit, *u.StationID, err)
		}
	}
	u.Status = protocol.UnitAvailable
	_, err := m.machine.Create(ctx, protocol.KindUnit, func(tx *store.Tx) (int64, string, error) {
		if err := tx.InsertUnit(ctx, u); err != nil {
			return 0, "", err
		}
		return u.ID, u.Status, nil
	})
	if err != nil {
		return err
	}
	m.Refresh(ctx, u.ID)
	return nil
}

// UpdateLocation stores a position report.
func (m *Manager) UpdateLocation(ctx context.Context, unitID int64, lat, lon float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: position %f,%f", ErrInvalidUnit, lat, lon)
	}
	if err := m.db.UpdateUnitLocation(ctx, unitID, lat, lon); err != nil {
		return err
	}
	m.Refresh(ctx, unitID)
	return nil
}

// Refresh rewrites the cached entry for a unit from SQL.
func (m *Manager) Refresh(ctx context.Context, unitID int64) {
	if m.cache == nil {
		return
	}
	u, err := m.db.GetUnit(ctx, unitID)
	if err != nil {
		m.log.Error().Err(err).Int64("unit_id", unitID).Msg("refresh cache")
		return
	}
	if err := m.cache.SetUnit(ctx, fromUnit(u)); err != nil {
		m.log.Error().Err(err).Int64("unit_id", unitID).Msg("refresh cache")
	}
}

// GetUnit reads the cache and falls back to SQL.
func (m *Manager) GetUnit(ctx context.Context, unitID int64) (*UnitState, error) {
	if m.cache != nil {
		if s, err := m.cache.GetUnit(ctx, unitID); err == nil && s != nil {
			return s, nil
		}
	}
	u, err := m.db.GetUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	return fromUnit(u), nil
}

// ListUnits returns units ordered by id, preferring the cache.
func (m *Manager) ListUnits(ctx context.Context, f store.UnitFilter) ([]*UnitState, error) {
	if m.cache != nil {
		ids, err := m.cache.GetAllUnitIDs(ctx)
		if err == nil && len(ids) > 0 {
			out := make([]*UnitState, 0, len(ids))
			for _, id := range ids {
				s, err := m.GetUnit(ctx, id)
				if err != nil || !s.matches(f) {
					continue
				}
				out = append(out, s)
			}
			sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
			return out, nil
		}
	}
	units, err := m.db.ListUnits(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]*UnitState, len(units))
	for i, u := range units {
		out[i] = fromUnit(u)
	}
	return out, nil
}

// SyncFromSQL rebuilds the cache from SQL. Called on startup.
func (m *Manager) SyncFromSQL(ctx context.Context) error {
	if m.cache == nil {
		return nil
	}
	if err := m.cache.FlushAll(ctx); err != nil {
		return err
	}
	units, err := m.db.ListUnits(ctx, store.UnitFilter{})
	if err != nil {
		return err
	}
	for _, u := range units {
		if err := m.cache.SetUnit(ctx, fromUnit(u)); err != nil {
			m.log.Error().Err(err).Int64("unit_id", u.ID).Msg("sync unit")
		}
	}
	m.log.Info().Int("units", len(units)).Msg("synced units to cache")
	return nil
}
