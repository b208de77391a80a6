package dispatch

import (
	"context"
	"errors"

	"firecore/lifecycle"
	"firecore/protocol"
	"firecore/store"
)

// UnitRegistry is the boundary to the source of truth for unit availability.
type UnitRegistry interface {
	FindAvailable(ctx context.Context, unitType string) ([]*store.Unit, error)
	// TryReserve moves the unit AVAILABLE -> DISPATCHED for dispatchID if it
	// is still at expectedVersion. ok is false when another writer got there first.
	TryReserve(ctx context.Context, unitID int64, expectedVersion int, dispatchID int64) (ok bool, newVersion int, err error)
	// Release returns the unit to AVAILABLE only while dispatchID still
	// holds it. Releasing a unit owned by someone else is a no-op.
	Release(ctx context.Context, unitID, dispatchID int64) error
}

// SQLRegistry reads the units table and reserves through the state machine.
type SQLRegistry struct {
	db      *store.DB
	machine *lifecycle.Machine
}

func NewSQLRegistry(db *store.DB, machine *lifecycle.Machine) *SQLRegistry {
	return &SQLRegistry{db: db, machine: machine}
}

func (r *SQLRegistry) FindAvailable(ctx context.Context, unitType string) ([]*store.Unit, error) {
	return r.db.FindAvailableUnits(ctx, unitType)
}

func (r *SQLRegistry) TryReserve(ctx context.Context, unitID int64, expectedVersion int, dispatchID int64) (bool, int, error) {
	st, err := r.machine.ApplyRequest(ctx, lifecycle.Request{
		Kind:        protocol.KindUnit,
		ID:          unitID,
		Version:     expectedVersion,
		Target:      protocol.UnitDispatched,
		RequireFrom: protocol.UnitAvailable,
		Extra:       []store.Assign{{Column: "dispatch_id", Value: dispatchID}},
	})
	if errors.Is(err, lifecycle.ErrConcurrentModification) || errors.Is(err, lifecycle.ErrInvalidTransition) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	return true, st.Version, nil
}

var errNotHolder = errors.New("dispatch: unit held by another dispatch")

// Release returns a reserved unit to AVAILABLE if dispatchID is its holder.
func (r *SQLRegistry) Release(ctx context.Context, unitID, dispatchID int64) error {
	_, err := r.machine.ApplyRequestWithRetry(ctx, lifecycle.Request{
		Kind:        protocol.KindUnit,
		ID:          unitID,
		Target:      protocol.UnitAvailable,
		RequireFrom: protocol.UnitDispatched,
		Guard: func(tx *store.Tx) error {
			u, err := tx.GetUnit(ctx, unitID)
			if err != nil {
				return err
			}
			if u.DispatchID == nil || *u.DispatchID != dispatchID {
				return errNotHolder
			}
			return nil
		},
	})
	if errors.Is(err, errNotHolder) || errors.Is(err, lifecycle.ErrInvalidTransition) {
		return nil
	}
	return err
}
