package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"firecore/lifecycle"
	"firecore/protocol"
	"firecore/store"
)

// Statuses the report mirrors from its dispatch.
var reportFollows = map[string]string{
	protocol.DispatchEnRoute:   protocol.ReportEnRoute,
	protocol.DispatchOnScene:   protocol.ReportOnScene,
	protocol.DispatchCompleted: protocol.ReportCompleted,
}

// Statuses the dispatch's units move to.
var unitFollows = map[string]string{
	protocol.DispatchOnScene:   protocol.UnitOnScene,
	protocol.DispatchCompleted: protocol.UnitReturning,
	protocol.DispatchCancelled: protocol.UnitAvailable,
}

// Coordinator propagates committed transitions to related entities: a
// dispatch drags its report, assignments and units along, and a unit leaving
// service ends its assignment.
type Coordinator struct {
	db      *store.DB
	machine *lifecycle.Machine
	emitter Emitter
	log     zerolog.Logger
}

func NewCoordinator(db *store.DB, machine *lifecycle.Machine, emitter Emitter, logger zerolog.Logger) *Coordinator {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Coordinator{db: db, machine: machine, emitter: emitter, log: logger.With().Str("component", "coordinator").Logger()}
}

// HandleTransition reacts to one committed transition. Creation
// transitions are ignored.
func (c *Coordinator) HandleTransition(ctx context.Context, t *store.Transition) error {
	if t.FromStatus == "" {
		return nil
	}
	switch t.EntityKind {
	case protocol.KindDispatch:
		return c.dispatchChanged(ctx, t)
	case protocol.KindUnit:
		return c.unitChanged(ctx, t)
	case protocol.KindAssignment:
		if t.ToStatus == protocol.DispatchOnScene {
			return c.recordArrival(ctx, t)
		}
	}
	return nil
}

func (c *Coordinator) dispatchChanged(ctx context.Context, t *store.Transition) error {
	d, err := c.db.GetDispatch(ctx, t.EntityID)
	if err != nil {
		return err
	}
	if target, ok := reportFollows[t.ToStatus]; ok {
		c.follow(ctx, protocol.KindReport, d.ReportID, target, &t.OccurredAt)
	}

	assignments, err := c.db.ListAssignmentsByDispatch(ctx, d.ID)
	if err != nil {
		return err
	}
	for _, a := range assignments {
		if lifecycle.IsTerminal(protocol.KindAssignment, a.Status) {
			continue
		}
		c.follow(ctx, protocol.KindAssignment, a.ID, t.ToStatus, &t.OccurredAt)
	}

	if target, ok := unitFollows[t.ToStatus]; ok {
		units, err := c.db.ListUnitsByDispatch(ctx, d.ID)
		if err != nil {
			return err
		}
		for _, u := range units {
			c.follow(ctx, protocol.KindUnit, u.ID, target, nil)
		}
	}
	return nil
}

// unitChanged closes the active assignment of a unit that went back to the
// pool or out of service.
func (c *Coordinator) unitChanged(ctx context.Context, t *store.Transition) error {
	switch t.ToStatus {
	case protocol.UnitAvailable, protocol.UnitMaintenance, protocol.UnitOutOfService:
	default:
		return nil
	}
	active, err := c.db.ListActiveAssignmentsByUnit(ctx, t.EntityID)
	if err != nil {
		return err
	}
	for _, a := range active {
		target := protocol.AssignmentUnavailable
		if a.Status == protocol.DispatchOnScene {
			target = protocol.DispatchCompleted
		}
		c.follow(ctx, protocol.KindAssignment, a.ID, target, &t.OccurredAt)
	}
	return nil
}

func (c *Coordinator) recordArrival(ctx context.Context, t *store.Transition) error {
	a, err := c.db.GetAssignment(ctx, t.EntityID)
	if err != nil {
		return err
	}
	arrived := t.OccurredAt
	if a.ActualArrival != nil {
		arrived = *a.ActualArrival
	}
	response := arrived.Sub(a.DispatchedAt)
	departed := a.DispatchedAt
	if a.EnRouteAt != nil {
		departed = *a.EnRouteAt
	}
	travel := arrived.Sub(departed)
	if err := c.db.RecordArrival(ctx, a.ID, arrived, int(response.Minutes()), int(travel.Minutes())); err != nil {
		return err
	}
	c.emitter.EmitUnitArrived(a.DispatchID, a.UnitID, response.Minutes())
	return nil
}

// follow applies target best-effort. Moves the table forbids are expected
// when a related entity already went its own way.
func (c *Coordinator) follow(ctx context.Context, kind protocol.EntityKind, id int64, target string, at *time.Time) {
	_, err := c.machine.ApplyWithRetry(ctx, kind, id, 0, target, at)
	if err == nil {
		return
	}
	if errors.Is(err, lifecycle.ErrInvalidTransition) {
		c.log.Debug().Str("kind", string(kind)).Int64("id", id).Str("to", target).Err(err).Msg("follow skipped")
		return
	}
	c.log.Error().Str("kind", string(kind)).Int64("id", id).Str("to", target).Err(err).Msg("follow failed")
}
