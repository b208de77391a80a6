package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"firecore/lifecycle"
	"firecore/protocol"
	"firecore/store"
)

type AssignerConfig struct {
	UnitCap   int
	ETAOffset time.Duration
}

// Assigner reserves units for a dispatch and records their assignments.
type Assigner struct {
	db        *store.DB
	machine   *lifecycle.Machine
	registry  UnitRegistry
	ranker    Ranker
	escalator *Escalator
	emitter   Emitter
	cfg       AssignerConfig
	log       zerolog.Logger
}

func NewAssigner(db *store.DB, machine *lifecycle.Machine, registry UnitRegistry, ranker Ranker, escalator *Escalator, emitter Emitter, cfg AssignerConfig, logger zerolog.Logger) *Assigner {
	if ranker == nil {
		ranker = RegistryOrder{}
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if cfg.UnitCap <= 0 {
		cfg.UnitCap = 3
	}
	return &Assigner{
		db:        db,
		machine:   machine,
		registry:  registry,
		ranker:    ranker,
		escalator: escalator,
		emitter:   emitter,
		cfg:       cfg,
		log:       logger.With().Str("component", "assigner").Logger(),
	}
}

// AssignUnits walks available units of the dispatch's unit type and reserves
// until the dispatch holds cap live units. A dispatch that closes mid-walk
// aborts the run and releases what it reserved.
func (a *Assigner) AssignUnits(ctx context.Context, d *store.Dispatch) Outcome {
	unitType, ok := UnitTypeFor(d.DispatchType)
	if !ok {
		return failure(d.ID, fmt.Errorf("%w: %q", ErrUnsupportedDispatchType, d.DispatchType))
	}
	held, err := a.LiveUnits(ctx, d.ID)
	if err != nil {
		return failure(d.ID, err)
	}
	remaining := a.cfg.UnitCap - held
	if remaining <= 0 {
		a.log.Info().Int64("dispatch_id", d.ID).Int("held", held).Msg("unit cap already reached")
		return Outcome{DispatchID: d.ID, Kind: OutcomeSkipped, Reason: ReasonUnitCap}
	}
	candidates, err := a.registry.FindAvailable(ctx, unitType)
	if err != nil {
		return failure(d.ID, fmt.Errorf("find available %s: %w", unitType, err))
	}
	report, err := a.db.GetReport(ctx, d.ReportID)
	if err != nil {
		return failure(d.ID, fmt.Errorf("load report %d: %w", d.ReportID, err))
	}
	candidates = a.ranker.Rank(d, report, candidates)

	var reserved []*store.Assignment
	for _, u := range candidates {
		if len(reserved) >= remaining {
			break
		}
		if o, stop := a.checkOpen(ctx, d, reserved); stop {
			return o
		}
		ok, _, err := a.registry.TryReserve(ctx, u.ID, u.Version, d.ID)
		if err != nil {
			a.releaseAll(ctx, reserved)
			return failure(d.ID, fmt.Errorf("reserve unit %d: %w", u.ID, err))
		}
		if !ok {
			a.log.Debug().Int64("dispatch_id", d.ID).Int64("unit_id", u.ID).Msg("unit taken, trying next")
			continue
		}
		asg, err := a.createAssignment(ctx, d, u.ID)
		if err != nil {
			if rerr := a.registry.Release(ctx, u.ID, d.ID); rerr != nil {
				a.log.Error().Err(rerr).Int64("unit_id", u.ID).Msg("release after failed assignment")
			}
			if store.IsUniqueViolation(err) {
				continue
			}
			a.releaseAll(ctx, reserved)
			return failure(d.ID, err)
		}
		reserved = append(reserved, asg)
	}
	if o, stop := a.checkOpen(ctx, d, reserved); stop {
		return o
	}

	out := Outcome{DispatchID: d.ID, Kind: OutcomeSuccess, Assignments: reserved}
	if len(reserved) == 0 {
		a.log.Warn().Int64("dispatch_id", d.ID).Str("unit_type", unitType).Msg("no units available")
		a.emitter.EmitUnfulfilled(d.ID)
		out.Kind = OutcomeSkipped
		out.Reason = ReasonNoUnits
	} else {
		a.log.Info().Int64("dispatch_id", d.ID).Int("units", len(reserved)).Msg("units assigned")
	}

	if a.escalator != nil {
		esc, _, err := a.escalator.MaybeEscalate(ctx, d)
		if err != nil {
			a.log.Error().Err(err).Int64("dispatch_id", d.ID).Msg("escalation")
		}
		out.Escalation = esc
	}
	return out
}

// LiveUnits counts the dispatch's assignments that are not yet terminal.
func (a *Assigner) LiveUnits(ctx context.Context, dispatchID int64) (int, error) {
	asgs, err := a.db.ListAssignmentsByDispatch(ctx, dispatchID)
	if err != nil {
		return 0, fmt.Errorf("load assignments for dispatch %d: %w", dispatchID, err)
	}
	n := 0
	for _, asg := range asgs {
		if !lifecycle.IsTerminal(protocol.KindAssignment, asg.Status) {
			n++
		}
	}
	return n, nil
}

// Cap is the most live units one dispatch may hold.
func (a *Assigner) Cap() int { return a.cfg.UnitCap }

// checkOpen re-reads the dispatch. When it has closed, reserved units are
// released and the returned outcome ends the run.
func (a *Assigner) checkOpen(ctx context.Context, d *store.Dispatch, reserved []*store.Assignment) (Outcome, bool) {
	st, err := a.machine.Get(ctx, protocol.KindDispatch, d.ID)
	if err != nil {
		a.releaseAll(ctx, reserved)
		return failure(d.ID, fmt.Errorf("load dispatch %d: %w", d.ID, err)), true
	}
	if !lifecycle.IsTerminal(protocol.KindDispatch, st.Status) {
		return Outcome{}, false
	}
	a.log.Info().Int64("dispatch_id", d.ID).Str("status", st.Status).Int("released", len(reserved)).
		Msg("dispatch closed during assignment")
	a.releaseAll(ctx, reserved)
	return Outcome{DispatchID: d.ID, Kind: OutcomeSkipped, Reason: ReasonCancelled}, true
}

func (a *Assigner) createAssignment(ctx context.Context, d *store.Dispatch, unitID int64) (*store.Assignment, error) {
	asg := &store.Assignment{
		DispatchID:       d.ID,
		UnitID:           unitID,
		Status:           protocol.DispatchDispatched,
		DispatchedAt:     time.Now().UTC(),
		EstimatedArrival: d.DispatchedAt.Add(a.cfg.ETAOffset),
	}
	_, err := a.machine.Create(ctx, protocol.KindAssignment, func(tx *store.Tx) (int64, string, error) {
		if err := tx.InsertAssignment(ctx, asg); err != nil {
			return 0, "", err
		}
		return asg.ID, asg.Status, nil
	})
	if err != nil {
		return nil, fmt.Errorf("assign unit %d to dispatch %d: %w", unitID, d.ID, err)
	}
	return asg, nil
}

// releaseAll cancels the given assignments and frees their units.
func (a *Assigner) releaseAll(ctx context.Context, reserved []*store.Assignment) {
	for _, asg := range reserved {
		a.Release(ctx, asg)
	}
}

// Release cancels asg and returns its unit to AVAILABLE. Either step may
// already have happened through another path.
func (a *Assigner) Release(ctx context.Context, asg *store.Assignment) {
	if _, err := a.machine.ApplyWithRetry(ctx, protocol.KindAssignment, asg.ID, 0, protocol.DispatchCancelled, nil); err != nil && !errors.Is(err, lifecycle.ErrInvalidTransition) {
		a.log.Error().Err(err).Int64("assignment_id", asg.ID).Msg("cancel assignment")
	}
	if err := a.registry.Release(ctx, asg.UnitID, asg.DispatchID); err != nil && !errors.Is(err, lifecycle.ErrInvalidTransition) {
		a.log.Error().Err(err).Int64("unit_id", asg.UnitID).Msg("release unit")
	}
}
