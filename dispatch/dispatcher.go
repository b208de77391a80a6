package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"firecore/lifecycle"
	"firecore/protocol"
	"firecore/store"
)

type Config struct {
	UnitCap   int
	ETAOffset time.Duration
	Workers   int
	QueueSize int
}

// Dispatcher bundles planning, assignment, escalation and follow-up behind
// one handle.
type Dispatcher struct {
	*Planner
	Assigner    *Assigner
	Escalator   *Escalator
	Coordinator *Coordinator
	Scheduler   *Scheduler

	db      *store.DB
	machine *lifecycle.Machine
	log     zerolog.Logger
}

func NewDispatcher(db *store.DB, machine *lifecycle.Machine, registry UnitRegistry, ranker Ranker, emitter Emitter, cfg Config, logger zerolog.Logger) *Dispatcher {
	if registry == nil {
		registry = NewSQLRegistry(db, machine)
	}
	scheduler := NewScheduler(cfg.Workers, cfg.QueueSize, logger)
	escalator := NewEscalator(db, machine, logger)
	assigner := NewAssigner(db, machine, registry, ranker, escalator, emitter, AssignerConfig{UnitCap: cfg.UnitCap, ETAOffset: cfg.ETAOffset}, logger)
	return &Dispatcher{
		Planner:     NewPlanner(db, machine, assigner, scheduler, emitter, logger),
		Assigner:    assigner,
		Escalator:   escalator,
		Coordinator: NewCoordinator(db, machine, emitter, logger),
		Scheduler:   scheduler,
		db:          db,
		machine:     machine,
		log:         logger.With().Str("component", "dispatcher").Logger(),
	}
}

func (d *Dispatcher) Start() { d.Scheduler.Start() }
func (d *Dispatcher) Stop()  { d.Scheduler.Stop() }

// Outcome returns the latest assignment outcome for a dispatch.
func (d *Dispatcher) Outcome(dispatchID int64) (Outcome, bool) {
	return d.Scheduler.LastOutcome(dispatchID)
}

// Reassign schedules another assignment run for an open dispatch that holds
// fewer live units than the cap.
func (d *Dispatcher) Reassign(ctx context.Context, dispatchID int64) (*Task, error) {
	disp, err := d.db.GetDispatch(ctx, dispatchID)
	if err != nil {
		return nil, err
	}
	if lifecycle.IsTerminal(protocol.KindDispatch, disp.Status) {
		return nil, fmt.Errorf("%w: dispatch %d is %s", ErrDispatchClosed, dispatchID, disp.Status)
	}
	held, err := d.Assigner.LiveUnits(ctx, dispatchID)
	if err != nil {
		return nil, err
	}
	if held >= d.Assigner.Cap() {
		return nil, fmt.Errorf("%w: dispatch %d holds %d", ErrUnitCapReached, dispatchID, held)
	}
	return d.Schedule(disp), nil
}

// ResumePending schedules assignment for every open dispatch holding no
// live assignment, which covers runs lost to a restart.
func (d *Dispatcher) ResumePending(ctx context.Context) (int, error) {
	pending, err := d.db.ListUnassignedActiveDispatches(ctx)
	if err != nil {
		return 0, err
	}
	for _, disp := range pending {
		d.Schedule(disp)
	}
	if len(pending) > 0 {
		d.log.Info().Int("dispatches", len(pending)).Msg("resumed pending assignment")
	}
	return len(pending), nil
}
