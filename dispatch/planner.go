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

const maxNumberAttempts = 10

// Planner turns a received report into a dispatch and hands unit
// assignment to the scheduler.
type Planner struct {
	db        *store.DB
	machine   *lifecycle.Machine
	assigner  *Assigner
	scheduler *Scheduler
	emitter   Emitter
	log       zerolog.Logger
	now       func() time.Time
}

func NewPlanner(db *store.DB, machine *lifecycle.Machine, assigner *Assigner, scheduler *Scheduler, emitter Emitter, logger zerolog.Logger) *Planner {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Planner{
		db:        db,
		machine:   machine,
		assigner:  assigner,
		scheduler: scheduler,
		emitter:   emitter,
		log:       logger.With().Str("component", "planner").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PlanDispatch creates the dispatch for report, moves the report to
// DISPATCHED and schedules assignment. It returns once the dispatch has
// committed; the task reports how assignment went.
func (p *Planner) PlanDispatch(ctx context.Context, report *store.Report) (*store.Dispatch, *Task, error) {
	dispatchType, ok := DispatchTypeFor(report.EmergencyType)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedEmergencyType, report.EmergencyType)
	}

	cur, err := p.machine.Get(ctx, protocol.KindReport, report.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load report %d: %w", report.ID, err)
	}
	if lifecycle.IsTerminal(protocol.KindReport, cur.Status) {
		return nil, nil, fmt.Errorf("%w: report %d is %s", ErrReportClosed, report.ID, cur.Status)
	}
	if err := p.checkNoActive(ctx, report.ID); err != nil {
		return nil, nil, err
	}

	d, err := p.insertDispatch(ctx, report, dispatchType)
	if err != nil {
		return nil, nil, err
	}

	if _, err := p.machine.ApplyWithRetry(ctx, protocol.KindReport, report.ID, 0, protocol.ReportDispatched, &d.DispatchedAt); err != nil {
		if !errors.Is(err, lifecycle.ErrInvalidTransition) {
			return d, nil, fmt.Errorf("mark report %d dispatched: %w", report.ID, err)
		}
		p.log.Warn().Err(err).Int64("report_id", report.ID).Msg("report not moved to DISPATCHED")
	}

	p.log.Info().Int64("report_id", report.ID).Str("dispatch", d.DispatchNumber).
		Str("type", d.DispatchType).Str("priority", d.Priority).Msg("dispatch planned")
	p.emitter.EmitDispatchPlanned(d)

	return d, p.Schedule(d), nil
}

// Schedule submits an assignment run for d.
func (p *Planner) Schedule(d *store.Dispatch) *Task {
	task := p.scheduler.Submit(d.ID, func(ctx context.Context) Outcome {
		o := p.assigner.AssignUnits(ctx, d)
		p.emitter.EmitAssignmentOutcome(o)
		return o
	})
	if task.Rejected() {
		p.emitter.EmitAssignmentOutcome(task.outcome)
	}
	return task
}

func (p *Planner) checkNoActive(ctx context.Context, reportID int64) error {
	active, err := p.db.GetActiveDispatchForReport(ctx, reportID)
	if err == nil {
		return fmt.Errorf("%w: %s", ErrActiveDispatchExists, active.DispatchNumber)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// insertDispatch retries number collisions. A unique violation caused by
// another active dispatch for the report is not retried.
func (p *Planner) insertDispatch(ctx context.Context, report *store.Report, dispatchType string) (*store.Dispatch, error) {
	var lastErr error
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		now := p.now()
		d := &store.Dispatch{
			DispatchNumber: NewNumber(DispatchNumberPrefix, now),
			ReportID:       report.ID,
			DispatchType:   dispatchType,
			Priority:       report.Priority,
			Status:         protocol.DispatchDispatched,
			DispatchedAt:   now,
		}
		_, err := p.machine.Create(ctx, protocol.KindDispatch, func(tx *store.Tx) (int64, string, error) {
			if err := tx.InsertDispatch(ctx, d); err != nil {
				return 0, "", err
			}
			return d.ID, d.Status, nil
		})
		if err == nil {
			return d, nil
		}
		if !store.IsUniqueViolation(err) {
			return nil, err
		}
		if err := p.checkNoActive(ctx, report.ID); err != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("dispatch number: %d collisions: %w", maxNumberAttempts, lastErr)
}
