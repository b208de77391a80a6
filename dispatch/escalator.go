package dispatch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"firecore/lifecycle"
	"firecore/protocol"
	"firecore/store"
)

// Escalator opens at most one support request per dispatch.
type Escalator struct {
	db      *store.DB
	machine *lifecycle.Machine
	log     zerolog.Logger
}

func NewEscalator(db *store.DB, machine *lifecycle.Machine, logger zerolog.Logger) *Escalator {
	return &Escalator{db: db, machine: machine, log: logger.With().Str("component", "escalator").Logger()}
}

// MaybeEscalate requests support for HIGH and CRITICAL dispatches. created
// is false when the priority does not qualify or an escalation already
// exists; in the latter case the existing one is returned.
func (e *Escalator) MaybeEscalate(ctx context.Context, d *store.Dispatch) (esc *store.Escalation, created bool, err error) {
	if !ShouldEscalate(d.Priority) {
		return nil, false, nil
	}
	supportType := SupportTypeFor(d.DispatchType)
	esc = &store.Escalation{
		DispatchID:  d.ID,
		SupportType: supportType,
		Priority:    d.Priority,
		Description: "Automatic support request for " + supportType,
		Status:      protocol.EscalationRequested,
	}
	_, err = e.machine.Create(ctx, protocol.KindEscalation, func(tx *store.Tx) (int64, string, error) {
		if err := tx.InsertEscalation(ctx, esc); err != nil {
			return 0, "", err
		}
		return esc.ID, esc.Status, nil
	})
	if store.IsUniqueViolation(err) {
		existing, gerr := e.db.GetEscalationByDispatch(ctx, d.ID)
		if gerr != nil {
			return nil, false, fmt.Errorf("load escalation for dispatch %d: %w", d.ID, gerr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("escalate dispatch %d: %w", d.ID, err)
	}
	e.log.Info().Int64("dispatch_id", d.ID).Str("support", supportType).Str("priority", d.Priority).Msg("support requested")
	return esc, true, nil
}

// Completion carries the close-out details of an escalation.
type Completion struct {
	Summary       string   `json:"summary"`
	ActualCost    *float64 `json:"actualCost"`
	ActualMinutes *int     `json:"actualMinutes"`
}

// Complete moves an escalation to COMPLETED and stores c with the transition.
func (e *Escalator) Complete(ctx context.Context, id int64, c Completion) (lifecycle.State, error) {
	extra := []store.Assign{{Column: "summary", Value: c.Summary}}
	if c.ActualCost != nil {
		extra = append(extra, store.Assign{Column: "actual_cost", Value: *c.ActualCost})
	}
	if c.ActualMinutes != nil {
		extra = append(extra, store.Assign{Column: "actual_minutes", Value: *c.ActualMinutes})
	}
	return e.machine.ApplyWithRetry(ctx, protocol.KindEscalation, id, 0, protocol.EscalationCompleted, nil, extra...)
}
