package engine

import (
	"context"
	"fmt"

	"firecore/dispatch"
	"firecore/protocol"
)

const auditActor = "system"

func (e *Engine) wireEventHandlers() {
	ctx := context.Background()

	// Statistics see every transition first.
	e.Events.SubscribeTypes(func(evt Event) {
		e.stats.Observe(evt.Payload.(TransitionEvent).Transition)
	}, EventTransition)

	// Related entities follow the one that moved.
	e.Events.SubscribeTypes(func(evt Event) {
		t := evt.Payload.(TransitionEvent).Transition
		if err := e.dispatcher.Coordinator.HandleTransition(ctx, t); err != nil {
			e.log.Error().Err(err).Str("kind", string(t.EntityKind)).Int64("id", t.EntityID).Msg("coordinate transition")
		}
	}, EventTransition)

	// Unit board
	e.Events.SubscribeTypes(func(evt Event) {
		t := evt.Payload.(TransitionEvent).Transition
		if t.EntityKind == protocol.KindUnit {
			e.units.Refresh(ctx, t.EntityID)
		}
	}, EventTransition)

	e.Events.SubscribeTypes(func(evt Event) {
		t := evt.Payload.(TransitionEvent).Transition
		action := "status"
		if t.FromStatus == "" {
			action = "created"
		}
		e.audit(string(t.EntityKind), t.EntityID, action, t.FromStatus, t.ToStatus)
	}, EventTransition)

	e.Events.SubscribeTypes(func(evt Event) {
		d := evt.Payload.(DispatchPlannedEvent).Dispatch
		e.audit("dispatch", d.ID, "planned", "", fmt.Sprintf("%s %s for report %d", d.DispatchNumber, d.DispatchType, d.ReportID))
	}, EventDispatchPlanned)

	e.Events.SubscribeTypes(func(evt Event) {
		o := evt.Payload.(AssignmentOutcomeEvent).Outcome
		e.stats.ObserveOutcome(string(o.Kind))
		switch o.Kind {
		case dispatch.OutcomeFailure:
			e.log.Error().Int64("dispatch_id", o.DispatchID).Str("error", o.Error).Msg("assignment failed")
			e.audit("dispatch", o.DispatchID, "assignment_failed", "", o.Error)
		case dispatch.OutcomeSkipped:
			e.audit("dispatch", o.DispatchID, "assignment_skipped", "", o.Reason)
		default:
			e.audit("dispatch", o.DispatchID, "assigned", "", fmt.Sprintf("%d units", len(o.Assignments)))
		}
	}, EventAssignmentOutcome)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(UnfulfilledEvent)
		e.stats.ObserveUnfulfilled(ev.DispatchID)
	}, EventUnfulfilled)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(UnitArrivedEvent)
		e.stats.ObserveResponse(ev.ResponseMinutes)
		e.log.Info().Int64("dispatch_id", ev.DispatchID).Int64("unit_id", ev.UnitID).
			Float64("response_min", ev.ResponseMinutes).Msg("unit on scene")
	}, EventUnitArrived)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ConnectionEvent)
		e.log.Info().Str("detail", ev.Detail).Msg("messaging status")
	}, EventMessagingConnected, EventMessagingDisconnected)
}

func (e *Engine) audit(entityType string, id int64, action, oldValue, newValue string) {
	if err := e.db.AppendAudit(context.Background(), entityType, id, action, oldValue, newValue, auditActor); err != nil {
		e.log.Error().Err(err).Str("entity", entityType).Int64("id", id).Msg("audit")
	}
}
