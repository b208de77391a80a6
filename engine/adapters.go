package engine

import (
	"firecore/dispatch"
	"firecore/store"
)

// transitionEmitter bridges the state machine's emitter to the EventBus.
type transitionEmitter struct {
	bus *EventBus
}

func (e *transitionEmitter) EmitTransition(t *store.Transition) {
	e.bus.Emit(Event{Type: EventTransition, Timestamp: t.OccurredAt, Payload: TransitionEvent{Transition: t}})
}

// dispatchEmitter bridges the dispatch package's emitter interface to the EventBus.
type dispatchEmitter struct {
	bus *EventBus
}

func (e *dispatchEmitter) EmitDispatchPlanned(d *store.Dispatch) {
	e.bus.Emit(Event{Type: EventDispatchPlanned, Payload: DispatchPlannedEvent{Dispatch: d}})
}

func (e *dispatchEmitter) EmitAssignmentOutcome(o dispatch.Outcome) {
	e.bus.Emit(Event{Type: EventAssignmentOutcome, Payload: AssignmentOutcomeEvent{Outcome: o}})
}

func (e *dispatchEmitter) EmitUnfulfilled(dispatchID int64) {
	e.bus.Emit(Event{Type: EventUnfulfilled, Payload: UnfulfilledEvent{DispatchID: dispatchID}})
}

func (e *dispatchEmitter) EmitUnitArrived(dispatchID, unitID int64, responseMinutes float64) {
	e.bus.Emit(Event{Type: EventUnitArrived, Payload: UnitArrivedEvent{
		DispatchID:      dispatchID,
		UnitID:          unitID,
		ResponseMinutes: responseMinutes,
	}})
}
