package engine

import (
	"firecore/dispatch"
	"firecore/store"
)

const (
	EventTransition EventType = iota + 1
	EventDispatchPlanned
	EventAssignmentOutcome
	EventUnfulfilled
	EventUnitArrived
	EventMessagingConnected
	EventMessagingDisconnected
)

// --- Event payloads ---

type TransitionEvent struct {
	Transition *store.Transition
}

type DispatchPlannedEvent struct {
	Dispatch *store.Dispatch
}

type AssignmentOutcomeEvent struct {
	Outcome dispatch.Outcome
}

type UnfulfilledEvent struct {
	DispatchID int64
}

type UnitArrivedEvent struct {
	DispatchID      int64
	UnitID          int64
	ResponseMinutes float64
}

type ConnectionEvent struct {
	Detail string
}
