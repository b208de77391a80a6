package dispatch

import "firecore/store"

// Emitter is the interface adapters must satisfy to bridge dispatch events to the engine.
type Emitter interface {
	EmitDispatchPlanned(d *store.Dispatch)
	EmitAssignmentOutcome(o Outcome)
	EmitUnfulfilled(dispatchID int64)
	EmitUnitArrived(dispatchID, unitID int64, responseMinutes float64)
}

type nopEmitter struct{}

func (nopEmitter) EmitDispatchPlanned(*store.Dispatch)   {}
func (nopEmitter) EmitAssignmentOutcome(Outcome)         {}
func (nopEmitter) EmitUnfulfilled(int64)                 {}
func (nopEmitter) EmitUnitArrived(int64, int64, float64) {}
