package lifecycle

import (
	"firecore/protocol"
	"firecore/store"
)

// Table is the transition table for one entity kind.
type Table struct {
	Kind     protocol.EntityKind
	Initial  string
	Terminal map[string]bool
	Next     map[string][]string
	// Stamps lists the timestamp columns written on entering a status.
	Stamps map[string][]store.Stamp
	// Clear lists columns nulled on entering a status.
	Clear map[string][]string
}

func set(statuses ...string) map[string]bool {
	m := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		m[s] = true
	}
	return m
}

func always(col string) store.Stamp  { return store.Stamp{Column: col} }
func ifUnset(col string) store.Stamp { return store.Stamp{Column: col, IfUnset: true} }

var reportTable = &Table{
	Kind:     protocol.KindReport,
	Initial:  protocol.ReportReceived,
	Terminal: set(protocol.ReportCompleted, protocol.ReportCancelled),
	Next: map[string][]string{
		protocol.ReportReceived:   {protocol.ReportDispatched, protocol.ReportCancelled},
		protocol.ReportDispatched: {protocol.ReportEnRoute, protocol.ReportOnScene, protocol.ReportCompleted, protocol.ReportCancelled},
		protocol.ReportEnRoute:    {protocol.ReportOnScene, protocol.ReportCompleted, protocol.ReportCancelled},
		protocol.ReportOnScene:    {protocol.ReportCompleted, protocol.ReportCancelled},
	},
	Stamps: map[string][]store.Stamp{
		protocol.ReportDispatched: {ifUnset("dispatched_at")},
		protocol.ReportEnRoute:    {ifUnset("en_route_at")},
		protocol.ReportOnScene:    {ifUnset("arrived_at")},
		protocol.ReportCompleted:  {always("completed_at")},
		protocol.ReportCancelled:  {always("cancelled_at")},
	},
}

var dispatchTable = &Table{
	Kind:     protocol.KindDispatch,
	Initial:  protocol.DispatchDispatched,
	Terminal: set(protocol.DispatchCompleted, protocol.DispatchCancelled),
	Next: map[string][]string{
		protocol.DispatchDispatched: {protocol.DispatchEnRoute, protocol.DispatchOnScene, protocol.DispatchCompleted, protocol.DispatchCancelled},
		protocol.DispatchEnRoute:    {protocol.DispatchOnScene, protocol.DispatchCompleted, protocol.DispatchCancelled},
		protocol.DispatchOnScene:    {protocol.DispatchCompleted, protocol.DispatchCancelled},
	},
	Stamps: map[string][]store.Stamp{
		protocol.DispatchEnRoute:   {ifUnset("en_route_at")},
		protocol.DispatchOnScene:   {ifUnset("arrived_at")},
		protocol.DispatchCompleted: {always("completed_at")},
		protocol.DispatchCancelled: {always("cancelled_at")},
	},
}

var assignmentTable = &Table{
	Kind:     protocol.KindAssignment,
	Initial:  protocol.DispatchDispatched,
	Terminal: set(protocol.DispatchCompleted, protocol.DispatchCancelled, protocol.AssignmentUnavailable),
	Next: map[string][]string{
		protocol.DispatchDispatched: {protocol.DispatchEnRoute, protocol.DispatchOnScene, protocol.DispatchCompleted, protocol.DispatchCancelled, protocol.AssignmentUnavailable},
		protocol.DispatchEnRoute:    {protocol.DispatchOnScene, protocol.DispatchCompleted, protocol.DispatchCancelled, protocol.AssignmentUnavailable},
		protocol.DispatchOnScene:    {protocol.DispatchCompleted, protocol.DispatchCancelled},
	},
	Stamps: map[string][]store.Stamp{
		protocol.DispatchEnRoute:       {ifUnset("en_route_at")},
		protocol.DispatchOnScene:       {ifUnset("arrived_at"), ifUnset("actual_arrival")},
		protocol.DispatchCompleted:     {always("completed_at")},
		protocol.DispatchCancelled:     {always("cancelled_at")},
		protocol.AssignmentUnavailable: {always("cancelled_at")},
	},
}

// Units cycle forever; none of their statuses is terminal.
var unitTable = &Table{
	Kind:     protocol.KindUnit,
	Initial:  protocol.UnitAvailable,
	Terminal: set(),
	Next: map[string][]string{
		protocol.UnitAvailable:    {protocol.UnitDispatched, protocol.UnitMaintenance, protocol.UnitOutOfService},
		protocol.UnitDispatched:   {protocol.UnitOnScene, protocol.UnitReturning, protocol.UnitAvailable},
		protocol.UnitOnScene:      {protocol.UnitReturning, protocol.UnitAvailable},
		protocol.UnitReturning:    {protocol.UnitAvailable, protocol.UnitMaintenance, protocol.UnitOutOfService},
		protocol.UnitMaintenance:  {protocol.UnitAvailable, protocol.UnitOutOfService},
		protocol.UnitOutOfService: {protocol.UnitAvailable, protocol.UnitMaintenance},
	},
	Stamps: map[string][]store.Stamp{},
	Clear: map[string][]string{
		protocol.UnitAvailable:    {"dispatch_id"},
		protocol.UnitMaintenance:  {"dispatch_id"},
		protocol.UnitOutOfService: {"dispatch_id"},
	},
}

var escalationTable = &Table{
	Kind:     protocol.KindEscalation,
	Initial:  protocol.EscalationRequested,
	Terminal: set(protocol.EscalationCompleted, protocol.EscalationCancelled),
	Next: map[string][]string{
		protocol.EscalationRequested:  {protocol.EscalationApproved, protocol.EscalationCancelled},
		protocol.EscalationApproved:   {protocol.EscalationDispatched, protocol.EscalationCancelled},
		protocol.EscalationDispatched: {protocol.EscalationOnScene, protocol.EscalationCompleted, protocol.EscalationCancelled},
		protocol.EscalationOnScene:    {protocol.EscalationCompleted, protocol.EscalationCancelled},
	},
	Stamps: map[string][]store.Stamp{
		protocol.EscalationApproved:   {ifUnset("approved_at")},
		protocol.EscalationDispatched: {ifUnset("dispatched_at")},
		protocol.EscalationOnScene:    {ifUnset("arrived_at")},
		protocol.EscalationCompleted:  {always("completed_at")},
		protocol.EscalationCancelled:  {always("cancelled_at")},
	},
}

var tables = map[protocol.EntityKind]*Table{
	protocol.KindReport:     reportTable,
	protocol.KindDispatch:   dispatchTable,
	protocol.KindAssignment: assignmentTable,
	protocol.KindUnit:       unitTable,
	protocol.KindEscalation: escalationTable,
}

// TableFor returns the transition table for kind.
func TableFor(kind protocol.EntityKind) (*Table, bool) {
	t, ok := tables[kind]
	return t, ok
}

// Allowed reports whether from -> to is in the table.
func (t *Table) Allowed(from, to string) bool {
	for _, s := range t.Next[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Known reports whether status appears anywhere in the table.
func (t *Table) Known(status string) bool {
	if status == t.Initial || t.Terminal[status] {
		return true
	}
	if _, ok := t.Next[status]; ok {
		return true
	}
	for _, targets := range t.Next {
		for _, s := range targets {
			if s == status {
				return true
			}
		}
	}
	return false
}

// IsTerminal reports whether status ends the entity's lifecycle.
func (t *Table) IsTerminal(status string) bool { return t.Terminal[status] }

// IsTerminal reports whether status is terminal for kind.
func IsTerminal(kind protocol.EntityKind, status string) bool {
	t, ok := tables[kind]
	return ok && t.Terminal[status]
}
