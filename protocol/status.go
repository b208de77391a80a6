package protocol

// EntityKind names a lifecycle-managed entity.
type EntityKind string

const (
	KindReport     EntityKind = "report"
	KindDispatch   EntityKind = "dispatch"
	KindAssignment EntityKind = "assignment"
	KindUnit       EntityKind = "unit"
	KindEscalation EntityKind = "escalation"
)

// Kinds lists every entity kind in a stable order.
var Kinds = []EntityKind{KindReport, KindDispatch, KindAssignment, KindUnit, KindEscalation}

// ParseKind accepts singular and plural spellings ("dispatch", "dispatches").
func ParseKind(s string) (EntityKind, bool) {
	switch s {
	case "report", "reports":
		return KindReport, true
	case "dispatch", "dispatches":
		return KindDispatch, true
	case "assignment", "assignments":
		return KindAssignment, true
	case "unit", "units":
		return KindUnit, true
	case "escalation", "escalations":
		return KindEscalation, true
	}
	return "", false
}

// Report statuses.
const (
	ReportReceived   = "RECEIVED"
	ReportDispatched = "DISPATCHED"
	ReportEnRoute    = "EN_ROUTE"
	ReportOnScene    = "ON_SCENE"
	ReportCompleted  = "COMPLETED"
	ReportCancelled  = "CANCELLED"
)

// Dispatch statuses. Assignments share these plus AssignmentUnavailable.
const (
	DispatchDispatched = "DISPATCHED"
	DispatchEnRoute    = "EN_ROUTE"
	DispatchOnScene    = "ON_SCENE"
	DispatchCompleted  = "COMPLETED"
	DispatchCancelled  = "CANCELLED"

	AssignmentUnavailable = "UNAVAILABLE"
)

// Unit statuses.
const (
	UnitAvailable    = "AVAILABLE"
	UnitDispatched   = "DISPATCHED"
	UnitOnScene      = "ON_SCENE"
	UnitReturning    = "RETURNING"
	UnitMaintenance  = "MAINTENANCE"
	UnitOutOfService = "OUT_OF_SERVICE"
)

// Escalation (scene support) statuses.
const (
	EscalationRequested  = "REQUESTED"
	EscalationApproved   = "APPROVED"
	EscalationDispatched = "DISPATCHED"
	EscalationOnScene    = "ON_SCENE"
	EscalationCompleted  = "COMPLETED"
	EscalationCancelled  = "CANCELLED"
)

// Priorities.
const (
	PriorityLow      = "LOW"
	PriorityMedium   = "MEDIUM"
	PriorityHigh     = "HIGH"
	PriorityCritical = "CRITICAL"
)

// Emergency types reported by callers.
const (
	EmergencyFire            = "FIRE"
	EmergencyMedical         = "MEDICAL"
	EmergencyTrafficAccident = "TRAFFIC_ACCIDENT"
	EmergencyHazmat          = "HAZMAT"
	EmergencyRescue          = "RESCUE"
	EmergencyOther           = "OTHER"
)

// Dispatch types.
const (
	DispatchFireEngine  = "FIRE_ENGINE"
	DispatchAmbulance   = "AMBULANCE"
	DispatchLadderTruck = "LADDER_TRUCK"
	DispatchRescueUnit  = "RESCUE_UNIT"
	DispatchHazmatUnit  = "HAZMAT_UNIT"
	DispatchCommandUnit = "COMMAND_UNIT"
)

// Unit types.
const (
	UnitFireEngine     = "FIRE_ENGINE"
	UnitAmbulance      = "AMBULANCE"
	UnitLadderTruck    = "LADDER_TRUCK"
	UnitRescueVehicle  = "RESCUE_VEHICLE"
	UnitCommandVehicle = "COMMAND_VEHICLE"
	UnitWaterTanker    = "WATER_TANKER"
	UnitFoamTruck      = "FOAM_TRUCK"
	UnitSpecialUnit    = "SPECIAL_UNIT"
)

// Scene support types.
const (
	SupportAdditionalUnits        = "ADDITIONAL_UNITS"
	SupportSpecializedEquipment   = "SPECIALIZED_EQUIPMENT"
	SupportPersonnelReinforcement = "PERSONNEL_REINFORCEMENT"
	SupportMedical                = "MEDICAL_SUPPORT"
	SupportTechnical              = "TECHNICAL_SUPPORT"
	SupportLogistics              = "LOGISTICS_SUPPORT"
)
