package dispatch

import "firecore/protocol"

var emergencyDispatchTypes = map[string]string{
	protocol.EmergencyFire:            protocol.DispatchFireEngine,
	protocol.EmergencyMedical:         protocol.DispatchAmbulance,
	protocol.EmergencyTrafficAccident: protocol.DispatchRescueUnit,
	protocol.EmergencyHazmat:          protocol.DispatchHazmatUnit,
	protocol.EmergencyRescue:          protocol.DispatchRescueUnit,
	protocol.EmergencyOther:           protocol.DispatchCommandUnit,
}

var dispatchUnitTypes = map[string]string{
	protocol.DispatchFireEngine:  protocol.UnitFireEngine,
	protocol.DispatchAmbulance:   protocol.UnitAmbulance,
	protocol.DispatchLadderTruck: protocol.UnitLadderTruck,
	protocol.DispatchRescueUnit:  protocol.UnitRescueVehicle,
	protocol.DispatchHazmatUnit:  protocol.UnitSpecialUnit,
	protocol.DispatchCommandUnit: protocol.UnitCommandVehicle,
}

var dispatchSupportTypes = map[string]string{
	protocol.DispatchFireEngine: protocol.SupportAdditionalUnits,
	protocol.DispatchAmbulance:  protocol.SupportMedical,
	protocol.DispatchRescueUnit: protocol.SupportSpecializedEquipment,
	protocol.DispatchHazmatUnit: protocol.SupportTechnical,
}

// DispatchTypeFor maps an emergency type to the dispatch type that answers it.
func DispatchTypeFor(emergencyType string) (string, bool) {
	t, ok := emergencyDispatchTypes[emergencyType]
	return t, ok
}

// UnitTypeFor maps a dispatch type to the unit type it reserves.
func UnitTypeFor(dispatchType string) (string, bool) {
	t, ok := dispatchUnitTypes[dispatchType]
	return t, ok
}

// SupportTypeFor maps a dispatch type to its escalation support type.
// Unlisted dispatch types fall back to logistics support.
func SupportTypeFor(dispatchType string) string {
	if t, ok := dispatchSupportTypes[dispatchType]; ok {
		return t
	}
	return protocol.SupportLogistics
}

// ShouldEscalate reports whether a priority qualifies for scene support.
func ShouldEscalate(priority string) bool {
	return priority == protocol.PriorityHigh || priority == protocol.PriorityCritical
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p string) bool {
	switch p {
	case protocol.PriorityLow, protocol.PriorityMedium, protocol.PriorityHigh, protocol.PriorityCritical:
		return true
	}
	return false
}
