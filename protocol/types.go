package protocol

// Message type constants for the firecore wire protocol.
const (
	// Intake -> Core (published on the intake topic)
	TypeReportCreate = "report.create"

	// Core -> subscribers (published on the transitions/replies topics)
	TypeReportAccepted = "report.accepted"
	TypeReportRejected = "report.rejected"
	TypeTransition     = "entity.transition"
)

// Roles for Address.Role.
const (
	RoleIntake = "intake"
	RoleCore   = "core"
)

// Protocol version.
const Version = 1
