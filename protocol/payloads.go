package protocol

import "time"

// --- Intake -> Core payloads ---

// ReportCreate carries a caller's incident report from an intake console.
type ReportCreate struct {
	RequestID     string  `json:"request_id"`
	ReporterName  string  `json:"reporter_name"`
	ReporterPhone string  `json:"reporter_phone"`
	Address       string  `json:"address"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Description   string  `json:"description"`
	EmergencyType string  `json:"emergency_type"`
	Priority      string  `json:"priority"`
}

// --- Core -> subscribers payloads ---

// ReportAccepted acknowledges a ReportCreate.
type ReportAccepted struct {
	RequestID      string `json:"request_id"`
	ReportID       int64  `json:"report_id"`
	ReportNumber   string `json:"report_number"`
	DispatchID     int64  `json:"dispatch_id,omitempty"`
	DispatchNumber string `json:"dispatch_number,omitempty"`
}

// ReportRejected is returned when a ReportCreate could not be stored or planned.
type ReportRejected struct {
	RequestID    string `json:"request_id"`
	ReportNumber string `json:"report_number,omitempty"`
	Reason       string `json:"reason"`
}

// TransitionNotice is published once per committed status transition.
type TransitionNotice struct {
	TransitionID string     `json:"transitionId"`
	EntityKind   EntityKind `json:"entityKind"`
	EntityID     int64      `json:"entityId"`
	FromStatus   string     `json:"fromStatus"`
	ToStatus     string     `json:"toStatus"`
	Version      int        `json:"version"`
	OccurredAt   time.Time  `json:"occurredAt"`
}
