// Package notify delivers appointment lifecycle events to downstream consumers.
// Delivery happens after the state change has committed and never affects it.
package notify

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventAppointmentCreated     EventType = "appointment.created"
	EventAppointmentConfirmed   EventType = "appointment.confirmed"
	EventAppointmentCancelled   EventType = "appointment.cancelled"
	EventAppointmentCompleted   EventType = "appointment.completed"
	EventAppointmentRescheduled EventType = "appointment.rescheduled"
	EventAppointmentNoShow      EventType = "appointment.no_show"
)

type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type Event struct {
	ID            uuid.UUID  `json:"id"`
	Type          EventType  `json:"type"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	PatientName   string     `json:"patient_name"`
	PatientEmail  string     `json:"patient_email,omitempty"`
	DoctorName    string     `json:"doctor_name"`
	Slot          TimeRange  `json:"slot"`
	PreviousSlot  *TimeRange `json:"previous_slot,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}
