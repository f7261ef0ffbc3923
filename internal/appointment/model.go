package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
	StatusNoShow    AppointmentStatus = "no_show"
)

// transitions lists the allowed target states. Statuses without an entry are
// terminal.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

func (s AppointmentStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func (s AppointmentStatus) CanTransitionTo(to AppointmentStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type SlotStatus string

const (
	SlotFree   SlotStatus = "free"
	SlotBooked SlotStatus = "booked"
)

func (s SlotStatus) Valid() bool {
	return s == SlotFree || s == SlotBooked
}

// Slot is a bookable interval [StartTime, EndTime) of one doctor.
type Slot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Status    SlotStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment holds name snapshots taken from the directories at booking time.
type Appointment struct {
	ID           uuid.UUID
	SlotID       uuid.UUID
	PatientID    uuid.UUID
	PatientName  string
	PatientEmail string
	DoctorName   string
	Status       AppointmentStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type AppointmentDetail struct {
	Appointment
	Slot Slot
}

// AppointmentUpdate carries the editable fields; nil means unchanged.
type AppointmentUpdate struct {
	PatientName  *string
	PatientEmail *string
	DoctorName   *string
}

func (u AppointmentUpdate) apply(a *Appointment) {
	if u.PatientName != nil {
		a.PatientName = *u.PatientName
	}
	if u.PatientEmail != nil {
		a.PatientEmail = *u.PatientEmail
	}
	if u.DoctorName != nil {
		a.DoctorName = *u.DoctorName
	}
}

// AppointmentFilter is what repositories understand. All set fields are
// AND-combined; SlotFrom/SlotTo bound the slot start time as [from, to).
type AppointmentFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	SlotFrom  *time.Time
	SlotTo    *time.Time
	Limit     int // 0 means no limit
	Offset    int
}

type SlotFilter struct {
	DoctorID *uuid.UUID
	From     *time.Time
	To       *time.Time
	Status   SlotStatus // empty matches both
}
