package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service. Reads run
// outside a transaction; every mutation goes through WithTx.
type Repository interface {
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	ListSlots(ctx context.Context, filter SlotFilter) ([]Slot, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]AppointmentDetail, error)

	// No-show sweep
	FindConfirmedEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]AppointmentDetail, error)

	// WithTx runs fn in one transaction. A non-nil error from fn rolls back
	// every write made through tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side. Implementations must make ClaimSlot and ReleaseSlot
// compare-and-swap operations on the slot status.
type Tx interface {
	// Shift registration, serialized per doctor until the transaction ends.
	LockDoctor(ctx context.Context, doctorID uuid.UUID) error
	CountOverlappingSlots(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (int, error)
	InsertSlots(ctx context.Context, slots []Slot) ([]Slot, error)

	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// ClaimSlot moves free -> booked: ErrSlotNotFound or ErrSlotUnavailable.
	ClaimSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	// ReleaseSlot moves booked -> free.
	ReleaseSlot(ctx context.Context, id uuid.UUID) (*Slot, error)

	// LockAppointment reads the row and holds it until the transaction ends.
	LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	UpdateAppointment(ctx context.Context, a Appointment) (*Appointment, error)
}
