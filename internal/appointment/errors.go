package appointment

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by Service matches at most one of
// them with errors.Is; anything else is an internal failure.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrDependency      = errors.New("dependency unavailable")
)

var (
	ErrSlotNotFound        = categorized(ErrNotFound, "slot not found")
	ErrAppointmentNotFound = categorized(ErrNotFound, "appointment not found")
	ErrPatientNotFound     = categorized(ErrNotFound, "patient not found")
	ErrDoctorNotFound      = categorized(ErrNotFound, "doctor not found")

	ErrSlotUnavailable = categorized(ErrConflict, "slot is not available")
	ErrShiftOverlap    = categorized(ErrConflict, "shift overlaps existing slots")

	ErrInvalidTransition = categorized(ErrInvalidState, "invalid status transition")
	ErrAppointmentClosed = categorized(ErrInvalidState, "appointment is in a terminal state")
)

type categoryError struct {
	msg      string
	category error
}

func (e *categoryError) Error() string { return e.msg }
func (e *categoryError) Unwrap() error { return e.category }

func categorized(category error, msg string) error {
	return &categoryError{msg: msg, category: category}
}

func invalidTransition(from, to AppointmentStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
