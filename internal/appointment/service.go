package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-scheduling/internal/config"
	"github.com/hackgods/slot-scheduling/internal/directory"
	"github.com/hackgods/slot-scheduling/internal/metrics"
	"github.com/hackgods/slot-scheduling/internal/notify"
	redisclient "github.com/hackgods/slot-scheduling/internal/redis"
)

const (
	defaultSlotDuration = 30 * time.Minute
	noShowBatch         = 500
	lockRetryInterval   = 20 * time.Millisecond
)

// Publisher receives lifecycle events after the change has committed.
type Publisher interface {
	Publish(ctx context.Context, ev notify.Event) error
}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	directory directory.Resolver
	publisher Publisher
	metrics   *metrics.Metrics
	log       zerolog.Logger
	cfg       config.Config
	now       func() time.Time
}

// NewService wires the booking engine. locker, publisher and m may be nil; the
// repository transaction alone still prevents double-booking.
func NewService(
	repo Repository,
	locker redisclient.Locker,
	dir directory.Resolver,
	publisher Publisher,
	cfg config.Config,
	log zerolog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		repo:      repo,
		locker:    locker,
		directory: dir,
		publisher: publisher,
		metrics:   m,
		log:       log.With().Str("component", "booking").Logger(),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) slotDuration() time.Duration {
	if s.cfg.SlotDuration > 0 {
		return s.cfg.SlotDuration
	}
	return defaultSlotDuration
}

func (s *Service) location() *time.Location {
	if s.cfg.Location != nil {
		return s.cfg.Location
	}
	return time.UTC
}

// CreateAppointment books a free slot for a patient. The slot claim and the
// appointment insert commit together or not at all.
func (s *Service) CreateAppointment(ctx context.Context, patientID, slotID uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.createAppointment(ctx, patientID, slotID)
	s.observe("create", err)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, notify.EventAppointmentCreated, detail, nil, "")
	return detail, nil
}

func (s *Service) createAppointment(ctx context.Context, patientID, slotID uuid.UUID) (*AppointmentDetail, error) {
	if patientID == uuid.Nil {
		return nil, invalidArgument("patient id is required")
	}
	if slotID == uuid.Nil {
		return nil, invalidArgument("slot id is required")
	}

	// Fast path so a taken slot does not cost two directory calls.
	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	if slot.Status != SlotFree {
		return nil, ErrSlotUnavailable
	}

	patient, doctor, err := s.resolveNames(ctx, patientID, slot.DoctorID)
	if err != nil {
		return nil, err
	}

	var created *AppointmentDetail
	err = s.withSlotLock(ctx, slotID, func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(tx Tx) error {
			claimed, err := tx.ClaimSlot(lockCtx, slotID)
			if err != nil {
				return err
			}

			appt, err := tx.InsertAppointment(lockCtx, Appointment{
				ID:           uuid.New(),
				SlotID:       slotID,
				PatientID:    patientID,
				PatientName:  patient.DisplayName(),
				PatientEmail: patient.Email,
				DoctorName:   doctor.DisplayName(),
				Status:       StatusPending,
			})
			if err != nil {
				return err
			}

			created = &AppointmentDetail{Appointment: *appt, Slot: *claimed}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	return created, nil
}

func (s *Service) resolveNames(ctx context.Context, patientID, doctorID uuid.UUID) (*directory.Patient, *directory.Doctor, error) {
	ctx, cancel := s.directoryContext(ctx)
	defer cancel()

	patient, err := s.directory.ResolvePatient(ctx, patientID)
	if err != nil {
		return nil, nil, lookupError(err, ErrPatientNotFound, patientID)
	}

	doctor, err := s.directory.ResolveDoctor(ctx, doctorID)
	if err != nil {
		return nil, nil, lookupError(err, ErrDoctorNotFound, doctorID)
	}

	return patient, doctor, nil
}

func (s *Service) resolveDoctor(ctx context.Context, doctorID uuid.UUID) (*directory.Doctor, error) {
	ctx, cancel := s.directoryContext(ctx)
	defer cancel()

	doctor, err := s.directory.ResolveDoctor(ctx, doctorID)
	if err != nil {
		return nil, lookupError(err, ErrDoctorNotFound, doctorID)
	}
	return doctor, nil
}

func (s *Service) directoryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.DirectoryTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.DirectoryTimeout)
	}
	return ctx, func() {}
}

func lookupError(err, notFound error, id uuid.UUID) error {
	if errors.Is(err, directory.ErrNotFound) {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return fmt.Errorf("%w: %w", ErrDependency, err)
}

// withSlotLock puts the Redis slot lock in front of fn. When Redis itself is
// down fn runs unguarded and the transaction's compare-and-swap decides.
//
// A contended lock is retried for up to LockWait as long as the slot still
// reads free, since the holder's transaction may yet roll back. Once the slot
// reads booked, or the wait is spent, the caller gets ErrSlotUnavailable.
func (s *Service) withSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}

	deadline := time.Now().Add(s.cfg.LockWait)
	for {
		err := s.locker.WithSlotLock(ctx, slotID, fn)
		switch {
		case errors.Is(err, redisclient.ErrLockBackend):
			s.log.Warn().Err(err).Str("slot_id", slotID.String()).Msg("slot lock unavailable, relying on database")
			return fn(ctx)
		case !errors.Is(err, redisclient.ErrLockNotAcquired):
			return err
		}

		slot, err := s.repo.GetSlotByID(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.Status != SlotFree || !time.Now().Before(deadline) {
			return ErrSlotUnavailable
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// GetAppointment retrieves an appointment together with its slot.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return detail, nil
}

// UpdateAppointment edits the name snapshots. Status and slot are not
// editable here and terminal appointments are frozen.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, upd AppointmentUpdate) (*AppointmentDetail, error) {
	detail, err := s.updateAppointment(ctx, id, upd)
	s.observe("update", err)
	return detail, err
}

func (s *Service) updateAppointment(ctx context.Context, id uuid.UUID, upd AppointmentUpdate) (*AppointmentDetail, error) {
	if upd.PatientName != nil && strings.TrimSpace(*upd.PatientName) == "" {
		return nil, invalidArgument("patient name must not be empty")
	}
	if upd.DoctorName != nil && strings.TrimSpace(*upd.DoctorName) == "" {
		return nil, invalidArgument("doctor name must not be empty")
	}

	var updated *AppointmentDetail
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		appt, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if appt.Status.IsTerminal() {
			return fmt.Errorf("%w: status %s", ErrAppointmentClosed, appt.Status)
		}

		upd.apply(appt)
		saved, err := tx.UpdateAppointment(ctx, *appt)
		if err != nil {
			return err
		}

		slot, err := tx.GetSlotByID(ctx, saved.SlotID)
		if err != nil {
			return err
		}
		updated = &AppointmentDetail{Appointment: *saved, Slot: *slot}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}
	return updated, nil
}

// ConfirmAppointment moves a pending appointment to confirmed.
func (s *Service) ConfirmAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	return s.transition(ctx, "confirm", id, StatusConfirmed, notify.EventAppointmentConfirmed, "")
}

// CompleteAppointment moves a confirmed appointment to completed. The slot
// stays booked.
func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	return s.transition(ctx, "complete", id, StatusCompleted, notify.EventAppointmentCompleted, "")
}

// MarkNoShow moves a confirmed appointment to no_show. The slot stays booked.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	return s.transition(ctx, "no_show", id, StatusNoShow, notify.EventAppointmentNoShow, "")
}

// CancelAppointment cancels a pending or confirmed appointment and frees its
// slot in the same transaction.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*AppointmentDetail, error) {
	return s.transition(ctx, "cancel", id, StatusCancelled, notify.EventAppointmentCancelled, strings.TrimSpace(reason))
}

func (s *Service) transition(
	ctx context.Context,
	op string,
	id uuid.UUID,
	to AppointmentStatus,
	eventType notify.EventType,
	reason string,
) (*AppointmentDetail, error) {
	var updated *AppointmentDetail

	err := s.repo.WithTx(ctx, func(tx Tx) error {
		appt, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if !appt.Status.CanTransitionTo(to) {
			return invalidTransition(appt.Status, to)
		}

		var slot *Slot
		if to == StatusCancelled {
			slot, err = tx.ReleaseSlot(ctx, appt.SlotID)
		} else {
			slot, err = tx.GetSlotByID(ctx, appt.SlotID)
		}
		if err != nil {
			return err
		}

		appt.Status = to
		saved, err := tx.UpdateAppointment(ctx, *appt)
		if err != nil {
			return err
		}

		updated = &AppointmentDetail{Appointment: *saved, Slot: *slot}
		return nil
	})
	s.observe(op, err)
	if err != nil {
		return nil, fmt.Errorf("%s appointment: %w", op, err)
	}

	s.publish(ctx, eventType, updated, nil, reason)
	return updated, nil
}

// RescheduleAppointment moves an active appointment to another free slot.
// The old slot is freed and the new one booked atomically; the status is
// kept. Rescheduling onto the current slot changes nothing.
func (s *Service) RescheduleAppointment(ctx context.Context, id, newSlotID uuid.UUID) (*AppointmentDetail, error) {
	detail, previous, err := s.rescheduleAppointment(ctx, id, newSlotID)
	s.observe("reschedule", err)
	if err != nil {
		return nil, err
	}

	if previous != nil {
		s.publish(ctx, notify.EventAppointmentRescheduled, detail, previous, "")
	}
	return detail, nil
}

// rescheduleAppointment returns a nil previous slot when nothing moved.
func (s *Service) rescheduleAppointment(ctx context.Context, id, newSlotID uuid.UUID) (*AppointmentDetail, *Slot, error) {
	if newSlotID == uuid.Nil {
		return nil, nil, invalidArgument("slot id is required")
	}

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("reschedule appointment: %w", err)
	}
	if current.Status.IsTerminal() {
		return nil, nil, fmt.Errorf("reschedule appointment: %w: status %s", ErrAppointmentClosed, current.Status)
	}
	if current.SlotID == newSlotID {
		return current, nil, nil
	}

	target, err := s.repo.GetSlotByID(ctx, newSlotID)
	if err != nil {
		return nil, nil, fmt.Errorf("reschedule appointment: %w", err)
	}
	if target.Status != SlotFree {
		return nil, nil, ErrSlotUnavailable
	}

	// Moving to another doctor's slot takes a fresh doctor name snapshot.
	var newDoctor *directory.Doctor
	if target.DoctorID != current.Slot.DoctorID {
		newDoctor, err = s.resolveDoctor(ctx, target.DoctorID)
		if err != nil {
			return nil, nil, fmt.Errorf("reschedule appointment: %w", err)
		}
	}

	var (
		moved    *AppointmentDetail
		previous *Slot
	)
	err = s.withSlotLock(ctx, newSlotID, func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(tx Tx) error {
			appt, err := tx.LockAppointment(lockCtx, id)
			if err != nil {
				return err
			}
			if appt.Status.IsTerminal() {
				return fmt.Errorf("%w: status %s", ErrAppointmentClosed, appt.Status)
			}

			if appt.SlotID == newSlotID {
				slot, err := tx.GetSlotByID(lockCtx, newSlotID)
				if err != nil {
					return err
				}
				moved = &AppointmentDetail{Appointment: *appt, Slot: *slot}
				return nil
			}

			claimed, err := tx.ClaimSlot(lockCtx, newSlotID)
			if err != nil {
				return err
			}
			released, err := tx.ReleaseSlot(lockCtx, appt.SlotID)
			if err != nil {
				return err
			}

			if claimed.DoctorID != released.DoctorID {
				if newDoctor == nil {
					return fmt.Errorf("%w: appointment %s moved concurrently", ErrSlotUnavailable, id)
				}
				appt.DoctorName = newDoctor.DisplayName()
			}
			appt.SlotID = newSlotID
			saved, err := tx.UpdateAppointment(lockCtx, *appt)
			if err != nil {
				return err
			}

			moved = &AppointmentDetail{Appointment: *saved, Slot: *claimed}
			previous = released
			return nil
		})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reschedule appointment: %w", err)
	}

	return moved, previous, nil
}

// AppointmentQuery filters ListAppointments. Day matches the slot's start date in the
// clinic time zone.
type AppointmentQuery struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Day       *time.Time
	Limit     int
	Offset    int
}

// ListAppointments returns every appointment matching all set filters,
// ordered by slot start.
func (s *Service) ListAppointments(ctx context.Context, q AppointmentQuery) ([]AppointmentDetail, error) {
	if q.Limit < 0 || q.Offset < 0 {
		return nil, invalidArgument("limit and offset must not be negative")
	}

	filter := AppointmentFilter{
		DoctorID:  q.DoctorID,
		PatientID: q.PatientID,
		Limit:     q.Limit,
		Offset:    q.Offset,
	}
	if q.Day != nil {
		from, to := s.dayBounds(*q.Day)
		filter.SlotFrom, filter.SlotTo = &from, &to
	}

	appointments, err := s.repo.ListAppointments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	if appointments == nil {
		appointments = []AppointmentDetail{}
	}
	return appointments, nil
}

// dayBounds returns [midnight, next midnight) of day's calendar date in the
// clinic time zone.
func (s *Service) dayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, s.location())
	return from, from.AddDate(0, 0, 1)
}

// ParseDay reads a YYYY-MM-DD date in the clinic time zone.
func (s *Service) ParseDay(raw string) (time.Time, error) {
	day, err := time.ParseInLocation(time.DateOnly, raw, s.location())
	if err != nil {
		return time.Time{}, invalidArgument("date %q must be YYYY-MM-DD", raw)
	}
	return day, nil
}

func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	slot, err := s.repo.GetSlotByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return slot, nil
}

// ListSlots returns a doctor's slots starting on day, optionally only those
// with the given status.
func (s *Service) ListSlots(ctx context.Context, doctorID uuid.UUID, day time.Time, status SlotStatus) ([]Slot, error) {
	if doctorID == uuid.Nil {
		return nil, invalidArgument("doctor id is required")
	}
	if status != "" && !status.Valid() {
		return nil, invalidArgument("unknown slot status %q", status)
	}

	from, to := s.dayBounds(day)
	slots, err := s.repo.ListSlots(ctx, SlotFilter{
		DoctorID: &doctorID,
		From:     &from,
		To:       &to,
		Status:   status,
	})
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	if slots == nil {
		slots = []Slot{}
	}
	return slots, nil
}

// SweepNoShows is intended to be called by the worker periodically. Confirmed
// appointments whose slot ended more than NoShowGrace ago become no_show.
func (s *Service) SweepNoShows(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.NoShowGrace)

	candidates, err := s.repo.FindConfirmedEndedBefore(ctx, cutoff, noShowBatch)
	if err != nil {
		return 0, fmt.Errorf("find overdue confirmed appointments: %w", err)
	}

	marked := 0
	for _, appt := range candidates {
		if _, err := s.MarkNoShow(ctx, appt.ID); err != nil {
			if errors.Is(err, ErrInvalidState) {
				// Completed or cancelled since the query ran.
				continue
			}
			s.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to mark no-show")
			continue
		}
		marked++
	}

	return marked, nil
}

func (s *Service) publish(ctx context.Context, eventType notify.EventType, d *AppointmentDetail, previous *Slot, reason string) {
	if s.publisher == nil {
		return
	}

	ev := notify.Event{
		Type:          eventType,
		AppointmentID: d.ID,
		PatientID:     d.PatientID,
		PatientName:   d.PatientName,
		PatientEmail:  d.PatientEmail,
		DoctorName:    d.DoctorName,
		Slot:          notify.TimeRange{Start: d.Slot.StartTime, End: d.Slot.EndTime},
		Reason:        reason,
		OccurredAt:    s.now(),
	}
	if previous != nil {
		ev.PreviousSlot = &notify.TimeRange{Start: previous.StartTime, End: previous.EndTime}
	}

	// The caller's request may end right after we return.
	if err := s.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn().Err(err).
			Str("event_type", string(eventType)).
			Str("appointment_id", d.ID.String()).
			Msg("failed to publish event")
	}
}

func (s *Service) observe(op string, err error) {
	s.metrics.ObserveOperation(op, Outcome(err))
}

// Outcome classifies err for metrics labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, ErrInvalidState):
		return metrics.OutcomeInvalidState
	case errors.Is(err, ErrInvalidArgument):
		return metrics.OutcomeInvalid
	case errors.Is(err, ErrDependency):
		return metrics.OutcomeDependency
	}
	return metrics.OutcomeError
}
