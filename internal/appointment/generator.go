package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/hackgods/slot-scheduling/internal/redis"
)

// Shift is a doctor's availability window [Start, End).
type Shift struct {
	DoctorID     uuid.UUID
	Start        time.Time
	End          time.Time
	SlotDuration time.Duration // zero uses the configured default
}

// TileShift cuts [start, end) into consecutive free slots of length d. A
// trailing interval shorter than d is dropped.
func TileShift(doctorID uuid.UUID, start, end time.Time, d time.Duration) []Slot {
	if d <= 0 || !start.Before(end) {
		return nil
	}

	var slots []Slot
	for cur := start; !cur.Add(d).After(end); cur = cur.Add(d) {
		slots = append(slots, Slot{
			ID:        uuid.New(),
			DoctorID:  doctorID,
			StartTime: cur,
			EndTime:   cur.Add(d),
			Status:    SlotFree,
		})
	}
	return slots
}

// GenerateSlots tiles the shift and stores every slot as free in one
// transaction. A shift touching any existing slot of the same doctor is
// rejected as a whole with ErrShiftOverlap.
func (s *Service) GenerateSlots(ctx context.Context, shift Shift) ([]Slot, error) {
	slots, err := s.generateSlots(ctx, shift)
	s.observe("generate_slots", err)
	return slots, err
}

func (s *Service) generateSlots(ctx context.Context, shift Shift) ([]Slot, error) {
	if shift.DoctorID == uuid.Nil {
		return nil, invalidArgument("doctor id is required")
	}
	if !shift.Start.Before(shift.End) {
		return nil, invalidArgument("shift start %s must be before end %s",
			shift.Start.Format(time.RFC3339), shift.End.Format(time.RFC3339))
	}

	d := shift.SlotDuration
	if d == 0 {
		d = s.slotDuration()
	}
	if d < 0 {
		return nil, invalidArgument("slot duration must be positive, got %s", d)
	}

	tiles := TileShift(shift.DoctorID, shift.Start.UTC(), shift.End.UTC(), d)
	if len(tiles) == 0 {
		s.log.Info().
			Str("doctor_id", shift.DoctorID.String()).
			Dur("slot_duration", d).
			Msg("shift shorter than one slot, nothing generated")
		return []Slot{}, nil
	}

	coveredEnd := tiles[len(tiles)-1].EndTime

	var inserted []Slot
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		if err := tx.LockDoctor(ctx, shift.DoctorID); err != nil {
			return err
		}

		n, err := tx.CountOverlappingSlots(ctx, shift.DoctorID, tiles[0].StartTime, coveredEnd)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %d existing slot(s) between %s and %s", ErrShiftOverlap, n,
				tiles[0].StartTime.Format(time.RFC3339), coveredEnd.Format(time.RFC3339))
		}

		inserted, err = tx.InsertSlots(ctx, tiles)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrShiftOverlap) {
			s.metrics.ShiftRejected()
		}
		return nil, fmt.Errorf("generate slots: %w", err)
	}

	s.metrics.SlotsInserted(len(inserted))
	s.log.Info().
		Str("doctor_id", shift.DoctorID.String()).
		Int("slots", len(inserted)).
		Time("start", tiles[0].StartTime).
		Time("end", coveredEnd).
		Msg("slots generated")

	return inserted, nil
}

// HandleShiftCreated adapts GenerateSlots to the shift stream consumer.
// Shifts that can never succeed are rejected so the entry is acknowledged;
// anything else is left pending for a retry.
func (s *Service) HandleShiftCreated(ctx context.Context, ev redisclient.ShiftCreated) error {
	_, err := s.GenerateSlots(ctx, Shift{
		DoctorID:     ev.DoctorID,
		Start:        ev.Start,
		End:          ev.End,
		SlotDuration: ev.SlotDuration,
	})
	if errors.Is(err, ErrShiftOverlap) || errors.Is(err, ErrInvalidArgument) {
		return fmt.Errorf("%w: %w", redisclient.ErrRejectShift, err)
	}
	return err
}
