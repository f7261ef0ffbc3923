package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps slots and appointments in process memory. Transactions
// are serialized by one mutex and undone from a log when fn fails, so it
// offers the same atomicity as PgRepository to tests and local runs.
type MemoryRepository struct {
	mu           sync.Mutex
	slots        map[uuid.UUID]Slot
	appointments map[uuid.UUID]Appointment
	now          func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		slots:        make(map[uuid.UUID]Slot),
		appointments: make(map[uuid.UUID]Appointment),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slot(id)
}

func (r *MemoryRepository) slot(id uuid.UUID) (*Slot, error) {
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) ListSlots(ctx context.Context, filter SlotFilter) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Slot
	for _, s := range r.slots {
		if filter.DoctorID != nil && s.DoctorID != *filter.DoctorID {
			continue
		}
		if !startsWithin(s.StartTime, filter.From, filter.To) {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		result = append(result, s)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartTime.Equal(result[j].StartTime) {
			return result[i].StartTime.Before(result[j].StartTime)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (r *MemoryRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return r.detail(a)
}

func (r *MemoryRepository) detail(a Appointment) (*AppointmentDetail, error) {
	s, ok := r.slots[a.SlotID]
	if !ok {
		return nil, fmt.Errorf("appointment %s references missing slot %s", a.ID, a.SlotID)
	}
	return &AppointmentDetail{Appointment: a, Slot: s}, nil
}

func (r *MemoryRepository) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.selectDetails(func(d AppointmentDetail) bool {
		if filter.DoctorID != nil && d.Slot.DoctorID != *filter.DoctorID {
			return false
		}
		if filter.PatientID != nil && d.PatientID != *filter.PatientID {
			return false
		}
		return startsWithin(d.Slot.StartTime, filter.SlotFrom, filter.SlotTo)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Slot.StartTime.Equal(b.Slot.StartTime) {
			return a.Slot.StartTime.Before(b.Slot.StartTime)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *MemoryRepository) FindConfirmedEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.selectDetails(func(d AppointmentDetail) bool {
		return d.Status == StatusConfirmed && d.Slot.EndTime.Before(cutoff)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Slot.EndTime.Before(result[j].Slot.EndTime) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *MemoryRepository) selectDetails(keep func(AppointmentDetail) bool) ([]AppointmentDetail, error) {
	var result []AppointmentDetail
	for _, a := range r.appointments {
		d, err := r.detail(a)
		if err != nil {
			return nil, err
		}
		if keep(*d) {
			result = append(result, *d)
		}
	}
	return result, nil
}

func startsWithin(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && !t.Before(*to) {
		return false
	}
	return true
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memTx{repo: r}
	err := fn(tx)
	if err == nil {
		// A cancelled context aborts the commit, as it would in Postgres.
		err = ctx.Err()
	}
	if err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// memTx runs with MemoryRepository.mu held.
type memTx struct {
	repo *MemoryRepository
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) putSlot(s Slot) {
	prev, existed := t.repo.slots[s.ID]
	t.undo = append(t.undo, func() {
		if existed {
			t.repo.slots[s.ID] = prev
		} else {
			delete(t.repo.slots, s.ID)
		}
	})
	t.repo.slots[s.ID] = s
}

func (t *memTx) putAppointment(a Appointment) {
	prev, existed := t.repo.appointments[a.ID]
	t.undo = append(t.undo, func() {
		if existed {
			t.repo.appointments[a.ID] = prev
		} else {
			delete(t.repo.appointments, a.ID)
		}
	})
	t.repo.appointments[a.ID] = a
}

// LockDoctor is a no-op: the whole transaction already holds the mutex.
func (t *memTx) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	return nil
}

func (t *memTx) CountOverlappingSlots(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (int, error) {
	n := 0
	for _, s := range t.repo.slots {
		if s.DoctorID == doctorID && s.StartTime.Before(end) && s.EndTime.After(start) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertSlots(ctx context.Context, slots []Slot) ([]Slot, error) {
	now := t.repo.now()
	inserted := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if _, exists := t.repo.slots[s.ID]; exists {
			return nil, fmt.Errorf("insert slot: duplicate id %s", s.ID)
		}
		s.CreatedAt, s.UpdatedAt = now, now
		t.putSlot(s)
		inserted = append(inserted, s)
	}
	return inserted, nil
}

func (t *memTx) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return t.repo.slot(id)
}

func (t *memTx) ClaimSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	s, ok := t.repo.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if s.Status != SlotFree {
		return nil, ErrSlotUnavailable
	}
	s.Status = SlotBooked
	s.UpdatedAt = t.repo.now()
	t.putSlot(s)
	return &s, nil
}

func (t *memTx) ReleaseSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	s, ok := t.repo.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if s.Status != SlotBooked {
		return nil, fmt.Errorf("release slot %s: slot is not booked", id)
	}
	s.Status = SlotFree
	s.UpdatedAt = t.repo.now()
	t.putSlot(s)
	return &s, nil
}

func (t *memTx) LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := t.repo.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

// slotTaken mirrors the partial unique index on appointments(slot_id).
func (t *memTx) slotTaken(slotID, except uuid.UUID) bool {
	for _, a := range t.repo.appointments {
		if a.ID != except && a.SlotID == slotID && a.Status != StatusCancelled {
			return true
		}
	}
	return false
}

func (t *memTx) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if _, ok := t.repo.slots[a.SlotID]; !ok {
		return nil, ErrSlotNotFound
	}
	if _, exists := t.repo.appointments[a.ID]; exists {
		return nil, fmt.Errorf("insert appointment: duplicate id %s", a.ID)
	}
	if a.Status != StatusCancelled && t.slotTaken(a.SlotID, a.ID) {
		return nil, ErrSlotUnavailable
	}

	now := t.repo.now()
	a.CreatedAt, a.UpdatedAt = now, now
	t.putAppointment(a)
	return &a, nil
}

func (t *memTx) UpdateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	existing, ok := t.repo.appointments[a.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if _, ok := t.repo.slots[a.SlotID]; !ok {
		return nil, ErrSlotNotFound
	}
	if a.Status != StatusCancelled && t.slotTaken(a.SlotID, a.ID) {
		return nil, ErrSlotUnavailable
	}

	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = t.repo.now()
	t.putAppointment(a)
	return &a, nil
}
