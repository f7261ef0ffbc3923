package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_RollbackUndoesEveryWrite(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	doctor := uuid.New()
	slots := TileShift(doctor, clinicDay.Add(9*time.Hour), clinicDay.Add(10*time.Hour), 30*time.Minute)

	require.NoError(t, repo.WithTx(ctx, func(tx Tx) error {
		_, err := tx.InsertSlots(ctx, slots)
		return err
	}))

	boom := errors.New("boom")
	err := repo.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.ClaimSlot(ctx, slots[0].ID); err != nil {
			return err
		}
		if _, err := tx.InsertAppointment(ctx, Appointment{
			ID:        uuid.New(),
			SlotID:    slots[0].ID,
			PatientID: uuid.New(),
			Status:    StatusPending,
		}); err != nil {
			return err
		}
		if _, err := tx.InsertSlots(ctx, TileShift(doctor, clinicDay.Add(11*time.Hour), clinicDay.Add(12*time.Hour), time.Hour)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	s, err := repo.GetSlotByID(ctx, slots[0].ID)
	require.NoError(t, err)
	assert.Equal(t, SlotFree, s.Status)

	all, err := repo.ListAppointments(ctx, AppointmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)

	stored, err := repo.ListSlots(ctx, SlotFilter{DoctorID: &doctor})
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestMemoryRepository_CancelledContextAbortsCommit(t *testing.T) {
	repo := NewMemoryRepository()
	slots := TileShift(uuid.New(), clinicDay, clinicDay.Add(time.Hour), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	err := repo.WithTx(ctx, func(tx Tx) error {
		_, err := tx.InsertSlots(ctx, slots)
		cancel()
		return err
	})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = repo.GetSlotByID(context.Background(), slots[0].ID)
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestMemoryRepository_OneActiveAppointmentPerSlot(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	slots := TileShift(uuid.New(), clinicDay, clinicDay.Add(time.Hour), time.Hour)
	require.NoError(t, repo.WithTx(ctx, func(tx Tx) error {
		_, err := tx.InsertSlots(ctx, slots)
		return err
	}))

	insert := func(status AppointmentStatus) error {
		return repo.WithTx(ctx, func(tx Tx) error {
			_, err := tx.InsertAppointment(ctx, Appointment{ID: uuid.New(), SlotID: slots[0].ID, PatientID: uuid.New(), Status: status})
			return err
		})
	}

	require.NoError(t, insert(StatusCancelled))
	require.NoError(t, insert(StatusPending))
	assert.ErrorIs(t, insert(StatusConfirmed), ErrSlotUnavailable)

	err := repo.WithTx(ctx, func(tx Tx) error {
		_, err := tx.InsertAppointment(ctx, Appointment{ID: uuid.New(), SlotID: uuid.New(), Status: StatusPending})
		return err
	})
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestMemoryRepository_SlotCompareAndSwap(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	slots := TileShift(uuid.New(), clinicDay, clinicDay.Add(time.Hour), time.Hour)

	err := repo.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.InsertSlots(ctx, slots); err != nil {
			return err
		}
		if _, err := tx.ClaimSlot(ctx, slots[0].ID); err != nil {
			return err
		}
		_, err := tx.ClaimSlot(ctx, slots[0].ID)
		assert.ErrorIs(t, err, ErrSlotUnavailable)

		_, err = tx.ClaimSlot(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrSlotNotFound)

		released, err := tx.ReleaseSlot(ctx, slots[0].ID)
		require.NoError(t, err)
		assert.Equal(t, SlotFree, released.Status)

		_, err = tx.ReleaseSlot(ctx, slots[0].ID)
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestAppointmentStatus_Transitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusConfirmed))
	assert.True(t, StatusPending.CanTransitionTo(StatusCancelled))
	assert.False(t, StatusPending.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusPending.CanTransitionTo(StatusNoShow))
	assert.True(t, StatusConfirmed.CanTransitionTo(StatusNoShow))
	assert.False(t, StatusConfirmed.CanTransitionTo(StatusPending))

	for _, s := range []AppointmentStatus{StatusCancelled, StatusCompleted, StatusNoShow} {
		assert.True(t, s.IsTerminal(), s)
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, AppointmentStatus("expired").Valid())
}
