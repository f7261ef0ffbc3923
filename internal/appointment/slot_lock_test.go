package appointment

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/hackgods/slot-scheduling/internal/redis"
)

// contendedLocker reports the lock as held by someone else for the first
// busyFor calls, then runs fn.
type contendedLocker struct {
	calls   int32
	busyFor int32
	onBusy  func()
}

func (l *contendedLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	if atomic.AddInt32(&l.calls, 1) <= l.busyFor {
		if l.onBusy != nil {
			l.onBusy()
		}
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

func TestWithSlotLock_RetriesWhileSlotIsFree(t *testing.T) {
	locker := &contendedLocker{busyFor: 2}
	f := newFixtureWithLocker(t, locker)
	f.svc.cfg.LockWait = time.Second

	appt, err := f.svc.CreateAppointment(context.Background(), f.patientID, f.slots[0].ID)
	require.NoError(t, err)
	assert.Equal(t, f.slots[0].ID, appt.SlotID)
	assert.EqualValues(t, 3, atomic.LoadInt32(&locker.calls))
	assert.Equal(t, SlotBooked, f.slotStatus(t, f.slots[0].ID))
}

func TestWithSlotLock_NoWaitReportsConflict(t *testing.T) {
	locker := &contendedLocker{busyFor: 1}
	f := newFixtureWithLocker(t, locker)

	_, err := f.svc.CreateAppointment(context.Background(), f.patientID, f.slots[0].ID)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.EqualValues(t, 1, atomic.LoadInt32(&locker.calls))
	assert.Equal(t, SlotFree, f.slotStatus(t, f.slots[0].ID))
}

func TestWithSlotLock_WaitExpires(t *testing.T) {
	locker := &contendedLocker{busyFor: 1 << 20}
	f := newFixtureWithLocker(t, locker)
	f.svc.cfg.LockWait = 60 * time.Millisecond

	start := time.Now()
	_, err := f.svc.CreateAppointment(context.Background(), f.patientID, f.slots[0].ID)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Greater(t, atomic.LoadInt32(&locker.calls), int32(1))
	assert.Equal(t, SlotFree, f.slotStatus(t, f.slots[0].ID))
}

func TestWithSlotLock_StopsOnceHolderBooks(t *testing.T) {
	locker := &contendedLocker{busyFor: 1 << 20}
	f := newFixtureWithLocker(t, locker)
	f.svc.cfg.LockWait = 10 * time.Second

	// The lock holder's booking commits while we wait.
	slotID := f.slots[0].ID
	locker.onBusy = func() {
		_ = f.repo.WithTx(context.Background(), func(tx Tx) error {
			_, err := tx.ClaimSlot(context.Background(), slotID)
			return err
		})
	}

	start := time.Now()
	_, err := f.svc.CreateAppointment(context.Background(), f.patientID, slotID)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Less(t, time.Since(start), time.Second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&locker.calls))
}

func TestWithSlotLock_ContextCancelledWhileWaiting(t *testing.T) {
	locker := &contendedLocker{busyFor: 1 << 20}
	f := newFixtureWithLocker(t, locker)
	f.svc.cfg.LockWait = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.svc.CreateAppointment(ctx, f.patientID, f.slots[0].ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, SlotFree, f.slotStatus(t, f.slots[0].ID))
}
