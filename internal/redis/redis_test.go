package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := Connect(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestConnect_FailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Connect(context.Background(), Options{Addr: addr})
	assert.Error(t, err)
}

func TestSlotLock_ReleasesAfterCriticalSection(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewRedisSlotLocker(rdb, time.Second)
	slot := uuid.New()

	err := locker.WithSlotLock(context.Background(), slot, func(ctx context.Context) error {
		assert.True(t, mr.Exists(slotLockKey(slot)))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(slotLockKey(slot)))
}

func TestSlotLock_PropagatesCallbackError(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewRedisSlotLocker(rdb, time.Second)
	slot := uuid.New()
	boom := errors.New("boom")

	err := locker.WithSlotLock(context.Background(), slot, func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(slotLockKey(slot)))
}

func TestSlotLock_ContendedSlotIsRejected(t *testing.T) {
	_, rdb := newTestRedis(t)
	locker := NewRedisSlotLocker(rdb, time.Second)
	slot := uuid.New()

	entered := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = locker.WithSlotLock(context.Background(), slot, func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	err := locker.WithSlotLock(context.Background(), slot, func(ctx context.Context) error {
		t.Fatal("second holder must not enter")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	close(release)
	wg.Wait()

	// Other slots are independent.
	assert.NoError(t, locker.WithSlotLock(context.Background(), uuid.New(), func(ctx context.Context) error { return nil }))
}

func TestSlotLock_DoesNotDeleteForeignToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewRedisSlotLocker(rdb, time.Second)
	slot := uuid.New()

	err := locker.WithSlotLock(context.Background(), slot, func(ctx context.Context) error {
		// Simulate expiry followed by another holder taking the key.
		require.NoError(t, mr.Set(slotLockKey(slot), "someone-else"))
		return nil
	})
	require.NoError(t, err)

	got, err := mr.Get(slotLockKey(slot))
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestParseShiftCreated(t *testing.T) {
	doctor := uuid.New()
	shift, err := ParseShiftCreated("1-0", map[string]any{
		"doctor_id":    doctor.String(),
		"start_time":   "2026-03-02T08:00:00Z",
		"end_time":     "2026-03-02T12:00:00Z",
		"slot_minutes": "20",
	})
	require.NoError(t, err)
	assert.Equal(t, doctor, shift.DoctorID)
	assert.Equal(t, 4*time.Hour, shift.End.Sub(shift.Start))
	assert.Equal(t, 20*time.Minute, shift.SlotDuration)

	_, err = ParseShiftCreated("1-1", map[string]any{"doctor_id": "nope"})
	assert.Error(t, err)

	_, err = ParseShiftCreated("1-2", map[string]any{
		"doctor_id":    doctor.String(),
		"start_time":   "2026-03-02T08:00:00Z",
		"end_time":     "2026-03-02T12:00:00Z",
		"slot_minutes": "0",
	})
	assert.Error(t, err)
}

func addShift(t *testing.T, rdb *redis.Client, stream string, values map[string]any) {
	t.Helper()
	require.NoError(t, rdb.XAdd(context.Background(), &redis.XAddArgs{Stream: stream, Values: values}).Err())
}

func pendingCount(rdb *redis.Client, stream, group string) int64 {
	p, err := rdb.XPending(context.Background(), stream, group).Result()
	if err != nil {
		return -1
	}
	return p.Count
}

func TestShiftConsumer_HandlesAndAcknowledges(t *testing.T) {
	_, rdb := newTestRedis(t)
	doctor := uuid.New()

	addShift(t, rdb, "staff.shifts", map[string]any{
		"doctor_id":  doctor.String(),
		"start_time": "2026-03-02T08:00:00Z",
		"end_time":   "2026-03-02T09:00:00Z",
	})
	addShift(t, rdb, "staff.shifts", map[string]any{"doctor_id": "garbage"})
	addShift(t, rdb, "staff.shifts", map[string]any{
		"doctor_id":  doctor.String(),
		"start_time": "2026-03-02T08:30:00Z",
		"end_time":   "2026-03-02T09:30:00Z",
	})

	consumer := NewShiftConsumer(rdb, "staff.shifts", "slot-generator", "test-1", zerolog.Nop())
	consumer.SetPolling(20*time.Millisecond, 20*time.Millisecond)

	var mu sync.Mutex
	var handled []ShiftCreated
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- consumer.Run(ctx, func(ctx context.Context, s ShiftCreated) error {
			mu.Lock()
			defer mu.Unlock()
			handled = append(handled, s)
			if len(handled) == 2 {
				return ErrRejectShift
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, doctor, handled[0].DoctorID)
	assert.Equal(t, int64(0), pendingCount(rdb, "staff.shifts", "slot-generator"))
}

func TestShiftConsumer_RetriesFailedEntries(t *testing.T) {
	_, rdb := newTestRedis(t)
	addShift(t, rdb, "staff.shifts", map[string]any{
		"doctor_id":  uuid.NewString(),
		"start_time": "2026-03-02T08:00:00Z",
		"end_time":   "2026-03-02T09:00:00Z",
	})

	consumer := NewShiftConsumer(rdb, "staff.shifts", "slot-generator", "test-1", zerolog.Nop())
	consumer.SetPolling(20*time.Millisecond, 20*time.Millisecond)

	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- consumer.Run(ctx, func(ctx context.Context, s ShiftCreated) error {
			if atomic.AddInt32(&calls, 1) == 1 {
				return errors.New("database unavailable")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return pendingCount(rdb, "staff.shifts", "slot-generator") == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSlotLock_BackendDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locker := NewRedisSlotLocker(rdb, time.Second)
	mr.Close()

	called := false
	err := locker.WithSlotLock(context.Background(), uuid.New(), func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockBackend)
	assert.False(t, called)
}
