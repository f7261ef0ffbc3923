package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrRejectShift marks a handler failure that must not be retried; the entry
// is acknowledged and dropped.
var ErrRejectShift = errors.New("shift rejected")

// ShiftCreated is the staff directory's notification that a doctor registered
// an availability window.
type ShiftCreated struct {
	MessageID    string
	DoctorID     uuid.UUID
	Start        time.Time
	End          time.Time
	SlotDuration time.Duration // zero means the generator default
}

type ShiftHandler func(ctx context.Context, shift ShiftCreated) error

// ParseShiftCreated decodes stream fields doctor_id, start_time, end_time
// (RFC 3339) and the optional slot_minutes.
func ParseShiftCreated(id string, values map[string]any) (ShiftCreated, error) {
	shift := ShiftCreated{MessageID: id}

	doctor, err := uuid.Parse(field(values, "doctor_id"))
	if err != nil {
		return shift, fmt.Errorf("doctor_id: %w", err)
	}
	shift.DoctorID = doctor

	if shift.Start, err = time.Parse(time.RFC3339, field(values, "start_time")); err != nil {
		return shift, fmt.Errorf("start_time: %w", err)
	}
	if shift.End, err = time.Parse(time.RFC3339, field(values, "end_time")); err != nil {
		return shift, fmt.Errorf("end_time: %w", err)
	}

	if raw := field(values, "slot_minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			return shift, fmt.Errorf("slot_minutes: invalid value %q", raw)
		}
		shift.SlotDuration = time.Duration(minutes) * time.Minute
	}

	return shift, nil
}

func field(values map[string]any, key string) string {
	v, ok := values[key]
	if !ok {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// ShiftConsumer reads shift-created entries through a consumer group so that
// several listeners can share one stream.
type ShiftConsumer struct {
	rdb        *redis.Client
	stream     string
	group      string
	consumer   string
	block      time.Duration
	batch      int64
	retryDelay time.Duration
	log        zerolog.Logger
}

func NewShiftConsumer(rdb *redis.Client, stream, group, consumer string, log zerolog.Logger) *ShiftConsumer {
	return &ShiftConsumer{
		rdb:        rdb,
		stream:     stream,
		group:      group,
		consumer:   consumer,
		block:      5 * time.Second,
		batch:      32,
		retryDelay: 5 * time.Second,
		log: log.With().
			Str("component", "shift_consumer").
			Str("stream", stream).
			Str("group", group).
			Logger(),
	}
}

// SetPolling overrides block and retry intervals.
func (c *ShiftConsumer) SetPolling(block, retryDelay time.Duration) {
	c.block = block
	c.retryDelay = retryDelay
}

// EnsureGroup creates the stream and group when missing. Entries already in
// the stream are delivered to a new group.
func (c *ShiftConsumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", c.group, err)
	}
	return nil
}

// Run consumes until ctx is cancelled. Entries whose handler failed stay in
// the pending list and are retried after retryDelay; pending entries from a
// previous run are processed first.
func (c *ShiftConsumer) Run(ctx context.Context, handle ShiftHandler) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	scanPendingAt := time.Now()

	for ctx.Err() == nil {
		if !scanPendingAt.IsZero() && !time.Now().Before(scanPendingAt) {
			n, failed, err := c.readOnce(ctx, "0", handle)
			switch {
			case err != nil:
				scanPendingAt = time.Now().Add(c.retryDelay)
			case failed > 0:
				scanPendingAt = time.Now().Add(c.retryDelay)
			case int64(n) < c.batch:
				scanPendingAt = time.Time{}
			}
		}

		_, failed, err := c.readOnce(ctx, ">", handle)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.log.Error().Err(err).Msg("read shift stream")
			sleep(ctx, c.retryDelay)
			continue
		}
		if failed > 0 && scanPendingAt.IsZero() {
			scanPendingAt = time.Now().Add(c.retryDelay)
		}
	}

	return nil
}

func (c *ShiftConsumer) readOnce(ctx context.Context, id string, handle ShiftHandler) (n, failed int, err error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, id},
		Count:    c.batch,
		Block:    c.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	for _, s := range streams {
		for _, msg := range s.Messages {
			n++
			if !c.process(ctx, msg, handle) {
				failed++
			}
		}
	}
	return n, failed, nil
}

// process reports whether the entry was acknowledged.
func (c *ShiftConsumer) process(ctx context.Context, msg redis.XMessage, handle ShiftHandler) bool {
	log := c.log.With().Str("message_id", msg.ID).Logger()

	shift, err := ParseShiftCreated(msg.ID, msg.Values)
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed shift entry")
		return c.ack(ctx, msg.ID)
	}

	if err := handle(ctx, shift); err != nil {
		if errors.Is(err, ErrRejectShift) {
			log.Warn().Err(err).Str("doctor_id", shift.DoctorID.String()).Msg("shift rejected")
			return c.ack(ctx, msg.ID)
		}
		log.Error().Err(err).Str("doctor_id", shift.DoctorID.String()).Msg("shift handling failed, will retry")
		return false
	}

	return c.ack(ctx, msg.ID)
}

func (c *ShiftConsumer) ack(ctx context.Context, id string) bool {
	if err := c.rdb.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		c.log.Error().Err(err).Str("message_id", id).Msg("ack shift entry")
		return false
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
