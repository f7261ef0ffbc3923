package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// LogSink writes one structured line per event.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("sink", "log").Logger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, ev Event) error {
	entry := s.log.Info().
		Str("event_id", ev.ID.String()).
		Str("event_type", string(ev.Type)).
		Str("appointment_id", ev.AppointmentID.String()).
		Str("patient_name", ev.PatientName).
		Str("doctor_name", ev.DoctorName).
		Time("slot_start", ev.Slot.Start).
		Time("slot_end", ev.Slot.End)
	if ev.PreviousSlot != nil {
		entry = entry.Time("previous_slot_start", ev.PreviousSlot.Start)
	}
	if ev.Reason != "" {
		entry = entry.Str("reason", ev.Reason)
	}
	entry.Msg("appointment event")
	return nil
}

// RedisStreamSink appends events to a Redis stream for messaging consumers.
type RedisStreamSink struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamSink(rdb *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Name() string { return "redis_stream" }

func (s *RedisStreamSink) Deliver(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"event_id":       ev.ID.String(),
			"type":           string(ev.Type),
			"appointment_id": ev.AppointmentID.String(),
			"payload":        string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// EventLogSink persists events into the event_logs table.
type EventLogSink struct {
	pool *pgxpool.Pool
}

func NewEventLogSink(pool *pgxpool.Pool) *EventLogSink {
	return &EventLogSink{pool: pool}
}

func (s *EventLogSink) Name() string { return "event_log" }

func (s *EventLogSink) Deliver(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// event_id is unique so a retried delivery does not duplicate the row.
	_, err = s.pool.Exec(ctx, `
		INSERT INTO event_logs (event_id, event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
		ON CONFLICT (event_id) DO NOTHING
	`, ev.ID, string(ev.Type), ev.AppointmentID, payload, nullableTime(ev.OccurredAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
