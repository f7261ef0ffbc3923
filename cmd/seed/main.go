package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-scheduling/internal/appointment"
	"github.com/hackgods/slot-scheduling/internal/config"
	"github.com/hackgods/slot-scheduling/internal/db"
	"github.com/hackgods/slot-scheduling/internal/logging"
	redisclient "github.com/hackgods/slot-scheduling/internal/redis"
)

// Shift shapes a seeded doctor may work.
var shiftTemplates = []struct {
	startHour, endHour int
}{
	{8, 12},
	{9, 17},
	{13, 18},
	{10, 14},
}

var slotMinutes = []int{15, 20, 30}

type shiftSink func(ctx context.Context, shift appointment.Shift) (int, error)

func main() {
	log := logging.New("seed", "info", "console")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log = logging.New("seed", cfg.LogLevel, cfg.LogFormat)
	log.Info().Msg("seed starting")

	doctors := getInt("SEED_DOCTORS", 20)
	days := getInt("SEED_DAYS", 5)
	viaStream := os.Getenv("SEED_VIA_STREAM") == "true"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var sink shiftSink
	if viaStream {
		rdb, err := redisclient.Connect(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer rdb.Close()
		sink = streamSink(rdb, cfg.ShiftStream)
	} else {
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 0)
		if err != nil {
			log.Fatal().Err(err).Msg("connect postgres")
		}
		defer pool.Close()

		svc := appointment.NewService(appointment.NewPgRepository(pool), nil, nil, nil, cfg, log, nil)
		sink = func(ctx context.Context, shift appointment.Shift) (int, error) {
			slots, err := svc.GenerateSlots(ctx, shift)
			return len(slots), err
		}
	}

	if err := seedShifts(ctx, log, sink, cfg.Location, doctors, days); err != nil {
		log.Fatal().Err(err).Msg("seed shifts")
	}

	log.Info().Msg("seed complete")
}

// seedShifts gives each fake doctor one shift per weekday starting tomorrow.
func seedShifts(ctx context.Context, log zerolog.Logger, sink shiftSink, loc *time.Location, doctors, days int) error {
	log.Info().Int("doctors", doctors).Int("days", days).Msg("seeding shifts")

	faker := gofakeit.New(uint64(time.Now().UnixNano()))
	today := time.Now().In(loc)
	first := time.Date(today.Year(), today.Month(), today.Day()+1, 0, 0, 0, 0, loc)

	total := 0
	for i := 0; i < doctors; i++ {
		doctorID := uuid.New()
		tmpl := shiftTemplates[faker.Number(0, len(shiftTemplates)-1)]
		minutes := slotMinutes[faker.Number(0, len(slotMinutes)-1)]

		for day := 0; day < days; day++ {
			date := first.AddDate(0, 0, day)
			if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}

			n, err := sink(ctx, appointment.Shift{
				DoctorID:     doctorID,
				Start:        date.Add(time.Duration(tmpl.startHour) * time.Hour),
				End:          date.Add(time.Duration(tmpl.endHour) * time.Hour),
				SlotDuration: time.Duration(minutes) * time.Minute,
			})
			if err != nil {
				return fmt.Errorf("doctor %s on %s: %w", doctorID, date.Format(time.DateOnly), err)
			}
			total += n
		}

		log.Info().
			Str("doctor_id", doctorID.String()).
			Int("slot_minutes", minutes).
			Msgf("doctor seeded: %d/%d", i+1, doctors)
	}

	log.Info().Int("slots", total).Msg("shifts seeded")
	return nil
}

// streamSink publishes shift-created entries for the shift-listener instead
// of writing slots directly. It cannot know how many slots result.
func streamSink(rdb *redis.Client, stream string) shiftSink {
	return func(ctx context.Context, shift appointment.Shift) (int, error) {
		err := rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]any{
				"doctor_id":    shift.DoctorID.String(),
				"start_time":   shift.Start.Format(time.RFC3339),
				"end_time":     shift.End.Format(time.RFC3339),
				"slot_minutes": int(shift.SlotDuration / time.Minute),
			},
		}).Err()
		return 0, err
	}
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
