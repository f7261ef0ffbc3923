package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hackgods/slot-scheduling/internal/app"
	"github.com/hackgods/slot-scheduling/internal/config"
	"github.com/hackgods/slot-scheduling/internal/logging"
	redisclient "github.com/hackgods/slot-scheduling/internal/redis"
)

func main() {
	log := logging.New("shift-listener", "info", "console")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log = logging.New("shift-listener", cfg.LogLevel, cfg.LogFormat)

	consumer, _ := os.Hostname()
	if consumer == "" {
		consumer = "shift-listener"
	}

	log.Info().
		Str("stream", cfg.ShiftStream).
		Str("group", cfg.ShiftGroup).
		Str("consumer", consumer).
		Msg("shift-listener starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(rootCtx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		a.Close(ctx)
	}()

	shifts := redisclient.NewShiftConsumer(a.Redis, cfg.ShiftStream, cfg.ShiftGroup, consumer, log)
	if err := shifts.Run(rootCtx, a.Service.HandleShiftCreated); err != nil {
		log.Error().Err(err).Msg("shift consumer stopped")
		return
	}

	log.Info().Msg("shift-listener stopped")
}
