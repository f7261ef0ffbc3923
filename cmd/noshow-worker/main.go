package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/slot-scheduling/internal/app"
	"github.com/hackgods/slot-scheduling/internal/appointment"
	"github.com/hackgods/slot-scheduling/internal/config"
	"github.com/hackgods/slot-scheduling/internal/logging"
)

func main() {
	log := logging.New("noshow-worker", "info", "console")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log = logging.New("noshow-worker", cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("grace", cfg.NoShowGrace).
		Msg("noshow-worker starting up")

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

	// Run once at startup
	runOnce(rootCtx, a.Service, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping noshow-worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a.Service, log)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	marked, err := svc.SweepNoShows(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("no-show sweep failed")
		return
	}
	log.Info().
		Int("marked", marked).
		Dur("took", time.Since(start)).
		Msg("no-show sweep complete")
}
