package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/slot-scheduling/internal/api"
	"github.com/hackgods/slot-scheduling/internal/app"
	"github.com/hackgods/slot-scheduling/internal/config"
	"github.com/hackgods/slot-scheduling/internal/logging"
)

var version = "dev"

func main() {
	log := logging.New("api-server", "info", "console")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log = logging.New("api-server", cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("version", version).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(rootCtx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	if cfg.AutoMigrate {
		if err := a.Migrate(rootCtx); err != nil {
			a.Close(context.Background())
			log.Fatal().Err(err).Msg("migration failed")
		}
	}

	health := api.NewHealthHandler(cfg.Env, version,
		api.Dependency{Name: "postgres", Critical: true, Ping: a.Pool.Ping},
		api.Dependency{Name: "redis", Ping: func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}},
	)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service: a.Service,
			Health:  health,
			Metrics: a.Metrics,
			Logger:  log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exitCode := 0
	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		log.Error().Err(err).Msg("http server failed")
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
	a.Close(shutdownCtx)

	log.Info().Msg("api-server stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
