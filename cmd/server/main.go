package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/sigrelay/internal/adapters/http"
	"github.com/dkeye/sigrelay/internal/app"
	"github.com/dkeye/sigrelay/internal/config"
	"github.com/dkeye/sigrelay/internal/metrics"
	"github.com/dkeye/sigrelay/internal/push"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Logger first so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("failed to load config")
	}
	switch cfg.Mode {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "release":
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	policy, err := app.PolicyByName(cfg.Backpressure)
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("backpressure policy")
	}
	relay := app.NewRelay(policy, metrics.New())

	var notifier push.Notifier = push.Nop{}
	if cfg.Push.Enabled {
		fcm, err := push.NewFCM(ctx, cfg.Push.CredentialsFile, cfg.Push.ProjectID, cfg.Push.Timeout)
		if err != nil {
			log.Fatal().Err(err).Str("module", "main").Msg("push setup")
		}
		notifier = fcm
	}

	r := router.SetupRouter(ctx, cfg, relay, notifier)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("module", "main").Str("addr", addr).Msg("signaling relay started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("module", "main").Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Str("module", "main").Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("module", "main").Msg("server forced to shutdown")
	}
	log.Info().Str("module", "main").Int("connections", relay.Registry.Len()).Msg("server exited")
}
