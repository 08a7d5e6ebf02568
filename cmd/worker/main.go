package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"jobengine/internal/bootstrap"
	"jobengine/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel).With().Str("cmd", "worker").Logger()

	if cfg.StoreDriver == infra.StoreDriverMemory {
		logger.Fatal().Msg("worker: the memory store cannot be shared with the API; use STORE_DRIVER=postgres")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to initialise runtime")
	}
	defer rt.Close()

	rt.Engine.Start(context.Background())
	stopRecovery, err := rt.StartRecovery(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to schedule recovery")
	}

	logger.Info().Int("workers", cfg.EngineWorkers).Dur("poll", cfg.WorkerPollDelay).Msg("worker: started")
	rt.Engine.RunClaimLoop(ctx, cfg.WorkerPollDelay)

	stopRecovery()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ProviderTimeout+5*time.Second)
	defer cancel()
	if err := rt.Engine.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("worker: in-flight jobs cancelled")
	}
	logger.Info().Msg("worker: stopped")
}
