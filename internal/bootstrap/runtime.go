// Package bootstrap assembles the engine and its collaborators from
// configuration. The api and worker binaries share it.
package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"jobengine/internal/adapter/memory"
	"jobengine/internal/adapter/repo"
	"jobengine/internal/domain"
	"jobengine/internal/engine"
	"jobengine/internal/events"
	"jobengine/internal/infra"
	"jobengine/internal/infra/credentials"
	"jobengine/internal/infra/metrics"
	"jobengine/internal/infra/migrations"
	"jobengine/internal/providers"
	"jobengine/internal/storage"
)

// Runtime holds everything a binary needs to run jobs.
type Runtime struct {
	Config    *infra.Config
	Logger    zerolog.Logger
	Ledger    domain.Ledger
	Jobs      domain.JobRepository
	Providers *providers.Registry
	Files     *storage.FileStore
	Hub       *events.Hub
	Redis     *redis.Client
	Engine    *engine.Engine
	Recoverer *engine.Recoverer

	closers []func()
}

// Open connects the configured store, event transport and providers, and
// builds an engine that is not yet started.
func Open(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger, Hub: events.NewHub()}
	rt.closers = append(rt.closers, rt.Hub.Close)

	var keys providers.KeyResolver
	switch cfg.StoreDriver {
	case infra.StoreDriverMemory:
		logger.Warn().Msg("using in-memory store; balances and jobs are lost on restart")
		rt.Ledger = memory.NewLedger()
		rt.Jobs = memory.NewJobStore()
	default:
		if cfg.AutoMigrate {
			if err := migrations.ApplyURL(ctx, cfg.DatabaseURL); err != nil {
				rt.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info().Msg("database schema up to date")
		}
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		runner := infra.NewSQLRunner(pool, logger)
		rt.Ledger = repo.NewLedger(runner)
		rt.Jobs = repo.NewJobRepository(runner)
		keys = credentials.NewStore(runner)
	}

	storagePath := cfg.StoragePath
	if abs, err := filepath.Abs(storagePath); err == nil {
		storagePath = abs
	}
	files, err := storage.NewFileStore(storagePath, cfg.StorageURL)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Files = files

	// With Redis, events only travel through the channel; API instances relay
	// it into their hub.
	var publisher events.Publisher = rt.Hub
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Redis = client
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		publisher = events.NewRedisPublisher(client, logger)
	}

	rt.Providers = providers.Build(cfg, keys, logger)
	if len(rt.Providers.Kinds()) == 0 {
		logger.Warn().Msg("no providers configured; every submission will be refused")
	}

	rt.Engine = engine.New(engine.Config{
		JobCost:         cfg.JobCost,
		Workers:         cfg.EngineWorkers,
		QueueSize:       cfg.EngineQueueSize,
		ProviderTimeout: cfg.ProviderTimeout,
		InlineDispatch:  cfg.InlineDispatch,
	}, engine.Deps{
		Ledger:    rt.Ledger,
		Jobs:      rt.Jobs,
		Providers: rt.Providers,
		Artifacts: files,
		Events:    publisher,
		Metrics:   engine.NewMetrics(metrics.Registry),
		Logger:    logger,
	})
	rt.Recoverer = engine.NewRecoverer(rt.Engine, cfg.RecoveryCutoff())
	return rt, nil
}

// StartRecovery runs one sweep immediately and then on the configured
// schedule. The returned stop func waits for a running sweep to finish.
func (rt *Runtime) StartRecovery(ctx context.Context) (func(), error) {
	report, err := rt.Recoverer.Sweep(ctx)
	if err != nil {
		rt.Logger.Error().Err(err).Msg("startup recovery sweep failed")
	} else if len(report) > 0 {
		rt.Logger.Info().Interface("report", report).Msg("startup recovery sweep")
	}
	c, err := rt.Recoverer.Schedule(ctx, rt.Config.RecoverySchedule)
	if err != nil {
		return nil, err
	}
	return func() { <-c.Stop().Done() }, nil
}

// Close releases connections in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
