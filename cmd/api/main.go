package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"jobengine/internal/bootstrap"
	"jobengine/internal/events"
	"jobengine/internal/http/handlers"
	httpapi "jobengine/internal/http/httpapi"
	"jobengine/internal/infra"
	"jobengine/internal/infra/geoip"
	"jobengine/internal/middleware"
	"jobengine/internal/query"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise runtime")
	}
	defer rt.Close()

	// Jobs outlive the request that submitted them; only shutdown cancels them.
	rt.Engine.Start(context.Background())
	stopRecovery, err := rt.StartRecovery(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule recovery")
	}

	if rt.Redis != nil {
		relay := events.NewRedisRelay(rt.Redis, rt.Hub, logger)
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("event relay stopped")
			}
		}()
	}

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		defer resolver.Close()
		lookup = resolver.CountryCode
	}

	app := handlers.NewApp(handlers.Deps{
		Engine:         rt.Engine,
		Facade:         query.NewFacade(rt.Jobs, rt.Ledger),
		Hub:            rt.Hub,
		Artifacts:      rt.Files,
		CallbackSecret: cfg.ProviderCallbackSecret,
		AllowedOrigins: cfg.CORSOrigins,
		Logger:         logger,
	})
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		JWTIssuer:       cfg.JWTIssuer,
		CORSOrigins:     cfg.CORSOrigins,
		DefaultLocale:   "en",
		CountryLookup:   lookup,
		Accounts:        rt.Ledger,
		StartingCredits: cfg.StartingCredits,
		SubmitLimiter:   middleware.NewRateLimiter(cfg.SubmitRatePerMin, 0),
		Static:          rt.Files.Handler(),
		Logger:          logger,
	})

	// Hijacked WebSocket connections outlive server.Shutdown; cancelling
	// serveCtx afterwards closes them.
	serveCtx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()
	server := infra.NewHTTPServer(serveCtx, cfg, router, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ProviderTimeout+5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	cancelServe()
	stopRecovery()
	if err := rt.Engine.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("in-flight jobs cancelled; the next recovery sweep settles them")
	}
	logger.Info().Msg("server stopped")
}
