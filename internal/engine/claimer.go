package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"jobengine/internal/domain"
)

// RunClaimLoop pulls queued jobs from the store with Workers concurrent
// claimers until ctx is cancelled. It serves deployments where the API only
// records jobs and a separate worker process executes them.
func (e *Engine) RunClaimLoop(ctx context.Context, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	e.logger.Info().Int("claimers", e.cfg.Workers).Dur("poll", pollInterval).Msg("claim loop started")

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.claimUntilDone(ctx, pollInterval)
		}()
	}
	wg.Wait()
	e.logger.Info().Msg("claim loop stopped")
}

func (e *Engine) claimUntilDone(ctx context.Context, pollInterval time.Duration) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		claimed, err := e.ClaimOne(ctx)
		if err != nil {
			e.logger.Error().Err(err).Msg("claim job")
		}
		if claimed {
			timer.Reset(0)
			continue
		}
		timer.Reset(pollInterval)
	}
}

// ClaimOne executes the oldest queued job, if any, and reports whether one
// was found.
func (e *Engine) ClaimOne(ctx context.Context) (bool, error) {
	job, err := e.jobs.ClaimQueued(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	e.publish(job)
	e.execute(job, true)
	return true, nil
}
