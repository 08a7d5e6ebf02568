package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"jobengine/internal/domain"
)

const recoveryBatch = 200

// Recovery actions, also used as metric labels.
const (
	ActionCompletedFromStaged = "completed_from_staged"
	ActionTimedOut            = "timed_out"
	ActionFailedReleased      = "failed_released"
	ActionRedispatched        = "redispatched"
	ActionRejectedReleased    = "rejected_released"
	ActionOrphanReleased      = "orphan_released"
	ActionTerminalReleased    = "terminal_released"
	ActionIntegrity           = "integrity"
)

// Report counts what a sweep did, keyed by action.
type Report map[string]int

// Recoverer repairs jobs and reservations left behind by crashes, lost
// workers and provider calls that never returned.
type Recoverer struct {
	engine *Engine
	cutoff time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu sync.Mutex
}

// NewRecoverer sweeps anything untouched for longer than cutoff, which must
// exceed the provider timeout so live jobs are never disturbed.
func NewRecoverer(e *Engine, cutoff time.Duration) *Recoverer {
	if cutoff <= e.cfg.ProviderTimeout {
		cutoff = e.cfg.ProviderTimeout + 30*time.Second
	}
	return &Recoverer{
		engine: e,
		cutoff: cutoff,
		now:    time.Now,
		logger: e.logger.With().Str("component", "recovery").Logger(),
	}
}

// WithClock overrides the time source, for tests.
func (r *Recoverer) WithClock(now func() time.Time) *Recoverer {
	r.now = now
	return r
}

// Sweep runs one recovery pass. Concurrent calls are serialized.
func (r *Recoverer) Sweep(ctx context.Context) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := Report{}
	olderThan := r.now().Add(-r.cutoff)
	e := r.engine

	running, err := e.jobs.ListStale(ctx, []domain.JobState{domain.JobStateRunning}, olderThan, recoveryBatch)
	if err != nil {
		return report, fmt.Errorf("list stale running jobs: %w", err)
	}
	for i := range running {
		r.record(report, r.recoverRunning(ctx, &running[i]))
	}

	queued, err := e.jobs.ListStale(ctx, []domain.JobState{domain.JobStateQueued}, olderThan, recoveryBatch)
	if err != nil {
		return report, fmt.Errorf("list stale queued jobs: %w", err)
	}
	for i := range queued {
		r.record(report, r.recoverQueued(ctx, &queued[i]))
	}

	held, err := e.ledger.ListHeld(ctx, olderThan, recoveryBatch)
	if err != nil {
		return report, fmt.Errorf("list held reservations: %w", err)
	}
	for _, res := range held {
		r.record(report, r.recoverHeld(ctx, res))
	}

	if len(report) > 0 {
		ev := r.logger.Info()
		for action, n := range report {
			ev = ev.Int(action, n)
		}
		ev.Msg("recovery sweep")
	}
	return report, nil
}

func (r *Recoverer) record(report Report, action string) {
	if action == "" {
		return
	}
	report[action]++
	r.engine.metrics.recovery(action)
}

func (r *Recoverer) recoverRunning(ctx context.Context, job *domain.Job) string {
	e := r.engine
	res, err := e.ledger.Reservation(ctx, job.ReservationID)
	if err != nil {
		if domain.IsIntegrity(err) {
			e.integrityViolation(job, "recover_running", err)
			return ActionIntegrity
		}
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("load reservation")
		return ""
	}

	switch res.Status {
	case domain.ReservationCommitted:
		return r.completeFromStaged(ctx, job)
	case domain.ReservationHeld:
		switch e.settleFailure(job, msgTimedOut, context.DeadlineExceeded) {
		case settled:
			return ActionTimedOut
		case committedElsewhere:
			current, err := e.jobs.Get(ctx, job.ID)
			if err != nil || current.State != domain.JobStateRunning {
				return ""
			}
			return r.completeFromStaged(ctx, current)
		default:
			return ""
		}
	case domain.ReservationReleased:
		if e.settleFailure(job, msgTimedOut, context.DeadlineExceeded) == settled {
			return ActionFailedReleased
		}
	}
	return ""
}

func (r *Recoverer) completeFromStaged(ctx context.Context, job *domain.Job) string {
	e := r.engine
	if (Result{Payload: job.StagedResult}).IsEmpty() {
		e.integrityViolation(job, "recover_committed", errors.New("committed reservation without staged result"))
		return ActionIntegrity
	}
	if e.finishCompleted(ctx, job, job.StagedResult) == settled {
		return ActionCompletedFromStaged
	}
	return ""
}

func (r *Recoverer) recoverQueued(ctx context.Context, job *domain.Job) string {
	e := r.engine
	res, err := e.ledger.Reservation(ctx, job.ReservationID)
	if err != nil {
		if domain.IsIntegrity(err) {
			e.integrityViolation(job, "recover_queued", err)
			return ActionIntegrity
		}
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("load reservation")
		return ""
	}

	switch res.Status {
	case domain.ReservationHeld:
		// The provider was never invoked; the queued->running CAS keeps a
		// second dispatch from running it twice.
		if e.dispatch(job) == dispatched {
			return ActionRedispatched
		}
		return ""
	case domain.ReservationReleased:
		if e.reject(job, msgCapacity) != nil {
			return ActionRejectedReleased
		}
		return ""
	default:
		e.integrityViolation(job, "recover_queued", fmt.Errorf("queued job with %s reservation", res.Status))
		return ActionIntegrity
	}
}

func (r *Recoverer) recoverHeld(ctx context.Context, res domain.Reservation) string {
	e := r.engine
	job, err := e.jobs.Get(ctx, res.Ref)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if refunded, err := e.ledger.Release(ctx, res.ID); err == nil && refunded > 0 {
			r.logger.Warn().Str("reservation_id", res.ID).Str("user_id", res.UserID).Msg("released orphan reservation")
			return ActionOrphanReleased
		}
		return ""
	case err != nil:
		r.logger.Error().Err(err).Str("reservation_id", res.ID).Msg("load reservation job")
		return ""
	}

	switch job.State {
	case domain.JobStateFailed, domain.JobStateRejected:
		if refunded, err := e.ledger.Release(ctx, res.ID); err == nil && refunded > 0 {
			r.logger.Warn().Str("reservation_id", res.ID).Str("job_id", job.ID).Msg("refunded terminal job")
			return ActionTerminalReleased
		}
	case domain.JobStateCompleted:
		e.integrityViolation(job, "recover_held", errors.New("completed job with held reservation"))
		return ActionIntegrity
	}
	// queued and running jobs are handled through the job sweeps.
	return ""
}

// Schedule runs Sweep on a cron spec until the returned cron is stopped.
func (r *Recoverer) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{r.logger})))
	_, err := c.AddFunc(spec, func() {
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Error().Err(err).Msg("recovery sweep failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule recovery %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
