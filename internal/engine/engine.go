// Package engine runs the credit-metered job lifecycle: it reserves credit,
// records the job, dispatches it to a provider and settles the reservation
// according to the outcome.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"jobengine/internal/domain"
	"jobengine/internal/events"
)

// User-visible failure messages. Provider diagnostics stay in the logs.
const (
	msgProviderFailed = "provider failed"
	msgTimedOut       = "provider timed out"
	msgEmptyResult    = "provider returned no result"
	msgCapacity       = "capacity exhausted"
	msgNoProvider     = "no provider available"
)

// Config tunes an Engine.
type Config struct {
	JobCost         int64
	Workers         int
	QueueSize       int
	ProviderTimeout time.Duration
	SettleTimeout   time.Duration
	// InlineDispatch hands submitted jobs to this process's worker pool.
	// When false, jobs stay queued for a claiming worker.
	InlineDispatch bool
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	Ledger    domain.Ledger
	Jobs      domain.JobRepository
	Providers ProviderSource
	Artifacts ArtifactStore
	Events    events.Publisher
	Metrics   *Metrics
	Logger    zerolog.Logger
}

type Engine struct {
	cfg       Config
	ledger    domain.Ledger
	jobs      domain.JobRepository
	providers ProviderSource
	artifacts ArtifactStore
	events    events.Publisher
	metrics   *Metrics
	logger    zerolog.Logger

	queue chan *domain.Job

	mu      sync.RWMutex
	started bool
	stopped bool
	done    chan struct{}
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds an Engine. Call Start before submitting with inline dispatch.
func New(cfg Config, deps Deps) *Engine {
	if cfg.JobCost <= 0 {
		cfg.JobCost = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = time.Minute
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 10 * time.Second
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	return &Engine{
		cfg:       cfg,
		ledger:    deps.Ledger,
		jobs:      deps.Jobs,
		providers: deps.Providers,
		artifacts: deps.Artifacts,
		events:    deps.Events,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With().Str("component", "engine").Logger(),
		queue:     make(chan *domain.Job, cfg.QueueSize),
		done:      make(chan struct{}),
		baseCtx:   context.Background(),
	}
}

// Start launches the worker pool. Provider calls and settlement derive their
// contexts from ctx, never from the request that submitted the job.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	e.baseCtx, e.cancel = context.WithCancel(ctx)

	if !e.cfg.InlineDispatch {
		return
	}
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	e.logger.Info().Int("workers", e.cfg.Workers).Int("queue", e.cfg.QueueSize).Msg("engine started")
}

// Stop stops accepting dispatches and waits for in-flight jobs. If ctx expires
// first, provider calls are cancelled and fail with a refund. Jobs still
// queued are left for the recovery sweep.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	close(e.done)
	e.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		err = ctx.Err()
		e.cancel()
		<-finished
	}
	e.cancel()
	return err
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case job := <-e.queue:
			e.execute(job, false)
		}
	}
}

type dispatchResult int

const (
	dispatched dispatchResult = iota
	deferred
	queueFull
)

func (e *Engine) dispatch(job *domain.Job) dispatchResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.cfg.InlineDispatch || !e.started || e.stopped {
		return deferred
	}
	select {
	case e.queue <- job:
		return dispatched
	default:
		return queueFull
	}
}

// Submit validates the request, reserves credit, records the job and hands
// it to the worker pool. A job is never created without a held reservation.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	if err := validateSubmit(req); err != nil {
		e.metrics.submitted(req.Kind, "invalid")
		return nil, err
	}
	if _, ok := e.providers.Provider(req.Kind); !ok {
		e.metrics.submitted(req.Kind, "invalid")
		return nil, &domain.ValidationError{Field: "kind", Message: "no provider serves " + string(req.Kind)}
	}

	jobID := uuid.NewString()
	res, err := e.ledger.Reserve(ctx, req.UserID, e.cfg.JobCost, jobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientCredit):
			e.metrics.submitted(req.Kind, "insufficient_credit")
		case errors.Is(err, domain.ErrAccountNotFound):
			e.metrics.submitted(req.Kind, "no_account")
		default:
			e.metrics.submitted(req.Kind, "error")
		}
		return nil, err
	}

	job, err := e.jobs.Create(ctx, domain.NewJob{
		ID:            jobID,
		UserID:        req.UserID,
		Kind:          req.Kind,
		Input:         req.Input,
		ReservationID: res.ID,
		RetryOf:       req.RetryOf,
		Locale:        req.Locale,
		Country:       req.Country,
	})
	if err != nil {
		e.metrics.submitted(req.Kind, "error")
		compCtx, cancel := e.settleContext()
		defer cancel()
		if _, relErr := e.ledger.Release(compCtx, res.ID); relErr != nil {
			e.logger.Error().Err(relErr).Str("reservation_id", res.ID).Msg("compensating release failed")
		}
		return nil, fmt.Errorf("create job: %w", err)
	}
	e.publish(job)

	switch e.dispatch(job) {
	case queueFull:
		e.metrics.submitted(req.Kind, "capacity")
		if rejected := e.reject(job, msgCapacity); rejected != nil {
			job = rejected
		}
		return job, domain.ErrCapacityExhausted
	default:
		e.metrics.submitted(req.Kind, "accepted")
	}

	e.logger.Info().
		Str("job_id", job.ID).
		Str("user_id", job.UserID).
		Str("kind", string(job.Kind)).
		Msg("job submitted")
	return job, nil
}

// Backlog reports how many dispatched jobs are waiting for a worker and the
// queue capacity.
func (e *Engine) Backlog() (queued, capacity int) {
	return len(e.queue), cap(e.queue)
}

// Status returns the job as currently stored.
func (e *Engine) Status(ctx context.Context, jobID string) (*domain.Job, error) {
	return e.jobs.Get(ctx, jobID)
}

// Retry submits a new job with the input of a failed or rejected one owned by
// userID. The original job is left untouched.
func (e *Engine) Retry(ctx context.Context, userID, jobID string) (*domain.Job, error) {
	prev, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if prev.UserID != userID {
		return nil, domain.ErrForbidden
	}
	if prev.State != domain.JobStateFailed && prev.State != domain.JobStateRejected {
		return nil, domain.ErrNotRetryable
	}
	return e.Submit(ctx, SubmitRequest{
		UserID:  prev.UserID,
		Kind:    prev.Kind,
		Input:   prev.Input,
		Locale:  prev.Locale,
		Country: prev.Country,
		RetryOf: prev.ID,
	})
}

// Complete settles a running job with a result delivered out of band, for
// example by a provider webhook. Jobs no longer running are left as they are.
func (e *Engine) Complete(ctx context.Context, jobID string, result Result) error {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != domain.JobStateRunning {
		return nil
	}
	if result.IsEmpty() {
		e.settleFailure(job, msgEmptyResult, domain.ErrEmptyResult)
		return nil
	}
	payload, err := e.materialize(ctx, job.ID, result)
	if err != nil {
		e.settleFailure(job, msgProviderFailed, err)
		return nil
	}
	e.settleSuccess(job, payload)
	return nil
}

// Fail settles a running job as failed and refunds it. Jobs no longer running
// are left as they are.
func (e *Engine) Fail(ctx context.Context, jobID, reason string) error {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != domain.JobStateRunning {
		return nil
	}
	e.settleFailure(job, msgProviderFailed, fmt.Errorf("%w: %s", domain.ErrProviderFailure, reason))
	return nil
}

// execute runs one job. Claimed jobs arrive already running.
func (e *Engine) execute(job *domain.Job, claimed bool) {
	e.metrics.inflight.Inc()
	defer e.metrics.inflight.Dec()

	log := e.logger.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Logger()
	provider, ok := e.providers.Provider(job.Kind)

	if !claimed {
		if !ok {
			e.reject(job, msgNoProvider)
			return
		}
		ctx, cancel := e.settleContext()
		running, err := e.jobs.Transition(ctx, job.ID, domain.JobStateQueued, domain.JobStateRunning, domain.TransitionPayload{})
		cancel()
		if err != nil {
			if errors.Is(err, domain.ErrStateConflict) {
				log.Debug().Msg("job already picked up")
				return
			}
			log.Error().Err(err).Msg("mark job running")
			return
		}
		job = running
		e.publish(job)
	} else if !ok {
		e.settleFailure(job, msgNoProvider, fmt.Errorf("%w: no provider for %s", domain.ErrProviderFailure, job.Kind))
		return
	}

	pctx, cancel := context.WithTimeout(e.lifetime(), e.cfg.ProviderTimeout)
	defer cancel()

	start := time.Now()
	res, err := provider.Invoke(pctx, Request{
		JobID:   job.ID,
		Kind:    job.Kind,
		Input:   job.Input,
		Locale:  job.Locale,
		Country: job.Country,
	})
	var payload json.RawMessage
	if err == nil {
		if res.IsEmpty() {
			err = domain.ErrEmptyResult
		} else {
			payload, err = e.materialize(pctx, job.ID, res)
		}
	}
	if err == nil && pctx.Err() != nil {
		err = pctx.Err()
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	e.metrics.providerDuration.WithLabelValues(string(job.Kind), outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		e.settleFailure(job, failureMessage(err), err)
		return
	}
	e.settleSuccess(job, payload)
}

// materialize validates the provider payload and persists artifact bytes.
// Results with artifacts are wrapped as {"data": ..., "artifacts": [...]}.
func (e *Engine) materialize(ctx context.Context, jobID string, res Result) (json.RawMessage, error) {
	if len(res.Payload) > 0 && !json.Valid(res.Payload) {
		return nil, fmt.Errorf("%w: malformed payload", domain.ErrProviderFailure)
	}
	if len(res.Artifacts) == 0 {
		return res.Payload, nil
	}

	arts := make([]Artifact, 0, len(res.Artifacts))
	for _, a := range res.Artifacts {
		if len(a.Data) > 0 {
			if e.artifacts == nil {
				return nil, fmt.Errorf("%w: artifact store not configured", domain.ErrProviderFailure)
			}
			url, err := e.artifacts.Save(ctx, jobID, a)
			if err != nil {
				return nil, fmt.Errorf("save artifact: %w", err)
			}
			a.URL = url
		}
		if a.URL == "" {
			return nil, fmt.Errorf("%w: artifact without content", domain.ErrProviderFailure)
		}
		arts = append(arts, a)
	}

	wrapped := struct {
		Data      json.RawMessage `json:"data,omitempty"`
		Artifacts []Artifact      `json:"artifacts"`
	}{Artifacts: arts}
	if !(Result{Payload: res.Payload}).IsEmpty() {
		wrapped.Data = res.Payload
	}
	return json.Marshal(wrapped)
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return msgTimedOut
	case errors.Is(err, domain.ErrEmptyResult):
		return msgEmptyResult
	default:
		return msgProviderFailed
	}
}

type settlement int

const (
	settled settlement = iota
	// settledElsewhere: another actor owns the outcome of this job.
	settledElsewhere
	// committedElsewhere: the reservation was committed by another actor
	// before this one could release it.
	committedElsewhere
	settleError
)

// settleSuccess stages the result, commits the credit and completes the job,
// in that order, so a crash at any step leaves enough to finish the job.
func (e *Engine) settleSuccess(job *domain.Job, payload json.RawMessage) settlement {
	ctx, cancel := e.settleContext()
	defer cancel()
	log := e.logger.With().Str("job_id", job.ID).Logger()

	if err := e.jobs.StageResult(ctx, job.ID, payload); err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			log.Debug().Msg("job settled elsewhere, dropping result")
			return settledElsewhere
		}
		log.Error().Err(err).Msg("stage result")
		return settleError
	}
	if err := e.ledger.Commit(ctx, job.ReservationID); err != nil {
		if domain.IsIntegrity(err) {
			e.integrityViolation(job, "commit", err)
			return settleError
		}
		log.Error().Err(err).Msg("commit reservation")
		return settleError
	}
	// Commit is a no-op on a reservation another actor already released.
	res, err := e.ledger.Reservation(ctx, job.ReservationID)
	if err != nil {
		log.Error().Err(err).Msg("read reservation after commit")
		return settleError
	}
	if res.Status != domain.ReservationCommitted {
		return e.failRefunded(ctx, job)
	}
	return e.finishCompleted(ctx, job, payload)
}

// failRefunded fails a running job whose credit was released by another actor
// while its result was being settled.
func (e *Engine) failRefunded(ctx context.Context, job *domain.Job) settlement {
	log := e.logger.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Logger()
	failed, err := e.jobs.Transition(ctx, job.ID, domain.JobStateRunning, domain.JobStateFailed, domain.TransitionPayload{ErrorMessage: msgProviderFailed})
	if err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			log.Debug().Msg("refunded job settled elsewhere")
			return settledElsewhere
		}
		log.Error().Err(err).Msg("mark refunded job failed")
		return settleError
	}
	e.metrics.settled(failed.Kind, domain.JobStateFailed)
	e.publish(failed)
	log.Warn().Msg("credit released before commit, result discarded")
	return settled
}

// finishCompleted moves a job whose credit is already committed to completed.
func (e *Engine) finishCompleted(ctx context.Context, job *domain.Job, payload json.RawMessage) settlement {
	done, err := e.jobs.Transition(ctx, job.ID, domain.JobStateRunning, domain.JobStateCompleted, domain.TransitionPayload{Result: payload})
	if err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			if current, getErr := e.jobs.Get(ctx, job.ID); getErr == nil && current.State == domain.JobStateCompleted {
				return settledElsewhere
			}
			e.integrityViolation(job, "complete", err)
			return settleError
		}
		e.logger.Error().Err(err).Str("job_id", job.ID).Msg("mark job completed")
		return settleError
	}
	e.metrics.settled(done.Kind, domain.JobStateCompleted)
	e.publish(done)
	e.logger.Info().Str("job_id", done.ID).Str("kind", string(done.Kind)).Msg("job completed")
	return settled
}

// settleFailure refunds the reservation and fails the job, in that order.
func (e *Engine) settleFailure(job *domain.Job, message string, cause error) settlement {
	ctx, cancel := e.settleContext()
	defer cancel()
	log := e.logger.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Logger()

	refunded, err := e.ledger.Release(ctx, job.ReservationID)
	if err != nil {
		if domain.IsIntegrity(err) {
			e.integrityViolation(job, "release", err)
			return settleError
		}
		log.Error().Err(err).Msg("release reservation")
		return settleError
	}
	if refunded == 0 {
		res, err := e.ledger.Reservation(ctx, job.ReservationID)
		if err == nil && res.Status == domain.ReservationCommitted {
			log.Debug().Msg("reservation already committed, leaving job to its owner")
			return committedElsewhere
		}
	}

	failed, err := e.jobs.Transition(ctx, job.ID, domain.JobStateRunning, domain.JobStateFailed, domain.TransitionPayload{ErrorMessage: message})
	if err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			log.Debug().Msg("job settled elsewhere")
			return settledElsewhere
		}
		log.Error().Err(err).Msg("mark job failed")
		return settleError
	}
	e.metrics.settled(failed.Kind, domain.JobStateFailed)
	e.publish(failed)
	log.Warn().Err(cause).Int64("refunded", refunded).Msg("job failed")
	return settled
}

// reject refunds a job that never ran and marks it rejected.
func (e *Engine) reject(job *domain.Job, message string) *domain.Job {
	ctx, cancel := e.settleContext()
	defer cancel()
	log := e.logger.With().Str("job_id", job.ID).Logger()

	if _, err := e.ledger.Release(ctx, job.ReservationID); err != nil {
		if domain.IsIntegrity(err) {
			e.integrityViolation(job, "release", err)
		} else {
			log.Error().Err(err).Msg("release rejected job")
		}
		return nil
	}
	rejected, err := e.jobs.Transition(ctx, job.ID, domain.JobStateQueued, domain.JobStateRejected, domain.TransitionPayload{ErrorMessage: message})
	if err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			e.integrityViolation(job, "reject", err)
		} else {
			log.Error().Err(err).Msg("mark job rejected")
		}
		return nil
	}
	e.metrics.settled(rejected.Kind, domain.JobStateRejected)
	e.publish(rejected)
	log.Warn().Str("reason", message).Msg("job rejected")
	return rejected
}

func (e *Engine) integrityViolation(job *domain.Job, op string, err error) {
	e.metrics.integrity(op)
	e.logger.Error().
		Err(err).
		Str("job_id", job.ID).
		Str("reservation_id", job.ReservationID).
		Str("op", op).
		Msg("integrity violation, job halted")
}

func (e *Engine) publish(job *domain.Job) {
	e.events.Publish(e.lifetime(), events.FromJob(job))
}

func (e *Engine) lifetime() context.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.baseCtx
}

// settleContext bounds ledger and store writes. It outlives cancellation of
// the engine so that a job interrupted at shutdown still gets settled.
func (e *Engine) settleContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(e.lifetime()), e.cfg.SettleTimeout)
}
