package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobengine/internal/adapter/memory"
	"jobengine/internal/domain"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recoveryFixture struct {
	clock     *testClock
	ledger    *memory.Ledger
	jobs      *memory.JobStore
	engine    *Engine
	recoverer *Recoverer
}

func newRecoveryFixture(t *testing.T, inline bool) *recoveryFixture {
	t.Helper()
	clock := &testClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	f := &recoveryFixture{
		clock:  clock,
		ledger: memory.NewLedger().WithClock(clock.Now),
		jobs:   memory.NewJobStore().WithClock(clock.Now),
	}
	f.engine = New(Config{Workers: 1, QueueSize: 4, InlineDispatch: inline, ProviderTimeout: time.Second}, Deps{
		Ledger:    f.ledger,
		Jobs:      f.jobs,
		Providers: providerMap{domain.JobKindMarketAnalysis: staticProvider(`{"summary":"ok"}`)},
		Logger:    zerolog.Nop(),
	})
	f.engine.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.engine.Stop(ctx)
	})
	f.recoverer = NewRecoverer(f.engine, 5*time.Second).WithClock(clock.Now)

	_, err := f.ledger.OpenAccount(context.Background(), "u1", 3)
	require.NoError(t, err)
	return f
}

// queuedJob records a job the way Submit does, without dispatching it.
func (f *recoveryFixture) queuedJob(t *testing.T) *domain.Job {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	res, err := f.ledger.Reserve(ctx, "u1", 1, id)
	require.NoError(t, err)
	job, err := f.jobs.Create(ctx, domain.NewJob{
		ID:            id,
		UserID:        "u1",
		Kind:          domain.JobKindMarketAnalysis,
		Input:         json.RawMessage(`{"product":"kopi"}`),
		ReservationID: res.ID,
	})
	require.NoError(t, err)
	return job
}

func (f *recoveryFixture) runningJob(t *testing.T) *domain.Job {
	t.Helper()
	job := f.queuedJob(t)
	running, err := f.jobs.Transition(context.Background(), job.ID, domain.JobStateQueued, domain.JobStateRunning, domain.TransitionPayload{})
	require.NoError(t, err)
	return running
}

func (f *recoveryFixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), "u1")
	require.NoError(t, err)
	return b
}

func (f *recoveryFixture) state(t *testing.T, jobID string) *domain.Job {
	t.Helper()
	job, err := f.jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	return job
}

func TestSweepIgnoresFreshWork(t *testing.T) {
	f := newRecoveryFixture(t, false)
	f.runningJob(t)
	f.queuedJob(t)
	f.clock.Advance(2 * time.Second)

	report, err := f.recoverer.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report)
	assert.Equal(t, int64(1), f.balance(t))
}

func TestSweepCompletesCommittedJobFromStagedResult(t *testing.T) {
	f := newRecoveryFixture(t, false)
	ctx := context.Background()
	job := f.runningJob(t)
	require.NoError(t, f.jobs.StageResult(ctx, job.ID, json.RawMessage(`{"summary":"staged"}`)))
	require.NoError(t, f.ledger.Commit(ctx, job.ReservationID))
	f.clock.Advance(time.Minute)

	report, err := f.recoverer.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report[ActionCompletedFromStaged])

	got := f.state(t, job.ID)
	assert.Equal(t, domain.JobStateCompleted, got.State)
	assert.JSONEq(t, `{"summary":"staged"}`, string(got.Result))
	assert.Equal(t, int64(2), f.balance(t))
}

func TestSweepFailsStuckRunningJobWithRefund(t *testing.T) {
	f := newRecoveryFixture(t, false)
	job := f.runningJob(t)
	f.clock.Advance(time.Minute)

	report, err := f.recoverer.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report[ActionTimedOut])

	got := f.state(t, job.ID)
	assert.Equal(t, domain.JobStateFailed, got.State)
	assert.Equal(t, msgTimedOut, got.ErrorMessage)
	assert.Equal(t, int64(3), f.balance(t))

	// A second sweep finds nothing left to do.
	report, err = f.recoverer.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report)
}

func TestSweepFailsRunningJobWhoseCreditWasReleased(t *testing.T) {
	f := newRecoveryFixture(t, false)
	ctx := context.Background()
	job := f.runningJob(t)
	_, err := f.ledger.Release(ctx, job.ReservationID)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	report, err := f.recoverer.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report[ActionFailedReleased])
	assert.Equal(t, domain.JobStateFailed, f.state(t, job.ID).State)
	assert.Equal(t, int64(3), f.balance(t))
}

func TestSweepHaltsCommittedJobWithoutResult(t *testing.T) {
	f := newRecoveryFixture(t, false)
	ctx := context.Background()
	job := f.runningJob(t)
	require.NoError(t, f.ledger.Commit(ctx, job.ReservationID))
	f.clock.Advance(time.Minute)

	report, err := f.recoverer.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report[ActionIntegrity])
	assert.Equal(t, domain.JobStateRunning, f.state(t, job.ID).State)
	assert.Equal(t, int64(2), f.balance(t))
}

func TestSweepRedispatchesQueuedJob(t *testing.T) {
	f := newRecoveryFixture(t, true)
	job := f.queuedJob(t)
	f.clock.Advance(time.Minute)

	report, err := f.recoverer.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report[ActionRedispatched])

	require.Eventually(t, func() bool {
		return f.state(t, job.ID).State == domain.JobStateCompleted
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), f.balance(t))
}

func TestSweepLeavesQueuedJobToClaimers(t *testing.T) {
	f := newRecoveryFixture(t, false)
	job := f.queuedJob(t)
	f.clock.Advance(time.Minute)

	report, err := f.recoverer.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report[ActionRedispatched])
	assert.Equal(t, domain.JobStateQueued, f.state(t, job.ID).State)
}

func TestSweepRejectsQueuedJobWithReleasedCredit(t *testing.T) {
	f := newRecoveryFixture(t, false)
	ctx := context.Background()
	job := f.queuedJob(t)
	_, err := f.ledger.Release(ctx, job.ReservationID)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	report, err := f.recoverer.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report[ActionRejectedReleased])
	assert.Equal(t, domain.JobStateRejected, f.state(t, job.ID).State)
	assert.Equal(t, int64(3), f.balance(t))
}

func TestSweepReleasesOrphanReservation(t *testing.T) {
	f := newRecoveryFixture(t, false)
	ctx := context.Background()
	_, err := f.ledger.Reserve(ctx, "u1", 1, uuid.NewString())
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	report, err := f.recoverer.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report[ActionOrphanReleased])
	assert.Equal(t, int64(3), f.balance(t))
}

func TestSweepRefundsFailedJobStillHoldingCredit(t *testing.T) {
	f := newRecoveryFixture(t, false)
	ctx := context.Background()
	job := f.runningJob(t)
	_, err := f.jobs.Transition(ctx, job.ID, domain.JobStateRunning, domain.JobStateFailed, domain.TransitionPayload{ErrorMessage: msgProviderFailed})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	report, err := f.recoverer.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report[ActionTerminalReleased])
	assert.Equal(t, int64(3), f.balance(t))
}

func TestNewRecovererKeepsCutoffAboveProviderTimeout(t *testing.T) {
	e := New(Config{ProviderTimeout: 10 * time.Second}, Deps{Logger: zerolog.Nop()})
	r := NewRecoverer(e, 5*time.Second)
	assert.Greater(t, r.cutoff, 10*time.Second)
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	f := newRecoveryFixture(t, false)
	_, err := f.recoverer.Schedule(context.Background(), "every now and then")
	require.Error(t, err)

	c, err := f.recoverer.Schedule(context.Background(), "@every 1h")
	require.NoError(t, err)
	<-c.Stop().Done()
}
