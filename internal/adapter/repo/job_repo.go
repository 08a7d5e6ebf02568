package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"jobengine/internal/domain"
	"jobengine/internal/infra"
	"jobengine/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	db infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(db infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

// Create inserts a queued job record.
func (r *JobRepositoryPG) Create(ctx context.Context, in domain.NewJob) (*domain.Job, error) {
	if in.ID == "" || in.UserID == "" || in.ReservationID == "" {
		return nil, &domain.ValidationError{Field: "job", Message: "id, user and reservation are required"}
	}
	row := r.db.QueryRow(ctx, sqlinline.QInsertJob,
		in.ID,
		in.UserID,
		string(in.Kind),
		[]byte(in.Input),
		in.ReservationID,
		in.RetryOf,
		in.Locale,
		in.Country,
	)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// Transition moves a job from one state to another only if it is still in the
// expected state.
func (r *JobRepositoryPG) Transition(ctx context.Context, jobID string, from, to domain.JobState, payload domain.TransitionPayload) (*domain.Job, error) {
	if err := domain.CheckTransition(from, to, payload); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrNotFound
	}
	row := r.db.QueryRow(ctx, sqlinline.QTransitionJob,
		jobID,
		string(from),
		string(to),
		nullableJSON(payload.Result),
		payload.ErrorMessage,
	)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !infra.IsNoRows(err) {
		return nil, fmt.Errorf("transition job: %w", err)
	}
	if _, err := r.Get(ctx, jobID); err != nil {
		return nil, err
	}
	return nil, domain.ErrStateConflict
}

// StageResult stores a provider result on a running job ahead of settlement.
func (r *JobRepositoryPG) StageResult(ctx context.Context, jobID string, result json.RawMessage) error {
	if _, err := uuid.Parse(jobID); err != nil {
		return domain.ErrNotFound
	}
	tag, err := r.db.Exec(ctx, sqlinline.QStageJobResult, jobID, nullableJSON(result))
	if err != nil {
		return fmt.Errorf("stage job result: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.Get(ctx, jobID); err != nil {
		return err
	}
	return domain.ErrStateConflict
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrNotFound
	}
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QSelectJob, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// ListByUser returns one keyset page of the user's jobs, newest first.
func (r *JobRepositoryPG) ListByUser(ctx context.Context, userID string, page domain.PageRequest) (*domain.Page, error) {
	cursor, err := domain.DecodeCursor(page.Cursor)
	if err != nil {
		return nil, err
	}
	var (
		afterTime *time.Time
		afterID   string
	)
	if cursor != nil {
		afterTime = &cursor.CreatedAt
		afterID = cursor.ID
	}
	limit := page.Limit
	if limit <= 0 {
		limit = 100
	}
	// One extra row tells us whether another page exists.
	rows, err := r.db.Query(ctx, sqlinline.QListJobsByUser, userID, afterTime, afterID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}

	out := &domain.Page{}
	if len(jobs) > limit {
		last := jobs[limit-1]
		out.NextCursor = domain.EncodeCursor(domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		jobs = jobs[:limit]
	}
	out.Jobs = jobs
	return out, nil
}

// CountByState aggregates the user's jobs per state.
func (r *JobRepositoryPG) CountByState(ctx context.Context, userID string) (map[domain.JobState]int, error) {
	rows, err := r.db.Query(ctx, sqlinline.QCountJobsByState, userID)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobState]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[domain.JobState(state)] = n
	}
	return counts, rows.Err()
}

// ListStale returns jobs in the given states not touched since olderThan.
func (r *JobRepositoryPG) ListStale(ctx context.Context, states []domain.JobState, olderThan time.Time, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	names := make([]string, 0, len(states))
	for _, s := range states {
		names = append(names, string(s))
	}
	rows, err := r.db.Query(ctx, sqlinline.QListStaleJobs, names, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return collectJobs(rows)
}

// ClaimQueued moves the oldest queued job to running, skipping rows locked by
// other workers.
func (r *JobRepositoryPG) ClaimQueued(ctx context.Context) (*domain.Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QClaimQueuedJob))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job          domain.Job
		kind, state  string
		input        []byte
		result       []byte
		stagedResult []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&kind,
		&input,
		&state,
		&result,
		&stagedResult,
		&job.ErrorMessage,
		&job.ReservationID,
		&job.RetryOf,
		&job.Locale,
		&job.Country,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Kind = domain.JobKind(kind)
	job.State = domain.JobState(state)
	job.Input = input
	job.Result = nullableJSON(result)
	job.StagedResult = nullableJSON(stagedResult)
	return &job, nil
}

func nullableJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
