// Package query serves read-only views over jobs and credits. Results may lag
// concurrent engine writes.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobengine/internal/domain"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// JobReader is the slice of the job store the facade reads from.
type JobReader interface {
	ListByUser(ctx context.Context, userID string, page domain.PageRequest) (*domain.Page, error)
	CountByState(ctx context.Context, userID string) (map[domain.JobState]int, error)
}

// BalanceReader reports a user's available credit.
type BalanceReader interface {
	Balance(ctx context.Context, userID string) (int64, error)
}

type HistoryItem struct {
	JobID     string          `json:"job_id"`
	Kind      domain.JobKind  `json:"kind"`
	State     domain.JobState `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
}

type HistoryPage struct {
	Items      []HistoryItem `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type Facade struct {
	jobs    JobReader
	credits BalanceReader
}

func NewFacade(jobs JobReader, credits BalanceReader) *Facade {
	return &Facade{jobs: jobs, credits: credits}
}

// History lists a user's jobs newest first. limit is clamped to
// [1, MaxHistoryLimit]; zero selects DefaultHistoryLimit.
func (f *Facade) History(ctx context.Context, userID string, limit int, cursor string) (*HistoryPage, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	page, err := f.jobs.ListByUser(ctx, userID, domain.PageRequest{Limit: limit, Cursor: cursor})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := &HistoryPage{Items: make([]HistoryItem, 0, len(page.Jobs)), NextCursor: page.NextCursor}
	for _, job := range page.Jobs {
		out.Items = append(out.Items, HistoryItem{
			JobID:     job.ID,
			Kind:      job.Kind,
			State:     job.State,
			CreatedAt: job.CreatedAt,
		})
	}
	return out, nil
}

// Counts returns the number of jobs per state, including zero entries.
func (f *Facade) Counts(ctx context.Context, userID string) (map[domain.JobState]int, error) {
	counts, err := f.jobs.CountByState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	out := map[domain.JobState]int{
		domain.JobStateQueued:    0,
		domain.JobStateRunning:   0,
		domain.JobStateCompleted: 0,
		domain.JobStateFailed:    0,
		domain.JobStateRejected:  0,
	}
	for state, n := range counts {
		out[state] = n
	}
	return out, nil
}

// Stats aggregates a user's jobs. TotalProcessed counts jobs that reached a
// provider outcome: completed plus failed. Rejected jobs never ran.
func (f *Facade) Stats(ctx context.Context, userID string) (*domain.Stats, error) {
	counts, err := f.Counts(ctx, userID)
	if err != nil {
		return nil, err
	}
	credits, err := f.CreditsRemaining(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats := &domain.Stats{
		Successful:       counts[domain.JobStateCompleted],
		Failed:           counts[domain.JobStateFailed],
		Rejected:         counts[domain.JobStateRejected],
		Pending:          counts[domain.JobStateQueued] + counts[domain.JobStateRunning],
		CreditsRemaining: credits,
	}
	stats.TotalProcessed = stats.Successful + stats.Failed
	return stats, nil
}

// CreditsRemaining is the user's available balance; users without an account
// have none.
func (f *Facade) CreditsRemaining(ctx context.Context, userID string) (int64, error) {
	balance, err := f.credits.Balance(ctx, userID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load balance: %w", err)
	}
	return balance, nil
}
