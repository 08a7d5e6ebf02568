package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Ledger owns user credit balances and the reservations drawn against them.
type Ledger interface {
	OpenAccount(ctx context.Context, userID string, startingBalance int64) (*Account, error)
	Grant(ctx context.Context, userID string, amount int64) (*Account, error)
	Reserve(ctx context.Context, userID string, amount int64, ref string) (*Reservation, error)
	Commit(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) (int64, error)
	Reservation(ctx context.Context, reservationID string) (*Reservation, error)
	Balance(ctx context.Context, userID string) (int64, error)
	ListHeld(ctx context.Context, olderThan time.Time, limit int) ([]Reservation, error)
}

// JobRepository defines persistence for job entities.
type JobRepository interface {
	Create(ctx context.Context, job NewJob) (*Job, error)
	Transition(ctx context.Context, jobID string, from, to JobState, payload TransitionPayload) (*Job, error)
	StageResult(ctx context.Context, jobID string, result json.RawMessage) error
	Get(ctx context.Context, jobID string) (*Job, error)
	ListByUser(ctx context.Context, userID string, page PageRequest) (*Page, error)
	CountByState(ctx context.Context, userID string) (map[JobState]int, error)
	ListStale(ctx context.Context, states []JobState, olderThan time.Time, limit int) ([]Job, error)
	ClaimQueued(ctx context.Context) (*Job, error)
}
