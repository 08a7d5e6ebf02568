// Package events carries job state notifications from the engine to
// subscribers in this process and, through Redis, in other processes.
package events

import (
	"context"
	"time"

	"jobengine/internal/domain"
)

// Event announces that a job entered a state.
type Event struct {
	JobID  string          `json:"job_id"`
	UserID string          `json:"user_id"`
	Kind   domain.JobKind  `json:"kind"`
	State  domain.JobState `json:"state"`
	At     time.Time       `json:"at"`
}

// FromJob builds the event for a job's current state.
func FromJob(job *domain.Job) Event {
	at := job.UpdatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Event{JobID: job.ID, UserID: job.UserID, Kind: job.Kind, State: job.State, At: at}
}

// Publisher delivers events best-effort. Implementations must not block the
// caller on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
