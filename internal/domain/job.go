package domain

import (
	"encoding/json"
	"time"
)

// JobKind identifies which external capability a job invokes.
type JobKind string

const (
	JobKindImageCompose     JobKind = "image_compose"
	JobKindMarketAnalysis   JobKind = "market_analysis"
	JobKindProductDiscovery JobKind = "product_discovery"
)

// Valid reports whether the kind is one of the known job kinds.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindImageCompose, JobKindMarketAnalysis, JobKindProductDiscovery:
		return true
	default:
		return false
	}
}

// JobState enumerates job lifecycle states.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateRejected  JobState = "rejected"
)

// IsTerminal reports whether no further transition is permitted from the state.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateRejected
}

// Valid reports whether the state is one of the canonical states.
func (s JobState) Valid() bool {
	switch s {
	case JobStateQueued, JobStateRunning, JobStateCompleted, JobStateFailed, JobStateRejected:
		return true
	default:
		return false
	}
}

var allowedTransitions = map[JobState][]JobState{
	JobStateQueued:  {JobStateRunning, JobStateRejected},
	JobStateRunning: {JobStateCompleted, JobStateFailed},
}

// CanTransition reports whether moving a job from one state to another is legal.
func CanTransition(from, to JobState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job is one request/response cycle with an external provider.
type Job struct {
	ID            string
	UserID        string
	Kind          JobKind
	Input         json.RawMessage
	State         JobState
	Result        json.RawMessage
	StagedResult  json.RawMessage
	ErrorMessage  string
	ReservationID string
	RetryOf       string
	Locale        string
	Country       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewJob carries the attributes required to create a queued job.
type NewJob struct {
	ID            string
	UserID        string
	Kind          JobKind
	Input         json.RawMessage
	ReservationID string
	RetryOf       string
	Locale        string
	Country       string
}

// TransitionPayload is attached to a job when it changes state. Result is only
// valid for completed jobs and ErrorMessage only for failed or rejected ones.
type TransitionPayload struct {
	Result       json.RawMessage
	ErrorMessage string
}

// CheckTransition validates a transition request before it reaches storage.
func CheckTransition(from, to JobState, payload TransitionPayload) error {
	if !CanTransition(from, to) {
		return &ValidationError{Field: "state", Message: "illegal transition " + string(from) + " -> " + string(to)}
	}
	if len(payload.Result) > 0 && to != JobStateCompleted {
		return &ValidationError{Field: "result", Message: "result only allowed on completed jobs"}
	}
	if payload.ErrorMessage != "" && to != JobStateFailed && to != JobStateRejected {
		return &ValidationError{Field: "error_message", Message: "error message only allowed on failed or rejected jobs"}
	}
	return nil
}

// PageRequest describes a keyset page over a user's jobs.
type PageRequest struct {
	Limit  int
	Cursor string
}

// Page is one slice of a user's job history, newest first.
type Page struct {
	Jobs       []Job
	NextCursor string
}
