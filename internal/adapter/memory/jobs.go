package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"jobengine/internal/domain"
)

// JobStore implements domain.JobRepository in process memory.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

// NewJobStore constructs an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*domain.Job), now: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *JobStore) WithClock(now func() time.Time) *JobStore {
	s.now = now
	return s
}

func (s *JobStore) Create(_ context.Context, in domain.NewJob) (*domain.Job, error) {
	if in.ID == "" || in.UserID == "" || in.ReservationID == "" {
		return nil, &domain.ValidationError{Field: "job", Message: "id, user and reservation are required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[in.ID]; exists {
		return nil, &domain.ValidationError{Field: "id", Message: "duplicate job id"}
	}
	now := s.now()
	job := &domain.Job{
		ID:            in.ID,
		UserID:        in.UserID,
		Kind:          in.Kind,
		Input:         cloneRaw(in.Input),
		State:         domain.JobStateQueued,
		ReservationID: in.ReservationID,
		RetryOf:       in.RetryOf,
		Locale:        in.Locale,
		Country:       in.Country,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.jobs[job.ID] = job
	return cloneJob(job), nil
}

func (s *JobStore) Transition(_ context.Context, jobID string, from, to domain.JobState, payload domain.TransitionPayload) (*domain.Job, error) {
	if err := domain.CheckTransition(from, to, payload); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.State != from {
		return nil, domain.ErrStateConflict
	}
	job.State = to
	if len(payload.Result) > 0 {
		job.Result = cloneRaw(payload.Result)
	}
	if payload.ErrorMessage != "" {
		job.ErrorMessage = payload.ErrorMessage
	}
	job.UpdatedAt = s.now()
	return cloneJob(job), nil
}

func (s *JobStore) StageResult(_ context.Context, jobID string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.State != domain.JobStateRunning {
		return domain.ErrStateConflict
	}
	job.StagedResult = cloneRaw(result)
	job.UpdatedAt = s.now()
	return nil
}

func (s *JobStore) Get(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *JobStore) ListByUser(_ context.Context, userID string, page domain.PageRequest) (*domain.Page, error) {
	cursor, err := domain.DecodeCursor(page.Cursor)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	var owned []domain.Job
	for _, job := range s.jobs {
		if job.UserID == userID && cursor.Before(job.CreatedAt, job.ID) {
			owned = append(owned, *cloneJob(job))
		}
	}
	s.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	out := &domain.Page{}
	if page.Limit > 0 && len(owned) > page.Limit {
		last := owned[page.Limit-1]
		out.NextCursor = domain.EncodeCursor(domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		owned = owned[:page.Limit]
	}
	out.Jobs = owned
	return out, nil
}

func (s *JobStore) CountByState(_ context.Context, userID string) (map[domain.JobState]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.JobState]int)
	for _, job := range s.jobs {
		if job.UserID == userID {
			counts[job.State]++
		}
	}
	return counts, nil
}

func (s *JobStore) ListStale(_ context.Context, states []domain.JobState, olderThan time.Time, limit int) ([]domain.Job, error) {
	wanted := make(map[domain.JobState]struct{}, len(states))
	for _, st := range states {
		wanted[st] = struct{}{}
	}
	s.mu.RLock()
	var out []domain.Job
	for _, job := range s.jobs {
		if _, ok := wanted[job.State]; ok && job.UpdatedAt.Before(olderThan) {
			out = append(out, *cloneJob(job))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JobStore) ClaimQueued(_ context.Context) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *domain.Job
	for _, job := range s.jobs {
		if job.State != domain.JobStateQueued {
			continue
		}
		if next == nil || job.CreatedAt.Before(next.CreatedAt) {
			next = job
		}
	}
	if next == nil {
		return nil, domain.ErrNotFound
	}
	next.State = domain.JobStateRunning
	next.UpdatedAt = s.now()
	return cloneJob(next), nil
}

func cloneJob(job *domain.Job) *domain.Job {
	copy := *job
	copy.Input = cloneRaw(job.Input)
	copy.Result = cloneRaw(job.Result)
	copy.StagedResult = cloneRaw(job.StagedResult)
	return &copy
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

var _ domain.JobRepository = (*JobStore)(nil)
