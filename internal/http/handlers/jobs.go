package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"jobengine/internal/domain"
	"jobengine/internal/engine"
	"jobengine/internal/middleware"
)

type submitRequest struct {
	Kind  domain.JobKind  `json:"kind"`
	Input json.RawMessage `json:"input"`
}

type submitResponse struct {
	JobID            string          `json:"job_id"`
	State            domain.JobState `json:"state"`
	RetryOf          string          `json:"retry_of,omitempty"`
	CreditsRemaining int64           `json:"credits_remaining"`
}

type jobResponse struct {
	JobID        string          `json:"job_id"`
	Kind         domain.JobKind  `json:"kind"`
	State        domain.JobState `json:"state"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	RetryOf      string          `json:"retry_of,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toJobResponse(job *domain.Job) jobResponse {
	return jobResponse{
		JobID:        job.ID,
		Kind:         job.Kind,
		State:        job.State,
		Result:       job.Result,
		ErrorMessage: job.ErrorMessage,
		RetryOf:      job.RetryOf,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}

func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	var req submitRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	job, err := a.engine.Submit(r.Context(), engine.SubmitRequest{
		UserID:  userID,
		Kind:    req.Kind,
		Input:   req.Input,
		Locale:  middleware.LocaleFromContext(r.Context()),
		Country: middleware.CountryFromContext(r.Context()),
	})
	a.writeSubmission(w, r, job, err)
}

func (a *App) RetryJob(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	job, err := a.engine.Retry(r.Context(), userID, chi.URLParam(r, "job_id"))
	a.writeSubmission(w, r, job, err)
}

func (a *App) writeSubmission(w http.ResponseWriter, r *http.Request, job *domain.Job, err error) {
	if err != nil {
		if errors.Is(err, domain.ErrCapacityExhausted) && job != nil {
			w.Header().Set("Retry-After", "5")
			a.json(w, http.StatusServiceUnavailable, map[string]any{
				"error":  errorDetail{Code: "capacity_exhausted", Message: "too many jobs in flight, try again later"},
				"job_id": job.ID,
				"state":  job.State,
			})
			return
		}
		a.fail(w, r, err)
		return
	}
	remaining, err := a.facade.CreditsRemaining(r.Context(), job.UserID)
	if err != nil {
		a.logger.Warn().Err(err).Str("job_id", job.ID).Msg("read balance after submit")
	}
	a.json(w, http.StatusAccepted, submitResponse{
		JobID:            job.ID,
		State:            job.State,
		RetryOf:          job.RetryOf,
		CreditsRemaining: remaining,
	})
}

func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	job, err := a.engine.Status(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if job.UserID != userID {
		a.fail(w, r, domain.ErrNotFound)
		return
	}
	a.json(w, http.StatusOK, toJobResponse(job))
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.fail(w, r, &domain.ValidationError{Field: "limit", Message: "must be a non-negative integer"})
			return
		}
		limit = n
	}
	page, err := a.facade.History(r.Context(), userID, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, page)
}

func (a *App) JobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.facade.Stats(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, stats)
}

func (a *App) Credits(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	remaining, err := a.facade.CreditsRemaining(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"user_id": userID, "credits_remaining": remaining})
}
