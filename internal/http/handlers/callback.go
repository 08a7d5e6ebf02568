package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"jobengine/internal/domain"
	"jobengine/internal/engine"
)

const (
	callbackSucceeded = "succeeded"
	callbackFailed    = "failed"
)

type callbackRequest struct {
	Status    string            `json:"status"`
	Result    json.RawMessage   `json:"result"`
	Artifacts []engine.Artifact `json:"artifacts"`
	Error     string            `json:"error"`
}

// ProviderCallback settles a running job from a provider webhook. Callbacks
// for jobs that already settled are acknowledged and ignored.
func (a *App) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	if !a.callbackAuthorized(r) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid callback secret")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	var req callbackRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	var err error
	switch strings.ToLower(strings.TrimSpace(req.Status)) {
	case callbackSucceeded:
		err = a.engine.Complete(r.Context(), jobID, engine.Result{Payload: req.Result, Artifacts: req.Artifacts})
	case callbackFailed:
		err = a.engine.Fail(r.Context(), jobID, req.Error)
	default:
		err = &domain.ValidationError{Field: "status", Message: "must be succeeded or failed"}
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}

	job, err := a.engine.Status(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.logger.Info().Str("job_id", jobID).Str("state", string(job.State)).Msg("provider callback handled")
	a.json(w, http.StatusOK, map[string]any{"job_id": job.ID, "state": job.State})
}

func (a *App) callbackAuthorized(r *http.Request) bool {
	if a.callbackSecret == "" {
		return false
	}
	got := r.Header.Get("X-Callback-Secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(a.callbackSecret)) == 1
}
