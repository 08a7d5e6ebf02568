package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"jobengine/internal/domain"
	"jobengine/internal/middleware"
	"jobengine/pkg/zip"
)

type storedResult struct {
	Artifacts []struct {
		Name string `json:"name"`
	} `json:"artifacts"`
}

// JobArtifacts downloads the artifacts this service stored for a completed
// job as one zip. Artifacts that only exist at a provider URL are skipped.
func (a *App) JobArtifacts(w http.ResponseWriter, r *http.Request) {
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
	if job.State != domain.JobStateCompleted {
		a.error(w, http.StatusConflict, "not_completed", "job has not completed")
		return
	}

	var result storedResult
	_ = json.Unmarshal(job.Result, &result)
	var files []zip.File
	if a.artifacts != nil {
		for _, art := range result.Artifacts {
			name := path.Base(art.Name)
			data, err := a.artifacts.Read(r.Context(), job.ID+"/"+name)
			if err != nil {
				continue
			}
			files = append(files, zip.File{Name: name, Data: data})
		}
	}
	if len(files) == 0 {
		a.error(w, http.StatusNotFound, "no_artifacts", "job has no stored artifacts")
		return
	}

	var buf bytes.Buffer
	if err := zip.Archive(&buf, files); err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+job.ID+`.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
