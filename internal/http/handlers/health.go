package handlers

import (
	"net/http"
)

type healthResponse struct {
	Status        string `json:"status"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
}

// Health stays 200 while the process is up. A full dispatch queue is reported
// as "degraded".
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if a.engine != nil {
		resp.QueueDepth, resp.QueueCapacity = a.engine.Backlog()
		if resp.QueueCapacity > 0 && resp.QueueDepth >= resp.QueueCapacity {
			resp.Status = "degraded"
		}
	}
	a.json(w, http.StatusOK, resp)
}
