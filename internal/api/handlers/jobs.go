package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/daytrader/internal/scheduler"
	"github.com/wonny/daytrader/pkg/logger"
)

// JobsHandler exposes scheduler state
type JobsHandler struct {
	scheduler *scheduler.Scheduler
	logger    *logger.Logger
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(s *scheduler.Scheduler, log *logger.Logger) *JobsHandler {
	return &JobsHandler{scheduler: s, logger: log}
}

// GetJobs returns statistics for every scheduled job
// GET /api/jobs
func (h *JobsHandler) GetJobs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.scheduler.GetJobStats())
}

// RunJob starts a job immediately
// POST /api/jobs/{name}/run
func (h *JobsHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.scheduler.RunJob(name); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	h.logger.WithField("job", name).Info("Job triggered via API")
	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "started",
		"job":    name,
	})
}
