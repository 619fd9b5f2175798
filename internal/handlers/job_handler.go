// -----------------------------------------------------------------------
// Job Handler - REST surface for job submission, status and results
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/argus/internal/engine"
	"github.com/ternarybob/argus/internal/interfaces"
	"github.com/ternarybob/argus/internal/models"
)

// SubmitJobRequest is the POST /api/jobs body.
type SubmitJobRequest struct {
	PluginID string            `json:"plugin_id" validate:"required"`
	Tools    []string          `json:"tools" validate:"required,min=1,dive,required"`
	Input    models.MediaInput `json:"input"`
}

type JobHandler struct {
	engine   *engine.Engine
	storage  interfaces.JobStorage
	validate *validator.Validate
	logger   arbor.ILogger
}

func NewJobHandler(eng *engine.Engine, storage interfaces.JobStorage, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		engine:   eng,
		storage:  storage,
		validate: validator.New(),
		logger:   logger,
	}
}

// SubmitJobHandler handles POST /api/jobs
func (h *JobHandler) SubmitJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	jobID, err := h.engine.Submit(r.Context(), req.PluginID, req.Tools, req.Input)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(models.JobStatusPending),
	})
}

// ListJobsHandler handles GET /api/jobs
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	opts := &interfaces.JobListOptions{Limit: 100}

	if status := r.URL.Query().Get("status"); status != "" {
		opts.Status = status
	}
	if plugin := r.URL.Query().Get("plugin_id"); plugin != "" {
		opts.PluginID = plugin
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			opts.Limit = val
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if val, err := strconv.Atoi(o); err == nil && val >= 0 {
			opts.Offset = val
		}
	}

	jobs, err := h.storage.ListJobs(r.Context(), opts)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	total, err := h.storage.CountJobs(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"total": total,
	})
}

// GetJobStatusHandler handles GET /api/jobs/{id}/status
//
// This is the pull channel: an authoritative point-in-time read that clients
// use to reconcile after reconnects. Progress is null when the record carries
// no progress data, never 0.
func (h *JobHandler) GetJobStatusHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	report, err := h.engine.GetStatus(r.Context(), jobID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, report)
}

// GetJobResultsHandler handles GET /api/jobs/{id}/results
//
// Results exist only for completed jobs; every other state is 404.
func (h *JobHandler) GetJobResultsHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	results, err := h.engine.GetResults(r.Context(), jobID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":  jobID,
		"results": results,
	})
}

// GetJobHandler handles GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job, err := h.storage.GetJob(r.Context(), jobID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// CancelJobHandler handles DELETE /api/jobs/{id}
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	if err := h.engine.Cancel(r.Context(), jobID); err != nil {
		WriteDomainError(w, err)
		return
	}

	h.logger.Info().Str("job_id", jobID).Msg("Job cancellation requested")

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": "cancelling",
	})
}
