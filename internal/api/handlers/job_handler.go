package handlers

import (
	"net/http"

	apiContext "contentflow/internal/api/context"
	"contentflow/internal/engine/publishing"
	"contentflow/internal/pkg/errors"
)

// JobHandler exposes the operator actions on publish jobs.
type JobHandler struct {
	queue *publishing.Queue
}

func NewJobHandler(queue *publishing.Queue) *JobHandler {
	return &JobHandler{queue: queue}
}

type confirmRequest struct {
	PlatformPostID string `json:"platform_post_id" validate:"required,max=200"`
}

// Confirm records a manual publish done outside the pipeline.
func (h *JobHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decode(w, r, &req) {
		return
	}

	tenant := apiContext.TenantFrom(r.Context())
	job, err := h.queue.ConfirmManual(r.Context(), tenant.OrgID, tenant.DB, actor(r), apiContext.Param(r.Context(), "job_id"), req.PlatformPostID)
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) Retry(w http.ResponseWriter, r *http.Request) {
	tenant := apiContext.TenantFrom(r.Context())
	job, err := h.queue.RetryFailed(r.Context(), tenant.OrgID, tenant.DB, actor(r), apiContext.Param(r.Context(), "job_id"))
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
