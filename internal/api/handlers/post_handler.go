package handlers

import (
	"net/http"

	apiContext "contentflow/internal/api/context"
	"contentflow/internal/engine/workflow"
	"contentflow/internal/pkg/errors"
)

type PostHandler struct {
	deps workflow.Deps
}

func NewPostHandler(deps workflow.Deps) *PostHandler {
	return &PostHandler{deps: deps}
}

func (h *PostHandler) service(r *http.Request) *workflow.Service {
	tenant := apiContext.TenantFrom(r.Context())
	return workflow.NewService(tenant.DB, tenant.OrgID, h.deps)
}

func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req workflow.PostInput
	if !decode(w, r, &req) {
		return
	}

	post, err := h.service(r).CreatePost(r.Context(), actor(r), req)
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (h *PostHandler) List(w http.ResponseWriter, r *http.Request) {
	status := workflow.Status(r.URL.Query().Get("status"))
	posts, err := h.service(r).ListPosts(r.Context(), status, queryLimit(r))
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"posts": posts})
}

func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service(r).GetPost(r.Context(), apiContext.Param(r.Context(), "post_id"))
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *PostHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req workflow.PostInput
	if !decode(w, r, &req) {
		return
	}

	post, err := h.service(r).UpdateContent(r.Context(), actor(r), apiContext.Param(r.Context(), "post_id"), req)
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *PostHandler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service(r).History(r.Context(), apiContext.Param(r.Context(), "post_id"))
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

type reviewRequest struct {
	Type string `json:"type" validate:"required,oneof=INTERNAL CLIENT"`
}

func (h *PostHandler) SubmitForReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !decode(w, r, &req) {
		return
	}

	approval, err := h.service(r).SubmitForReview(r.Context(), actor(r), apiContext.Param(r.Context(), "post_id"), workflow.ApprovalType(req.Type))
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, approval)
}

type decisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=APPROVED REVISION_REQUESTED REJECTED"`
	Comment  string `json:"comment" validate:"max=2000"`
}

func (h *PostHandler) RecordDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !decode(w, r, &req) {
		return
	}

	approval, post, err := h.service(r).RecordDecision(r.Context(), actor(r), apiContext.Param(r.Context(), "approval_id"), workflow.Decision(req.Decision), req.Comment)
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"approval": approval, "post": post})
}

type scheduleRequest struct {
	// Unix seconds.
	ScheduledFor int64 `json:"scheduled_for" validate:"required,gt=0"`
}

func (h *PostHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !decode(w, r, &req) {
		return
	}

	post, jobs, err := h.service(r).SchedulePublish(r.Context(), actor(r), apiContext.Param(r.Context(), "post_id"), req.ScheduledFor)
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"post": post, "jobs": jobs})
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *PostHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !decode(w, r, &req) {
		return
	}

	post, err := h.service(r).Cancel(r.Context(), actor(r), apiContext.Param(r.Context(), "post_id"), req.Reason)
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}
