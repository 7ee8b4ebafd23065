package handlers

import (
	"net/http"

	apiContext "contentflow/internal/api/context"
	"contentflow/internal/engine/webhooks"
	"contentflow/internal/pkg/errors"
	"contentflow/internal/platform/models"
	"contentflow/internal/platform/repositories"

	"github.com/rs/zerolog/log"
)

// WebhookHandler manages a tenant's subscribers and its failed deliveries.
// Secrets are returned once, on create.
type WebhookHandler struct {
	dispatcher *webhooks.Dispatcher
}

func NewWebhookHandler(dispatcher *webhooks.Dispatcher) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher}
}

type createWebhookRequest struct {
	URL    string   `json:"url" validate:"required,url,startswith=http"`
	Events []string `json:"events" validate:"dive,required"`
	Secret string   `json:"secret" validate:"omitempty,min=16"`
}

type updateWebhookRequest struct {
	URL    string   `json:"url" validate:"omitempty,url,startswith=http"`
	Events []string `json:"events" validate:"dive,required"`
	Secret string   `json:"secret" validate:"omitempty,min=16"`
	Status string   `json:"status" validate:"omitempty,oneof=active paused"`
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if !decode(w, r, &req) {
		return
	}

	tenant := apiContext.TenantFrom(r.Context())
	sub := &models.WebhookSubscriber{
		TenantID: tenant.OrgID,
		URL:      req.URL,
		Events:   req.Events,
		Secret:   req.Secret,
	}
	if sub.Secret == "" {
		secret, err := webhooks.GenerateSecret()
		if err != nil {
			errors.WriteDomainError(w, err)
			return
		}
		sub.Secret = secret
	}

	if err := repositories.NewWebhookRepository(tenant.DB).Create(r.Context(), sub); err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.OrgID).Msg("failed to create webhook subscriber")
		errors.WriteDomainError(w, err)
		return
	}
	h.dispatcher.InvalidateSubscribers(r.Context(), tenant.OrgID)

	writeJSON(w, http.StatusCreated, sub)
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant := apiContext.TenantFrom(r.Context())
	subs, err := repositories.NewWebhookRepository(tenant.DB).List(r.Context())
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}
	for _, s := range subs {
		s.Secret = ""
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": subs})
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}
	sub.Secret = ""
	writeJSON(w, http.StatusOK, sub)
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateWebhookRequest
	if !decode(w, r, &req) {
		return
	}
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	if req.URL != "" {
		sub.URL = req.URL
	}
	if len(req.Events) > 0 {
		sub.Events = req.Events
	}
	if req.Secret != "" {
		sub.Secret = req.Secret
	}
	if req.Status != "" {
		sub.Status = req.Status
	}

	tenant := apiContext.TenantFrom(r.Context())
	if err := repositories.NewWebhookRepository(tenant.DB).Update(r.Context(), sub); err != nil {
		errors.WriteDomainError(w, err)
		return
	}
	h.dispatcher.InvalidateSubscribers(r.Context(), tenant.OrgID)

	sub.Secret = ""
	writeJSON(w, http.StatusOK, sub)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.load(w, r); !ok {
		return
	}

	tenant := apiContext.TenantFrom(r.Context())
	if err := repositories.NewWebhookRepository(tenant.DB).Delete(r.Context(), apiContext.Param(r.Context(), "webhook_id")); err != nil {
		errors.WriteDomainError(w, err)
		return
	}
	h.dispatcher.InvalidateSubscribers(r.Context(), tenant.OrgID)

	w.WriteHeader(http.StatusNoContent)
}

func (h *WebhookHandler) FailedDeliveries(w http.ResponseWriter, r *http.Request) {
	tenant := apiContext.TenantFrom(r.Context())
	limit := queryLimit(r)
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	deliveries, err := h.dispatcher.FailedDeliveries(r.Context(), tenant.DB, limit)
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deliveries": deliveries})
}

func (h *WebhookHandler) Redeliver(w http.ResponseWriter, r *http.Request) {
	tenant := apiContext.TenantFrom(r.Context())
	dl, err := h.dispatcher.Redeliver(r.Context(), tenant.DB, apiContext.Param(r.Context(), "delivery_id"))
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, dl)
}

func (h *WebhookHandler) load(w http.ResponseWriter, r *http.Request) (*models.WebhookSubscriber, bool) {
	tenant := apiContext.TenantFrom(r.Context())
	id := apiContext.Param(r.Context(), "webhook_id")

	sub, err := repositories.NewWebhookRepository(tenant.DB).GetByID(r.Context(), id)
	if err != nil {
		errors.WriteDomainError(w, err)
		return nil, false
	}
	if sub == nil {
		errors.WriteDomainError(w, errors.NotFound("webhook", id))
		return nil, false
	}
	return sub, true
}
