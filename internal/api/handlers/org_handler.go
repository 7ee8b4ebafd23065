package handlers

import (
	"net/http"

	apiContext "contentflow/internal/api/context"
	"contentflow/internal/pkg/errors"
	"contentflow/internal/platform/models"
)

type OrgLookup interface {
	GetByID(id string) (*models.Organization, error)
}

type OrgHandler struct {
	orgs OrgLookup
}

func NewOrgHandler(orgs OrgLookup) *OrgHandler {
	return &OrgHandler{orgs: orgs}
}

// GetCurrent returns the caller's organization and role.
func (h *OrgHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	tenant := apiContext.TenantFrom(r.Context())

	org, err := h.orgs.GetByID(tenant.OrgID)
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}
	if org == nil {
		errors.WriteDomainError(w, errors.NotFound("organization", tenant.OrgID))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":    org.ID,
		"slug":  org.Slug,
		"name":  org.Name,
		"actor": actor(r),
		"role":  apiContext.ClaimsFrom(r.Context()).Role,
	})
}
