package middleware

import (
	"context"
	"database/sql"
	"net/http"

	apiContext "contentflow/internal/api/context"
	"contentflow/internal/pkg/errors"
	"contentflow/internal/platform/database"
	"contentflow/internal/platform/models"

	"github.com/rs/zerolog/log"
)

// OrgLookup resolves the organization named in a token.
type OrgLookup interface {
	GetByID(id string) (*models.Organization, error)
}

// TenantDBs is satisfied by *database.TenantDBPool.
type TenantDBs interface {
	Get(orgID, dbPath string) (*sql.DB, error)
}

type TenantMiddleware struct {
	orgs   OrgLookup
	dbPool TenantDBs
}

func NewTenantMiddleware(orgs OrgLookup, dbPool TenantDBs) *TenantMiddleware {
	return &TenantMiddleware{
		orgs:   orgs,
		dbPool: dbPool,
	}
}

// Handle attaches the caller's tenant database to the request. It must run after AuthMiddleware.
func (m *TenantMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := apiContext.ClaimsFrom(r.Context())
		if claims == nil {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "No authentication claims found", nil)
			return
		}

		org, err := m.orgs.GetByID(claims.OrganizationID)
		if err != nil {
			log.Error().Err(err).Str("org_id", claims.OrganizationID).Msg("failed to load organization")
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load organization", nil)
			return
		}
		if org == nil {
			errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Organization not found", nil)
			return
		}

		db, err := m.dbPool.Get(org.ID, org.DBFilePath)
		if err != nil {
			log.Error().Err(err).Str("org_id", org.ID).Msg("failed to open tenant database")
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to connect to tenant database", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Tenant, &database.TenantContext{
			OrgID:   org.ID,
			OrgSlug: org.Slug,
			DB:      db,
		})

		next(w, r.WithContext(ctx))
	}
}
