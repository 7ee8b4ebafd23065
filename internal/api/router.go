package api

import (
	"context"
	"net/http"

	apiContext "contentflow/internal/api/context"
	"contentflow/internal/api/handlers"
	"contentflow/internal/api/middleware"

	"github.com/julienschmidt/httprouter"
)

// Roles carried in access tokens.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleClient = "client"
)

type Dependencies struct {
	OrgHandler       *handlers.OrgHandler
	PostHandler      *handlers.PostHandler
	JobHandler       *handlers.JobHandler
	PlatformHandler  *handlers.PlatformHandler
	WebhookHandler   *handlers.WebhookHandler
	HealthHandler    *handlers.HealthHandler
	AuthMiddleware   *middleware.AuthMiddleware
	TenantMiddleware *middleware.TenantMiddleware
	RateLimiter      *middleware.RateLimiter
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	router.GET("/health", wrap(deps.HealthHandler.Check))

	authMid := deps.AuthMiddleware.Handle
	tenantMid := deps.TenantMiddleware.Handle
	limit := deps.RateLimiter.Handle
	staff := middleware.RequireRole(RoleOwner, RoleAdmin, RoleEditor)
	admins := middleware.RequireRole(RoleOwner, RoleAdmin)

	router.GET("/api/v1/organizations/current",
		chain(deps.OrgHandler.GetCurrent, authMid, tenantMid, limit))

	// Posts
	router.POST("/api/v1/posts",
		chain(deps.PostHandler.Create, authMid, tenantMid, limit, staff))
	router.GET("/api/v1/posts",
		chain(deps.PostHandler.List, authMid, tenantMid, limit))
	router.GET("/api/v1/posts/:post_id",
		chain(deps.PostHandler.Get, authMid, tenantMid, limit))
	router.PATCH("/api/v1/posts/:post_id",
		chain(deps.PostHandler.Update, authMid, tenantMid, limit, staff))
	router.GET("/api/v1/posts/:post_id/history",
		chain(deps.PostHandler.History, authMid, tenantMid, limit))

	// Review and scheduling
	router.POST("/api/v1/posts/:post_id/reviews",
		chain(deps.PostHandler.SubmitForReview, authMid, tenantMid, limit, staff))
	router.POST("/api/v1/approvals/:approval_id/decision",
		chain(deps.PostHandler.RecordDecision, authMid, tenantMid, limit))
	router.POST("/api/v1/posts/:post_id/schedule",
		chain(deps.PostHandler.Schedule, authMid, tenantMid, limit, staff))
	router.POST("/api/v1/posts/:post_id/cancel",
		chain(deps.PostHandler.Cancel, authMid, tenantMid, limit, staff))

	// Publish jobs
	router.POST("/api/v1/jobs/:job_id/confirm",
		chain(deps.JobHandler.Confirm, authMid, tenantMid, limit, staff))
	router.POST("/api/v1/jobs/:job_id/retry",
		chain(deps.JobHandler.Retry, authMid, tenantMid, limit, admins))

	router.GET("/api/v1/platforms",
		chain(deps.PlatformHandler.List, authMid, tenantMid, limit))

	// Webhooks
	router.POST("/api/v1/webhooks",
		chain(deps.WebhookHandler.Create, authMid, tenantMid, limit, admins))
	router.GET("/api/v1/webhooks",
		chain(deps.WebhookHandler.List, authMid, tenantMid, limit, admins))
	router.GET("/api/v1/webhooks/:webhook_id",
		chain(deps.WebhookHandler.Get, authMid, tenantMid, limit, admins))
	router.PATCH("/api/v1/webhooks/:webhook_id",
		chain(deps.WebhookHandler.Update, authMid, tenantMid, limit, admins))
	router.DELETE("/api/v1/webhooks/:webhook_id",
		chain(deps.WebhookHandler.Delete, authMid, tenantMid, limit, admins))

	// Deliveries live outside /webhooks/ so they do not collide with :webhook_id
	router.GET("/api/v1/deliveries/failed",
		chain(deps.WebhookHandler.FailedDeliveries, authMid, tenantMid, limit, admins))
	router.POST("/api/v1/deliveries/:delivery_id/redeliver",
		chain(deps.WebhookHandler.Redeliver, authMid, tenantMid, limit, admins))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
