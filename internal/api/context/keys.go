package context

import (
	"context"

	"contentflow/internal/platform/auth"
	"contentflow/internal/platform/database"

	"github.com/julienschmidt/httprouter"
)

type Key string

const (
	Claims Key = "claims"
	Tenant Key = "tenant"
	Params Key = "params"
)

// ClaimsFrom returns the authenticated caller, or nil before the auth middleware ran.
func ClaimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(Claims).(*auth.Claims)
	return c
}

func TenantFrom(ctx context.Context) *database.TenantContext {
	t, _ := ctx.Value(Tenant).(*database.TenantContext)
	return t
}

// Param reads a route parameter injected by the router.
func Param(ctx context.Context, name string) string {
	ps, _ := ctx.Value(Params).(httprouter.Params)
	return ps.ByName(name)
}
