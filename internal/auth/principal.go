// Package auth carries the authenticated caller through request contexts.
// Token storage lives in auth/apikey and request limits in auth/ratelimit.
package auth

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/internal/store"
)

// RoleSuperadmin bypasses owner scoping.
const RoleSuperadmin = "superadmin"

// Principal is the caller identified by a session token.
type Principal struct {
	KeyID     string
	OwnerID   string
	Role      string
	RateLimit int
}

// Scope returns the store scope the principal may read and write.
func (p Principal) Scope() store.Scope {
	return store.Scope{OwnerID: p.OwnerID, Privileged: p.Role == RoleSuperadmin}
}

type contextKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal set by the auth middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}
