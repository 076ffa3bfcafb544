package auth

import (
	"context"
	"slices"

	"github.com/xenking/storefront/internal/domain/user"
)

// Scopes grantable to an API key. A key without scopes is unrestricted.
const (
	ScopePlaceOrder    = "orders:place"
	ScopeManageOrders  = "orders:manage"
	ScopeManageCatalog = "catalog:manage"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	Role   user.Role
	KeyID  string
	Scopes []string
}

// HasScope reports whether the principal's key grants scope.
func (p Principal) HasScope(scope string) bool {
	return len(p.Scopes) == 0 || slices.Contains(p.Scopes, scope)
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
