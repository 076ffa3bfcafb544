package auth

import (
	"context"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/user"
)

// Action names an operation guarded by Policy.
type Action int

const (
	// ActionPlaceOrder places an order in any store.
	ActionPlaceOrder Action = iota + 1
	// ActionManageOrders reads and transitions a store's orders.
	ActionManageOrders
	// ActionManageCatalog reads and writes a store's full catalog.
	ActionManageCatalog
)

var actionScopes = map[Action]string{
	ActionPlaceOrder:    ScopePlaceOrder,
	ActionManageOrders:  ScopeManageOrders,
	ActionManageCatalog: ScopeManageCatalog,
}

var (
	// ErrUnauthenticated is returned when no principal is present.
	ErrUnauthenticated = apperr.Unauthorized("authentication required")
	// ErrForbidden is returned when the principal may not act on the store.
	ErrForbidden = apperr.Forbidden("not allowed to act on this store")
)

// Policy is the single authorization check used by every mutating operation.
type Policy struct{}

// Authorize returns the request principal if it may perform action against
// storeID. Store-scoped actions require the principal to be that store's owner.
func (Policy) Authorize(ctx context.Context, action Action, storeID string) (Principal, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	if scope, ok := actionScopes[action]; ok && !p.HasScope(scope) {
		return Principal{}, apperr.Forbidden("api key lacks scope " + scope)
	}

	switch action {
	case ActionPlaceOrder:
		return p, nil
	case ActionManageOrders, ActionManageCatalog:
		if p.Role == user.RoleOwner && p.UserID == storeID {
			return p, nil
		}
		return Principal{}, ErrForbidden
	default:
		return Principal{}, ErrForbidden
	}
}

// AuthorizeOrderRead allows the store owner or the principal that placed the
// order.
func (pol Policy) AuthorizeOrderRead(ctx context.Context, storeID, createdBy string) (Principal, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	if createdBy != "" && p.UserID == createdBy {
		return p, nil
	}
	return pol.Authorize(ctx, ActionManageOrders, storeID)
}
