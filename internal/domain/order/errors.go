package order

import (
	"fmt"

	"github.com/xenking/storefront/internal/domain/apperr"
)

// Sentinel errors for order placement and status updates.
var (
	ErrNotFound        = apperr.NotFound("order not found")
	ErrEmptyItems      = apperr.Validation("items required", nil)
	ErrInvalidAmount   = apperr.Validation("invalid amount", nil)
	ErrInvalidOrderID  = apperr.Validation("invalid order id", nil)
	ErrStatusConflict  = apperr.Conflict("order status changed concurrently", nil)
	ErrDuplicateNumber = apperr.Conflict("order number already exists", nil)
	ErrRequestInFlight = apperr.Conflict("a request with this idempotency key is in progress", nil)
)

// ProductNotFoundError indicates a cart line did not resolve to a product.
// Ref is the identifier, name or SKU the client sent.
type ProductNotFoundError struct {
	Ref string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found, please refresh your cart", e.Ref)
}

// Kind implements apperr.Kinded.
func (e *ProductNotFoundError) Kind() apperr.Kind { return apperr.KindNotFound }

// Detail returns client-visible fields.
func (e *ProductNotFoundError) Detail() map[string]any {
	return map[string]any{"product": e.Ref}
}

// StoreMismatchError indicates a product belongs to another store.
type StoreMismatchError struct {
	ProductID string
	StoreID   string
}

func (e *StoreMismatchError) Error() string {
	return fmt.Sprintf("product %s does not belong to store %s", e.ProductID, e.StoreID)
}

// Kind implements apperr.Kinded.
func (e *StoreMismatchError) Kind() apperr.Kind { return apperr.KindValidation }

// Detail returns client-visible fields.
func (e *StoreMismatchError) Detail() map[string]any {
	return map[string]any{"productId": e.ProductID}
}

// InsufficientStockError indicates a product cannot cover the requested
// quantity. Available is what remained for the line when it was checked.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", name, e.Available, e.Requested)
}

// Kind implements apperr.Kinded.
func (e *InsufficientStockError) Kind() apperr.Kind { return apperr.KindValidation }

// Detail returns client-visible fields.
func (e *InsufficientStockError) Detail() map[string]any {
	return map[string]any{
		"productId": e.ProductID,
		"available": e.Available,
		"requested": e.Requested,
	}
}

// InvalidStatusError indicates a status outside the fixed set.
type InvalidStatusError struct {
	Status string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid status %q", e.Status)
}

// Kind implements apperr.Kinded.
func (e *InvalidStatusError) Kind() apperr.Kind { return apperr.KindValidation }

// Detail returns client-visible fields.
func (e *InvalidStatusError) Detail() map[string]any {
	return map[string]any{"allowed": Statuses}
}

// TransitionError indicates an illegal status move under strict transitions.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

// Kind implements apperr.Kinded.
func (e *TransitionError) Kind() apperr.Kind { return apperr.KindConflict }

// Detail returns client-visible fields.
func (e *TransitionError) Detail() map[string]any {
	return map[string]any{"from": e.From, "to": e.To}
}
