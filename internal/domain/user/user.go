// Package user holds directory accounts: store owners, whose id doubles as
// the tenant id, and customers.
package user

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/apperr"
)

// Role distinguishes store owners from customers.
type Role string

const (
	RoleOwner Role = "owner"
	RoleUser  Role = "user"
)

var (
	// ErrNotFound is returned when an account does not exist.
	ErrNotFound = apperr.NotFound("user not found")
	// ErrStoreNotFound is returned when a tenant id does not resolve to an
	// active store owner.
	ErrStoreNotFound = apperr.NotFound("store not found")
)

// User is a directory account. Store fields are set only for owners.
type User struct {
	ID           string
	Email        string
	Name         string
	Role         Role
	Active       bool
	StoreName    string
	StorePhone   string
	StoreAddress string
	CreatedAt    time.Time
}

// IsStore reports whether the account can act as a tenant.
func (u *User) IsStore() bool {
	return u.Role == RoleOwner && u.Active
}

// CustomerStats is the per-store denormalized purchase history of a customer,
// keyed by email.
type CustomerStats struct {
	StoreID     string
	Email       string
	Name        string
	Phone       string
	OrderCount  int
	TotalSpent  decimal.Decimal
	LastOrderAt time.Time
}

// Purchase is one order contributing to CustomerStats. OrderID makes
// recording idempotent.
type Purchase struct {
	OrderID string
	StoreID string
	Email   string
	Name    string
	Phone   string
	Amount  decimal.Decimal
	At      time.Time
}

// Directory is the read side of the account store consulted by other domains.
type Directory interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}

// Repository extends Directory with writes used by tooling and jobs.
type Repository interface {
	Directory
	Upsert(ctx context.Context, u *User) error
	RecordPurchase(ctx context.Context, p Purchase) error
	GetCustomerStats(ctx context.Context, storeID, email string) (*CustomerStats, error)
}

// LookupStore resolves storeID to an active owner account.
func LookupStore(ctx context.Context, dir Directory, storeID string) (*User, error) {
	u, err := dir.GetByID(ctx, storeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrStoreNotFound
		}
		return nil, errors.Wrap(err, "lookup store")
	}
	if !u.IsStore() {
		return nil, ErrStoreNotFound
	}
	return u, nil
}
