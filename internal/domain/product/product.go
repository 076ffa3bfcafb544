package product

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/pricing"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = apperr.NotFound("product not found")
	// ErrDuplicateSKU is returned when a store already has a product with the SKU.
	ErrDuplicateSKU = apperr.Conflict("sku already exists in this store", nil)
)

// Product is a catalog item owned by a single store.
type Product struct {
	ID          string
	StoreID     string
	Name        string
	SKU         string
	Description string
	Category    string
	Brand       string
	Unit        string
	Image       string

	Price           decimal.Decimal
	CostPrice       decimal.Decimal
	MRP             *decimal.Decimal
	DiscountPercent *decimal.Decimal

	Stock    int
	MinStock int
	MaxStock int
	Active   bool

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FinalPrice returns the resolved sale price at full precision.
func (p *Product) FinalPrice() decimal.Decimal {
	return pricing.Resolve(pricing.Input{
		Base:            p.Price,
		MRP:             p.MRP,
		DiscountPercent: p.DiscountPercent,
	})
}

// InStock reports whether at least one unit is available.
func (p *Product) InStock() bool {
	return p.Stock > 0
}

// LowStock reports whether stock is at or below the minimum threshold.
// Products without a threshold never report low stock.
func (p *Product) LowStock() bool {
	return p.MinStock > 0 && p.Stock <= p.MinStock
}

// NormalizeSKU trims and upper-cases a SKU. SKUs are compared in this form.
// A Caser is stateful, so one is built per call.
func NormalizeSKU(sku string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(sku))
}

// Repository defines read and write operations for the product catalog.
// Every lookup other than GetByID is scoped to a store.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByName(ctx context.Context, storeID, name string) (*Product, error)
	GetBySKU(ctx context.Context, storeID, sku string) (*Product, error)
	List(ctx context.Context, filter ListFilter) ([]Product, int, error)
	Create(ctx context.Context, p *Product) error
	Upsert(ctx context.Context, p *Product) error
}

// IsNotFound reports whether err means the product does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
