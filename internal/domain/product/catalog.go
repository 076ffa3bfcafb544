package product

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/user"
)

// CreateRequest holds the input for adding a product to a store.
type CreateRequest struct {
	Name            string
	SKU             string
	Description     string
	Category        string
	Brand           string
	Unit            string
	Image           string
	Price           decimal.Decimal
	CostPrice       decimal.Decimal
	MRP             *decimal.Decimal
	DiscountPercent *decimal.Decimal
	Stock           int
	MinStock        int
	MaxStock        int
	// Active defaults to true when nil.
	Active *bool
}

// Catalog serves catalog listings and product creation.
type Catalog struct {
	products Repository
	users    user.Directory
	policy   auth.Policy
	now      func() time.Time
}

// NewCatalog creates a Catalog over the given repositories.
func NewCatalog(products Repository, users user.Directory) *Catalog {
	return &Catalog{
		products: products,
		users:    users,
		now:      time.Now,
	}
}

// ListPublic lists active products for shoppers. StoreID may be empty to
// browse every store.
func (c *Catalog) ListPublic(ctx context.Context, filter ListFilter) (Page, error) {
	filter.StoreID = strings.TrimSpace(filter.StoreID)
	if err := checkStoreID(filter.StoreID); err != nil {
		return Page{}, err
	}
	filter.ActiveOnly = true
	return c.list(ctx, filter)
}

// checkStoreID rejects a store filter that cannot name any store.
func checkStoreID(id string) error {
	if id == "" {
		return nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return apperr.Validation("invalid query", map[string]any{
			"fields": map[string]any{"storeId": "must be a valid id"},
		})
	}
	return nil
}

// ListForStore lists a store's full catalog, inactive products included.
// Only the store owner may call it.
func (c *Catalog) ListForStore(ctx context.Context, storeID string, filter ListFilter) (Page, error) {
	if _, err := c.policy.Authorize(ctx, auth.ActionManageCatalog, storeID); err != nil {
		return Page{}, err
	}
	filter.StoreID = storeID
	filter.ActiveOnly = false
	return c.list(ctx, filter)
}

func (c *Catalog) list(ctx context.Context, filter ListFilter) (Page, error) {
	filter = filter.Normalize()
	items, total, err := c.products.List(ctx, filter)
	if err != nil {
		return Page{}, errors.Wrap(err, "list products")
	}
	return Page{Items: items, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// Create validates req and adds the product to storeID's catalog.
func (c *Catalog) Create(ctx context.Context, storeID string, req CreateRequest) (*Product, error) {
	p, err := c.policy.Authorize(ctx, auth.ActionManageCatalog, storeID)
	if err != nil {
		return nil, err
	}
	if _, err := user.LookupStore(ctx, c.users, storeID); err != nil {
		return nil, err
	}
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	prod := &Product{
		ID:              uuid.NewString(),
		StoreID:         storeID,
		Name:            strings.TrimSpace(req.Name),
		SKU:             NormalizeSKU(req.SKU),
		Description:     strings.TrimSpace(req.Description),
		Category:        strings.TrimSpace(req.Category),
		Brand:           strings.TrimSpace(req.Brand),
		Unit:            strings.TrimSpace(req.Unit),
		Image:           req.Image,
		Price:           req.Price,
		CostPrice:       req.CostPrice,
		MRP:             req.MRP,
		DiscountPercent: req.DiscountPercent,
		Stock:           req.Stock,
		MinStock:        req.MinStock,
		MaxStock:        req.MaxStock,
		Active:          req.Active == nil || *req.Active,
		CreatedBy:       p.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if prod.Unit == "" {
		prod.Unit = "piece"
	}

	if err := c.products.Create(ctx, prod); err != nil {
		if errors.Is(err, ErrDuplicateSKU) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create product")
	}

	zctx.From(ctx).Info("Product created",
		zap.String("store_id", storeID),
		zap.String("product_id", prod.ID),
		zap.String("sku", prod.SKU),
	)
	return prod, nil
}

var hundred = decimal.NewFromInt(100)

func validateCreate(req CreateRequest) error {
	fields := map[string]any{}
	if strings.TrimSpace(req.Name) == "" {
		fields["name"] = "required"
	}
	if NormalizeSKU(req.SKU) == "" {
		fields["sku"] = "required"
	}
	if strings.TrimSpace(req.Category) == "" {
		fields["category"] = "required"
	}
	if req.Price.IsNegative() {
		fields["price"] = "must not be negative"
	}
	if req.CostPrice.IsNegative() {
		fields["costPrice"] = "must not be negative"
	}
	if req.MRP != nil && req.MRP.IsNegative() {
		fields["mrp"] = "must not be negative"
	}
	if d := req.DiscountPercent; d != nil && (d.IsNegative() || d.GreaterThan(hundred)) {
		fields["discountPercent"] = "must be between 0 and 100"
	}
	if req.Stock < 0 {
		fields["stock"] = "must not be negative"
	}
	if req.MinStock < 0 || req.MaxStock < 0 {
		fields["minStock"] = "thresholds must not be negative"
	}
	if req.MaxStock > 0 && req.MinStock > req.MaxStock {
		fields["maxStock"] = "must not be below minStock"
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid product", map[string]any{"fields": fields})
	}
	return nil
}
