package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/product"
)

// productResponse is a catalog entry. Owner-only fields are omitted from
// public listings.
type productResponse struct {
	ID              string   `json:"id"`
	StoreID         string   `json:"storeId"`
	Name            string   `json:"name"`
	SKU             string   `json:"sku"`
	Description     string   `json:"description,omitempty"`
	Category        string   `json:"category"`
	Brand           string   `json:"brand,omitempty"`
	Unit            string   `json:"unit"`
	Image           string   `json:"image,omitempty"`
	Price           float64  `json:"price"`
	MRP             *float64 `json:"mrp,omitempty"`
	DiscountPercent *float64 `json:"discountPercent,omitempty"`
	FinalPrice      float64  `json:"finalPrice"`
	Stock           int      `json:"stock"`
	InStock         bool     `json:"inStock"`
	Active          bool     `json:"active"`

	CostPrice *float64 `json:"costPrice,omitempty"`
	MinStock  *int     `json:"minStock,omitempty"`
	MaxStock  *int     `json:"maxStock,omitempty"`
	LowStock  *bool    `json:"lowStock,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h *Handler) newProductResponse(p *product.Product, owner bool) productResponse {
	out := productResponse{
		ID:              p.ID,
		StoreID:         p.StoreID,
		Name:            p.Name,
		SKU:             p.SKU,
		Description:     p.Description,
		Category:        p.Category,
		Brand:           p.Brand,
		Unit:            p.Unit,
		Image:           h.imageURL(p.Image),
		Price:           money(p.Price),
		MRP:             moneyPtr(p.MRP),
		DiscountPercent: moneyPtr(p.DiscountPercent),
		FinalPrice:      money(p.FinalPrice()),
		Stock:           p.Stock,
		InStock:         p.InStock(),
		Active:          p.Active,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
	if owner {
		cost := money(p.CostPrice)
		low := p.LowStock()
		out.CostPrice = &cost
		out.MinStock = &p.MinStock
		out.MaxStock = &p.MaxStock
		out.LowStock = &low
	}
	return out
}

func moneyPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	v := money(*d)
	return &v
}

type productList struct {
	Products   []productResponse `json:"products"`
	Pagination pagination        `json:"pagination"`
}

func (h *Handler) newProductList(page product.Page, owner bool) productList {
	out := productList{
		Products: make([]productResponse, len(page.Items)),
		Pagination: pagination{
			Page:  page.Page,
			Limit: page.Limit,
			Total: page.Total,
			Pages: page.Pages(),
		},
	}
	for i := range page.Items {
		out.Products[i] = h.newProductResponse(&page.Items[i], owner)
	}
	return out
}

func (h *Handler) productFilter(r *http.Request) (product.ListFilter, error) {
	pq, err := h.parsePage(r)
	if err != nil {
		return product.ListFilter{}, err
	}
	q := r.URL.Query()
	return product.ListFilter{
		StoreID:  strings.TrimSpace(q.Get("storeId")),
		Category: q.Get("category"),
		Search:   q.Get("search"),
		Page:     pq.Page,
		Limit:    pq.Limit,
	}, nil
}

// listPublicProducts handles GET /catalog/products.
func (h *Handler) listPublicProducts(w http.ResponseWriter, r *http.Request) {
	filter, err := h.productFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if filter.StoreID != "" {
		if _, err := uuid.Parse(filter.StoreID); err != nil {
			writeError(w, r, apperr.Validation("invalid query", map[string]any{
				"fields": map[string]any{"storeId": "must be a valid id"},
			}))
			return
		}
	}
	page, err := h.catalog.ListPublic(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "data", h.newProductList(page, false))
}

// listStoreProducts handles GET /stores/{storeId}/products.
func (h *Handler) listStoreProducts(w http.ResponseWriter, r *http.Request) {
	filter, err := h.productFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.catalog.ListForStore(r.Context(), chi.URLParam(r, "storeId"), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "data", h.newProductList(page, true))
}

type createProductRequest struct {
	Name            string           `json:"name"`
	SKU             string           `json:"sku"`
	Description     string           `json:"description"`
	Category        string           `json:"category"`
	Brand           string           `json:"brand"`
	Unit            string           `json:"unit"`
	Image           string           `json:"image"`
	Price           decimal.Decimal  `json:"price"`
	CostPrice       decimal.Decimal  `json:"costPrice"`
	MRP             *decimal.Decimal `json:"mrp"`
	DiscountPercent *decimal.Decimal `json:"discountPercent"`
	Stock           int              `json:"stock"`
	MinStock        int              `json:"minStock"`
	MaxStock        int              `json:"maxStock"`
	Active          *bool            `json:"active"`
}

// createProduct handles POST /stores/{storeId}/products.
func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.catalog.Create(r.Context(), chi.URLParam(r, "storeId"), product.CreateRequest{
		Name:            req.Name,
		SKU:             req.SKU,
		Description:     req.Description,
		Category:        req.Category,
		Brand:           req.Brand,
		Unit:            req.Unit,
		Image:           req.Image,
		Price:           req.Price,
		CostPrice:       req.CostPrice,
		MRP:             req.MRP,
		DiscountPercent: req.DiscountPercent,
		Stock:           req.Stock,
		MinStock:        req.MinStock,
		MaxStock:        req.MaxStock,
		Active:          req.Active,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "data", h.newProductResponse(p, true))
}
