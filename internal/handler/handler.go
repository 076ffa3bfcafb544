// Package handler exposes the storefront over JSON/HTTP with a chi router.
package handler

import (
	"context"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

// Orders is the order service used by the handlers.
type Orders interface {
	PlaceOrder(ctx context.Context, req order.PlaceRequest) (*order.PlaceResult, error)
	UpdateStatus(ctx context.Context, id, status string) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	ListByStore(ctx context.Context, filter order.ListFilter) (order.Page, error)
}

// Catalog is the product service used by the handlers.
type Catalog interface {
	ListPublic(ctx context.Context, filter product.ListFilter) (product.Page, error)
	ListForStore(ctx context.Context, storeID string, filter product.ListFilter) (product.Page, error)
	Create(ctx context.Context, storeID string, req product.CreateRequest) (*product.Product, error)
}

// Authenticator resolves API keys to principals.
type Authenticator interface {
	Authenticate(ctx context.Context, rawKey string) (auth.Principal, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in responses.
	// When empty, image paths are returned as stored.
	ImageBaseURL string
}

// Handler serves the storefront API.
type Handler struct {
	orders       Orders
	catalog      Catalog
	auth         Authenticator
	validate     *validator.Validate
	imageBaseURL string
}

// New creates a Handler.
func New(cfg Config, orders Orders, catalog Catalog, authn Authenticator) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		orders:       orders,
		catalog:      catalog,
		auth:         authn,
		validate:     v,
		imageBaseURL: strings.TrimRight(cfg.ImageBaseURL, "/"),
	}
}

// Routes returns the API router. It is meant to be mounted under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/catalog/products", h.listPublicProducts)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAPIKey)

		r.Post("/orders", h.placeOrder)
		r.Get("/orders/{id}", h.getOrder)
		r.Patch("/orders/{id}/status", h.updateOrderStatus)

		r.Route("/stores/{storeId}", func(r chi.Router) {
			r.Get("/orders", h.listStoreOrders)
			r.Get("/products", h.listStoreProducts)
			r.Post("/products", h.createProduct)
		})
	})
	return r
}

func (h *Handler) imageURL(path string) string {
	if path == "" || h.imageBaseURL == "" ||
		strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return h.imageBaseURL + "/" + strings.TrimLeft(path, "/")
}
