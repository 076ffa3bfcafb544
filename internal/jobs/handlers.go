package jobs

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/user"
)

// PurchaseRecorder stores customer purchase stats.
type PurchaseRecorder interface {
	RecordPurchase(ctx context.Context, p user.Purchase) error
}

// Handlers processes storefront tasks. Handlers log through the logger
// carried by the task context.
type Handlers struct {
	stats PurchaseRecorder
}

// NewHandlers returns Handlers recording purchases into stats.
func NewHandlers(stats PurchaseRecorder) *Handlers {
	return &Handlers{stats: stats}
}

// Register adds the handlers to mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeOrderPlaced, h.HandleOrderPlaced)
	mux.HandleFunc(TypeLowStock, h.HandleLowStock)
}

// HandleOrderPlaced adds the order to the customer's stats for its store,
// once per order.
func (h *Handlers) HandleOrderPlaced(ctx context.Context, t *asynq.Task) error {
	var p OrderPlacedPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return errors.Wrapf(asynq.SkipRetry, "decode %s: %v", t.Type(), err)
	}
	if p.OrderID == "" || p.StoreID == "" || p.Email == "" {
		return errors.Wrapf(asynq.SkipRetry, "%s %s: missing order, store or email", t.Type(), p.OrderID)
	}

	// Redelivered tasks carry the same order id and are not counted twice.
	err := h.stats.RecordPurchase(ctx, user.Purchase{
		OrderID: p.OrderID,
		StoreID: p.StoreID,
		Email:   p.Email,
		Name:    p.Name,
		Phone:   p.Phone,
		Amount:  p.TotalAmount,
		At:      p.PlacedAt,
	})
	if err != nil {
		return errors.Wrapf(err, "record purchase for order %s", p.OrderID)
	}

	zctx.From(ctx).Debug("Customer stats updated",
		zap.String("order_id", p.OrderID),
		zap.String("store_id", p.StoreID),
	)
	return nil
}

// HandleLowStock logs the alert. Delivery to store owners happens elsewhere.
func (h *Handlers) HandleLowStock(ctx context.Context, t *asynq.Task) error {
	var p LowStockPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return errors.Wrapf(asynq.SkipRetry, "decode %s: %v", t.Type(), err)
	}

	zctx.From(ctx).Warn("Low stock",
		zap.String("store_id", p.StoreID),
		zap.String("product_id", p.ProductID),
		zap.String("name", p.Name),
		zap.String("sku", p.SKU),
		zap.Int("stock", p.Stock),
		zap.Int("min_stock", p.MinStock),
	)
	return nil
}
