// Package jobs carries order side effects through asynq: the API enqueues
// tasks after an order commits and the worker applies them.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	// QueueDefault is the queue every storefront task goes to.
	QueueDefault = "default"

	// TypeOrderPlaced updates customer purchase stats for a new order.
	TypeOrderPlaced = "order:placed"
	// TypeLowStock reports a product at or below its minimum stock.
	TypeLowStock = "inventory:low_stock"
)

// OrderPlacedPayload is the body of a TypeOrderPlaced task.
type OrderPlacedPayload struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	StoreID     string          `json:"store_id"`
	Email       string          `json:"email"`
	Name        string          `json:"name"`
	Phone       string          `json:"phone"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PlacedAt    time.Time       `json:"placed_at"`
}

// LowStockPayload is the body of a TypeLowStock task.
type LowStockPayload struct {
	StoreID   string `json:"store_id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	Stock     int    `json:"stock"`
	MinStock  int    `json:"min_stock"`
}

// NewOrderPlacedTask builds a task for o. The task id is derived from the
// order id, so enqueueing the same order twice is rejected by asynq.
func NewOrderPlacedTask(o *order.Order) (*asynq.Task, error) {
	body, err := json.Marshal(OrderPlacedPayload{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		StoreID:     o.StoreID,
		Email:       o.Customer.Email,
		Name:        o.Customer.Name,
		Phone:       o.Customer.Phone,
		TotalAmount: o.TotalAmount,
		PlacedAt:    o.CreatedAt,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	return asynq.NewTask(TypeOrderPlaced, body,
		asynq.Queue(QueueDefault),
		asynq.TaskID(TypeOrderPlaced+":"+o.ID),
		asynq.MaxRetry(10),
	), nil
}

// NewLowStockTask builds a task for alert.
func NewLowStockTask(alert order.LowStockAlert) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockPayload{
		StoreID:   alert.StoreID,
		ProductID: alert.ProductID,
		Name:      alert.Name,
		SKU:       alert.SKU,
		Stock:     alert.Stock,
		MinStock:  alert.MinStock,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	return asynq.NewTask(TypeLowStock, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
	), nil
}
