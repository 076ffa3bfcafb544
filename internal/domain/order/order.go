package order

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is how the customer pays for an order.
type PaymentMethod string

const (
	PaymentCOD        PaymentMethod = "cod"
	PaymentCard       PaymentMethod = "card"
	PaymentUPI        PaymentMethod = "upi"
	PaymentNetBanking PaymentMethod = "netbanking"
	PaymentWallet     PaymentMethod = "wallet"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCOD, PaymentCard, PaymentUPI, PaymentNetBanking, PaymentWallet:
		return true
	}
	return false
}

// PaymentStatus tracks settlement of an order's payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Address is a postal address copied into the order at placement.
type Address struct {
	Street   string `json:"street"`
	City     string `json:"city"`
	State    string `json:"state"`
	Pincode  string `json:"pincode"`
	Landmark string `json:"landmark,omitempty"`
}

// Customer is a snapshot of the buyer taken when the order is placed. It is
// never updated from the directory afterwards.
type Customer struct {
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Phone   string  `json:"phone"`
	Address Address `json:"address"`
}

// Item is a snapshot of one ordered product.
type Item struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
	Unit      string          `json:"unit"`
	Image     string          `json:"image,omitempty"`
}

// Payment is the payment sub-record of an order.
type Payment struct {
	Method        PaymentMethod   `json:"method"`
	Status        PaymentStatus   `json:"status"`
	TransactionID string          `json:"transactionId,omitempty"`
	PaidAmount    decimal.Decimal `json:"paidAmount"`
}

// Delivery holds optional fulfilment details.
type Delivery struct {
	Method         string     `json:"method,omitempty"`
	Partner        string     `json:"partner,omitempty"`
	TrackingNumber string     `json:"trackingNumber,omitempty"`
	Instructions   string     `json:"instructions,omitempty"`
	ExpectedAt     *time.Time `json:"expectedAt,omitempty"`
}

// Order is a placed customer order.
type Order struct {
	ID          string
	StoreID     string
	OrderNumber string

	Customer Customer
	Items    []Item

	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	ShippingCharge decimal.Decimal
	TotalAmount    decimal.Decimal

	Payment  Payment
	Status   Status
	Delivery *Delivery
	Notes    string

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StockChange is a decrement applied to one product when an order commits.
// Quantities of repeated lines are already summed.
type StockChange struct {
	ProductID string
	Quantity  int
}

// StockLevel is a product's stock after an order committed.
type StockLevel struct {
	ProductID string
	Remaining int
}

// StatusChange moves an order from one status to another. Repositories apply
// it only while the stored status still equals From.
type StatusChange struct {
	OrderID   string
	From      Status
	To        Status
	Payment   Payment
	UpdatedAt time.Time
}

// ListFilter narrows a store's order listing.
type ListFilter struct {
	StoreID string
	Status  Status
	Page    int
	Limit   int
}

// Normalize clamps paging to the same bounds as the catalog.
func (f ListFilter) Normalize() ListFilter {
	f.StoreID = strings.TrimSpace(f.StoreID)
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.Limit < 1:
		f.Limit = 20
	case f.Limit > 100:
		f.Limit = 100
	}
	return f
}

// Offset returns the number of rows skipped for the filter's page.
func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Place applies every stock change and inserts o in one transaction.
	// A change that would drive stock negative aborts everything with
	// *InsufficientStockError.
	Place(ctx context.Context, o *Order, changes []StockChange) ([]StockLevel, error)
	GetByID(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, int, error)
	UpdateStatus(ctx context.Context, change StatusChange) error
}

// NumberSequencer hands out per-store, per-day serials. Serials start at 1,
// increase strictly and may have gaps.
type NumberSequencer interface {
	Next(ctx context.Context, storeID string, day time.Time) (int64, error)
}

// IdempotencyStore remembers which order a client request key produced.
type IdempotencyStore interface {
	// Reserve claims key. It returns the id of the order already placed under
	// key, "" when the caller now owns the key, or ErrRequestInFlight.
	Reserve(ctx context.Context, key string) (string, error)
	Complete(ctx context.Context, key, orderID string) error
	Release(ctx context.Context, key string) error
}

// LowStockAlert reports a product that fell to or below its minimum stock.
type LowStockAlert struct {
	StoreID   string
	ProductID string
	Name      string
	SKU       string
	Stock     int
	MinStock  int
}

// Events receives notifications about committed orders.
type Events interface {
	OrderPlaced(ctx context.Context, o *Order) error
	LowStock(ctx context.Context, alert LowStockAlert) error
}
