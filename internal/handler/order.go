package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
)

// IdempotencyKeyHeader lets clients retry POST /orders safely.
const IdempotencyKeyHeader = "Idempotency-Key"

type placeOrderRequest struct {
	StoreID        string             `json:"storeId"`
	Customer       order.Customer     `json:"customer"`
	Items          []orderLineRequest `json:"items"`
	Payment        *paymentRequest    `json:"payment"`
	Delivery       *order.Delivery    `json:"delivery"`
	Notes          string             `json:"notes"`
	Subtotal       *decimal.Decimal   `json:"subtotal"`
	DiscountAmount *decimal.Decimal   `json:"discountAmount"`
	TaxAmount      *decimal.Decimal   `json:"taxAmount"`
	ShippingCharge *decimal.Decimal   `json:"shippingCharge"`
	TotalAmount    *decimal.Decimal   `json:"totalAmount"`
}

type orderLineRequest struct {
	ProductID string           `json:"productId"`
	Name      string           `json:"name"`
	SKU       string           `json:"sku"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unitPrice"`
	Discount  *decimal.Decimal `json:"discount"`
	Unit      string           `json:"unit"`
	Image     string           `json:"image"`
}

// paymentRequest.Status is accepted for compatibility and ignored: the
// initial payment status follows from the method.
type paymentRequest struct {
	Method        string `json:"method"`
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
}

func (req placeOrderRequest) toDomain(idemKey string) order.PlaceRequest {
	lines := make([]order.LineRequest, len(req.Items))
	for i, it := range req.Items {
		lines[i] = order.LineRequest{
			ProductID: it.ProductID,
			Name:      it.Name,
			SKU:       it.SKU,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Discount:  it.Discount,
			Unit:      it.Unit,
			Image:     it.Image,
		}
	}
	var payment order.PaymentRequest
	if req.Payment != nil {
		payment = order.PaymentRequest{
			Method:        order.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Payment.Method))),
			TransactionID: req.Payment.TransactionID,
		}
	}
	return order.PlaceRequest{
		StoreID:        req.StoreID,
		Customer:       req.Customer,
		Items:          lines,
		Payment:        payment,
		Delivery:       req.Delivery,
		Notes:          req.Notes,
		Subtotal:       req.Subtotal,
		DiscountAmount: req.DiscountAmount,
		TaxAmount:      req.TaxAmount,
		ShippingCharge: req.ShippingCharge,
		TotalAmount:    req.TotalAmount,
		IdempotencyKey: idemKey,
	}
}

type placedItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Total    float64 `json:"total"`
}

type placedCustomer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// placedOrder is the summary returned by POST /orders.
type placedOrder struct {
	OrderID       string              `json:"orderId"`
	OrderNumber   string              `json:"orderNumber"`
	Status        order.Status        `json:"status"`
	TotalAmount   float64             `json:"totalAmount"`
	PaymentMethod order.PaymentMethod `json:"paymentMethod"`
	Items         []placedItem        `json:"items"`
	Customer      placedCustomer      `json:"customer"`
	CreatedAt     time.Time           `json:"createdAt"`
}

func newPlacedOrder(o *order.Order) placedOrder {
	items := make([]placedItem, len(o.Items))
	for i, it := range o.Items {
		items[i] = placedItem{
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    money(it.UnitPrice),
			Total:    money(it.Total),
		}
	}
	return placedOrder{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		TotalAmount:   money(o.TotalAmount),
		PaymentMethod: o.Payment.Method,
		Items:         items,
		Customer:      placedCustomer{Name: o.Customer.Name, Email: o.Customer.Email},
		CreatedAt:     o.CreatedAt,
	}
}

type itemResponse struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	SKU       string  `json:"sku"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
	Discount  float64 `json:"discount"`
	Total     float64 `json:"total"`
	Unit      string  `json:"unit"`
	Image     string  `json:"image,omitempty"`
}

type paymentResponse struct {
	Method        order.PaymentMethod `json:"method"`
	Status        order.PaymentStatus `json:"status"`
	TransactionID string              `json:"transactionId,omitempty"`
	PaidAmount    float64             `json:"paidAmount"`
}

// orderResponse is the full order document.
type orderResponse struct {
	ID             string          `json:"id"`
	StoreID        string          `json:"storeId"`
	OrderNumber    string          `json:"orderNumber"`
	Customer       order.Customer  `json:"customer"`
	Items          []itemResponse  `json:"items"`
	Subtotal       float64         `json:"subtotal"`
	DiscountAmount float64         `json:"discountAmount"`
	TaxAmount      float64         `json:"taxAmount"`
	ShippingCharge float64         `json:"shippingCharge"`
	TotalAmount    float64         `json:"totalAmount"`
	Payment        paymentResponse `json:"payment"`
	Status         order.Status    `json:"status"`
	Delivery       *order.Delivery `json:"delivery,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	CreatedBy      string          `json:"createdBy"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func (h *Handler) newOrderResponse(o *order.Order) orderResponse {
	items := make([]itemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = itemResponse{
			ProductID: it.ProductID,
			Name:      it.Name,
			SKU:       it.SKU,
			Quantity:  it.Quantity,
			UnitPrice: money(it.UnitPrice),
			Discount:  money(it.Discount),
			Total:     money(it.Total),
			Unit:      it.Unit,
			Image:     h.imageURL(it.Image),
		}
	}
	return orderResponse{
		ID:             o.ID,
		StoreID:        o.StoreID,
		OrderNumber:    o.OrderNumber,
		Customer:       o.Customer,
		Items:          items,
		Subtotal:       money(o.Subtotal),
		DiscountAmount: money(o.DiscountAmount),
		TaxAmount:      money(o.TaxAmount),
		ShippingCharge: money(o.ShippingCharge),
		TotalAmount:    money(o.TotalAmount),
		Payment: paymentResponse{
			Method:        o.Payment.Method,
			Status:        o.Payment.Status,
			TransactionID: o.Payment.TransactionID,
			PaidAmount:    money(o.Payment.PaidAmount),
		},
		Status:    o.Status,
		Delivery:  o.Delivery,
		Notes:     o.Notes,
		CreatedBy: o.CreatedBy,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// placeOrder handles POST /orders. A new order answers 201, a replay of an
// idempotency key 200.
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	res, err := h.orders.PlaceOrder(r.Context(), req.toDomain(idemKey))
	if err != nil {
		writeError(w, r, err)
		return
	}

	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeData(w, code, "data", newPlacedOrder(res.Order))
}

// getOrder handles GET /orders/{id}.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "order", h.newOrderResponse(o))
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

// updateOrderStatus handles PATCH /orders/{id}/status.
func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Status = strings.TrimSpace(req.Status)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, validationError(err))
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "order", h.newOrderResponse(o))
}

type orderList struct {
	Orders     []orderResponse `json:"orders"`
	Pagination pagination      `json:"pagination"`
}

// listStoreOrders handles GET /stores/{storeId}/orders.
func (h *Handler) listStoreOrders(w http.ResponseWriter, r *http.Request) {
	pq, err := h.parsePage(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, err := h.orders.ListByStore(r.Context(), order.ListFilter{
		StoreID: chi.URLParam(r, "storeId"),
		Status:  order.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
		Page:    pq.Page,
		Limit:   pq.Limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := orderList{
		Orders:     make([]orderResponse, len(page.Items)),
		Pagination: newPagination(page.Page, page.Limit, page.Total),
	}
	for i := range page.Items {
		out.Orders[i] = h.newOrderResponse(&page.Items[i])
	}
	writeData(w, http.StatusOK, "data", out)
}
