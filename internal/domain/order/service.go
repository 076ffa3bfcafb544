package order

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/user"
)

const instrumentationName = "github.com/xenking/storefront/internal/domain/order"

// MaxLineQuantity bounds the quantity of a single cart line. Stock columns
// are 32-bit, so larger requests can never be covered.
const MaxLineQuantity = 1_000_000

var validate = validator.New()

// LineRequest is one cart line. The product is resolved by ProductID first,
// then by Name, then by SKU within the store.
type LineRequest struct {
	ProductID string
	Name      string
	SKU       string
	Quantity  int
	// UnitPrice overrides the catalog's final price when set.
	UnitPrice *decimal.Decimal
	Discount  *decimal.Decimal
	Unit      string
	Image     string
}

// PaymentRequest describes how the customer pays. Method defaults to COD.
type PaymentRequest struct {
	Method        PaymentMethod
	TransactionID string
}

// PlaceRequest holds the input for placing an order.
type PlaceRequest struct {
	StoreID  string
	Customer Customer
	Items    []LineRequest
	Payment  PaymentRequest
	Delivery *Delivery
	Notes    string

	// Optional precomputed amounts. Subtotal and TotalAmount replace the
	// computed values when set.
	Subtotal       *decimal.Decimal
	DiscountAmount *decimal.Decimal
	TaxAmount      *decimal.Decimal
	ShippingCharge *decimal.Decimal
	TotalAmount    *decimal.Decimal

	IdempotencyKey string
}

// PlaceResult holds the output of a placed order. Replayed is set when the
// order was placed earlier under the same idempotency key.
type PlaceResult struct {
	Order    *Order
	Replayed bool
}

// Page is one page of a store's orders.
type Page struct {
	Items []Order
	Total int
	Page  int
	Limit int
}

// Deps are the collaborators of a Service. Idempotency and Events are optional.
type Deps struct {
	Products    product.Repository
	Users       user.Directory
	Orders      Repository
	Numbers     NumberSequencer
	Idempotency IdempotencyStore
	Events      Events
}

// Config tunes a Service.
type Config struct {
	// NumberPrefix defaults to DefaultNumberPrefix.
	NumberPrefix string
	// Location decides where a day starts for order numbers. Defaults to UTC.
	Location *time.Location
	// StrictTransitions rejects status moves that CanTransitionTo forbids.
	StrictTransitions bool

	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Service encapsulates order placement and fulfilment.
type Service struct {
	products product.Repository
	users    user.Directory
	orders   Repository
	numbers  NumberSequencer
	idem     IdempotencyStore
	events   Events
	policy   auth.Policy

	prefix string
	loc    *time.Location
	strict bool
	now    func() time.Time

	tracer      trace.Tracer
	placed      metric.Int64Counter
	rejected    metric.Int64Counter
	amount      metric.Float64Histogram
	transitions metric.Int64Counter
}

// NewService creates an order Service.
func NewService(deps Deps, cfg Config) (*Service, error) {
	if cfg.NumberPrefix == "" {
		cfg.NumberPrefix = DefaultNumberPrefix
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = metricnoop.NewMeterProvider()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = tracenoop.NewTracerProvider()
	}

	s := &Service{
		products: deps.Products,
		users:    deps.Users,
		orders:   deps.Orders,
		numbers:  deps.Numbers,
		idem:     deps.Idempotency,
		events:   deps.Events,
		prefix:   cfg.NumberPrefix,
		loc:      cfg.Location,
		strict:   cfg.StrictTransitions,
		now:      time.Now,
		tracer:   cfg.TracerProvider.Tracer(instrumentationName),
	}

	meter := cfg.MeterProvider.Meter(instrumentationName)
	var err error
	if s.placed, err = meter.Int64Counter("storefront.orders.placed",
		metric.WithDescription("Orders committed"),
	); err != nil {
		return nil, errors.Wrap(err, "placed counter")
	}
	if s.rejected, err = meter.Int64Counter("storefront.orders.rejected",
		metric.WithDescription("Order placements that failed"),
	); err != nil {
		return nil, errors.Wrap(err, "rejected counter")
	}
	if s.amount, err = meter.Float64Histogram("storefront.orders.amount",
		metric.WithDescription("Total amount of committed orders"),
	); err != nil {
		return nil, errors.Wrap(err, "amount histogram")
	}
	if s.transitions, err = meter.Int64Counter("storefront.orders.transitions",
		metric.WithDescription("Order status changes"),
	); err != nil {
		return nil, errors.Wrap(err, "transitions counter")
	}
	return s, nil
}

// PlaceOrder validates every cart line against the catalog, then decrements
// stock and stores the order in one repository call. No stock changes when
// any line fails.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceRequest) (_ *PlaceResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Place",
		trace.WithAttributes(attribute.String("store.id", req.StoreID)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, "place order failed")
			s.rejected.Add(ctx, 1, metric.WithAttributes(
				attribute.String("kind", string(apperr.KindOf(rerr))),
			))
		}
		span.End()
	}()

	principal, err := s.policy.Authorize(ctx, auth.ActionPlaceOrder, req.StoreID)
	if err != nil {
		return nil, err
	}
	req, err = normalizePlace(req)
	if err != nil {
		return nil, err
	}
	if _, err := user.LookupStore(ctx, s.users, req.StoreID); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" && s.idem != nil {
		key := req.StoreID + ":" + principal.UserID + ":" + req.IdempotencyKey
		existing, err := s.idem.Reserve(ctx, key)
		if err != nil {
			return nil, errors.Wrap(err, "reserve idempotency key")
		}
		if existing != "" {
			o, err := s.orders.GetByID(ctx, existing)
			if err != nil {
				return nil, errors.Wrap(err, "load replayed order")
			}
			span.SetAttributes(attribute.Bool("order.replayed", true))
			return &PlaceResult{Order: o, Replayed: true}, nil
		}
		defer func() {
			if rerr == nil {
				return
			}
			if err := s.idem.Release(context.WithoutCancel(ctx), key); err != nil {
				zctx.From(ctx).Warn("Release idempotency key", zap.Error(err))
			}
		}()
		req.IdempotencyKey = key
	}

	// Resolve and check every line before anything is written. Quantities of
	// lines naming the same product accumulate against its stock.
	var (
		items    = make([]Item, 0, len(req.Items))
		reserved = make(map[string]int, len(req.Items))
		resolved = make(map[string]*product.Product, len(req.Items))
		subtotal = decimal.Zero
	)
	for _, line := range req.Items {
		p, err := s.resolveProduct(ctx, req.StoreID, line)
		if err != nil {
			return nil, err
		}
		if p.StoreID != req.StoreID {
			return nil, &StoreMismatchError{ProductID: p.ID, StoreID: req.StoreID}
		}

		already := reserved[p.ID]
		if line.Quantity > p.Stock-already {
			return nil, &InsufficientStockError{
				ProductID: p.ID,
				Name:      p.Name,
				Requested: line.Quantity,
				Available: max(p.Stock-already, 0),
			}
		}
		reserved[p.ID] = already + line.Quantity
		resolved[p.ID] = p

		items = append(items, snapshotItem(p, line))
		subtotal = subtotal.Add(items[len(items)-1].Total)
	}

	if req.Subtotal != nil {
		subtotal = *req.Subtotal
	}
	discount := valueOrZero(req.DiscountAmount)
	tax := valueOrZero(req.TaxAmount)
	shipping := valueOrZero(req.ShippingCharge)
	total := subtotal.Sub(discount).Add(tax).Add(shipping)
	if req.TotalAmount != nil {
		total = *req.TotalAmount
	}
	total = pricing.Display(total)
	if !total.IsPositive() {
		return nil, ErrInvalidAmount
	}

	now := s.now()
	o := &Order{
		ID:             uuid.NewString(),
		StoreID:        req.StoreID,
		Customer:       req.Customer,
		Items:          items,
		Subtotal:       pricing.Display(subtotal),
		DiscountAmount: pricing.Display(discount),
		TaxAmount:      pricing.Display(tax),
		ShippingCharge: pricing.Display(shipping),
		TotalAmount:    total,
		Payment:        initialPayment(req.Payment, total),
		Delivery:       req.Delivery,
		Notes:          req.Notes,
		CreatedBy:      principal.UserID,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}
	o.Status = StatusConfirmed
	if o.Payment.Method == PaymentCOD {
		o.Status = StatusPending
	}

	day := Day(now, s.loc)
	serial, err := s.numbers.Next(ctx, req.StoreID, day)
	if err != nil {
		return nil, errors.Wrap(err, "next order serial")
	}
	o.OrderNumber = FormatNumber(s.prefix, day, serial)

	changes := make([]StockChange, 0, len(reserved))
	for id, qty := range reserved {
		changes = append(changes, StockChange{ProductID: id, Quantity: qty})
	}
	// A fixed order keeps concurrent placements from locking rows in
	// opposite orders.
	slices.SortFunc(changes, func(a, b StockChange) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})

	levels, err := s.orders.Place(ctx, o, changes)
	if err != nil {
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) && stockErr.Name == "" {
			if p := resolved[stockErr.ProductID]; p != nil {
				stockErr.Name = p.Name
			}
		}
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		return nil, errors.Wrap(err, "persist order")
	}

	if req.IdempotencyKey != "" && s.idem != nil {
		s.completeIdempotency(ctx, req.IdempotencyKey, o.ID)
	}

	attrs := metric.WithAttributes(attribute.String("payment.method", string(o.Payment.Method)))
	s.placed.Add(ctx, 1, attrs)
	s.amount.Record(ctx, o.TotalAmount.InexactFloat64(), attrs)
	span.SetAttributes(
		attribute.String("order.id", o.ID),
		attribute.String("order.number", o.OrderNumber),
	)
	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("store_id", o.StoreID),
		zap.Int("items", len(o.Items)),
		zap.String("total", o.TotalAmount.StringFixed(2)),
	)

	s.publish(ctx, o, levels, resolved)
	return &PlaceResult{Order: o}, nil
}

func (s *Service) resolveProduct(ctx context.Context, storeID string, line LineRequest) (*product.Product, error) {
	if id := line.ProductID; id != "" {
		if _, err := uuid.Parse(id); err == nil {
			p, err := s.products.GetByID(ctx, id)
			switch {
			case err == nil && p.Active:
				return p, nil
			case err != nil && !product.IsNotFound(err):
				return nil, errors.Wrapf(err, "get product %s", id)
			}
		}
	}
	if line.Name != "" {
		p, err := s.products.GetByName(ctx, storeID, line.Name)
		switch {
		case err == nil && p.Active:
			return p, nil
		case err != nil && !product.IsNotFound(err):
			return nil, errors.Wrapf(err, "get product by name %q", line.Name)
		}
	}
	if sku := product.NormalizeSKU(line.SKU); sku != "" {
		p, err := s.products.GetBySKU(ctx, storeID, sku)
		switch {
		case err == nil && p.Active:
			return p, nil
		case err != nil && !product.IsNotFound(err):
			return nil, errors.Wrapf(err, "get product by sku %q", sku)
		}
	}
	return nil, &ProductNotFoundError{Ref: lineRef(line)}
}

// completeIdempotency records the placed order under key. The order is
// already committed, so a failure is retried once and then left to the
// store's in-flight expiry instead of failing the request.
func (s *Service) completeIdempotency(ctx context.Context, key, orderID string) {
	ctx = context.WithoutCancel(ctx)
	var err error
	for attempt := range 2 {
		if err = s.idem.Complete(ctx, key, orderID); err == nil {
			return
		}
		zctx.From(ctx).Warn("Complete idempotency key",
			zap.String("order_id", orderID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	zctx.From(ctx).Error("Idempotency key left pending",
		zap.String("order_id", orderID),
		zap.Error(err),
	)
}

func (s *Service) publish(ctx context.Context, o *Order, levels []StockLevel, resolved map[string]*product.Product) {
	if s.events == nil {
		return
	}
	lg := zctx.From(ctx)
	if err := s.events.OrderPlaced(ctx, o); err != nil {
		lg.Warn("Publish order placed", zap.String("order_id", o.ID), zap.Error(err))
	}
	for _, lvl := range levels {
		p := resolved[lvl.ProductID]
		if p == nil || p.MinStock <= 0 || lvl.Remaining > p.MinStock {
			continue
		}
		alert := LowStockAlert{
			StoreID:   o.StoreID,
			ProductID: p.ID,
			Name:      p.Name,
			SKU:       p.SKU,
			Stock:     lvl.Remaining,
			MinStock:  p.MinStock,
		}
		if err := s.events.LowStock(ctx, alert); err != nil {
			lg.Warn("Publish low stock", zap.String("product_id", p.ID), zap.Error(err))
		}
	}
}

// UpdateStatus moves an order to status. Only the owner of the order's store
// may do so. With strict transitions enabled, illegal moves are rejected.
// Delivering a cash-on-delivery order settles its payment.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus",
		trace.WithAttributes(attribute.String("order.id", id)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, "update status failed")
		}
		span.End()
	}()

	if _, ok := auth.PrincipalFrom(ctx); !ok {
		return nil, auth.ErrUnauthenticated
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidOrderID
	}
	next, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}

	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get order")
	}
	if _, err := s.policy.Authorize(ctx, auth.ActionManageOrders, o.StoreID); err != nil {
		return nil, err
	}
	if s.strict && !o.Status.CanTransitionTo(next) {
		return nil, &TransitionError{From: o.Status, To: next}
	}

	change := StatusChange{
		OrderID:   o.ID,
		From:      o.Status,
		To:        next,
		Payment:   o.Payment,
		UpdatedAt: s.now().UTC(),
	}
	if next == StatusDelivered && o.Payment.Method == PaymentCOD && o.Payment.Status != PaymentCompleted {
		change.Payment.Status = PaymentCompleted
		change.Payment.PaidAmount = o.TotalAmount
	}

	if err := s.orders.UpdateStatus(ctx, change); err != nil {
		if errors.Is(err, ErrStatusConflict) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "update status")
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(change.From)),
		attribute.String("to", string(change.To)),
	))
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)),
	)

	o.Status = next
	o.Payment = change.Payment
	o.UpdatedAt = change.UpdatedAt
	return o, nil
}

// Get returns an order to its store owner or to the principal that placed it.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidOrderID
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get order")
	}
	if _, err := s.policy.AuthorizeOrderRead(ctx, o.StoreID, o.CreatedBy); err != nil {
		return nil, err
	}
	return o, nil
}

// ListByStore returns a page of a store's orders, newest first.
func (s *Service) ListByStore(ctx context.Context, filter ListFilter) (Page, error) {
	if _, err := s.policy.Authorize(ctx, auth.ActionManageOrders, filter.StoreID); err != nil {
		return Page{}, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return Page{}, &InvalidStatusError{Status: string(filter.Status)}
	}
	filter = filter.Normalize()
	items, total, err := s.orders.List(ctx, filter)
	if err != nil {
		return Page{}, errors.Wrap(err, "list orders")
	}
	return Page{Items: items, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

func snapshotItem(p *product.Product, line LineRequest) Item {
	unitPrice := p.FinalPrice()
	if line.UnitPrice != nil {
		unitPrice = *line.UnitPrice
	}
	item := Item{
		ProductID: p.ID,
		Name:      p.Name,
		SKU:       p.SKU,
		Quantity:  line.Quantity,
		UnitPrice: unitPrice,
		Discount:  valueOrZero(line.Discount),
		Total:     pricing.LineTotal(unitPrice, line.Quantity),
		Unit:      p.Unit,
		Image:     p.Image,
	}
	if item.Unit == "" {
		item.Unit = line.Unit
	}
	if item.Image == "" {
		item.Image = line.Image
	}
	return item
}

func initialPayment(req PaymentRequest, total decimal.Decimal) Payment {
	if req.Method == PaymentCOD {
		return Payment{Method: PaymentCOD, Status: PaymentPending, PaidAmount: decimal.Zero}
	}
	return Payment{
		Method:        req.Method,
		Status:        PaymentCompleted,
		TransactionID: req.TransactionID,
		PaidAmount:    total,
	}
}

// normalizePlace trims text input and reports every invalid field at once.
func normalizePlace(req PlaceRequest) (PlaceRequest, error) {
	req.StoreID = strings.TrimSpace(req.StoreID)
	req.Items = slices.Clone(req.Items)
	c := &req.Customer
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Phone = strings.TrimSpace(c.Phone)
	c.Address.Street = strings.TrimSpace(c.Address.Street)
	c.Address.City = strings.TrimSpace(c.Address.City)
	c.Address.State = strings.TrimSpace(c.Address.State)
	c.Address.Pincode = strings.TrimSpace(c.Address.Pincode)
	c.Address.Landmark = strings.TrimSpace(c.Address.Landmark)
	req.Notes = strings.TrimSpace(req.Notes)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.Payment.Method == "" {
		req.Payment.Method = PaymentCOD
	}

	fields := map[string]any{}
	required := map[string]string{
		"storeId":                  req.StoreID,
		"customer.name":            c.Name,
		"customer.email":           c.Email,
		"customer.phone":           c.Phone,
		"customer.address.street":  c.Address.Street,
		"customer.address.city":    c.Address.City,
		"customer.address.state":   c.Address.State,
		"customer.address.pincode": c.Address.Pincode,
	}
	for name, v := range required {
		if v == "" {
			fields[name] = "required"
		}
	}
	if c.Email != "" && validate.Var(c.Email, "email") != nil {
		fields["customer.email"] = "invalid email"
	}
	if !req.Payment.Method.Valid() {
		fields["payment.method"] = "unsupported payment method"
	}
	for name, v := range map[string]*decimal.Decimal{
		"subtotal":       req.Subtotal,
		"discountAmount": req.DiscountAmount,
		"taxAmount":      req.TaxAmount,
		"shippingCharge": req.ShippingCharge,
	} {
		if v != nil && v.IsNegative() {
			fields[name] = "must not be negative"
		}
	}

	if len(req.Items) == 0 {
		if len(fields) == 0 {
			return req, ErrEmptyItems
		}
		fields["items"] = "required"
	}
	for i := range req.Items {
		line := &req.Items[i]
		line.ProductID = strings.TrimSpace(line.ProductID)
		line.Name = strings.TrimSpace(line.Name)
		line.SKU = strings.TrimSpace(line.SKU)
		prefix := "items[" + strconv.Itoa(i) + "]"
		if line.ProductID == "" && line.Name == "" && line.SKU == "" {
			fields[prefix] = "productId, name or sku required"
		}
		switch {
		case line.Quantity < 1:
			fields[prefix+".quantity"] = "must be at least 1"
		case line.Quantity > MaxLineQuantity:
			fields[prefix+".quantity"] = "must be at most " + strconv.Itoa(MaxLineQuantity)
		}
		if line.UnitPrice != nil && line.UnitPrice.IsNegative() {
			fields[prefix+".unitPrice"] = "must not be negative"
		}
	}

	if len(fields) > 0 {
		return req, apperr.Validation("missing or invalid fields", map[string]any{"fields": fields})
	}
	return req, nil
}

func lineRef(line LineRequest) string {
	switch {
	case line.ProductID != "":
		return line.ProductID
	case line.SKU != "":
		return line.SKU
	default:
		return line.Name
	}
}

func valueOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
