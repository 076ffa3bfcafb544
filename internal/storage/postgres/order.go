package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
)

const orderColumns = `id, store_id, order_number, customer, items,
	subtotal, discount_amount, tax_amount, shipping_charge, total_amount,
	payment, status, delivery, notes, created_by, created_at, updated_at`

const (
	decrementStockSQL = `UPDATE products SET stock = stock - $3, updated_at = now()
		WHERE id = $1 AND store_id = $2 AND stock >= $3
		RETURNING stock`

	currentStockSQL = `SELECT stock FROM products WHERE id = $1`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	countOrdersSQL = `SELECT count(*) FROM orders
		WHERE store_id = $1 AND ($2 = '' OR status = $2)`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE store_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`

	updateStatusSQL = `UPDATE orders SET status = $3, payment = $4, updated_at = $5
		WHERE id = $1 AND status = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	ordersNumberKey = "orders_store_id_order_number_key"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Place decrements stock for every change with a conditional update and
// inserts the order, all in one transaction. A change the stock cannot cover
// rolls everything back.
func (r *OrderRepository) Place(ctx context.Context, o *order.Order, changes []order.StockChange) ([]order.StockLevel, error) {
	args, err := orderArgs(o)
	if err != nil {
		return nil, err
	}

	var levels []order.StockLevel
	err = WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		levels = make([]order.StockLevel, 0, len(changes))
		for _, c := range changes {
			var remaining int
			err := tx.QueryRow(ctx, decrementStockSQL, c.ProductID, o.StoreID, c.Quantity).Scan(&remaining)
			if errors.Is(err, pgx.ErrNoRows) {
				var available int
				if err := tx.QueryRow(ctx, currentStockSQL, c.ProductID).Scan(&available); err != nil {
					available = 0
				}
				return &order.InsufficientStockError{
					ProductID: c.ProductID,
					Requested: c.Quantity,
					Available: available,
				}
			}
			if err != nil {
				return errors.Wrapf(err, "decrement stock of %s", c.ProductID)
			}
			levels = append(levels, order.StockLevel{ProductID: c.ProductID, Remaining: remaining})
		}

		if _, err := tx.Exec(ctx, insertOrderSQL, args...); err != nil {
			if isUniqueViolation(err, ordersNumberKey) {
				return order.ErrDuplicateNumber
			}
			return errors.Wrapf(err, "insert order %s", o.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return levels, nil
}

// GetByID returns an order by its id.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, order.ErrNotFound
	}
	rows, err := r.pool.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	return &o, nil
}

// List returns one page of a store's orders, newest first, and the total
// number of matches.
func (r *OrderRepository) List(ctx context.Context, filter order.ListFilter) ([]order.Order, int, error) {
	filter = filter.Normalize()
	status := string(filter.Status)

	var total int
	if err := r.pool.QueryRow(ctx, countOrdersSQL, filter.StoreID, status).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count orders")
	}
	if total == 0 {
		return []order.Order{}, 0, nil
	}

	rows, err := r.pool.Query(ctx, listOrdersSQL, filter.StoreID, status, filter.Limit, filter.Offset())
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	items, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, errors.Wrap(err, "scan orders")
	}
	return items, total, nil
}

// UpdateStatus applies change if the order still has change.From.
func (r *OrderRepository) UpdateStatus(ctx context.Context, change order.StatusChange) error {
	payment, err := json.Marshal(change.Payment)
	if err != nil {
		return errors.Wrap(err, "marshal payment")
	}

	tag, err := r.pool.Exec(ctx, updateStatusSQL,
		change.OrderID, string(change.From), string(change.To), payment, change.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update order %s", change.OrderID)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, change.OrderID).Scan(&exists); err != nil {
		return errors.Wrapf(err, "check order %s", change.OrderID)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrStatusConflict
}

// orderArgs serializes the snapshot documents for the JSONB columns.
func orderArgs(o *order.Order) ([]any, error) {
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return nil, errors.Wrap(err, "marshal customer")
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, errors.Wrap(err, "marshal items")
	}
	payment, err := json.Marshal(o.Payment)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payment")
	}
	var delivery []byte
	if o.Delivery != nil {
		if delivery, err = json.Marshal(o.Delivery); err != nil {
			return nil, errors.Wrap(err, "marshal delivery")
		}
	}

	return []any{
		o.ID, o.StoreID, o.OrderNumber, customer, items,
		o.Subtotal, o.DiscountAmount, o.TaxAmount, o.ShippingCharge, o.TotalAmount,
		payment, string(o.Status), delivery, o.Notes, o.CreatedBy, o.CreatedAt, o.UpdatedAt,
	}, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                                  order.Order
		status                             string
		customer, items, payment, delivery []byte
	)
	if err := row.Scan(
		&o.ID, &o.StoreID, &o.OrderNumber, &customer, &items,
		&o.Subtotal, &o.DiscountAmount, &o.TaxAmount, &o.ShippingCharge, &o.TotalAmount,
		&payment, &status, &delivery, &o.Notes, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return o, err
	}
	o.Status = order.Status(status)

	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return o, errors.Wrap(err, "unmarshal customer")
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, errors.Wrap(err, "unmarshal items")
	}
	if err := json.Unmarshal(payment, &o.Payment); err != nil {
		return o, errors.Wrap(err, "unmarshal payment")
	}
	if len(delivery) > 0 {
		o.Delivery = &order.Delivery{}
		if err := json.Unmarshal(delivery, o.Delivery); err != nil {
			return o, errors.Wrap(err, "unmarshal delivery")
		}
	}
	return o, nil
}
