package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
)

const nextSerialSQL = `INSERT INTO order_counters (store_id, day, seq) VALUES ($1, $2::date, 1)
	ON CONFLICT (store_id, day) DO UPDATE SET seq = order_counters.seq + 1
	RETURNING seq`

var _ order.NumberSequencer = (*OrderCounter)(nil)

// OrderCounter issues order serials from the order_counters table. The upsert
// takes a row lock, so concurrent callers never share a serial.
type OrderCounter struct {
	pool *pgxpool.Pool
}

// NewOrderCounter returns an OrderCounter that uses the given pool.
func NewOrderCounter(pool *pgxpool.Pool) *OrderCounter {
	return &OrderCounter{pool: pool}
}

// Next increments and returns the store's counter for day.
func (c *OrderCounter) Next(ctx context.Context, storeID string, day time.Time) (int64, error) {
	var seq int64
	if err := c.pool.QueryRow(ctx, nextSerialSQL, storeID, day.Format(time.DateOnly)).Scan(&seq); err != nil {
		return 0, errors.Wrapf(err, "next serial for store %s", storeID)
	}
	return seq, nil
}
