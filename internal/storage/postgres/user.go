package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/user"
)

const userColumns = `id, email, name, role, active, store_name, store_phone, store_address, created_at`

const (
	getUserByIDSQL    = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	getUserByEmailSQL = `SELECT ` + userColumns + ` FROM users WHERE email = lower($1)`

	upsertUserSQL = `INSERT INTO users (` + userColumns + `)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			active = EXCLUDED.active,
			store_name = EXCLUDED.store_name,
			store_phone = EXCLUDED.store_phone,
			store_address = EXCLUDED.store_address`

	// recordPurchaseSQL counts an order once: the stats row only changes when
	// the order id is claimed by this statement.
	recordPurchaseSQL = `WITH claimed AS (
			INSERT INTO customer_stats_orders (order_id, store_id)
			VALUES ($7::uuid, $1::uuid)
			ON CONFLICT (order_id) DO NOTHING
			RETURNING order_id
		)
		INSERT INTO customer_stats
			(store_id, email, name, phone, order_count, total_spent, last_order_at)
		SELECT $1::uuid, lower($2::text), $3::text, $4::text, 1, $5::numeric, $6::timestamptz
		FROM claimed
		ON CONFLICT (store_id, email) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			order_count = customer_stats.order_count + 1,
			total_spent = customer_stats.total_spent + EXCLUDED.total_spent,
			last_order_at = GREATEST(customer_stats.last_order_at, EXCLUDED.last_order_at)`

	getCustomerStatsSQL = `SELECT store_id, email, name, phone, order_count, total_spent, last_order_at
		FROM customer_stats WHERE store_id = $1 AND email = lower($2)`
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID returns an account by id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, user.ErrNotFound
	}
	return r.getOne(ctx, getUserByIDSQL, id)
}

// GetByEmail returns an account by email, compared case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.getOne(ctx, getUserByEmailSQL, email)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg string) (*user.User, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, errors.Wrap(err, "query user")
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan user")
	}
	return &u, nil
}

// Upsert inserts or replaces an account.
func (r *UserRepository) Upsert(ctx context.Context, u *user.User) error {
	_, err := r.pool.Exec(ctx, upsertUserSQL,
		u.ID, u.Email, u.Name, string(u.Role), u.Active,
		u.StoreName, u.StorePhone, u.StoreAddress, u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return apperr.Conflict("email already registered", err)
		}
		return errors.Wrapf(err, "upsert user %s", u.ID)
	}
	return nil
}

// RecordPurchase adds p to the customer's running totals for the store.
// Recording the same order again changes nothing.
func (r *UserRepository) RecordPurchase(ctx context.Context, p user.Purchase) error {
	if _, err := uuid.Parse(p.OrderID); err != nil {
		return errors.Errorf("record purchase: invalid order id %q", p.OrderID)
	}
	_, err := r.pool.Exec(ctx, recordPurchaseSQL, p.StoreID, p.Email, p.Name, p.Phone, p.Amount, p.At, p.OrderID)
	if err != nil {
		return errors.Wrapf(err, "record purchase for %s", p.Email)
	}
	return nil
}

// GetCustomerStats returns the running totals of a customer in a store.
func (r *UserRepository) GetCustomerStats(ctx context.Context, storeID, email string) (*user.CustomerStats, error) {
	var s user.CustomerStats
	err := r.pool.QueryRow(ctx, getCustomerStatsSQL, storeID, email).Scan(
		&s.StoreID, &s.Email, &s.Name, &s.Phone, &s.OrderCount, &s.TotalSpent, &s.LastOrderAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, errors.Wrap(err, "get customer stats")
	}
	return &s, nil
}

func scanUser(row pgx.CollectableRow) (user.User, error) {
	var (
		u    user.User
		role string
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &u.Active,
		&u.StoreName, &u.StorePhone, &u.StoreAddress, &u.CreatedAt)
	u.Role = user.Role(role)
	return u, err
}
