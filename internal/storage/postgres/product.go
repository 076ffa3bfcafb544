package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

const productColumns = `id, store_id, name, sku, description, category, brand, unit, image,
	price, cost_price, mrp, discount_percent, stock, min_stock, max_stock, active,
	created_by, created_at, updated_at`

const (
	getProductByIDSQL   = `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	getProductByNameSQL = `SELECT ` + productColumns + ` FROM products WHERE store_id = $1 AND name = $2
		ORDER BY active DESC, created_at LIMIT 1`
	getProductBySKUSQL = `SELECT ` + productColumns + ` FROM products WHERE store_id = $1 AND sku = $2`

	insertProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (store_id, sku) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			brand = EXCLUDED.brand,
			unit = EXCLUDED.unit,
			image = EXCLUDED.image,
			price = EXCLUDED.price,
			cost_price = EXCLUDED.cost_price,
			mrp = EXCLUDED.mrp,
			discount_percent = EXCLUDED.discount_percent,
			stock = EXCLUDED.stock,
			min_stock = EXCLUDED.min_stock,
			max_stock = EXCLUDED.max_stock,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
		RETURNING id`

	productsSKUKey = "products_store_id_sku_key"
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, product.ErrNotFound
	}
	return r.getOne(ctx, getProductByIDSQL, id)
}

// GetByName returns the store's product with exactly this name, preferring
// an active one.
func (r *ProductRepository) GetByName(ctx context.Context, storeID, name string) (*product.Product, error) {
	return r.getOne(ctx, getProductByNameSQL, storeID, name)
}

// GetBySKU returns the store's product with the normalized SKU.
func (r *ProductRepository) GetBySKU(ctx context.Context, storeID, sku string) (*product.Product, error) {
	return r.getOne(ctx, getProductBySKUSQL, storeID, product.NormalizeSKU(sku))
}

func (r *ProductRepository) getOne(ctx context.Context, query string, args ...any) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query product")
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan product")
	}
	return &p, nil
}

// List returns one page of products matching filter and the total number of
// matches. Products are ordered by name.
func (r *ProductRepository) List(ctx context.Context, filter product.ListFilter) ([]product.Product, int, error) {
	filter = filter.Normalize()
	where, args := productWhere(filter)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count products")
	}
	if total == 0 {
		return []product.Product{}, 0, nil
	}

	n := len(args)
	query := `SELECT ` + productColumns + ` FROM products` + where +
		` ORDER BY name, id LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	rows, err := r.pool.Query(ctx, query, append(args, filter.Limit, filter.Offset())...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list products")
	}
	items, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, 0, errors.Wrap(err, "scan products")
	}
	return items, total, nil
}

func productWhere(f product.ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.StoreID != "" {
		conds = append(conds, "store_id = "+arg(f.StoreID))
	}
	if f.Category != "" {
		conds = append(conds, "category = "+arg(f.Category))
	}
	if f.ActiveOnly {
		conds = append(conds, "active")
	}
	if f.Search != "" {
		p := arg("%" + escapeLike(f.Search) + "%")
		conds = append(conds, "(name ILIKE "+p+" OR description ILIKE "+p+
			" OR category ILIKE "+p+" OR brand ILIKE "+p+")")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// Create inserts a new product. A second product with the same SKU in the
// store yields product.ErrDuplicateSKU.
func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	if _, err := r.pool.Exec(ctx, insertProductSQL, productArgs(p)...); err != nil {
		if isUniqueViolation(err, productsSKUKey) {
			return product.ErrDuplicateSKU
		}
		return errors.Wrapf(err, "insert product %q", p.SKU)
	}
	return nil
}

// Upsert inserts p or replaces the catalog fields of the store's product with
// the same SKU. p.ID is set to the stored product's id.
func (r *ProductRepository) Upsert(ctx context.Context, p *product.Product) error {
	if err := r.pool.QueryRow(ctx, upsertProductSQL, productArgs(p)...).Scan(&p.ID); err != nil {
		return errors.Wrapf(err, "upsert product %q", p.SKU)
	}
	return nil
}

// UpsertMany upserts products in one round trip.
func (r *ProductRepository) UpsertMany(ctx context.Context, products []product.Product) error {
	if len(products) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range products {
		p := &products[i]
		batch.Queue(upsertProductSQL, productArgs(p)...).QueryRow(func(row pgx.Row) error {
			return row.Scan(&p.ID)
		})
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "upsert product batch")
	}
	return nil
}

func productArgs(p *product.Product) []any {
	return []any{
		p.ID, p.StoreID, p.Name, p.SKU, p.Description, p.Category, p.Brand, p.Unit, p.Image,
		p.Price, p.CostPrice, nullDecimal(p.MRP), nullDecimal(p.DiscountPercent),
		p.Stock, p.MinStock, p.MaxStock, p.Active,
		p.CreatedBy, p.CreatedAt, p.UpdatedAt,
	}
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p        product.Product
		mrp      decimal.NullDecimal
		discount decimal.NullDecimal
	)
	err := row.Scan(
		&p.ID, &p.StoreID, &p.Name, &p.SKU, &p.Description, &p.Category, &p.Brand, &p.Unit, &p.Image,
		&p.Price, &p.CostPrice, &mrp, &discount, &p.Stock, &p.MinStock, &p.MaxStock, &p.Active,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	p.MRP = decimalPtr(mrp)
	p.DiscountPercent = decimalPtr(discount)
	return p, err
}
