// Command seed-db creates the demo store owner, a demo customer, their API
// keys and the demo catalog.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/xenking/storefront/db"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/user"
	"github.com/xenking/storefront/internal/storage/postgres"
)

const (
	demoOwnerID    = "0b5e3c0e-6a43-4f8e-9d0a-6c2f1f0a0001"
	demoCustomerID = "0b5e3c0e-6a43-4f8e-9d0a-6c2f1f0a0002"
)

type productSeed struct {
	Name            string           `json:"name"`
	SKU             string           `json:"sku"`
	Description     string           `json:"description"`
	Category        string           `json:"category"`
	Brand           string           `json:"brand"`
	Unit            string           `json:"unit"`
	Image           string           `json:"image"`
	Price           decimal.Decimal  `json:"price"`
	CostPrice       decimal.Decimal  `json:"costPrice"`
	MRP             *decimal.Decimal `json:"mrp"`
	DiscountPercent *decimal.Decimal `json:"discountPercent"`
	Stock           int              `json:"stock"`
	MinStock        int              `json:"minStock"`
	MaxStock        int              `json:"maxStock"`
}

func main() {
	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	cliApp := &cli.App{
		Name:  "seed-db",
		Usage: "seed the storefront database with demo data",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "PostgreSQL connection URL",
				EnvVars:  []string{"DATABASE_URL"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "api-key-pepper",
				Usage:   "HMAC pepper for API key hashing",
				EnvVars: []string{"STOREFRONT_API_KEY_PEPPER"},
			},
			&cli.StringFlag{
				Name:     "owner-api-key",
				Usage:    "API key of the demo store owner",
				EnvVars:  []string{"STOREFRONT_SEED_OWNER_KEY"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "customer-api-key",
				Usage:   "API key of the demo customer",
				EnvVars: []string{"STOREFRONT_SEED_CUSTOMER_KEY"},
			},
			&cli.PathFlag{
				Name:  "products-file",
				Usage: "JSON array of products; the embedded demo catalog when empty",
			},
		},
		Action: func(c *cli.Context) error {
			return run(c.Context, lg, c)
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		cancel()
		os.Exit(1)
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, c *cli.Context) error {
	seeds, err := loadProducts(c.Path("products-file"))
	if err != nil {
		return err
	}

	pool, err := postgres.NewPool(ctx, c.String("database-url"))
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return err
	}

	now := time.Now().UTC()
	users := postgres.NewUserRepository(pool)
	accounts := []user.User{
		{
			ID:           demoOwnerID,
			Email:        "owner@storefront.dev",
			Name:         "Demo Owner",
			Role:         user.RoleOwner,
			Active:       true,
			StoreName:    "Demo Store",
			StorePhone:   "+1 555 0100",
			StoreAddress: "1 Market Street",
			CreatedAt:    now,
		},
		{
			ID:        demoCustomerID,
			Email:     "customer@storefront.dev",
			Name:      "Demo Customer",
			Role:      user.RoleUser,
			Active:    true,
			CreatedAt: now,
		},
	}
	for i := range accounts {
		if err := users.Upsert(ctx, &accounts[i]); err != nil {
			return err
		}
	}
	lg.Info("Seeded users", zap.Int("count", len(accounts)))

	pepper := []byte(c.String("api-key-pepper"))
	keys := postgres.NewAPIKeyRepository(pool)
	if err := keys.Upsert(ctx, auth.APIKeyInfo{
		ID:      "demo-owner",
		KeyHash: auth.HashKey(pepper, c.String("owner-api-key")),
		Name:    "Demo owner key",
		UserID:  demoOwnerID,
	}); err != nil {
		return err
	}
	if key := c.String("customer-api-key"); key != "" {
		if err := keys.Upsert(ctx, auth.APIKeyInfo{
			ID:      "demo-customer",
			KeyHash: auth.HashKey(pepper, key),
			Name:    "Demo customer key",
			UserID:  demoCustomerID,
		}); err != nil {
			return err
		}
	}
	lg.Info("Seeded API keys")

	products := make([]product.Product, 0, len(seeds))
	for _, s := range seeds {
		products = append(products, s.toProduct(demoOwnerID, now))
	}
	if err := postgres.NewProductRepository(pool).UpsertMany(ctx, products); err != nil {
		return err
	}
	lg.Info("Seeded products", zap.Int("count", len(products)))

	return nil
}

func loadProducts(path string) ([]productSeed, error) {
	data := db.SeedProducts
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read products file")
		}
		data = b
	}

	var seeds []productSeed
	if err := json.Unmarshal(data, &seeds); err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	return seeds, nil
}

func (s productSeed) toProduct(storeID string, now time.Time) product.Product {
	unit := s.Unit
	if unit == "" {
		unit = "piece"
	}
	return product.Product{
		ID:              uuid.NewString(),
		StoreID:         storeID,
		Name:            s.Name,
		SKU:             product.NormalizeSKU(s.SKU),
		Description:     s.Description,
		Category:        s.Category,
		Brand:           s.Brand,
		Unit:            unit,
		Image:           s.Image,
		Price:           s.Price,
		CostPrice:       s.CostPrice,
		MRP:             s.MRP,
		DiscountPercent: s.DiscountPercent,
		Stock:           s.Stock,
		MinStock:        s.MinStock,
		MaxStock:        s.MaxStock,
		Active:          true,
		CreatedBy:       "seed-db",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
