// Command catalog-import loads a gzip-compressed JSON-lines product feed into
// a store's catalog.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/user"
	"github.com/xenking/storefront/internal/storage/postgres"
)

func main() {
	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	cliApp := &cli.App{
		Name:      "catalog-import",
		Usage:     "import a product feed into a store catalog",
		ArgsUsage: "FILE.jsonl.gz",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "PostgreSQL connection URL",
				EnvVars:  []string{"DATABASE_URL"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "store-id",
				Usage:    "id of the owner account that receives the products",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "products per upsert batch",
				Value: 500,
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "concurrent upsert batches",
				Value: 4,
			},
			&cli.UintFlag{
				Name:  "expected",
				Usage: "expected number of products, used to size the duplicate filter",
				Value: 1_000_000,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("exactly one feed file is required", 2)
			}
			return run(c.Context, lg, c)
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		lg.Error("Catalog import failed", zap.Error(err))
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, lg *zap.Logger, c *cli.Context) error {
	path := c.Args().First()
	storeID := c.String("store-id")

	pool, err := postgres.NewPool(ctx, c.String("database-url"))
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	owner, err := postgres.NewUserRepository(pool).GetByID(ctx, storeID)
	if err != nil {
		return errors.Wrapf(err, "get store %s", storeID)
	}
	if !owner.IsStore() {
		return user.ErrStoreNotFound
	}

	imp := &importer{
		lg:        lg,
		storeID:   storeID,
		batchSize: c.Int("batch-size"),
		workers:   c.Int("workers"),
		expected:  c.Uint("expected"),
		products:  postgres.NewProductRepository(pool),
	}
	stats, err := imp.Import(ctx, path)
	if err != nil {
		return err
	}

	lg.Info("Catalog import completed",
		zap.String("store_id", storeID),
		zap.Int("lines", stats.Lines),
		zap.Int("invalid", stats.Invalid),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("upserted", stats.Upserted),
	)
	return nil
}
