package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/product"
)

const (
	bloomFPR      = 0.001
	maxLineSize   = 1 << 20
	progressEvery = 100_000
)

// feedLine is one product in the feed.
type feedLine struct {
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
	Active          *bool            `json:"active"`
}

func (l *feedLine) valid() bool {
	switch {
	case l.Name == "", product.NormalizeSKU(l.SKU) == "", l.Category == "":
		return false
	case l.Price.IsNegative(), l.CostPrice.IsNegative():
		return false
	case l.MRP != nil && l.MRP.IsNegative():
		return false
	case l.DiscountPercent != nil && (l.DiscountPercent.IsNegative() || l.DiscountPercent.GreaterThan(decimal.NewFromInt(100))):
		return false
	case l.Stock < 0, l.MinStock < 0, l.MaxStock < 0:
		return false
	}
	return true
}

func (l *feedLine) toProduct(storeID string, now time.Time) product.Product {
	unit := l.Unit
	if unit == "" {
		unit = "piece"
	}
	active := true
	if l.Active != nil {
		active = *l.Active
	}
	return product.Product{
		ID:              uuid.NewString(),
		StoreID:         storeID,
		Name:            l.Name,
		SKU:             product.NormalizeSKU(l.SKU),
		Description:     l.Description,
		Category:        l.Category,
		Brand:           l.Brand,
		Unit:            unit,
		Image:           l.Image,
		Price:           l.Price,
		CostPrice:       l.CostPrice,
		MRP:             l.MRP,
		DiscountPercent: l.DiscountPercent,
		Stock:           l.Stock,
		MinStock:        l.MinStock,
		MaxStock:        l.MaxStock,
		Active:          active,
		CreatedBy:       "catalog-import",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// batchUpserter writes a batch of products, matching existing rows by SKU.
type batchUpserter interface {
	UpsertMany(ctx context.Context, products []product.Product) error
}

type importStats struct {
	Lines      int
	Invalid    int
	Duplicates int
	Upserted   int
}

type importer struct {
	lg        *zap.Logger
	storeID   string
	batchSize int
	workers   int
	expected  uint
	products  batchUpserter
	now       func() time.Time
}

// Import reads the feed twice. Pass one runs every SKU through a bloom filter
// and keeps the SKUs that tested positive as duplicate candidates. Pass two
// confirms candidates exactly, keeps the first occurrence of each SKU and
// upserts the products in parallel batches.
func (imp *importer) Import(ctx context.Context, path string) (importStats, error) {
	imp.lg.Info("Pass 1: collecting duplicate candidates", zap.String("file", path))
	candidates, err := imp.collectCandidates(ctx, path)
	if err != nil {
		return importStats{}, errors.Wrap(err, "collect duplicate candidates")
	}
	imp.lg.Info("Pass 1 complete", zap.Int("candidates", len(candidates)))

	imp.lg.Info("Pass 2: importing products")
	stats, err := imp.load(ctx, path, candidates)
	if err != nil {
		return stats, errors.Wrap(err, "import products")
	}
	return stats, nil
}

func (imp *importer) collectCandidates(ctx context.Context, path string) (map[string]struct{}, error) {
	expected := imp.expected
	if expected == 0 {
		expected = 1
	}
	filter := bloom.NewWithEstimates(expected, bloomFPR)
	candidates := make(map[string]struct{})

	err := streamFeed(ctx, path, func(line []byte) error {
		var l feedLine
		if json.Unmarshal(line, &l) != nil || !l.valid() {
			return nil
		}
		sku := product.NormalizeSKU(l.SKU)
		if filter.TestOrAddString(sku) {
			candidates[sku] = struct{}{}
		}
		return nil
	})
	return candidates, err
}

func (imp *importer) load(ctx context.Context, path string, candidates map[string]struct{}) (importStats, error) {
	var (
		stats    importStats
		upserted atomic.Int64
	)
	seen := make(map[string]struct{}, len(candidates))
	now := time.Now().UTC()
	if imp.now != nil {
		now = imp.now()
	}
	batchSize := max(imp.batchSize, 1)

	g, ctx := errgroup.WithContext(ctx)
	batches := make(chan []product.Product)

	for range max(imp.workers, 1) {
		g.Go(func() error {
			for batch := range batches {
				if err := imp.products.UpsertMany(ctx, batch); err != nil {
					return err
				}
				upserted.Add(int64(len(batch)))
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(batches)

		batch := make([]product.Product, 0, batchSize)
		send := func() error {
			if len(batch) == 0 {
				return nil
			}
			select {
			case batches <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
			batch = make([]product.Product, 0, batchSize)
			return nil
		}

		err := streamFeed(ctx, path, func(line []byte) error {
			stats.Lines++
			if stats.Lines%progressEvery == 0 {
				imp.lg.Info("Pass 2 progress", zap.Int("lines", stats.Lines))
			}

			var l feedLine
			if err := json.Unmarshal(line, &l); err != nil || !l.valid() {
				stats.Invalid++
				return nil
			}
			sku := product.NormalizeSKU(l.SKU)
			if _, ok := candidates[sku]; ok {
				if _, dup := seen[sku]; dup {
					stats.Duplicates++
					return nil
				}
				seen[sku] = struct{}{}
			}

			batch = append(batch, l.toProduct(imp.storeID, now))
			if len(batch) == batchSize {
				return send()
			}
			return nil
		})
		if err != nil {
			return err
		}
		return send()
	})

	err := g.Wait()
	stats.Upserted = int(upserted.Load())
	return stats, err
}

// streamFeed opens a gzip-compressed file and calls fn for each non-empty line.
func streamFeed(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	return scanLines(ctx, gz, fn)
}

func scanLines(ctx context.Context, r io.Reader, fn func(line []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "scan feed")
	}
	return nil
}
