//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/user"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "storefront",
				"POSTGRES_PASSWORD": "storefront",
				"POSTGRES_DB":       "storefront",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(pg); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := pg.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://storefront:storefront@%s:%s/storefront?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	return m.Run()
}

func seedStore(t *testing.T) string {
	t.Helper()
	id := uuid.NewString()
	err := NewUserRepository(testPool).Upsert(context.Background(), &user.User{
		ID:        id,
		Email:     id + "@shop.test",
		Name:      "Owner",
		Role:      user.RoleOwner,
		Active:    true,
		StoreName: "Test Mart",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	return id
}

func seedProduct(t *testing.T, storeID, sku string, stock int) *product.Product {
	t.Helper()
	mrp := decimal.NewFromInt(120)
	p := &product.Product{
		ID:        uuid.NewString(),
		StoreID:   storeID,
		Name:      "Product " + sku,
		SKU:       sku,
		Category:  "grocery",
		Unit:      "piece",
		Price:     decimal.NewFromInt(100),
		MRP:       &mrp,
		Stock:     stock,
		MinStock:  2,
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, NewProductRepository(testPool).Create(context.Background(), p))
	return p
}

func newOrder(storeID, number string, items ...order.Item) *order.Order {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Total)
	}
	if total.IsZero() {
		total = decimal.NewFromInt(10)
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &order.Order{
		ID:          uuid.NewString(),
		StoreID:     storeID,
		OrderNumber: number,
		Customer: order.Customer{
			Name:    "Asha",
			Email:   "asha@example.com",
			Phone:   "98000",
			Address: order.Address{Street: "1 Road", City: "Pune", State: "MH", Pincode: "411001"},
		},
		Items:       items,
		Subtotal:    total,
		TotalAmount: total,
		Payment:     order.Payment{Method: order.PaymentCOD, Status: order.PaymentPending, PaidAmount: decimal.Zero},
		Status:      order.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestProductRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(testPool)
	storeID := seedStore(t)
	p := seedProduct(t, storeID, "SUG-5KG", 10)

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "SUG-5KG", got.SKU)
	require.NotNil(t, got.MRP)
	assert.True(t, decimal.NewFromInt(120).Equal(*got.MRP))
	assert.Nil(t, got.DiscountPercent)

	got, err = repo.GetBySKU(ctx, storeID, "sug-5kg")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	got, err = repo.GetByName(ctx, storeID, p.Name)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = repo.GetByID(ctx, "not-a-uuid")
	require.ErrorIs(t, err, product.ErrNotFound)

	dup := *p
	dup.ID = uuid.NewString()
	require.ErrorIs(t, repo.Create(ctx, &dup), product.ErrDuplicateSKU)

	items, total, err := repo.List(ctx, product.ListFilter{StoreID: storeID, Search: "sug"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)

	_, total, err = repo.List(ctx, product.ListFilter{StoreID: storeID, Search: "100%"})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestProductRepository_UpsertMany(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(testPool)
	storeID := seedStore(t)
	existing := seedProduct(t, storeID, "TEA-1", 4)

	batch := []product.Product{
		{ID: uuid.NewString(), StoreID: storeID, Name: "Tea renamed", SKU: "TEA-1", Category: "grocery", Unit: "pack", Price: decimal.NewFromInt(90), Stock: 40, Active: true},
		{ID: uuid.NewString(), StoreID: storeID, Name: "Coffee", SKU: "COF-1", Category: "grocery", Unit: "pack", Price: decimal.NewFromInt(300), Stock: 5, Active: true},
	}
	require.NoError(t, repo.UpsertMany(ctx, batch))
	assert.Equal(t, existing.ID, batch[0].ID)

	got, err := repo.GetBySKU(ctx, storeID, "TEA-1")
	require.NoError(t, err)
	assert.Equal(t, "Tea renamed", got.Name)
	assert.Equal(t, 40, got.Stock)
}

func TestOrderRepository_Place(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testPool)
	products := NewProductRepository(testPool)
	storeID := seedStore(t)
	a := seedProduct(t, storeID, "A", 10)
	b := seedProduct(t, storeID, "B", 3)

	o := newOrder(storeID, "ORD2501010001",
		order.Item{ProductID: a.ID, Name: a.Name, Quantity: 4, UnitPrice: a.Price, Total: decimal.NewFromInt(400)},
	)
	levels, err := repo.Place(ctx, o, []order.StockChange{{ProductID: a.ID, Quantity: 4}})
	require.NoError(t, err)
	assert.Equal(t, []order.StockLevel{{ProductID: a.ID, Remaining: 6}}, levels)

	stored, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNumber, stored.OrderNumber)
	assert.Equal(t, o.Customer, stored.Customer)
	require.Len(t, stored.Items, 1)
	assert.True(t, decimal.NewFromInt(400).Equal(stored.TotalAmount))
	assert.Nil(t, stored.Delivery)

	// B cannot cover 5: nothing from this order may stick.
	failing := newOrder(storeID, "ORD2501010002")
	_, err = repo.Place(ctx, failing, []order.StockChange{
		{ProductID: a.ID, Quantity: 1},
		{ProductID: b.ID, Quantity: 5},
	})
	var stockErr *order.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 3, stockErr.Available)

	got, err := products.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.Stock)
	_, err = repo.GetByID(ctx, failing.ID)
	require.ErrorIs(t, err, order.ErrNotFound)

	dup := newOrder(storeID, "ORD2501010001")
	_, err = repo.Place(ctx, dup, nil)
	require.ErrorIs(t, err, order.ErrDuplicateNumber)
}

func TestOrderRepository_ConcurrentDecrement(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testPool)
	storeID := seedStore(t)
	p := seedProduct(t, storeID, "HOT", 5)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := newOrder(storeID, fmt.Sprintf("ORD250101%04d", i+1))
			_, err := repo.Place(ctx, o, []order.StockChange{{ProductID: p.ID, Quantity: 1}})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	got, err := NewProductRepository(testPool).GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)
}

func TestOrderRepository_UpdateStatusAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testPool)
	storeID := seedStore(t)

	o := newOrder(storeID, "ORD2501020001")
	_, err := repo.Place(ctx, o, nil)
	require.NoError(t, err)

	change := order.StatusChange{
		OrderID:   o.ID,
		From:      order.StatusPending,
		To:        order.StatusDelivered,
		Payment:   order.Payment{Method: order.PaymentCOD, Status: order.PaymentCompleted, PaidAmount: o.TotalAmount},
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.UpdateStatus(ctx, change))
	require.ErrorIs(t, repo.UpdateStatus(ctx, change), order.ErrStatusConflict)

	change.OrderID = uuid.NewString()
	require.ErrorIs(t, repo.UpdateStatus(ctx, change), order.ErrNotFound)

	stored, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, stored.Status)
	assert.Equal(t, order.PaymentCompleted, stored.Payment.Status)

	items, total, err := repo.List(ctx, order.ListFilter{StoreID: storeID, Status: order.StatusDelivered})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)

	_, total, err = repo.List(ctx, order.ListFilter{StoreID: storeID, Status: order.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestOrderCounter(t *testing.T) {
	ctx := context.Background()
	counter := NewOrderCounter(testPool)
	storeID := seedStore(t)
	day := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]bool{}
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := counter.Next(ctx, storeID, day)
			assert.NoError(t, err)
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
	for i := int64(1); i <= 20; i++ {
		assert.True(t, seen[i], "serial %d missing", i)
	}

	n, err := counter.Next(ctx, storeID, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(testPool)
	storeID := seedStore(t)

	u, err := repo.GetByEmail(ctx, storeID+"@SHOP.test")
	require.NoError(t, err)
	assert.Equal(t, storeID, u.ID)
	assert.True(t, u.IsStore())

	_, err = repo.GetByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, user.ErrNotFound)

	at := time.Now().UTC()
	purchases := []user.Purchase{
		{OrderID: uuid.NewString(), Amount: decimal.NewFromInt(100)},
		{OrderID: uuid.NewString(), Amount: decimal.NewFromInt(250)},
	}
	for _, p := range purchases {
		p.StoreID, p.Email, p.Name, p.At = storeID, "Asha@Example.com", "Asha", at
		require.NoError(t, repo.RecordPurchase(ctx, p))
	}

	stats, err := repo.GetCustomerStats(ctx, storeID, "asha@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.OrderCount)
	assert.True(t, decimal.NewFromInt(350).Equal(stats.TotalSpent))

	// A redelivered order-placed task records the same order again.
	again := purchases[1]
	again.StoreID, again.Email, again.Name, again.At = storeID, "asha@example.com", "Asha", at
	require.NoError(t, repo.RecordPurchase(ctx, again))

	stats, err = repo.GetCustomerStats(ctx, storeID, "asha@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.OrderCount, "order counted once")
	assert.True(t, decimal.NewFromInt(350).Equal(stats.TotalSpent))

	err = repo.RecordPurchase(ctx, user.Purchase{StoreID: storeID, Email: "asha@example.com"})
	require.ErrorContains(t, err, "invalid order id")
}

func TestAPIKeyRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAPIKeyRepository(testPool)
	storeID := seedStore(t)

	hash := auth.HashKey([]byte("pepper"), "raw-key")
	require.NoError(t, repo.Upsert(ctx, auth.APIKeyInfo{
		ID:      "key-" + storeID,
		KeyHash: hash,
		Name:    "test",
		UserID:  storeID,
		Scopes:  []string{auth.ScopeManageOrders},
	}))

	info, err := repo.FindByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, storeID, info.UserID)
	assert.Equal(t, []string{auth.ScopeManageOrders}, info.Scopes)

	_, err = repo.FindByHash(ctx, "missing")
	require.ErrorIs(t, err, auth.ErrKeyNotFound)
}
