//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/user"
	"github.com/xenking/storefront/internal/storage/postgres"
)

const (
	testPepper   = "integration-pepper"
	ownerKey     = "owner-integration-key"
	customerKey  = "customer-integration-key"
	requestIDHdr = "X-Request-ID"
)

var (
	baseURL    string
	httpClient = &http.Client{Timeout: 10 * time.Second}
	storeID    = uuid.NewString()
	customerID = uuid.NewString()
	productID  = uuid.NewString()
)

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
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

	mr, err := miniredis.Run()
	if err != nil {
		log.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	if err := seed(ctx, dsn); err != nil {
		log.Fatalf("seed: %v", err)
	}

	addr, err := freeAddr()
	if err != nil {
		log.Fatalf("free addr: %v", err)
	}
	baseURL = "http://" + addr

	cfg := testConfig(addr, dsn, mr.Addr())
	lg := zap.NewNop()
	srvCtx, stop := context.WithCancel(zctx.Base(ctx, lg))
	done := make(chan error, 1)
	go func() {
		done <- serve(srvCtx, lg, cfg, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	}()

	if err := waitReady(ctx); err != nil {
		log.Fatalf("wait ready: %v", err)
	}

	result := m.Run()

	stop()
	if err := <-done; err != nil {
		log.Printf("serve: %v", err)
	}
	return result
}

func testConfig(addr, dsn, redisAddr string) *Config {
	cfg := &Config{
		Addr:         addr,
		DatabaseURL:  dsn,
		APIKeyPepper: testPepper,
		Redis:        RedisConfig{Addr: redisAddr},
		Orders: OrdersConfig{
			NumberPrefix:   "ORD",
			Sequencer:      SequencerRedis,
			Timezone:       "UTC",
			IdempotencyTTL: time.Hour,
		},
		RateLimit: RateLimitConfig{Max: 10_000, Window: time.Minute},
		CORS:      CORSConfig{Origins: []string{"*"}},
		Graceful:  GracefulConfig{ShutdownTimeout: 5 * time.Second},
	}
	return cfg
}

func seed(ctx context.Context, dsn string) error {
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return err
	}

	now := time.Now().UTC()
	users := postgres.NewUserRepository(pool)
	for _, u := range []user.User{
		{ID: storeID, Email: "owner@it.test", Name: "Owner", Role: user.RoleOwner, Active: true, StoreName: "IT Store", CreatedAt: now},
		{ID: customerID, Email: "buyer@it.test", Name: "Buyer", Role: user.RoleUser, Active: true, CreatedAt: now},
	} {
		if err := users.Upsert(ctx, &u); err != nil {
			return err
		}
	}

	keys := postgres.NewAPIKeyRepository(pool)
	for _, k := range []auth.APIKeyInfo{
		{ID: "it-owner", KeyHash: auth.HashKey([]byte(testPepper), ownerKey), UserID: storeID},
		{ID: "it-customer", KeyHash: auth.HashKey([]byte(testPepper), customerKey), UserID: customerID},
	} {
		if err := keys.Upsert(ctx, k); err != nil {
			return err
		}
	}

	return postgres.NewProductRepository(pool).Create(ctx, &product.Product{
		ID:        productID,
		StoreID:   storeID,
		Name:      "Sugar 5kg",
		SKU:       "SUG-5KG",
		Category:  "Grocery",
		Unit:      "bag",
		Price:     decimal.NewFromInt(250),
		CostPrice: decimal.NewFromInt(200),
		Stock:     10,
		MinStock:  2,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func freeAddr() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().String(), nil
}

func waitReady(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			resp, err := httpClient.Get(baseURL + "/readyz")
			if err != nil {
				continue
			}
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

func do(t *testing.T, method, path, key string, body any, hdr ...string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, baseURL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}

	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type placedEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		OrderID     string  `json:"orderId"`
		OrderNumber string  `json:"orderNumber"`
		Status      string  `json:"status"`
		TotalAmount float64 `json:"totalAmount"`
	} `json:"data"`
}

type orderEnvelope struct {
	Order struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Payment struct {
			Status     string  `json:"status"`
			PaidAmount float64 `json:"paidAmount"`
		} `json:"payment"`
	} `json:"order"`
}

type productsEnvelope struct {
	Data struct {
		Products []struct {
			ID       string `json:"id"`
			SKU      string `json:"sku"`
			Stock    int    `json:"stock"`
			LowStock *bool  `json:"lowStock"`
		} `json:"products"`
	} `json:"data"`
}

func sugarOrder(qty int) map[string]any {
	return map[string]any{
		"storeId": storeID,
		"customer": map[string]any{
			"name":  "Asha",
			"email": "asha@example.com",
			"phone": "9999999999",
			"address": map[string]any{
				"street": "1 Main", "city": "Pune", "state": "MH", "pincode": "411001",
			},
		},
		"items":   []map[string]any{{"sku": "sug-5kg", "name": "Sugar", "quantity": qty, "unitPrice": 250}},
		"payment": map[string]any{"method": "cod"},
	}
}

func stockOf(t *testing.T) int {
	t.Helper()
	resp := do(t, http.MethodGet, "/api/stores/"+storeID+"/products", ownerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, p := range decode[productsEnvelope](t, resp).Data.Products {
		if p.ID == productID {
			return p.Stock
		}
	}
	t.Fatalf("product %s not listed", productID)
	return 0
}

func TestHealth(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		resp := do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "ok", decode[map[string]any](t, resp)["status"], path)
	}
}

func TestRequestID_Echoed(t *testing.T) {
	resp := do(t, http.MethodGet, "/livez", "", nil, requestIDHdr, "it-request-1")
	assert.Equal(t, "it-request-1", resp.Header.Get(requestIDHdr))

	resp = do(t, http.MethodGet, "/livez", "", nil)
	assert.NotEmpty(t, resp.Header.Get(requestIDHdr))
}

func TestCORS_Preflight(t *testing.T) {
	resp := do(t, http.MethodOptions, "/api/orders", "", nil,
		"Origin", "http://example.com",
		"Access-Control-Request-Method", "POST",
		"Access-Control-Request-Headers", "Content-Type, X-API-Key, Idempotency-Key",
	)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}

func TestPublicCatalog(t *testing.T) {
	resp := do(t, http.MethodGet, "/api/catalog/products?search=sugar", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"))

	body := decode[productsEnvelope](t, resp)
	require.NotEmpty(t, body.Data.Products)
	assert.Nil(t, body.Data.Products[0].LowStock, "owner-only fields are hidden")
}

func TestPlaceOrder_Unauthenticated(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/orders", "", sugarOrder(1))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, http.MethodPost, "/api/orders", "wrong-key", sugarOrder(1))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOrderLifecycle(t *testing.T) {
	before := stockOf(t)

	resp := do(t, http.MethodPost, "/api/orders", customerKey, sugarOrder(2), "Idempotency-Key", "it-lifecycle")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	placed := decode[placedEnvelope](t, resp)
	assert.True(t, placed.Success)
	assert.Equal(t, "pending", placed.Data.Status)
	assert.Equal(t, 500.0, placed.Data.TotalAmount)

	_, serial, ok := order.ParseNumber("ORD", placed.Data.OrderNumber)
	require.True(t, ok, placed.Data.OrderNumber)
	assert.Positive(t, serial)
	assert.Equal(t, before-2, stockOf(t))

	// Replaying the key returns the same order without touching stock.
	resp = do(t, http.MethodPost, "/api/orders", customerKey, sugarOrder(2), "Idempotency-Key", "it-lifecycle")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, placed.Data.OrderID, decode[placedEnvelope](t, resp).Data.OrderID)
	assert.Equal(t, before-2, stockOf(t))

	// The customer that placed the order can read it; status changes need the owner.
	resp = do(t, http.MethodGet, "/api/orders/"+placed.Data.OrderID, customerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodPatch, "/api/orders/"+placed.Data.OrderID+"/status", customerKey,
		map[string]string{"status": "shipped"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, http.MethodPatch, "/api/orders/"+placed.Data.OrderID+"/status", ownerKey,
		map[string]string{"status": "delivered"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[orderEnvelope](t, resp)
	assert.Equal(t, "delivered", got.Order.Status)
	assert.Equal(t, "completed", got.Order.Payment.Status)
	assert.Equal(t, 500.0, got.Order.Payment.PaidAmount)

	resp = do(t, http.MethodPatch, "/api/orders/"+placed.Data.OrderID+"/status", ownerKey,
		map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPlaceOrder_SequentialNumbers(t *testing.T) {
	var serials []int64
	for range 2 {
		resp := do(t, http.MethodPost, "/api/orders", customerKey, sugarOrder(1))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		_, serial, ok := order.ParseNumber("ORD", decode[placedEnvelope](t, resp).Data.OrderNumber)
		require.True(t, ok)
		serials = append(serials, serial)
	}
	assert.Equal(t, serials[0]+1, serials[1])
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	before := stockOf(t)

	resp := do(t, http.MethodPost, "/api/orders", customerKey, sugarOrder(before+1))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, false, body["success"])
	assert.EqualValues(t, before, body["available"])

	assert.Equal(t, before, stockOf(t))
}

func TestPlaceOrder_UnknownProduct(t *testing.T) {
	req := sugarOrder(1)
	req["items"] = []map[string]any{{"productId": uuid.NewString(), "quantity": 1}}

	resp := do(t, http.MethodPost, "/api/orders", customerKey, req)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStoreOrders_OwnerOnly(t *testing.T) {
	resp := do(t, http.MethodGet, "/api/stores/"+storeID+"/orders", customerKey, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, http.MethodGet, "/api/stores/"+storeID+"/orders?limit=5", ownerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
