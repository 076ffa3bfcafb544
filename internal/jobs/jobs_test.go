package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/user"
)

type mockEnqueuer struct {
	tasks []*asynq.Task
	seen  map[string]bool
	err   error
}

func (m *mockEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	key := task.Type() + string(task.Payload())
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if task.Type() == TypeOrderPlaced && m.seen[key] {
		return nil, asynq.ErrTaskIDConflict
	}
	m.seen[key] = true
	m.tasks = append(m.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

type mockRecorder struct {
	purchases []user.Purchase
	err       error
}

func (m *mockRecorder) RecordPurchase(_ context.Context, p user.Purchase) error {
	if m.err != nil {
		return m.err
	}
	m.purchases = append(m.purchases, p)
	return nil
}

func testOrder() *order.Order {
	return &order.Order{
		ID:          "5b0e7bd4-8b4a-4c55-9d8e-6f3c0a1b2c3d",
		StoreID:     "store-1",
		OrderNumber: "ORD2503070001",
		Customer: order.Customer{
			Name:  "Asha",
			Email: "asha@example.com",
			Phone: "9876543210",
		},
		TotalAmount: decimal.RequireFromString("550"),
		CreatedAt:   time.Date(2025, 3, 7, 10, 30, 0, 0, time.UTC),
	}
}

func TestPublisher_OrderPlaced(t *testing.T) {
	q := &mockEnqueuer{}
	p := NewPublisher(q)
	ctx := context.Background()

	require.NoError(t, p.OrderPlaced(ctx, testOrder()))
	require.Len(t, q.tasks, 1)
	assert.Equal(t, TypeOrderPlaced, q.tasks[0].Type())

	var payload OrderPlacedPayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &payload))
	assert.Equal(t, "store-1", payload.StoreID)
	assert.Equal(t, "asha@example.com", payload.Email)
	assert.Equal(t, "ORD2503070001", payload.OrderNumber)
	assert.True(t, decimal.RequireFromString("550").Equal(payload.TotalAmount))

	// A second enqueue of the same order is swallowed.
	require.NoError(t, p.OrderPlaced(ctx, testOrder()))
	assert.Len(t, q.tasks, 1)
}

func TestPublisher_Errors(t *testing.T) {
	q := &mockEnqueuer{err: errors.New("redis down")}
	p := NewPublisher(q)

	require.ErrorContains(t, p.OrderPlaced(context.Background(), testOrder()), "redis down")
	require.ErrorContains(t, p.LowStock(context.Background(), order.LowStockAlert{ProductID: "p"}), "redis down")
}

func TestPublisher_LowStock(t *testing.T) {
	q := &mockEnqueuer{}
	p := NewPublisher(q)

	alert := order.LowStockAlert{StoreID: "store-1", ProductID: "p1", Name: "Sugar", SKU: "SUG-1", Stock: 2, MinStock: 3}
	require.NoError(t, p.LowStock(context.Background(), alert))
	require.Len(t, q.tasks, 1)
	assert.Equal(t, TypeLowStock, q.tasks[0].Type())

	var payload LowStockPayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &payload))
	assert.Equal(t, LowStockPayload{StoreID: "store-1", ProductID: "p1", Name: "Sugar", SKU: "SUG-1", Stock: 2, MinStock: 3}, payload)
}

func TestHandlers_OrderPlaced(t *testing.T) {
	rec := &mockRecorder{}
	h := NewHandlers(rec)

	task, err := NewOrderPlacedTask(testOrder())
	require.NoError(t, err)
	require.NoError(t, h.HandleOrderPlaced(context.Background(), task))

	require.Len(t, rec.purchases, 1)
	got := rec.purchases[0]
	assert.Equal(t, testOrder().ID, got.OrderID)
	assert.Equal(t, "store-1", got.StoreID)
	assert.Equal(t, "asha@example.com", got.Email)
	assert.Equal(t, "Asha", got.Name)
	assert.True(t, decimal.RequireFromString("550").Equal(got.Amount))
	assert.True(t, testOrder().CreatedAt.Equal(got.At))
}

func TestHandlers_OrderPlaced_Redelivery(t *testing.T) {
	rec := &mockRecorder{}
	h := NewHandlers(rec)

	task, err := NewOrderPlacedTask(testOrder())
	require.NoError(t, err)
	require.NoError(t, h.HandleOrderPlaced(context.Background(), task))
	require.NoError(t, h.HandleOrderPlaced(context.Background(), task))

	// The recorder dedupes on the order id, so both calls must carry it.
	require.Len(t, rec.purchases, 2)
	assert.Equal(t, rec.purchases[0].OrderID, rec.purchases[1].OrderID)
	assert.Equal(t, testOrder().ID, rec.purchases[1].OrderID)
}

func TestHandlers_OrderPlaced_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("bad payload skips retry", func(t *testing.T) {
		h := NewHandlers(&mockRecorder{})
		err := h.HandleOrderPlaced(ctx, asynq.NewTask(TypeOrderPlaced, []byte("{")))
		require.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("missing email skips retry", func(t *testing.T) {
		h := NewHandlers(&mockRecorder{})
		o := testOrder()
		o.Customer.Email = ""
		task, err := NewOrderPlacedTask(o)
		require.NoError(t, err)
		require.ErrorIs(t, h.HandleOrderPlaced(ctx, task), asynq.SkipRetry)
	})

	t.Run("missing order id skips retry", func(t *testing.T) {
		rec := &mockRecorder{}
		h := NewHandlers(rec)
		o := testOrder()
		o.ID = ""
		task, err := NewOrderPlacedTask(o)
		require.NoError(t, err)
		require.ErrorIs(t, h.HandleOrderPlaced(ctx, task), asynq.SkipRetry)
		assert.Empty(t, rec.purchases)
	})

	t.Run("store error is retried", func(t *testing.T) {
		h := NewHandlers(&mockRecorder{err: errors.New("db down")})
		task, err := NewOrderPlacedTask(testOrder())
		require.NoError(t, err)
		err = h.HandleOrderPlaced(ctx, task)
		require.Error(t, err)
		assert.NotErrorIs(t, err, asynq.SkipRetry)
	})
}

func TestHandlers_LowStock(t *testing.T) {
	h := NewHandlers(&mockRecorder{})
	task, err := NewLowStockTask(order.LowStockAlert{StoreID: "s", ProductID: "p", Stock: 1, MinStock: 5})
	require.NoError(t, err)
	require.NoError(t, h.HandleLowStock(context.Background(), task))

	err = h.HandleLowStock(context.Background(), asynq.NewTask(TypeLowStock, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandlers_Register(t *testing.T) {
	rec := &mockRecorder{}
	mux := asynq.NewServeMux()
	NewHandlers(rec).Register(mux)

	task, err := NewOrderPlacedTask(testOrder())
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(context.Background(), task))
	assert.Len(t, rec.purchases, 1)

	err = mux.ProcessTask(context.Background(), asynq.NewTask("unknown:type", nil))
	require.Error(t, err)
}
