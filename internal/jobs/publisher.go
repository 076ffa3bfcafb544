package jobs

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/hibiken/asynq"

	"github.com/xenking/storefront/internal/domain/order"
)

// Enqueuer is the part of *asynq.Client the publisher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

var _ order.Events = (*Publisher)(nil)

// Publisher implements order.Events by enqueueing asynq tasks.
type Publisher struct {
	queue Enqueuer
}

// NewPublisher returns a Publisher writing to queue.
func NewPublisher(queue Enqueuer) *Publisher {
	return &Publisher{queue: queue}
}

// OrderPlaced enqueues a TypeOrderPlaced task. An order already enqueued is
// not an error.
func (p *Publisher) OrderPlaced(ctx context.Context, o *order.Order) error {
	task, err := NewOrderPlacedTask(o)
	if err != nil {
		return err
	}
	if _, err := p.queue.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return errors.Wrapf(err, "enqueue %s", TypeOrderPlaced)
	}
	return nil
}

// LowStock enqueues a TypeLowStock task.
func (p *Publisher) LowStock(ctx context.Context, alert order.LowStockAlert) error {
	task, err := NewLowStockTask(alert)
	if err != nil {
		return err
	}
	if _, err := p.queue.EnqueueContext(ctx, task); err != nil {
		return errors.Wrapf(err, "enqueue %s", TypeLowStock)
	}
	return nil
}
