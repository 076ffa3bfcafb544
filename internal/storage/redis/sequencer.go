package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/storefront/internal/domain/order"
)

// counterTTL keeps a day's counter alive past midnight in every timezone.
const counterTTL = 48 * time.Hour

var _ order.NumberSequencer = (*Sequencer)(nil)

// Sequencer issues order serials with INCR on one key per store and day.
type Sequencer struct {
	client goredis.Cmdable
}

// NewSequencer returns a Sequencer using client.
func NewSequencer(client goredis.Cmdable) *Sequencer {
	return &Sequencer{client: client}
}

// Next increments and returns the store's counter for day.
func (s *Sequencer) Next(ctx context.Context, storeID string, day time.Time) (int64, error) {
	key := keyPrefix + "orderseq:" + storeID + ":" + day.Format("20060102")

	var incr *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, counterTTL)
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "incr %s", key)
	}
	return incr.Val(), nil
}
