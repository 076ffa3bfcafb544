package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	// pending marks a key whose request is still running.
	pending = "-"
	// pendingTTL bounds how long a reservation that was never completed or
	// released blocks retries.
	pendingTTL = time.Minute
)

// releaseScript deletes a key only while it is still pending, so a late
// release cannot erase a completed order id.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ order.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore maps client idempotency keys to placed orders.
type IdempotencyStore struct {
	client goredis.Cmdable
	ttl    time.Duration
}

// NewIdempotencyStore returns a store whose keys expire after ttl.
func NewIdempotencyStore(client goredis.Cmdable, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, ttl: ttl}
}

func idemKey(key string) string {
	return keyPrefix + "idem:" + key
}

// Reserve claims key for the caller, or reports the order it already produced.
func (s *IdempotencyStore) Reserve(ctx context.Context, key string) (string, error) {
	k := idemKey(key)
	// The second attempt covers a key that expired between SETNX and GET.
	for range 2 {
		ok, err := s.client.SetNX(ctx, k, pending, min(pendingTTL, s.ttl)).Result()
		if err != nil {
			return "", errors.Wrap(err, "setnx")
		}
		if ok {
			return "", nil
		}

		v, err := s.client.Get(ctx, k).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			continue
		case err != nil:
			return "", errors.Wrap(err, "get")
		case v == pending:
			return "", order.ErrRequestInFlight
		default:
			return v, nil
		}
	}
	return "", order.ErrRequestInFlight
}

// Complete records the order placed under key for the full ttl.
func (s *IdempotencyStore) Complete(ctx context.Context, key, orderID string) error {
	if err := s.client.Set(ctx, idemKey(key), orderID, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "set")
	}
	return nil
}

// Release frees a pending key after a failed request.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, s.client, []string{idemKey(key)}, pending).Err(); err != nil {
		return errors.Wrap(err, "release")
	}
	return nil
}
