// Package redis provides a Redis read-through cache in front of a coupon lookup.
package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-discounts/internal/domain/discount"
)

const keyPrefix = "discounts:coupon:"

// cmdable is the subset of the go-redis client used by CouponCache.
type cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// invalidateBatch bounds the number of keys sent in one DEL.
const invalidateBatch = 500

var _ discount.CouponLookup = (*CouponCache)(nil)

// CouponCache caches the rule owning each coupon code in Redis, shared by all
// requests. Only found coupons are cached. Redis errors never fail a lookup:
// they are logged and the next lookup is queried instead.
type CouponCache struct {
	store cmdable
	next  discount.CouponLookup
	ttl   time.Duration
}

// NewCouponCache wraps next with a cache stored in client.
func NewCouponCache(client *redis.Client, next discount.CouponLookup, ttl time.Duration) *CouponCache {
	return &CouponCache{store: client, next: next, ttl: ttl}
}

// FindByCode returns the cached coupon for code or queries the next lookup
// and caches its first result.
func (c *CouponCache) FindByCode(ctx context.Context, code string) ([]discount.Coupon, error) {
	lg := zctx.From(ctx)
	key := keyPrefix + code

	val, err := c.store.Get(ctx, key).Result()
	switch {
	case err == nil:
		ruleID, perr := strconv.ParseInt(val, 10, 64)
		if perr == nil {
			return []discount.Coupon{{Code: code, RuleID: ruleID}}, nil
		}
		lg.Warn("Malformed cached coupon", zap.String("key", key), zap.Error(perr))
	case errors.Is(err, redis.Nil):
	default:
		lg.Warn("Coupon cache read failed", zap.String("key", key), zap.Error(err))
	}

	coupons, err := c.next.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if len(coupons) == 0 {
		return coupons, nil
	}

	ruleID := strconv.FormatInt(coupons[0].RuleID, 10)
	if err := c.store.Set(ctx, key, ruleID, c.ttl).Err(); err != nil {
		lg.Warn("Coupon cache write failed", zap.String("key", key), zap.Error(err))
	}
	return coupons[:1], nil
}

// Invalidate drops the cached entries for codes, so the next lookup reads the
// current rule from the next lookup. The importer calls it after reassigning
// coupons.
func (c *CouponCache) Invalidate(ctx context.Context, codes []string) error {
	keys := make([]string, 0, min(len(codes), invalidateBatch))
	for i, code := range codes {
		keys = append(keys, keyPrefix+code)
		if len(keys) < invalidateBatch && i < len(codes)-1 {
			continue
		}
		if err := c.store.Del(ctx, keys...).Err(); err != nil {
			return errors.Wrapf(err, "delete %d cached coupons", len(keys))
		}
		keys = keys[:0]
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (c *CouponCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx).Err()
}
