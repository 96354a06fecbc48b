package distributed

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// FixedWindowLimiter counts requests per identifier in windows aligned to
// multiples of the window length.
//
// Every check inserts an entry, including rejected ones, so a client that
// keeps retrying while limited keeps the window full until it rolls over.
type FixedWindowLimiter struct {
	base
}

// NewFixedWindow creates a fixed-window limiter.
func NewFixedWindow(config Config) (*FixedWindowLimiter, error) {
	b, err := newBase(config, "fixed_window", "fixed")
	if err != nil {
		return nil, err
	}
	return &FixedWindowLimiter{base: b}, nil
}

// windowStart returns the start of the window containing nowMs.
func windowStart(nowMs, windowMs int64) int64 {
	return nowMs / windowMs * windowMs
}

// Check evicts entries from earlier windows, counts the rest and records
// this request in one MULTI/EXEC transaction.
func (f *FixedWindowLimiter) Check(ctx context.Context, identifier string, window time.Duration, max int) (*Result, error) {
	if err := validateCheck(f.name, identifier, window, max); err != nil {
		return nil, err
	}

	nowMs := f.config.Clock().UnixMilli()
	windowMs := window.Milliseconds()
	start := windowStart(nowMs, windowMs)
	resetAt := time.UnixMilli(start + windowMs)

	if !f.config.Store.IsReady() {
		return f.failOpen(identifier, max, resetAt, nil), nil
	}

	key := f.key(identifier)
	var card *redis.IntCmd
	err := f.config.Store.Do(ctx, "fixed_window_check", func(ctx context.Context, rdb redis.UniversalClient) error {
		_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(start, 10))
			card = pipe.ZCard(ctx, key)
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: member(nowMs)})
			pipe.Expire(ctx, key, ttl(window))
			return nil
		})
		return err
	})
	if err != nil {
		return f.failOpen(identifier, max, resetAt, err), nil
	}

	count := card.Val()
	res := &Result{
		Allowed:   count < int64(max),
		Limit:     max,
		Remaining: remaining(max, count),
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = ceilSeconds(start + windowMs - nowMs)
	}
	f.observe(res)
	return res, nil
}

// Count returns the number of entries recorded in the current window.
func (f *FixedWindowLimiter) Count(ctx context.Context, identifier string, window time.Duration) (int64, error) {
	if err := validateCount(f.name, identifier, window); err != nil {
		return 0, err
	}
	nowMs := f.config.Clock().UnixMilli()
	return f.countSince(ctx, identifier, windowStart(nowMs, window.Milliseconds()))
}
