package distributed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlidingWindowLimiter counts requests per identifier in the trailing window
// ending at the current time. Only allowed requests are recorded.
type SlidingWindowLimiter struct {
	base

	// Lua script for atomic sliding window operations
	checkAndIncrementScript *redis.Script
}

// NewSlidingWindow creates a sliding-window limiter.
func NewSlidingWindow(config Config) (*SlidingWindowLimiter, error) {
	b, err := newBase(config, "sliding_window", "sliding")
	if err != nil {
		return nil, err
	}
	return &SlidingWindowLimiter{
		base:                    b,
		checkAndIncrementScript: redis.NewScript(luaSlidingWindowCheckAndIncrement),
	}, nil
}

// Check evicts entries older than the window, counts the rest and, when
// there is room, records this request. The script runs atomically on the
// store, so concurrent checks for the same identifier never share a slot.
func (s *SlidingWindowLimiter) Check(ctx context.Context, identifier string, window time.Duration, max int) (*Result, error) {
	if err := validateCheck(s.name, identifier, window, max); err != nil {
		return nil, err
	}

	nowMs := s.config.Clock().UnixMilli()
	windowMs := window.Milliseconds()

	if !s.config.Store.IsReady() {
		return s.failOpen(identifier, max, time.UnixMilli(nowMs+windowMs), nil), nil
	}

	key := s.key(identifier)
	var reply []int64
	err := s.config.Store.Do(ctx, "sliding_window_check", func(ctx context.Context, rdb redis.UniversalClient) error {
		v, err := s.checkAndIncrementScript.Run(ctx, rdb, []string{key},
			nowMs,
			"("+strconv.FormatInt(nowMs-windowMs, 10),
			max,
			member(nowMs),
			int64(ttl(window)/time.Second),
		).Int64Slice()
		reply = v
		return err
	})
	if err == nil && len(reply) != 3 {
		err = fmt.Errorf("unexpected script reply %v", reply)
	}
	if err != nil {
		return s.failOpen(identifier, max, time.UnixMilli(nowMs+windowMs), err), nil
	}

	allowed, count, oldest := reply[0] == 1, reply[1], reply[2]

	res := &Result{
		Allowed:   allowed,
		Limit:     max,
		Remaining: remaining(max, count),
		ResetAt:   time.UnixMilli(nowMs + windowMs),
	}
	if oldest >= 0 {
		res.ResetAt = time.UnixMilli(oldest + windowMs)
	}
	if !allowed {
		if oldest >= 0 {
			res.RetryAfter = ceilSeconds(oldest + windowMs - nowMs)
		} else {
			res.RetryAfter = int(windowMs / 1000)
		}
		// An entry exactly one window old still counts, so the wait is never zero.
		if res.RetryAfter < 1 {
			res.RetryAfter = 1
		}
	}
	s.observe(res)
	return res, nil
}

// Count returns the number of requests recorded in the trailing window.
func (s *SlidingWindowLimiter) Count(ctx context.Context, identifier string, window time.Duration) (int64, error) {
	if err := validateCount(s.name, identifier, window); err != nil {
		return 0, err
	}
	nowMs := s.config.Clock().UnixMilli()
	return s.countSince(ctx, identifier, nowMs-window.Milliseconds())
}

// Lua scripts for sliding window operations
const luaSlidingWindowCheckAndIncrement = `
-- KEYS[1]: sliding window key (sorted set)
-- ARGV[1]: current time (milliseconds)
-- ARGV[2]: exclusive lower bound of the window, e.g. "(1699999999000"
-- ARGV[3]: max requests per window
-- ARGV[4]: unique member for this request
-- ARGV[5]: key ttl (seconds)
-- Returns {allowed, count before insert, oldest score or -1}

local window_key = KEYS[1]
local max_requests = tonumber(ARGV[3])

-- Clean up old entries outside the window
redis.call('ZREMRANGEBYSCORE', window_key, '-inf', ARGV[2])

local current_count = redis.call('ZCARD', window_key)
local allowed = 0

if current_count < max_requests then
    redis.call('ZADD', window_key, ARGV[1], ARGV[4])
    redis.call('EXPIRE', window_key, ARGV[5])
    allowed = 1
end

local oldest = redis.call('ZRANGE', window_key, 0, 0, 'WITHSCORES')
local oldest_score = -1
if oldest[2] then
    oldest_score = tonumber(oldest[2])
end

return {allowed, current_count, oldest_score}
`
