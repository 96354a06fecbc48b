/*
Package ratelimit groups the rate limiters used by clusterflow workers.

The limiters live in the distributed subpackage. Their state is kept in
Redis, so every process of a cluster sees the same windows:

  - FixedWindow: counts requests in windows aligned to multiples of the window length
  - SlidingWindow: counts requests in the trailing window ending now

	limiter, _ := distributed.NewLimiter(distributed.SlidingWindow, distributed.Config{Store: st})
	res, _ := limiter.Check(ctx, "203.0.113.7", time.Minute, 100)
	if !res.Allowed {
		// reply 429, retry in res.RetryAfter seconds
	}

A limiter that cannot reach Redis allows the request and marks the
result Degraded.
*/
package ratelimit
