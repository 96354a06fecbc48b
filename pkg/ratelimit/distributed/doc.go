// Package distributed provides rate limiting across worker processes, using
// the coordination store (see package store) as the only shared state.
//
// Two strategies are provided. Both keep one sorted set per identifier,
// scored by request time in milliseconds:
//
//   - FixedWindow: windows aligned to multiples of the window length. Every
//     check is recorded, rejected ones included, inside a MULTI/EXEC
//     transaction.
//   - SlidingWindow: the trailing window ending now. A Lua script evicts,
//     counts and records atomically, and only allowed requests are recorded.
//
// # Quick Start
//
//	st, _ := store.New(store.DefaultConfig())
//	_ = st.Connect(ctx)
//
//	limiter, err := distributed.NewLimiter(distributed.FixedWindow, distributed.Config{Store: st})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	res, err := limiter.Check(ctx, clientIP, 15*time.Minute, 100)
//	if err != nil {
//		// invalid arguments only
//	}
//	if !res.Allowed {
//		// reject, retry after res.RetryAfter seconds
//	}
//
// # Fail-open
//
// When the store is not ready or a check fails, Check allows the request and
// sets Result.Degraded. The failure is logged, never returned: availability
// of the service takes precedence over enforcement.
//
// # Keys
//
// Window records live at <prefix>ratelimit:fixed:<identifier> and
// <prefix>ratelimit:sliding:<identifier>. They expire ceil(window/1s) after
// the last recorded request.
package distributed
