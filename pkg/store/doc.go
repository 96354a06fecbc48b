// Package store manages the connection to the shared coordination store, a
// Redis-compatible server that every worker process reads and writes.
//
// The client tracks readiness so callers can take a fail-open path instead
// of blocking on an unreachable server:
//
//	c, _ := store.New(store.DefaultConfig())
//	if err := c.Connect(ctx); err != nil {
//		// err wraps errors.ErrMaxReconnectAttempts
//	}
//	if c.IsReady() {
//		_ = c.Do(ctx, "incr", func(ctx context.Context, rdb redis.UniversalClient) error {
//			return rdb.Incr(ctx, c.Key("metrics:requests:total")).Err()
//		})
//	}
//
// A transport failure reported through Do or ReportError marks the client not
// ready at once and starts a reconnect sequence in the background. The delay
// before attempt n is min(n*50ms, 2s) and the sequence stops after 10
// attempts; from then on IsReady returns false and Err returns the fatal error.
package store
