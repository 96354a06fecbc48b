/*
Package clusterflow coordinates rate limiting and request metrics across a
cluster of HTTP worker processes through a shared Redis.

Coordination (pkg/store):
  - store: Redis client with readiness tracking, bounded reconnects and key prefixing

Rate Limiting (pkg/ratelimit):
  - distributed: fixed and sliding window limiters shared by every worker

Metrics (pkg/metrics):
  - Aggregator: cluster-wide request, error, connection and latency counters
  - Sampler: periodic throughput computation
  - Registry: per-process Prometheus mirror

HTTP (pkg/middleware):
  - Interceptor: records each request's lifecycle
  - RateLimit: 429 responses with X-RateLimit-* headers
  - ConnTracker and MetricsHandler: connection gauge and operator snapshot

Every coordination path checks store readiness first. When Redis is
unreachable limits fail open and metrics are skipped; the workers keep serving.

Example usage:

	import (
		"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/middleware"
		"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/ratelimit/distributed"
		"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/store"
	)

	st, _ := store.New(store.DefaultConfig())
	_ = st.Connect(ctx)

	limiter, _ := distributed.NewFixedWindow(distributed.Config{Store: st})
	limit, _ := middleware.RateLimit(middleware.RateLimitConfig{
		Limiter: limiter,
		Window:  15 * time.Minute,
		Max:     100,
	})
	http.ListenAndServe(":10000", limit(mux))

The clusterflow command (cmd/clusterflow) runs a complete worker.
*/
package clusterflow
