// Package middleware connects HTTP serving to the cluster-wide limiters and
// metrics.
//
//   - Interceptor records every request in a Recorder, off the request path
//   - RateLimit enforces a distributed.Limiter and answers 429 with
//     X-RateLimit-* and Retry-After headers
//   - ConnTracker is an http.Server.ConnState hook for the connection gauge
//   - MetricsHandler serves the cluster snapshot to loopback callers
//
// Loopback traffic (health probes, dashboards on the same host) is never
// counted. Every store interaction fails open: a request is never rejected
// or delayed because the coordination store is unreachable.
//
// Typical wiring with chi:
//
//	r := chi.NewRouter()
//	record, _ := middleware.Interceptor(agg, pool, middleware.WithRoutes(r))
//	limit, _ := middleware.RateLimit(middleware.RateLimitConfig{
//		Limiter: limiter,
//		Window:  15 * time.Minute,
//		Max:     100,
//	})
//	r.Use(record, limit)
//
//	srv := &http.Server{Handler: r, ConnState: tracker.Hook}
package middleware
