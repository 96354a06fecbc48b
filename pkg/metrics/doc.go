// Package metrics aggregates request metrics across every worker process of
// a deployment.
//
// # Overview
//
// Counters and gauges live in the coordination store (see package store), so
// any worker can serve a consistent cluster-wide view. Each process also
// mirrors what it records into a Prometheus registry for scraping:
//
//   - Aggregator: request, error and accepted counters, per-endpoint
//     counters, connection and throughput gauges with high-water marks
//   - Snapshot: a single transactional read of all of the above
//   - Sampler: a cron job that turns the request counter into a
//     requests-per-second gauge
//   - Registry: the process-local Prometheus series
//
// # Quick Start
//
//	st, _ := store.New(store.DefaultConfig())
//	_ = st.Connect(ctx)
//
//	agg, _ := metrics.NewAggregator(st,
//		metrics.WithRegistry(metrics.NewRegistry(prometheus.DefaultRegisterer)))
//
//	_ = agg.RecordStart(ctx, "GET /api/forum/topics")
//	_ = agg.RecordEnd(ctx, "GET /api/forum/topics", 200, 12*time.Millisecond)
//
//	snap, err := agg.Snapshot(ctx)
//
// # Store keys
//
// All keys are relative to the store prefix:
//
//   - metrics:requests:total, metrics:errors:total, metrics:accepted:total
//   - metrics:endpoint:<METHOD> <route>:requests and :errors
//   - metrics:endpoints (set of endpoint keys)
//   - metrics:latency:<METHOD> <route> (newest 1000 samples, milliseconds)
//   - metrics:connections:current and :max
//   - metrics:throughput:current and :max
//
// # Availability
//
// Writes are silently skipped while the store is not ready; a request is
// never failed because metrics could not be recorded. Snapshot reports
// Available=false in the same situation.
//
// # Prometheus metrics
//
//   - clusterflow_http_requests_total{endpoint}
//   - clusterflow_http_errors_total{endpoint}
//   - clusterflow_http_accepted_total
//   - clusterflow_http_request_duration_seconds{endpoint}
//   - clusterflow_http_connections
//   - clusterflow_store_up
//   - clusterflow_cluster_throughput_rps
//   - clusterflow_recorder_dropped_total
//   - clusterflow_ratelimit_checks_total{limiter,result}
package metrics
