package metrics_test

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/metrics"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/store"
)

// Example_errorRate records a mix of successful and failed requests and
// reads them back.
func Example_errorRate() {
	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		fmt.Println(err)
		return
	}
	defer mr.Close()

	st := store.NewWithRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), store.Config{KeyPrefix: "app:"})
	defer st.Close()

	ctx := context.Background()
	if err := st.Connect(ctx); err != nil {
		fmt.Println(err)
		return
	}

	agg, _ := metrics.NewAggregator(st, metrics.WithRegistry(metrics.NewRegistry(prometheus.NewRegistry())))

	const ep = "GET /api/forum/topics"
	for i := 0; i < 105; i++ {
		status := 200
		if i >= 100 {
			status = 500
		}
		_ = agg.RecordStart(ctx, ep)
		_ = agg.RecordEnd(ctx, ep, status, time.Millisecond)
	}

	snap, _ := agg.Snapshot(ctx)
	fmt.Println(snap.Total.Requests, snap.Total.Errors, snap.Total.ErrorRate)
	fmt.Println(snap.Endpoints[ep].ErrorRate)

	// Output:
	// 105 5 4.76
	// 4.76
}

// Example_customRegistry shows the Prometheus mirror on its own.
func Example_customRegistry() {
	reg := prometheus.NewRegistry()
	r := metrics.NewRegistryWithConfig(metrics.Config{
		Enabled:   true,
		Registry:  reg,
		Namespace: "forum",
		Labels:    prometheus.Labels{"worker": "1"},
	})

	r.ObserveRequest("GET /health", 3)
	r.ObserveRateLimit("fixed_window", "rejected")

	families, _ := reg.Gather()
	for _, f := range families {
		if strings.HasSuffix(f.GetName(), "_total") && len(f.GetMetric()) > 0 && f.GetMetric()[0].GetCounter().GetValue() > 0 {
			fmt.Println(f.GetName(), f.GetMetric()[0].GetCounter().GetValue())
		}
	}

	// Output:
	// forum_http_requests_total 3
	// forum_ratelimit_checks_total 1
}
