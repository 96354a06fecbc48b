package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	gferrors "github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/errors"
)

// Snapshot is a consistent read of the cluster-wide metrics.
type Snapshot struct {
	Available   bool                     `json:"available"`
	Error       string                   `json:"error,omitempty"`
	Timestamp   time.Time                `json:"timestamp"`
	Total       TotalStats               `json:"total"`
	Connections GaugeStats               `json:"connections"`
	Throughput  ThroughputStats          `json:"throughput"`
	Endpoints   map[string]EndpointStats `json:"endpoints"`
}

// TotalStats holds the cluster-wide request counters.
type TotalStats struct {
	Requests  int64  `json:"requests"`
	Errors    int64  `json:"errors"`
	Accepted  int64  `json:"accepted"`
	ErrorRate string `json:"errorRate"`
}

// GaugeStats is an integer gauge with its high-water mark.
type GaugeStats struct {
	Current int64 `json:"current"`
	Max     int64 `json:"max"`
}

// ThroughputStats is the sampled requests-per-second gauge.
type ThroughputStats struct {
	Current float64 `json:"current"`
	Max     float64 `json:"max"`
}

// EndpointStats holds the counters of one endpoint.
type EndpointStats struct {
	Requests  int64  `json:"requests"`
	Errors    int64  `json:"errors"`
	ErrorRate string `json:"errorRate"`
}

// ErrorRate formats errors/requests as a percentage with two decimals.
// It returns "0.00" when no requests were recorded.
func ErrorRate(errs, requests int64) string {
	if requests <= 0 {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", float64(errs)/float64(requests)*100)
}

// Snapshot reads every counter and gauge in one transaction. When the store
// is unavailable it returns a snapshot with Available set to false together
// with the error.
func (a *Aggregator) Snapshot(ctx context.Context) (*Snapshot, error) {
	now := a.now()
	if !a.store.IsReady() {
		return unavailableSnapshot(now, gferrors.ErrStoreUnavailable), gferrors.ErrStoreUnavailable
	}

	var members []string
	err := a.store.Do(ctx, "snapshot_endpoints", func(ctx context.Context, rdb redis.UniversalClient) error {
		var err error
		members, err = rdb.SMembers(ctx, a.store.Key(keyEndpoints)).Result()
		return err
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailableSnapshot(now, err), err
	}
	endpoints := a.mergeEndpoints(members)

	var (
		requests, errs, accepted *redis.StringCmd
		connCur, connMax         *redis.StringCmd
		tpCur, tpMax             *redis.StringCmd
		epRequests               = make([]*redis.StringCmd, len(endpoints))
		epErrors                 = make([]*redis.StringCmd, len(endpoints))
	)
	err = a.store.Do(ctx, "snapshot", func(ctx context.Context, rdb redis.UniversalClient) error {
		_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			requests = pipe.Get(ctx, a.store.Key(keyRequestsTotal))
			errs = pipe.Get(ctx, a.store.Key(keyErrorsTotal))
			accepted = pipe.Get(ctx, a.store.Key(keyAcceptedTotal))
			connCur = pipe.Get(ctx, a.store.Key(keyConnCurrent))
			connMax = pipe.Get(ctx, a.store.Key(keyConnMax))
			tpCur = pipe.Get(ctx, a.store.Key(keyThroughputCurrent))
			tpMax = pipe.Get(ctx, a.store.Key(keyThroughputMax))
			for i, ep := range endpoints {
				epRequests[i] = pipe.Get(ctx, a.endpointKey(ep, "requests"))
				epErrors[i] = pipe.Get(ctx, a.endpointKey(ep, "errors"))
			}
			return nil
		})
		return err
	})
	// Missing keys surface as redis.Nil and read as zero.
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailableSnapshot(now, err), err
	}

	snap := &Snapshot{
		Available: true,
		Timestamp: now,
		Total: TotalStats{
			Requests: intValue(requests),
			Errors:   intValue(errs),
			Accepted: intValue(accepted),
		},
		Connections: GaugeStats{Current: intValue(connCur), Max: intValue(connMax)},
		Throughput:  ThroughputStats{Current: floatValue(tpCur), Max: floatValue(tpMax)},
		Endpoints:   make(map[string]EndpointStats, len(endpoints)),
	}
	snap.Total.ErrorRate = ErrorRate(snap.Total.Errors, snap.Total.Requests)

	for i, ep := range endpoints {
		st := EndpointStats{
			Requests: intValue(epRequests[i]),
			Errors:   intValue(epErrors[i]),
		}
		st.ErrorRate = ErrorRate(st.Errors, st.Requests)
		snap.Endpoints[ep] = st
	}
	return snap, nil
}

// mergeEndpoints unions the shared endpoint set with the endpoints this
// process has recorded, so a freshly used endpoint shows up even if its
// SADD has not landed yet.
func (a *Aggregator) mergeEndpoints(shared []string) []string {
	seen := make(map[string]struct{}, len(shared))
	for _, ep := range shared {
		seen[ep] = struct{}{}
	}
	a.mu.RLock()
	for ep := range a.endpoints {
		seen[ep] = struct{}{}
	}
	a.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for ep := range seen {
		out = append(out, ep)
	}
	sort.Strings(out)
	return out
}

func unavailableSnapshot(now time.Time, err error) *Snapshot {
	return &Snapshot{
		Available: false,
		Error:     err.Error(),
		Timestamp: now,
		Total:     TotalStats{ErrorRate: "0.00"},
		Endpoints: map[string]EndpointStats{},
	}
}

func intValue(cmd *redis.StringCmd) int64 {
	if cmd == nil {
		return 0
	}
	n, err := cmd.Int64()
	if err != nil {
		return 0
	}
	return n
}

func floatValue(cmd *redis.StringCmd) float64 {
	if cmd == nil {
		return 0
	}
	f, err := cmd.Float64()
	if err != nil {
		return 0
	}
	return f
}
