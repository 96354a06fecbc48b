package metrics

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	gferrors "github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/errors"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/validation"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/logging"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/store"
)

// Store keys, relative to the store prefix. Everything the aggregator owns
// lives under metricsPrefix so ResetCounters never touches other state.
const (
	metricsPrefix = "metrics:"

	keyRequestsTotal     = metricsPrefix + "requests:total"
	keyErrorsTotal       = metricsPrefix + "errors:total"
	keyAcceptedTotal     = metricsPrefix + "accepted:total"
	keyEndpoints         = metricsPrefix + "endpoints"
	keyConnCurrent       = metricsPrefix + "connections:current"
	keyConnMax           = metricsPrefix + "connections:max"
	keyThroughputCurrent = metricsPrefix + "throughput:current"
	keyThroughputMax     = metricsPrefix + "throughput:max"
	endpointKeyPrefix    = metricsPrefix + "endpoint:"
	latencyKeyPrefix     = metricsPrefix + "latency:"

	// latencySamples bounds the per-endpoint latency list.
	latencySamples = 1000
)

// unknownEndpoint is recorded when the caller could not build an endpoint key.
const unknownEndpoint = "UNKNOWN"

// Aggregator maintains cluster-wide counters and gauges in the coordination
// store. Every worker process owns one; they agree through the store only.
//
// Write operations are silent no-ops while the store is not ready. A failed
// write returns the store error so the caller can log it; nothing is retried.
type Aggregator struct {
	store  *store.Client
	prom   *Registry
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	endpoints map[string]struct{}

	incrConnScript   *redis.Script
	decrConnScript   *redis.Script
	throughputScript *redis.Script
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithRegistry mirrors every recorded event into a Prometheus registry.
func WithRegistry(r *Registry) Option {
	return func(a *Aggregator) { a.prom = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) { a.logger = logging.OrNop(l) }
}

// WithClock overrides the clock used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator backed by s.
func NewAggregator(s *store.Client, opts ...Option) (*Aggregator, error) {
	if err := validation.ValidateNotNil("metrics", "store", s); err != nil {
		return nil, err
	}

	a := &Aggregator{
		store:            s,
		logger:           zap.NewNop(),
		now:              time.Now,
		endpoints:        make(map[string]struct{}),
		incrConnScript:   redis.NewScript(luaIncrementWithMax),
		decrConnScript:   redis.NewScript(luaDecrementFloor),
		throughputScript: redis.NewScript(luaSetWithMax),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Ready reports whether the coordination store can be used.
func (a *Aggregator) Ready() bool {
	return a.store.IsReady()
}

// IncrementRequests adds n to the total and per-endpoint request counters in
// a single transaction, so readers never see one without the other.
func (a *Aggregator) IncrementRequests(ctx context.Context, endpoint string, n int64) error {
	if n <= 0 {
		return nil
	}
	endpoint = normalizeEndpoint(endpoint)
	a.prom.ObserveRequest(endpoint, n)
	a.remember(endpoint)

	return a.write(ctx, "increment_requests", func(ctx context.Context, rdb redis.UniversalClient) error {
		_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.IncrBy(ctx, a.store.Key(keyRequestsTotal), n)
			pipe.IncrBy(ctx, a.endpointKey(endpoint, "requests"), n)
			pipe.SAdd(ctx, a.store.Key(keyEndpoints), endpoint)
			return nil
		})
		return err
	})
}

// IncrementErrors increments the total and per-endpoint error counters.
func (a *Aggregator) IncrementErrors(ctx context.Context, endpoint string) error {
	endpoint = normalizeEndpoint(endpoint)
	a.remember(endpoint)

	return a.write(ctx, "increment_errors", func(ctx context.Context, rdb redis.UniversalClient) error {
		_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			a.queueErrors(ctx, pipe, endpoint)
			return nil
		})
		return err
	})
}

// IncrementAccepted adds n to the accepted-requests counter.
func (a *Aggregator) IncrementAccepted(ctx context.Context, n int64) error {
	if n <= 0 {
		return nil
	}
	return a.write(ctx, "increment_accepted", func(ctx context.Context, rdb redis.UniversalClient) error {
		return rdb.IncrBy(ctx, a.store.Key(keyAcceptedTotal), n).Err()
	})
}

// IncrementConnections increments the connection gauge and advances the
// high-water mark in the same script, so the max never trails the gauge.
func (a *Aggregator) IncrementConnections(ctx context.Context) error {
	return a.write(ctx, "increment_connections", func(ctx context.Context, rdb redis.UniversalClient) error {
		return a.incrConnScript.Run(ctx, rdb,
			[]string{a.store.Key(keyConnCurrent), a.store.Key(keyConnMax)}).Err()
	})
}

// DecrementConnections decrements the connection gauge unless it is already
// zero. The high-water mark is left untouched.
func (a *Aggregator) DecrementConnections(ctx context.Context) error {
	return a.write(ctx, "decrement_connections", func(ctx context.Context, rdb redis.UniversalClient) error {
		return a.decrConnScript.Run(ctx, rdb, []string{a.store.Key(keyConnCurrent)}).Err()
	})
}

// UpdateThroughput sets the throughput gauge and advances its maximum.
func (a *Aggregator) UpdateThroughput(ctx context.Context, value float64) error {
	a.prom.SetThroughput(value)
	return a.write(ctx, "update_throughput", func(ctx context.Context, rdb redis.UniversalClient) error {
		return a.throughputScript.Run(ctx, rdb,
			[]string{a.store.Key(keyThroughputCurrent), a.store.Key(keyThroughputMax)},
			strconv.FormatFloat(value, 'f', 2, 64)).Err()
	})
}

// RecordLatency appends a latency sample for endpoint. Only the newest
// samples are kept.
func (a *Aggregator) RecordLatency(ctx context.Context, endpoint string, d time.Duration) error {
	endpoint = normalizeEndpoint(endpoint)
	return a.write(ctx, "record_latency", func(ctx context.Context, rdb redis.UniversalClient) error {
		_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			a.queueLatency(ctx, pipe, endpoint, d)
			return nil
		})
		return err
	})
}

// RecordStart records the arrival of a request for endpoint.
func (a *Aggregator) RecordStart(ctx context.Context, endpoint string) error {
	return a.IncrementRequests(ctx, endpoint, 1)
}

// RecordEnd records the outcome of a request: a latency sample plus either
// the accepted counter (status < 400) or the error counters.
func (a *Aggregator) RecordEnd(ctx context.Context, endpoint string, status int, d time.Duration) error {
	endpoint = normalizeEndpoint(endpoint)
	a.prom.ObserveOutcome(endpoint, status, d)

	return a.write(ctx, "record_end", func(ctx context.Context, rdb redis.UniversalClient) error {
		_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			a.queueLatency(ctx, pipe, endpoint, d)
			if status >= 400 {
				a.queueErrors(ctx, pipe, endpoint)
			} else {
				pipe.Incr(ctx, a.store.Key(keyAcceptedTotal))
			}
			return nil
		})
		return err
	})
}

// TotalRequests reads the cluster-wide request counter.
func (a *Aggregator) TotalRequests(ctx context.Context) (int64, error) {
	var total int64
	err := a.store.Do(ctx, "total_requests", func(ctx context.Context, rdb redis.UniversalClient) error {
		n, err := rdb.Get(ctx, a.store.Key(keyRequestsTotal)).Int64()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		total = n
		return err
	})
	return total, err
}

// Endpoints returns the endpoint keys this process has seen, sorted.
func (a *Aggregator) Endpoints() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.endpoints))
	for ep := range a.endpoints {
		out = append(out, ep)
	}
	sort.Strings(out)
	return out
}

// ResetCounters deletes every metrics key. Rate-limit windows and any other
// state sharing the store are preserved.
func (a *Aggregator) ResetCounters(ctx context.Context) (int64, error) {
	n, err := a.store.DeleteMatching(ctx, a.store.Key(metricsPrefix+"*"))
	if err != nil {
		return n, err
	}
	a.forgetEndpoints()
	a.logger.Info("metrics counters reset", zap.Int64("keys", n))
	return n, nil
}

// ResetAll deletes every key under the store prefix.
func (a *Aggregator) ResetAll(ctx context.Context) (int64, error) {
	n, err := a.store.DeleteMatching(ctx, a.store.Key("*"))
	if err != nil {
		return n, err
	}
	a.forgetEndpoints()
	a.logger.Info("coordination state reset", zap.Int64("keys", n))
	return n, nil
}

// write runs a mutating operation, turning "store not ready" into a no-op.
func (a *Aggregator) write(ctx context.Context, op string, fn func(ctx context.Context, rdb redis.UniversalClient) error) error {
	err := a.store.Do(ctx, op, fn)
	if errors.Is(err, gferrors.ErrStoreUnavailable) {
		return nil
	}
	return err
}

func (a *Aggregator) queueErrors(ctx context.Context, pipe redis.Pipeliner, endpoint string) {
	pipe.Incr(ctx, a.store.Key(keyErrorsTotal))
	pipe.Incr(ctx, a.endpointKey(endpoint, "errors"))
	pipe.SAdd(ctx, a.store.Key(keyEndpoints), endpoint)
}

func (a *Aggregator) queueLatency(ctx context.Context, pipe redis.Pipeliner, endpoint string, d time.Duration) {
	key := a.store.Key(latencyKeyPrefix + endpoint)
	ms := float64(d.Microseconds()) / 1000
	pipe.LPush(ctx, key, strconv.FormatFloat(ms, 'f', 3, 64))
	pipe.LTrim(ctx, key, 0, latencySamples-1)
}

func (a *Aggregator) endpointKey(endpoint, field string) string {
	return a.store.Key(endpointKeyPrefix + endpoint + ":" + field)
}

func (a *Aggregator) remember(endpoint string) {
	a.mu.RLock()
	_, ok := a.endpoints[endpoint]
	a.mu.RUnlock()
	if ok {
		return
	}
	a.mu.Lock()
	a.endpoints[endpoint] = struct{}{}
	a.mu.Unlock()
}

func (a *Aggregator) forgetEndpoints() {
	a.mu.Lock()
	a.endpoints = make(map[string]struct{})
	a.mu.Unlock()
}

func normalizeEndpoint(endpoint string) string {
	if endpoint == "" {
		return unknownEndpoint
	}
	return endpoint
}

// luaIncrementWithMax increments KEYS[1] and raises KEYS[2] to the new value
// when it is larger.
const luaIncrementWithMax = `
local current = redis.call('INCR', KEYS[1])
local max = tonumber(redis.call('GET', KEYS[2]) or '0')
if current > max then
    redis.call('SET', KEYS[2], current)
end
return current
`

// luaDecrementFloor decrements KEYS[1] only while it is above zero.
const luaDecrementFloor = `
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current > 0 then
    return redis.call('DECR', KEYS[1])
end
return current
`

// luaSetWithMax sets KEYS[1] to ARGV[1] and raises KEYS[2] to it when larger.
const luaSetWithMax = `
local value = tonumber(ARGV[1])
redis.call('SET', KEYS[1], ARGV[1])
local max = tonumber(redis.call('GET', KEYS[2]) or '0')
if value > max then
    redis.call('SET', KEYS[2], ARGV[1])
end
return 1
`
