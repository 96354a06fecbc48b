package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/validation"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/logging"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/scheduling/workerpool"
)

// Recorder receives request lifecycle events. *metrics.Aggregator
// implements it.
type Recorder interface {
	Ready() bool
	RecordStart(ctx context.Context, endpoint string) error
	RecordEnd(ctx context.Context, endpoint string, status int, d time.Duration) error
}

// Option configures the interceptor.
type Option func(*interceptor)

// WithRoutes resolves endpoint keys against the route templates of routes,
// so /api/forum/topics/42 is recorded as "GET /api/forum/topics/{id}".
func WithRoutes(routes chi.Routes) Option {
	return func(i *interceptor) { i.routes = routes }
}

// WithLogger sets the logger for recording failures.
func WithLogger(l *zap.Logger) Option {
	return func(i *interceptor) { i.logger = logging.OrNop(l) }
}

// WithClock overrides the clock used to measure latency.
func WithClock(now func() time.Time) Option {
	return func(i *interceptor) { i.now = now }
}

type interceptor struct {
	rec    Recorder
	pool   *workerpool.Pool
	routes chi.Routes
	logger *zap.Logger
	now    func() time.Time
}

// Interceptor returns middleware that records every non-loopback request in
// rec. Recording runs on pool, detached from the request's cancellation, so
// a slow or failing store never delays or alters the response. The end of a
// request is recorded after its start and only if the start was recorded.
func Interceptor(rec Recorder, pool *workerpool.Pool, opts ...Option) (func(http.Handler) http.Handler, error) {
	if err := validation.ValidateNotNil("interceptor", "recorder", rec); err != nil {
		return nil, err
	}
	if err := validation.ValidateNotNil("interceptor", "pool", pool); err != nil {
		return nil, err
	}

	ic := &interceptor{
		rec:    rec,
		pool:   pool,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(ic)
	}
	ic.logger = ic.logger.Named("interceptor")

	return ic.handler, nil
}

func (ic *interceptor) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsLoopback(r.RemoteAddr) || !ic.rec.Ready() {
			next.ServeHTTP(w, r)
			return
		}

		state := &RequestState{Start: ic.now()}
		state.advance(PhaseStarted)

		endpoint := ic.endpointKey(r)
		state.Endpoint = endpoint
		state.advance(PhaseRouted)

		bg := context.WithoutCancel(r.Context())
		started := make(chan struct{})
		var startRecorded bool
		queued := ic.submit(bg, "record_start", func(ctx context.Context) error {
			defer close(started)
			if err := ic.rec.RecordStart(ctx, endpoint); err != nil {
				return err
			}
			startRecorded = true
			return nil
		})

		sw := newStatusWriter(w)
		next.ServeHTTP(sw, r.WithContext(withState(r.Context(), state)))

		status := sw.status
		elapsed := ic.now().Sub(state.Start)
		state.status.Store(int32(status))
		state.advance(PhaseCompleted)

		// A request whose start was never counted must not count as an
		// outcome either, or errors could exceed requests.
		if !queued {
			return
		}
		ic.submit(bg, "record_end", func(ctx context.Context) error {
			select {
			case <-started:
			case <-ctx.Done():
				return ctx.Err()
			}
			if !startRecorded {
				return nil
			}
			return ic.rec.RecordEnd(ctx, endpoint, status, elapsed)
		})
	})
}

// submit queues fn on the pool and reports whether it was accepted.
func (ic *interceptor) submit(ctx context.Context, op string, fn func(ctx context.Context) error) bool {
	return ic.pool.TrySubmit(ctx, workerpool.TaskFunc(func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			ic.logger.Warn("request recording failed", zap.String("op", op), zap.Error(err))
		}
		return nil
	}))
}

// endpointKey builds "<METHOD> <route template>", falling back to the raw
// path when no template matches.
func (ic *interceptor) endpointKey(r *http.Request) string {
	if ic.routes != nil {
		rctx := chi.NewRouteContext()
		if ic.routes.Match(rctx, r.Method, r.URL.Path) {
			if pattern := rctx.RoutePattern(); pattern != "" {
				return r.Method + " " + pattern
			}
		}
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return r.Method + " " + pattern
		}
	}
	return r.Method + " " + r.URL.Path
}
