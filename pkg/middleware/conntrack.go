package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/validation"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/logging"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/scheduling/workerpool"
)

// ConnRecorder maintains the cluster-wide connection gauge.
// *metrics.Aggregator implements it.
type ConnRecorder interface {
	Ready() bool
	IncrementConnections(ctx context.Context) error
	DecrementConnections(ctx context.Context) error
}

// ConnTracker feeds socket open/close events into a ConnRecorder and keeps
// the live connection count of this process.
type ConnTracker struct {
	rec    ConnRecorder
	pool   *workerpool.Pool
	logger *zap.Logger

	// OnChange, when set, receives the live count after every change.
	OnChange func(live int64)

	live    atomic.Int64
	counted sync.Map // net.Conn -> *countedConn
}

// NewConnTracker creates a tracker. Store updates run on pool.
func NewConnTracker(rec ConnRecorder, pool *workerpool.Pool, logger *zap.Logger) (*ConnTracker, error) {
	if err := validation.ValidateNotNil("conntrack", "recorder", rec); err != nil {
		return nil, err
	}
	if err := validation.ValidateNotNil("conntrack", "pool", pool); err != nil {
		return nil, err
	}
	return &ConnTracker{
		rec:    rec,
		pool:   pool,
		logger: logging.OrNop(logger).Named("conntrack"),
	}, nil
}

// Live returns the number of open connections on this process, loopback
// connections included.
func (t *ConnTracker) Live() int64 {
	return t.live.Load()
}

// Hook is meant for http.Server.ConnState. Loopback connections never touch
// the shared gauge. A connection is counted only if its increment was queued,
// and its decrement runs after that increment has finished, so the gauge
// cannot drift when the pool drops work or the store comes and goes.
func (t *ConnTracker) Hook(conn net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		t.changed(t.live.Add(1))
		if IsLoopback(conn.RemoteAddr().String()) || !t.rec.Ready() {
			return
		}
		c := &countedConn{done: make(chan struct{})}
		t.counted.Store(conn, c)
		if !t.submit(func(ctx context.Context) error {
			defer close(c.done)
			if err := t.rec.IncrementConnections(ctx); err != nil {
				return fmt.Errorf("increment connections: %w", err)
			}
			c.recorded = true
			return nil
		}) {
			t.counted.Delete(conn)
		}

	case http.StateClosed, http.StateHijacked:
		t.changed(t.live.Add(-1))
		v, ok := t.counted.LoadAndDelete(conn)
		if !ok {
			return
		}
		c := v.(*countedConn)
		t.submit(func(ctx context.Context) error {
			select {
			case <-c.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			if !c.recorded {
				return nil
			}
			if err := t.rec.DecrementConnections(ctx); err != nil {
				return fmt.Errorf("decrement connections: %w", err)
			}
			return nil
		})
	}
}

// countedConn pairs a connection's decrement with its increment. recorded is
// written before done is closed.
type countedConn struct {
	done     chan struct{}
	recorded bool
}

func (t *ConnTracker) changed(live int64) {
	if t.OnChange != nil {
		t.OnChange(live)
	}
}

// submit queues fn on the pool and reports whether it was accepted.
func (t *ConnTracker) submit(fn func(ctx context.Context) error) bool {
	return t.pool.TrySubmit(context.Background(), workerpool.TaskFunc(func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			t.logger.Warn("connection gauge update failed", zap.Error(err))
		}
		return nil
	}))
}
