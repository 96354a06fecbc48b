package middleware

import (
	"context"
	"sync/atomic"
	"time"
)

// Phase is the lifecycle position of a request inside the interceptor.
type Phase int32

const (
	// PhaseStarted is set when the interceptor first sees the request.
	PhaseStarted Phase = iota
	// PhaseRouted is set once the endpoint key has been resolved.
	PhaseRouted
	// PhaseCompleted is set after the handler has returned.
	PhaseCompleted
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case PhaseStarted:
		return "started"
	case PhaseRouted:
		return "routed"
	case PhaseCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// RequestState tracks one request through the interceptor.
type RequestState struct {
	Start    time.Time
	Endpoint string

	phase  atomic.Int32
	status atomic.Int32
}

// Phase returns the current phase.
func (s *RequestState) Phase() Phase {
	return Phase(s.phase.Load())
}

// Status returns the response status once the request has completed.
func (s *RequestState) Status() int {
	return int(s.status.Load())
}

func (s *RequestState) advance(p Phase) {
	s.phase.Store(int32(p))
}

type stateKey struct{}

// StateFromContext returns the state installed by the interceptor.
func StateFromContext(ctx context.Context) (*RequestState, bool) {
	s, ok := ctx.Value(stateKey{}).(*RequestState)
	return s, ok
}

func withState(ctx context.Context, s *RequestState) context.Context {
	return context.WithValue(ctx, stateKey{}, s)
}
