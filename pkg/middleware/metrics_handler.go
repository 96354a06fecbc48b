package middleware

import (
	"context"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/logging"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/metrics"
)

// Snapshotter produces a cluster-wide metrics snapshot.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*metrics.Snapshot, error)
}

// ProcessInfo describes the worker process serving the request.
type ProcessInfo struct {
	PID             int     `json:"pid"`
	Uptime          float64 `json:"uptime"`
	LiveConnections int64   `json:"liveConnections"`
}

type metricsResponse struct {
	*metrics.Snapshot
	Process ProcessInfo `json:"process"`
}

// MetricsHandler serves the cluster snapshot plus process details as JSON.
// Only loopback callers are answered; others get 403. When the store is
// unavailable the answer is still 200, with available=false and the error.
func MetricsHandler(snap Snapshotter, conns *ConnTracker, started time.Time, logger *zap.Logger) http.Handler {
	logger = logging.OrNop(logger).Named("metrics_handler")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsLoopback(r.RemoteAddr) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
			return
		}

		s, err := snap.Snapshot(r.Context())
		if s == nil {
			s = &metrics.Snapshot{Timestamp: time.Now(), Endpoints: map[string]metrics.EndpointStats{}}
		}

		resp := metricsResponse{
			Snapshot: s,
			Process: ProcessInfo{
				PID:    os.Getpid(),
				Uptime: time.Since(started).Seconds(),
			},
		}
		if conns != nil {
			resp.Process.LiveConnections = conns.Live()
		}

		if err != nil {
			logger.Warn("metrics snapshot unavailable", zap.Error(err))
			if s.Error == "" {
				s.Error = err.Error()
			}
			s.Available = false
		}
		writeJSON(w, http.StatusOK, resp)
	})
}
