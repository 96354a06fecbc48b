package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/validation"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/logging"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/ratelimit/distributed"
)

// DefaultRateLimitMessage is sent when a request is rejected and no message
// was configured.
const DefaultRateLimitMessage = "Too many requests, please try again later."

// resetLayout is the ISO-8601 form used for X-RateLimit-Reset.
const resetLayout = "2006-01-02T15:04:05.000Z07:00"

// RateLimitConfig configures the rate-limit middleware.
type RateLimitConfig struct {
	// Limiter decides each request.
	Limiter distributed.Limiter

	// Window and Max bound requests per identifier.
	Window time.Duration
	Max    int

	// Prefix namespaces identifiers so several limits can share a limiter,
	// e.g. "auth:" for login attempts.
	Prefix string

	// KeyGenerator derives the identifier from a request. Defaults to ClientIP.
	KeyGenerator func(r *http.Request) string

	// Message is the error text of a 429 response.
	Message string

	// Skip exempts matching requests from limiting.
	Skip func(r *http.Request) bool

	Logger *zap.Logger
}

type rateLimitResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// RateLimit returns middleware enforcing cfg. Rejected requests receive 429
// with a JSON body; every counted request gets X-RateLimit-* headers. When
// the limiter could not reach the store the request passes without headers.
func RateLimit(cfg RateLimitConfig) (func(http.Handler) http.Handler, error) {
	if err := validation.ValidateNotNil("ratelimit_middleware", "limiter", cfg.Limiter); err != nil {
		return nil, err
	}
	if err := validation.ValidateWindow("ratelimit_middleware", "window", cfg.Window); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositive("ratelimit_middleware", "max", cfg.Max); err != nil {
		return nil, err
	}
	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = ClientIP
	}
	if cfg.Message == "" {
		cfg.Message = DefaultRateLimitMessage
	}
	logger := logging.OrNop(cfg.Logger).Named("ratelimit")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			id := cfg.Prefix + cfg.KeyGenerator(r)
			res, err := cfg.Limiter.Check(r.Context(), id, cfg.Window, cfg.Max)
			if err != nil {
				logger.Error("rate limit check rejected arguments", zap.String("identifier", id), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if res.Degraded {
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, res)
			if !res.Allowed {
				logger.Info("rate limit exceeded",
					zap.String("identifier", id),
					zap.String("limiter", cfg.Limiter.Name()),
					zap.Int("retry_after", res.RetryAfter))
				writeRateLimited(w, cfg.Message, res.RetryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

func setRateLimitHeaders(w http.ResponseWriter, res *distributed.Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", res.ResetAt.UTC().Format(resetLayout))
	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(res.RetryAfter))
	}
}

func writeRateLimited(w http.ResponseWriter, message string, retryAfter int) {
	writeJSON(w, http.StatusTooManyRequests, rateLimitResponse{
		Success:    false,
		Error:      message,
		RetryAfter: retryAfter,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
