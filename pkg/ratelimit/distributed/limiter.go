package distributed

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	gferrors "github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/errors"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/validation"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/logging"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/metrics"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/store"
)

// Limiter decides whether an identifier may make another request within a
// window, using the coordination store so that every worker process agrees.
type Limiter interface {
	// Check records a request for identifier and reports whether it is
	// within max requests per window. The error is non-nil only for invalid
	// arguments; store failures fail open and set Result.Degraded.
	Check(ctx context.Context, identifier string, window time.Duration, max int) (*Result, error)

	// Count returns the number of requests currently counted for identifier.
	Count(ctx context.Context, identifier string, window time.Duration) (int64, error)

	// Reset clears the recorded requests for identifier.
	Reset(ctx context.Context, identifier string) error

	// Name identifies the algorithm ("fixed_window" or "sliding_window").
	Name() string
}

// Result is the outcome of a single Check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time

	// RetryAfter is the number of whole seconds to wait. Only set when the
	// request was rejected.
	RetryAfter int

	// Degraded is set when the store could not be consulted and the request
	// was allowed without being counted.
	Degraded bool
}

// Config holds configuration for distributed rate limiters.
type Config struct {
	// Store is the coordination store shared by all workers.
	Store *store.Client

	// Logger receives fail-open warnings. Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics optionally counts decisions per limiter and outcome.
	Metrics *metrics.Registry

	// Clock returns the current time (defaults to time.Now).
	Clock func() time.Time
}

// Strategy defines different distributed rate limiting strategies.
type Strategy int

const (
	// FixedWindow counts requests in aligned windows of fixed length.
	FixedWindow Strategy = iota

	// SlidingWindow counts requests in the trailing window ending now.
	SlidingWindow
)

// String returns the configuration name of the strategy.
func (s Strategy) String() string {
	switch s {
	case FixedWindow:
		return "fixed"
	case SlidingWindow:
		return "sliding"
	default:
		return "unknown"
	}
}

// ParseStrategy maps "fixed" or "sliding" to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "fixed_window":
		return FixedWindow, nil
	case "sliding", "sliding_window":
		return SlidingWindow, nil
	default:
		return 0, gferrors.NewValidationError("ratelimit", "strategy", s, "unknown strategy").
			WithHint("use fixed or sliding")
	}
}

// NewLimiter creates a new distributed rate limiter with the specified strategy.
func NewLimiter(strategy Strategy, config Config) (Limiter, error) {
	switch strategy {
	case FixedWindow:
		return NewFixedWindow(config)
	case SlidingWindow:
		return NewSlidingWindow(config)
	default:
		return nil, gferrors.NewValidationError("ratelimit", "strategy", int(strategy), "unsupported strategy")
	}
}

// validateConfig validates the limiter configuration.
func validateConfig(config Config) error {
	return validation.ValidateNotNil("ratelimit", "store", config.Store)
}

// applyConfigDefaults sets default values for unspecified config fields.
func applyConfigDefaults(config Config) Config {
	config.Logger = logging.OrNop(config.Logger)
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return config
}

func validateCheck(module, identifier string, window time.Duration, max int) error {
	if err := validation.ValidateNotEmpty(module, "identifier", identifier); err != nil {
		return err
	}
	if err := validation.ValidateWindow(module, "window", window); err != nil {
		return err
	}
	return validation.ValidatePositive(module, "max", max)
}

func validateCount(module, identifier string, window time.Duration) error {
	if err := validation.ValidateNotEmpty(module, "identifier", identifier); err != nil {
		return err
	}
	return validation.ValidateWindow(module, "window", window)
}

// base carries what both limiters share.
type base struct {
	config Config
	name   string
	kind   string
	logger *zap.Logger
}

func newBase(config Config, name, kind string) (base, error) {
	if err := validateConfig(config); err != nil {
		return base{}, err
	}
	config = applyConfigDefaults(config)
	return base{
		config: config,
		name:   name,
		kind:   kind,
		logger: config.Logger.Named(name),
	}, nil
}

// Name identifies the algorithm.
func (b *base) Name() string {
	return b.name
}

// key returns the store key of identifier's window record.
func (b *base) key(identifier string) string {
	return b.config.Store.Key("ratelimit:" + b.kind + ":" + identifier)
}

// Reset clears the recorded requests for identifier.
func (b *base) Reset(ctx context.Context, identifier string) error {
	if err := validation.ValidateNotEmpty(b.name, "identifier", identifier); err != nil {
		return err
	}
	key := b.key(identifier)
	return b.config.Store.Do(ctx, b.name+"_reset", func(ctx context.Context, rdb redis.UniversalClient) error {
		return rdb.Del(ctx, key).Err()
	})
}

// countSince counts entries scored at or after minScore.
func (b *base) countSince(ctx context.Context, identifier string, minScore int64) (int64, error) {
	key := b.key(identifier)
	var n int64
	err := b.config.Store.Do(ctx, b.name+"_count", func(ctx context.Context, rdb redis.UniversalClient) error {
		var err error
		n, err = rdb.ZCount(ctx, key, strconv.FormatInt(minScore, 10), "+inf").Result()
		return err
	})
	return n, err
}

// failOpen builds the result used when the store cannot be consulted.
func (b *base) failOpen(identifier string, max int, resetAt time.Time, err error) *Result {
	if err != nil {
		b.logger.Warn("rate limit check failed, allowing request",
			zap.String("identifier", identifier),
			zap.Error(err))
	}
	b.config.Metrics.ObserveRateLimit(b.name, "degraded")
	return &Result{
		Allowed:   true,
		Limit:     max,
		Remaining: max,
		ResetAt:   resetAt,
		Degraded:  true,
	}
}

func (b *base) observe(res *Result) {
	if res.Allowed {
		b.config.Metrics.ObserveRateLimit(b.name, "allowed")
	} else {
		b.config.Metrics.ObserveRateLimit(b.name, "rejected")
	}
}

// member returns a set member unique across workers even when two requests
// share a millisecond.
func member(nowMs int64) string {
	return strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()
}

// ttl returns the key lifetime for a window: ceil(window/1s), at least 1s.
func ttl(window time.Duration) time.Duration {
	return time.Duration(ceilSeconds(window.Milliseconds())) * time.Second
}

// ceilSeconds converts milliseconds to whole seconds, rounding up.
func ceilSeconds(ms int64) int {
	if ms <= 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}

func remaining(max int, countBefore int64) int {
	r := int64(max) - countBefore - 1
	if r < 0 {
		return 0
	}
	return int(r)
}
