package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	gferrors "github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/errors"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/validation"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/logging"
)

// Config holds configuration for the coordination store client.
type Config struct {
	// Host and Port locate the Redis-compatible server.
	Host string
	Port int

	// Password and DB select the credentials and logical database.
	Password string
	DB       int

	// KeyPrefix namespaces every key written through Key.
	KeyPrefix string

	// OperationTimeout bounds every store round-trip. An operation that
	// exceeds it is treated as the store being unavailable.
	OperationTimeout time.Duration

	// MaxReconnectAttempts caps the reconnect sequence (defaults to 10).
	MaxReconnectAttempts int

	// ReconnectStep is multiplied by the attempt number to get the delay
	// before that attempt (defaults to 50ms).
	ReconnectStep time.Duration

	// MaxReconnectDelay caps the delay between attempts (defaults to 2s).
	MaxReconnectDelay time.Duration

	// HealthCheckInterval pings the store while it is ready so that a lost
	// connection is noticed without traffic. Zero disables the probe.
	HealthCheckInterval time.Duration

	// Logger receives connect/disconnect transitions. Defaults to a no-op logger.
	Logger *zap.Logger

	// OnStateChange is called on every ready/not-ready transition.
	OnStateChange func(ready bool)

	// OnFatal is called once the reconnect sequence gives up.
	OnFatal func(err error)
}

// DefaultConfig returns a default store configuration.
func DefaultConfig() Config {
	return Config{
		Host:                 "localhost",
		Port:                 6379,
		KeyPrefix:            "app:",
		OperationTimeout:     2 * time.Second,
		MaxReconnectAttempts: 10,
		ReconnectStep:        50 * time.Millisecond,
		MaxReconnectDelay:    2 * time.Second,
		HealthCheckInterval:  10 * time.Second,
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// applyConfigDefaults sets default values for unspecified config fields.
func applyConfigDefaults(cfg Config) Config {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 2 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.ReconnectStep <= 0 {
		cfg.ReconnectStep = 50 * time.Millisecond
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = 2 * time.Second
	}
	cfg.Logger = logging.OrNop(cfg.Logger)
	return cfg
}

// Client wraps a Redis client with readiness tracking, bounded reconnects
// and key namespacing. It is safe for concurrent use.
type Client struct {
	cfg    Config
	rdb    redis.UniversalClient
	logger *zap.Logger

	ready        atomic.Bool
	reconnecting atomic.Bool
	closed       atomic.Bool

	mu       sync.Mutex
	fatalErr error
	probing  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a client for the server described by cfg. The client is not
// ready until Connect succeeds.
func New(cfg Config) (*Client, error) {
	if err := validation.ValidateNotEmpty("store", "host", cfg.Host); err != nil {
		return nil, err
	}
	if err := validation.ValidatePort("store", "port", cfg.Port); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("store", "db", cfg.DB); err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.OperationTimeout,
		ReadTimeout:  cfg.OperationTimeout,
		WriteTimeout: cfg.OperationTimeout,
		// Reconnects are driven by the client itself; a failed command is
		// dropped rather than retried on the request path.
		MaxRetries: -1,
	})
	return newClient(rdb, cfg), nil
}

// NewWithRedis wraps an existing Redis client.
func NewWithRedis(rdb redis.UniversalClient, cfg Config) *Client {
	return newClient(rdb, applyConfigDefaults(cfg))
}

func newClient(rdb redis.UniversalClient, cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		rdb:    rdb,
		logger: cfg.Logger.Named("store"),
		stop:   make(chan struct{}),
	}
}

// Connect establishes the connection, running the bounded reconnect sequence
// if the first attempt fails. It returns an error wrapping
// ErrMaxReconnectAttempts once every attempt has failed.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return gferrors.ErrClosed
	}

	c.mu.Lock()
	c.fatalErr = nil
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		if ctx.Err() != nil || c.closed.Load() {
			return err
		}
		return c.giveUp(err)
	}

	c.markReady()
	c.startHealthCheck()
	return nil
}

// IsReady reports whether coordination operations should be attempted.
// It never blocks and never fails.
func (c *Client) IsReady() bool {
	return c.ready.Load()
}

// Key returns name qualified with the configured prefix.
func (c *Client) Key(name string) string {
	return c.cfg.KeyPrefix + name
}

// Prefix returns the configured key prefix.
func (c *Client) Prefix() string {
	return c.cfg.KeyPrefix
}

// Redis exposes the underlying client for callers that need raw access.
func (c *Client) Redis() redis.UniversalClient {
	return c.rdb
}

// Err returns the fatal error recorded when the reconnect sequence gave up.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatalErr
}

// Do runs fn against the store with the configured operation timeout.
//
// When the store is not ready Do returns ErrStoreUnavailable without calling
// fn. A transport failure marks the client not ready and starts the reconnect
// sequence in the background. Failures are returned as *errors.OperationError;
// redis.Nil is passed through untouched.
func (c *Client) Do(ctx context.Context, op string, fn func(ctx context.Context, rdb redis.UniversalClient) error) error {
	if !c.IsReady() {
		return gferrors.ErrStoreUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	err := fn(ctx, c.rdb)
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}

	c.ReportError(err)
	return gferrors.NewOperationError("store", op, err)
}

// ReportError inspects an error returned by a store operation. Transport
// failures mark the client not ready and trigger a background reconnect.
func (c *Client) ReportError(err error) {
	if !isTransportError(err) {
		return
	}
	c.markNotReady(err)
	c.reconnectAsync()
}

// DeleteMatching removes every key matching pattern using SCAN, so it never
// blocks the server the way KEYS would. It returns the number of deleted keys.
func (c *Client) DeleteMatching(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	err := c.Do(ctx, "delete_matching", func(ctx context.Context, rdb redis.UniversalClient) error {
		var cursor uint64
		for {
			keys, next, err := rdb.Scan(ctx, cursor, pattern, 200).Result()
			if err != nil {
				return err
			}
			if len(keys) > 0 {
				n, err := rdb.Del(ctx, keys...).Result()
				if err != nil {
					return err
				}
				deleted += n
			}
			if next == 0 {
				return nil
			}
			cursor = next
		}
	})
	return deleted, err
}

// Close stops background work and closes the connection.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stop)
	c.wg.Wait()
	c.markNotReady(gferrors.ErrClosed)
	return c.rdb.Close()
}

// dial pings the store, retrying with a linear backoff capped at
// MaxReconnectDelay for at most MaxReconnectAttempts retries.
func (c *Client) dial(ctx context.Context) error {
	ctx, cancel := c.stopContext(ctx)
	defer cancel()

	return retry.New(
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.MaxReconnectAttempts)+1),
		retry.DelayType(c.reconnectDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("coordination store connection attempt failed",
				zap.Uint("attempt", n+1),
				zap.String("addr", c.cfg.Addr()),
				zap.Error(err))
		}),
	).Do(func() error {
		pctx, pcancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
		defer pcancel()
		return c.rdb.Ping(pctx).Err()
	})
}

func (c *Client) reconnectDelay(n uint, _ error, _ retry.DelayContext) time.Duration {
	return min(time.Duration(n)*c.cfg.ReconnectStep, c.cfg.MaxReconnectDelay)
}

// reconnectAsync starts the reconnect sequence unless one is already running
// or the client has given up.
func (c *Client) reconnectAsync() {
	if c.closed.Load() || c.Err() != nil {
		return
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.reconnecting.Store(false)

		if err := c.dial(context.Background()); err != nil {
			if !c.closed.Load() {
				_ = c.giveUp(err)
			}
			return
		}
		c.markReady()
	}()
}

func (c *Client) giveUp(cause error) error {
	err := fmt.Errorf("%w: %v", gferrors.ErrMaxReconnectAttempts, cause)

	c.mu.Lock()
	c.fatalErr = err
	c.mu.Unlock()

	c.markNotReady(cause)
	c.logger.Error("coordination store unreachable, giving up",
		zap.String("addr", c.cfg.Addr()),
		zap.Int("attempts", c.cfg.MaxReconnectAttempts),
		zap.Error(cause))

	if c.cfg.OnFatal != nil {
		c.cfg.OnFatal(err)
	}
	return err
}

func (c *Client) markReady() {
	if !c.ready.CompareAndSwap(false, true) {
		return
	}
	c.logger.Info("coordination store connected",
		zap.String("addr", c.cfg.Addr()),
		zap.String("prefix", c.cfg.KeyPrefix))
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(true)
	}
}

func (c *Client) markNotReady(cause error) {
	if !c.ready.CompareAndSwap(true, false) {
		return
	}
	c.logger.Warn("coordination store disconnected",
		zap.String("addr", c.cfg.Addr()),
		zap.Error(cause))
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(false)
	}
}

// startHealthCheck launches the background probe once per client.
func (c *Client) startHealthCheck() {
	if c.cfg.HealthCheckInterval <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.probing {
		return
	}
	c.probing = true

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				if !c.IsReady() {
					continue
				}
				_ = c.Do(context.Background(), "ping", func(ctx context.Context, rdb redis.UniversalClient) error {
					return rdb.Ping(ctx).Err()
				})
			}
		}
	}()
}

// stopContext derives a context that is also cancelled by Close.
func (c *Client) stopContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// isTransportError separates connection-level failures from errors the
// server returned for an individual command.
func isTransportError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
		return false
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return false
	}
	return true
}
