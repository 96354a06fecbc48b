package metrics

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/common/validation"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/logging"
)

// DefaultSampleInterval is how often the sampler recomputes throughput.
const DefaultSampleInterval = 5 * time.Second

// SamplerConfig configures a Sampler.
type SamplerConfig struct {
	// Interval between samples. Defaults to DefaultSampleInterval.
	Interval time.Duration

	// Timeout bounds the store work of one tick. Defaults to Interval.
	Timeout time.Duration

	Logger *zap.Logger

	// Clock is used to measure elapsed time between ticks.
	Clock func() time.Time
}

// Sampler periodically derives requests-per-second from the cluster-wide
// request counter and publishes it through UpdateThroughput.
type Sampler struct {
	agg    *Aggregator
	cfg    SamplerConfig
	logger *zap.Logger
	cron   *cron.Cron

	mu       sync.Mutex
	primed   bool
	previous int64
	lastAt   time.Time
}

// NewSampler creates a sampler for agg. It does not start ticking until Start.
func NewSampler(agg *Aggregator, cfg SamplerConfig) (*Sampler, error) {
	if err := validation.ValidateNotNil("sampler", "aggregator", agg); err != nil {
		return nil, err
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultSampleInterval
	}
	if err := validation.ValidatePositiveDuration("sampler", "interval", cfg.Interval); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := logging.OrNop(cfg.Logger).Named("sampler")

	cl := cronLogger{logger}
	s := &Sampler{
		agg:    agg,
		cfg:    cfg,
		logger: logger,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	if _, err := s.cron.AddFunc("@every "+cfg.Interval.String(), s.run); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins sampling in the background.
func (s *Sampler) Start() {
	s.logger.Info("throughput sampler started", zap.Duration("interval", s.cfg.Interval))
	s.cron.Start()
}

// Stop halts sampling and waits for a running tick to finish or ctx to end.
func (s *Sampler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("throughput sampler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sampler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	if err := s.Tick(ctx); err != nil {
		s.logger.Warn("throughput sample failed", zap.Error(err))
	}
}

// Tick takes one sample. The first successful tick only records the baseline.
// Ticks are skipped while the store is not ready.
func (s *Sampler) Tick(ctx context.Context) error {
	if !s.agg.Ready() {
		return nil
	}
	total, err := s.agg.TotalRequests(ctx)
	if err != nil {
		return err
	}
	now := s.cfg.Clock()

	s.mu.Lock()
	if !s.primed {
		s.primed = true
		s.previous = total
		s.lastAt = now
		s.mu.Unlock()
		return nil
	}
	rate := throughput(total-s.previous, now.Sub(s.lastAt))
	s.previous = total
	s.lastAt = now
	s.mu.Unlock()

	return s.agg.UpdateThroughput(ctx, rate)
}

// throughput returns delta/elapsed seconds rounded to two decimals. Negative
// deltas, as seen after a counter reset, count as zero.
func throughput(delta int64, elapsed time.Duration) float64 {
	if delta <= 0 || elapsed <= 0 {
		return 0
	}
	v := float64(delta) / elapsed.Seconds()
	return math.Round(v*100) / 100
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
