package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/config"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/logging"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/metrics"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/middleware"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/ratelimit/distributed"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/scheduling/workerpool"
	"github.com/lipeng1667/HomeAssistantBackend-sub000/pkg/store"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an HTTP worker that joins the cluster",
	Long: `Run one HTTP worker process. Start several against the same Redis to
form a cluster: rate-limit windows and request metrics are shared.

The worker keeps serving when Redis is down; limits fail open and metrics
are skipped until the connection comes back.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "listen host (overrides HTTP_HOST)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides HTTP_PORT)")
	serveCmd.Flags().String("strategy", "", "rate limit strategy: fixed or sliding (overrides RATE_LIMIT_STRATEGY)")
	_ = v.BindPFlag("http_host", serveCmd.Flags().Lookup("host"))
	_ = v.BindPFlag("http_port", serveCmd.Flags().Lookup("port"))
	_ = v.BindPFlag("rate_limit_strategy", serveCmd.Flags().Lookup("strategy"))

	rootCmd.AddCommand(serveCmd)
}

// worker holds the components of one serving process.
type worker struct {
	cfg     *config.Config
	logger  *zap.Logger
	prom    *prometheus.Registry
	mirror  *metrics.Registry
	store   *store.Client
	pool    *workerpool.Pool
	agg     *metrics.Aggregator
	limiter distributed.Limiter
	sampler *metrics.Sampler
	conns   *middleware.ConnTracker
	started time.Time
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger = logger.With(
		zap.String("instance", uuid.NewString()),
		zap.Int("pid", os.Getpid()))

	w, err := newWorker(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return w.run(ctx)
}

func newWorker(cfg *config.Config, logger *zap.Logger) (*worker, error) {
	w := &worker{
		cfg:     cfg,
		logger:  logger,
		prom:    prometheus.NewRegistry(),
		started: time.Now(),
	}
	w.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	w.mirror = metrics.NewRegistry(w.prom)

	sc := cfg.Store()
	sc.Logger = logger
	sc.OnStateChange = w.mirror.SetStoreUp
	sc.OnFatal = func(err error) {
		logger.Error("coordination store unreachable, serving without coordination", zap.Error(err))
	}
	st, err := store.New(sc)
	if err != nil {
		return nil, err
	}
	w.store = st

	pc := workerpool.DefaultConfig()
	pc.Logger = logger
	pc.OnDrop = w.mirror.IncDropped
	if w.pool, err = workerpool.New(pc); err != nil {
		return nil, err
	}

	if w.agg, err = metrics.NewAggregator(st, metrics.WithRegistry(w.mirror), metrics.WithLogger(logger)); err != nil {
		return nil, err
	}

	w.limiter, err = distributed.NewLimiter(cfg.RateLimit.Strategy, distributed.Config{
		Store:   st,
		Logger:  logger,
		Metrics: w.mirror,
	})
	if err != nil {
		return nil, err
	}

	w.sampler, err = metrics.NewSampler(w.agg, metrics.SamplerConfig{
		Interval: cfg.SampleInterval,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	if w.conns, err = middleware.NewConnTracker(w.agg, w.pool, logger); err != nil {
		return nil, err
	}
	w.conns.OnChange = w.mirror.SetConnections

	return w, nil
}

func (w *worker) run(ctx context.Context) error {
	router, err := w.router()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              w.cfg.HTTP.Addr(),
		Handler:           router,
		ConnState:         w.conns.Hook,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := w.store.Connect(gctx); err != nil {
			w.logger.Warn("starting without coordination store", zap.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		w.logger.Info("worker listening",
			zap.String("addr", srv.Addr),
			zap.String("strategy", w.cfg.RateLimit.Strategy.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	w.sampler.Start()

	g.Go(func() error {
		<-gctx.Done()
		w.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := w.sampler.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := w.pool.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := w.store.Close(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func (w *worker) router() (http.Handler, error) {
	r := chi.NewRouter()

	intercept, err := middleware.Interceptor(w.agg, w.pool,
		middleware.WithRoutes(r),
		middleware.WithLogger(w.logger))
	if err != nil {
		return nil, err
	}

	general, err := middleware.RateLimit(middleware.RateLimitConfig{
		Limiter: w.limiter,
		Window:  w.cfg.RateLimit.Window,
		Max:     w.cfg.RateLimit.Max,
		Logger:  w.logger,
	})
	if err != nil {
		return nil, err
	}

	auth, err := middleware.RateLimit(middleware.RateLimitConfig{
		Limiter: w.limiter,
		Window:  w.cfg.RateLimit.AuthWindow,
		Max:     w.cfg.RateLimit.AuthMax,
		Prefix:  "auth:",
		Message: "Too many authentication attempts, please try again later.",
		Logger:  w.logger,
	})
	if err != nil {
		return nil, err
	}

	r.Use(intercept)

	r.Get("/health", w.health)

	r.Route("/api", func(r chi.Router) {
		r.Use(general)

		r.Get("/forum/topics", listTopics)
		r.Get("/forum/topics/{id}", getTopic)

		r.With(auth).Post("/auth/login", login)
		r.With(auth).Post("/auth/register", login)
	})

	r.Group(func(r chi.Router) {
		r.Use(loopbackOnly)
		r.Handle("/metrics", promhttp.HandlerFor(w.prom, promhttp.HandlerOpts{}))
	})
	r.Handle("/metrics/cluster", middleware.MetricsHandler(w.agg, w.conns, w.started, w.logger))

	return r, nil
}

func (w *worker) health(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":      "ok",
		"coordinated": w.store.IsReady(),
		"uptime":      time.Since(w.started).Seconds(),
	})
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !middleware.IsLoopback(r.RemoteAddr) {
			writeJSON(rw, http.StatusForbidden, map[string]string{"error": "forbidden"})
			return
		}
		next.ServeHTTP(rw, r)
	})
}
