// Package main is the entry point for the StableYield Index service, which
// sanitizes multi-source stablecoin yield observations, risk-adjusts them,
// and publishes a weighted benchmark index on a fixed schedule.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/stableyield-index/internal/aggregate"
	"github.com/yourorg/stableyield-index/internal/config"
	"github.com/yourorg/stableyield-index/internal/fetch"
	"github.com/yourorg/stableyield-index/internal/index"
	"github.com/yourorg/stableyield-index/internal/otel"
	"github.com/yourorg/stableyield-index/internal/outlier"
	"github.com/yourorg/stableyield-index/internal/risk"
	"github.com/yourorg/stableyield-index/internal/sanitize"
	"github.com/yourorg/stableyield-index/internal/scheduler"
	"github.com/yourorg/stableyield-index/internal/security"
	"github.com/yourorg/stableyield-index/internal/storage"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server bundles every collaborator constructed once at startup. There are
// no hidden singletons; tests build fresh instances.
type Server struct {
	cfg        config.Config
	sanitizer  *sanitize.Sanitizer
	calculator *index.Calculator
	sched      *scheduler.Scheduler
	store      storage.Store
	cache      *storage.RedisCache
	limiter    *rate.Limiter
	metrics    *serverMetrics
	server     *http.Server
}

// serverMetrics holds Prometheus metrics for the HTTP surface.
type serverMetrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func registerMetrics() *serverMetrics {
	m := &serverMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syi_requests_total",
				Help: "Total number of API requests processed",
			},
			[]string{"path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "syi_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
	}
	prometheus.MustRegister(m.requestCounter, m.requestDuration)
	return m
}

func main() {
	// a local .env is a developer convenience, absence is fine
	_ = godotenv.Load()

	setupLogging()
	cfg := config.Load()

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	server, err := NewServer(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize server: %v", err)
	}
	server.Start()
}

// setupLogging configures the logging for the application.
func setupLogging() {
	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// NewServer wires the full pipeline from configuration.
func NewServer(cfg config.Config) (*Server, error) {
	tables, err := risk.LoadTables(cfg.RiskTablesPath)
	if err != nil {
		// overrides failing to parse should not take the index down
		logrus.WithError(err).Warn("Using built-in risk tables")
	}

	sanitizer := sanitize.New(sanitize.Policy{
		Method:           outlierMethod(cfg.OutlierMethod),
		Threshold:        cfg.OutlierThreshold,
		FlagMultiplier:   cfg.FlagMultiplier,
		CapMultiplier:    cfg.CapMultiplier,
		RejectMultiplier: cfg.RejectMultiplier,
	})
	aggregator := aggregate.New(sanitizer, risk.NewScorer(tables), risk.NewAdjuster(risk.DefaultPenaltyWeights()))
	calculator := index.NewCalculator()

	sources := []fetch.Source{
		fetch.NewDefiPoolsClient(cfg.DefiPoolsURL, cfg.RequestTimeout),
		fetch.NewCeFiEarnClient(cfg.CeFiEarnURL, os.Getenv("CEFI_EARN_API_KEY"), cfg.RequestTimeout),
	}

	var signer scheduler.Signer
	if cfg.SigningEnabled {
		resultSigner, err := security.NewResultSigner()
		if err != nil {
			return nil, err
		}
		signer = resultSigner
	}

	var store storage.Store
	if cfg.PostgresDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		store = pg
	} else {
		logrus.Warn("No POSTGRES_DSN configured, SYI history is in-memory only")
		store = storage.NewMemoryStore()
	}

	var cache *storage.RedisCache
	if cfg.RedisAddr != "" {
		cache = storage.NewRedisCache(cfg.RedisAddr, cfg.RedisDB)
	}

	pipeline := scheduler.NewPipeline(sources, cfg.Symbols, cfg.RequestTimeout, aggregator, calculator, signer)
	sched := scheduler.New(scheduler.Options{
		Interval:   cfg.CalcInterval,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	}, pipeline, store, cache)

	logrus.WithFields(logrus.Fields{
		"port":     cfg.Port,
		"symbols":  cfg.Symbols,
		"interval": cfg.CalcInterval,
		"method":   cfg.OutlierMethod,
		"signing":  cfg.SigningEnabled,
	}).Info("Server initialized")

	return &Server{
		cfg:        cfg,
		sanitizer:  sanitizer,
		calculator: calculator,
		sched:      sched,
		store:      store,
		cache:      cache,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		metrics:    registerMetrics(),
	}, nil
}

func outlierMethod(name string) outlier.Method {
	switch name {
	case "iqr":
		return outlier.MethodIQR
	case "zscore", "z_score":
		return outlier.MethodZScore
	case "percentile":
		return outlier.MethodPercentile
	default:
		return outlier.MethodMAD
	}
}

// Start runs the scheduler and the HTTP server until interrupted.
func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.sched.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/syi", s.withMetrics("/syi", s.handleCalculate))
	mux.HandleFunc("/syi/current", s.withMetrics("/syi/current", s.handleCurrent))
	mux.HandleFunc("/sanitize", s.withMetrics("/sanitize", s.handleSanitize))
	mux.HandleFunc("/sanitize/summary", s.withMetrics("/sanitize/summary", s.handleSanitizeSummary))
	mux.HandleFunc("/scheduler", s.withMetrics("/scheduler", s.handleSchedulerStatus))
	mux.HandleFunc("/scheduler/force", s.withMetrics("/scheduler/force", s.handleForce))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.cfg.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	s.sched.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logrus.Fatalf("Server shutdown failed: %v", err)
	}
	logrus.Info("Server stopped")
}

// withMetrics wraps a handler with request counting, timing and rate limiting.
func (s *Server) withMetrics(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.metrics.requestCounter.WithLabelValues(path, "rate_limited").Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		s.metrics.requestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		s.metrics.requestCounter.WithLabelValues(path, statusClass(rec.status)).Inc()
	}
}
