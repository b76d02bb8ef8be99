// Package main is the entry point for the lending yield API: it collects
// reserve state on a schedule, computes net supply and borrow APYs with
// incentive overlays, and serves current and historical yields over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/lendyield-api/internal/circuitbreaker"
	"github.com/yourorg/lendyield-api/internal/collector"
	"github.com/yourorg/lendyield-api/internal/config"
	"github.com/yourorg/lendyield-api/internal/engine"
	"github.com/yourorg/lendyield-api/internal/export"
	"github.com/yourorg/lendyield-api/internal/fetch"
	"github.com/yourorg/lendyield-api/internal/history"
	"github.com/yourorg/lendyield-api/internal/model"
	"github.com/yourorg/lendyield-api/internal/otel"
	"github.com/yourorg/lendyield-api/internal/rewards"
	"github.com/yourorg/lendyield-api/internal/scheduler"
	"github.com/yourorg/lendyield-api/internal/security"
	"github.com/yourorg/lendyield-api/internal/store"
	"github.com/yourorg/lendyield-api/internal/validation"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server holds the wired service components.
type Server struct {
	cfg      config.Config
	protocol *config.Protocol

	server    *http.Server
	collector *collector.Collector
	store     *store.SQLiteStore
	breaker   *circuitbreaker.CircuitBreaker
	scheduler *scheduler.Scheduler
	limiter   *rate.Limiter
	integrity *security.DataIntegrityService
	exporter  *export.WebhookExporter
	metrics   *serverMetrics
	valOpts   validation.Options
}

// serverMetrics holds Prometheus metrics for the server
type serverMetrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	assetAPY        *prometheus.GaugeVec
	assetCount      prometheus.Gauge
	circuitState    prometheus.Gauge
}

// registerMetrics sets up Prometheus metrics collection
func registerMetrics() *serverMetrics {
	m := &serverMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lendyield_requests_total",
				Help: "Total number of requests processed",
			},
			[]string{"endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lendyield_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		assetAPY: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lendyield_asset_apy",
				Help: "Latest computed APY per asset and side",
			},
			[]string{"asset", "side"},
		),
		assetCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lendyield_asset_count",
				Help: "Number of successfully computed assets in the latest batch",
			},
		),
		circuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lendyield_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),
	}

	prometheus.MustRegister(
		m.requestCounter,
		m.requestDuration,
		m.assetAPY,
		m.assetCount,
		m.circuitState,
	)

	return m
}

func main() {
	_ = godotenv.Load()
	setupLogging()

	cfg, err := config.Load(config.GetEnvOrDefault("CONFIG_PATH", "config.yaml"))
	if err != nil {
		logrus.Fatalf("Loading configuration failed: %v", err)
	}

	protocol, err := config.LoadProtocol()
	if err != nil {
		logrus.Fatalf("Loading protocol configuration failed: %v", err)
	}

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	server, err := NewServer(cfg, protocol)
	if err != nil {
		logrus.Fatalf("Initializing server failed: %v", err)
	}
	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}

// NewServer wires all service components from the loaded configuration.
func NewServer(cfg config.Config, protocol *config.Protocol) (*Server, error) {
	addresses := make(map[string]string)
	for _, symbol := range protocol.Symbols() {
		addr, _ := protocol.ReserveAddress(symbol)
		addresses[symbol] = addr
	}

	eng := engine.New(
		protocol.Overlay(cfg.TicksPerYear),
		protocol.Emission(),
		protocol.Extra(),
	)

	static := make(map[string][]rewards.Program)
	for _, symbol := range protocol.Symbols() {
		if programs := protocol.WeightedPrograms(symbol); len(programs) > 0 {
			static[symbol] = programs
		}
	}

	col := collector.New(
		eng,
		fetch.NewReserveClient(cfg.Provider.RPCURL, cfg.Provider.RequestTimeout),
		fetch.NewRewardStatsClient(cfg.Provider.RewardStatsURL, cfg.Provider.RequestTimeout, addresses),
		fetch.NewPriceClient(cfg.Provider.PriceURL, cfg.Provider.RequestTimeout),
		protocol.Symbols(),
		addresses,
		protocol.PriceIDs(),
		static,
	)

	st, err := store.Open(cfg.Database.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	metrics := registerMetrics()

	breaker := circuitbreaker.New(circuitbreaker.Thresholds{
		MaxAPY:         cfg.Safety.MaxAPY,
		MaxPriceChange: cfg.Safety.MaxPriceChange,
		MinAssets:      cfg.Safety.MinAssetCount,
	}).
		WithResetDelay(cfg.Safety.CircuitResetDelay).
		WithTripCallback(func(reason string, batch model.YieldBatch) {
			metrics.circuitState.Set(float64(circuitbreaker.StateOpen))
		})

	srv := &Server{
		cfg:       cfg,
		protocol:  protocol,
		collector: col,
		store:     st,
		breaker:   breaker,
		limiter:   rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst),
		exporter:  export.NewWebhookExporter(cfg.Export.WebhookURL, cfg.Export.FlushInterval),
		metrics:   metrics,
		valOpts:   validation.Options{MaxAPY: cfg.Safety.MaxAPY, MaxPrice: 1e7, AllowErrorRecords: true},
	}

	if cfg.Security.SigningEnabled {
		integrity, err := security.NewDataIntegrityService(24 * time.Hour)
		if err != nil {
			logrus.Warnf("Failed to initialize data integrity service: %v", err)
		} else {
			srv.integrity = integrity
		}
	}

	logrus.WithFields(logrus.Fields{
		"port":           cfg.Server.Port,
		"assets":         len(protocol.Symbols()),
		"database":       cfg.Database.SQLitePath,
		"signing":        cfg.Security.SigningEnabled,
		"export_webhook": cfg.Export.WebhookURL != "",
	}).Info("Server initialized")

	return srv, nil
}

// Start begins the scheduler and HTTP server and sets up graceful shutdown.
func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var exp scheduler.Exporter
	if s.exporter != nil {
		exp = s.exporter
	}
	s.scheduler = scheduler.New(ctx, s.collector, s.store, s.breaker, exp, s.valOpts)
	if err := s.scheduler.RegisterAll(s.cfg.Schedule.MinuteCron, s.cfg.Schedule.HourCron, s.cfg.Schedule.DayCron, s.cfg.Schedule.WeekCron); err != nil {
		logrus.Fatalf("Registering scheduled tasks failed: %v", err)
	}
	s.scheduler.Start()
	defer s.scheduler.Stop()

	// Seed the breaker and charts instead of waiting for the first tick.
	go s.scheduler.RunNow(model.GranularityHour)

	mux := http.NewServeMux()
	mux.HandleFunc("/apy", s.handleAPY)
	mux.HandleFunc("/apy/", s.handleAssetAPY)
	mux.HandleFunc("/chart_data", s.handleChartData)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/circuit", s.handleCircuitStatus)

	s.server = &http.Server{
		Addr:         ":" + s.cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.cfg.Server.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server shutdown failed: %v", err)
	}
	if s.exporter != nil {
		s.exporter.Close()
	}
	if err := s.store.Close(); err != nil {
		logrus.Errorf("Closing store failed: %v", err)
	}

	logrus.Info("Server stopped")
}

// currentBatch computes a fresh batch, falling back to the last good one when
// the circuit breaker rejects the fresh data.
func (s *Server) currentBatch(ctx context.Context) (model.YieldBatch, error) {
	batch, err := s.collector.Collect(ctx, model.GranularityMinute)
	if err != nil {
		if lastGood, ok := s.breaker.LastGoodBatch(); ok {
			logrus.Warnf("Collection failed, serving last good batch: %v", err)
			return lastGood, nil
		}
		return model.YieldBatch{}, err
	}

	batch.Assets = validation.FilterInvalidWithOptions(batch.Assets, s.valOpts)

	if err := s.breaker.Check(batch); err != nil {
		if lastGood, ok := s.breaker.LastGoodBatch(); ok {
			logrus.Warnf("Serving last good batch: %v", err)
			return lastGood, nil
		}
		return model.YieldBatch{}, err
	}

	s.observeBatch(batch)
	return batch, nil
}

func (s *Server) observeBatch(batch model.YieldBatch) {
	computed := 0
	for _, y := range batch.Assets {
		if y.Error != "" {
			continue
		}
		computed++
		s.metrics.assetAPY.WithLabelValues(y.Asset, "supply").Set(y.Supply)
		s.metrics.assetAPY.WithLabelValues(y.Asset, "borrow").Set(y.Borrow)
	}
	s.metrics.assetCount.Set(float64(computed))
	s.metrics.circuitState.Set(float64(s.breaker.GetState()))
}

// handleAPY serves the current yield records for all tracked assets.
func (s *Server) handleAPY(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	endpoint := "/apy"

	if !s.limiter.Allow() {
		s.errorResponse(w, endpoint, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Provider.RequestTimeout)
	defer cancel()

	batch, err := s.currentBatch(ctx)
	if err != nil {
		otel.RecordError(ctx, err)
		s.errorResponse(w, endpoint, http.StatusServiceUnavailable, fmt.Sprintf("Yield data unavailable: %v", err))
		return
	}

	s.metrics.requestCounter.WithLabelValues(endpoint, "success").Inc()
	s.metrics.requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	s.writePayload(w, batch.Assets)
}

// handleAssetAPY serves the current yield record for one asset.
func (s *Server) handleAssetAPY(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	endpoint := "/apy/{asset}"

	if !s.limiter.Allow() {
		s.errorResponse(w, endpoint, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	symbol := strings.ToUpper(strings.TrimPrefix(r.URL.Path, "/apy/"))
	if symbol == "" {
		s.errorResponse(w, endpoint, http.StatusBadRequest, "Missing asset symbol")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Provider.RequestTimeout)
	defer cancel()

	batch, err := s.currentBatch(ctx)
	if err != nil {
		otel.RecordError(ctx, err)
		s.errorResponse(w, endpoint, http.StatusServiceUnavailable, fmt.Sprintf("Yield data unavailable: %v", err))
		return
	}

	for _, y := range batch.Assets {
		if strings.EqualFold(y.Asset, symbol) {
			s.metrics.requestCounter.WithLabelValues(endpoint, "success").Inc()
			s.metrics.requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			s.writePayload(w, y)
			return
		}
	}

	s.errorResponse(w, endpoint, http.StatusNotFound, fmt.Sprintf("Unknown asset %q", symbol))
}

// handleChartData serves per-asset daily average series for charting.
func (s *Server) handleChartData(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	endpoint := "/chart_data"

	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			s.errorResponse(w, endpoint, http.StatusBadRequest, fmt.Sprintf("Invalid days parameter %q", v))
			return
		}
		days = parsed
	}
	if days > s.cfg.Server.ChartDaysMax {
		days = s.cfg.Server.ChartDaysMax
	}

	now := time.Now().UTC()
	since := now.AddDate(0, 0, -(days + 1))

	// Prefer day-granularity batches; fall back to re-bucketing hourly data
	// when the daily job has not accumulated enough history yet.
	batches, err := s.store.BatchesSince(model.GranularityDay, since)
	if err != nil {
		s.errorResponse(w, endpoint, http.StatusInternalServerError, fmt.Sprintf("Loading history failed: %v", err))
		return
	}
	if len(batches) < days {
		if hourly, err := s.store.BatchesSince(model.GranularityHour, since); err == nil && len(hourly) > len(batches) {
			batches = hourly
		}
	}

	series := history.Downsample(batches, days, now)
	chart := history.ChartSeries(series)

	s.metrics.requestCounter.WithLabelValues(endpoint, "success").Inc()
	s.metrics.requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	s.writePayload(w, chart)
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "OK",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":        "operational",
		"uptime":        time.Since(startTime).String(),
		"version":       "1.0.0",
		"assets":        s.protocol.Symbols(),
		"circuit_state": s.breaker.GetState().String(),
		"configuration": map[string]interface{}{
			"ticks_per_year": s.protocol.Overlay(s.cfg.TicksPerYear).TicksPerYear,
			"chart_days_max": s.cfg.Server.ChartDaysMax,
			"signing":        s.integrity != nil,
		},
	}
	if s.integrity != nil {
		status["public_key"] = s.integrity.PublicKey()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// handleCircuitStatus allows viewing and controlling the circuit breaker
func (s *Server) handleCircuitStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"state": s.breaker.GetState().String(),
	}

	if r.Method == http.MethodPost {
		if r.URL.Query().Get("action") == "reset" {
			s.breaker.Reset()
			response["state"] = s.breaker.GetState().String()
			response["message"] = "Circuit breaker reset"
		}
	}

	if lastGood, ok := s.breaker.LastGoodBatch(); ok {
		response["last_good_asset_count"] = len(lastGood.Assets)
		response["last_good_timestamp"] = lastGood.CollectedAt.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// writePayload serves a JSON payload, signed when signing is enabled.
func (s *Server) writePayload(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")

	if s.integrity != nil {
		signed, err := s.integrity.SignPayload(payload)
		if err == nil {
			json.NewEncoder(w).Encode(signed)
			return
		}
		logrus.Warnf("Signing payload failed, serving unsigned: %v", err)
	}

	json.NewEncoder(w).Encode(payload)
}

// errorResponse returns a formatted error response
func (s *Server) errorResponse(w http.ResponseWriter, endpoint string, statusCode int, errorMsg string) {
	logrus.Warn(errorMsg)
	s.metrics.requestCounter.WithLabelValues(endpoint, "error").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "error",
		"error":  errorMsg,
	})
}
