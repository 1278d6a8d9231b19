package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pipewatch/internal/actuation"
	"pipewatch/internal/alerting"
	"pipewatch/internal/config"
	"pipewatch/internal/control"
	"pipewatch/internal/forecast"
	"pipewatch/internal/handlers"
	"pipewatch/internal/kafka"
	"pipewatch/internal/logger"
	"pipewatch/internal/metrics"
	"pipewatch/internal/middleware"
	"pipewatch/internal/models"
	"pipewatch/internal/risk"
	"pipewatch/internal/thresholds"
)

// Service is the high-level coordinator: it owns the threshold store, the
// forecast cycle, the alert manager, the control loop, and the external
// surfaces (HTTP, Kafka, actuator).
type Service struct {
	cfg *config.Config

	store      *thresholds.Store
	classifier *risk.Classifier
	windows    *forecast.WindowStore
	engine     *forecast.Engine
	cache      *forecast.Cache
	manager    *alerting.Manager
	emitter    *alerting.RetryEmitter
	dispatcher *actuation.Dispatcher
	loop       *control.Loop

	publisher *kafka.AlertPublisher   // nil when Kafka is disabled
	consumer  *kafka.ReadingConsumer  // nil when Kafka is disabled

	httpServer *http.Server
	wg         sync.WaitGroup

	forecastMu sync.Mutex
	inFlight   map[string]bool
}

// New wires the component graph from config.
func New(cfg *config.Config) (*Service, error) {
	log := logger.WithComponent("service")

	store := thresholds.NewStore()
	for _, seed := range cfg.Thresholds {
		m := models.MeasurementType(seed.Measurement)
		if err := store.Set(m, seed.PipelineID, seed.Warning, seed.Critical); err != nil {
			return nil, fmt.Errorf("seed threshold for %s: %w", seed.Measurement, err)
		}
	}

	classifier := risk.NewClassifier(store)

	bounds := make(map[models.MeasurementType]forecast.Bounds, len(cfg.Forecast.Bounds))
	for m, b := range cfg.Forecast.Bounds {
		bounds[models.MeasurementType(m)] = forecast.Bounds{Min: b.Min, Max: b.Max}
	}
	engine := forecast.NewEngine(forecast.Config{
		MinSamples: cfg.Forecast.MinSamples,
		Horizons:   cfg.Forecast.Horizons(),
		Bounds:     bounds,
	}, classifier)

	s := &Service{
		cfg:        cfg,
		store:      store,
		classifier: classifier,
		windows:    forecast.NewWindowStore(cfg.Forecast.WindowSize),
		engine:     engine,
		cache:      forecast.NewCache(),
		inFlight:   make(map[string]bool),
	}

	var sink alerting.Sink = alerting.LogSink{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := kafka.NewAlertPublisher(cfg.Kafka.Brokers, cfg.Kafka.AlertsTopic, cfg.Kafka.Producer)
		if err != nil {
			return nil, fmt.Errorf("alert publisher: %w", err)
		}
		s.publisher = publisher
		sink = publisher
		log.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.AlertsTopic).
			Msg("kafka alert sink initialized")
	} else {
		log.Info().Msg("no kafka brokers configured, alerts go to the log sink")
	}

	s.emitter = alerting.NewRetryEmitter(sink, alerting.EmitterConfig{
		Attempts:  cfg.Alerting.NotifyAttempts,
		Backoff:   cfg.Alerting.NotifyBackoff.Std(),
		QueueSize: cfg.Alerting.QueueSize,
	})
	s.manager = alerting.NewManager(alerting.Config{
		ResolveAfter: cfg.Alerting.ResolveAfter,
		HistorySize:  cfg.Alerting.HistorySize,
	}, s.emitter)

	client := actuation.NewHTTPClient(cfg.Actuator.BaseURL, cfg.Actuator.RequestTimeout.Std())
	s.dispatcher = actuation.NewDispatcher(client, s.manager, actuation.Config{
		MaxAttempts:    cfg.Actuator.MaxAttempts,
		RetryBackoff:   cfg.Actuator.RetryBackoff.Std(),
		ConfirmTimeout: cfg.Actuator.ConfirmTimeout.Std(),
	})
	s.loop = control.NewLoop(classifier, s.dispatcher, s.manager, control.Config{
		ReopenAfter: cfg.Control.ReopenAfter,
		QueueSize:   cfg.Control.QueueSize,
	})

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.ReadingsTopic != "" {
		s.consumer = kafka.NewReadingConsumer(cfg.Kafka.Brokers, cfg.Kafka.ReadingsTopic,
			cfg.Kafka.GroupID, s.Submit)
	}

	return s, nil
}

// Submit feeds one validated reading into both halves of the pipeline: the
// forecast window and the reactive control loop.
func (s *Service) Submit(r models.Reading) error {
	s.windows.Append(r)
	return s.loop.Submit(r)
}

// Latest implements handlers.ForecastSource.
func (s *Service) Latest(deviceID string) (*forecast.Result, bool) {
	return s.cache.Latest(deviceID)
}

// RemoveDevice stops all scheduling for a device leaving the topology.
func (s *Service) RemoveDevice(deviceID string) {
	s.windows.Remove(deviceID)
	s.cache.Remove(deviceID)
	s.loop.Remove(deviceID)
}

// Run starts background goroutines and blocks until context cancelled.
func (s *Service) Run(ctx context.Context) error {
	log := logger.WithComponent("service")
	log.Info().Msg("service starting")

	s.emitter.Start()
	s.initHTTPServer()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Info().Str("addr", s.cfg.HTTPAddr).Msg("starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	if s.consumer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.consumer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("reading consumer error")
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.forecastLoop(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reportStats(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	return s.shutdown()
}

func (s *Service) initHTTPServer() {
	mux := http.NewServeMux()

	readings := handlers.NewReadingsHandler(handlers.ReadingsConfig{Intake: s})
	mux.Handle("/readings", middleware.Chain(
		readings,
		middleware.Recovery,
		middleware.Logging,
	))

	mux.Handle("/actuations/confirm", middleware.Chain(
		handlers.NewConfirmHandler(s.dispatcher),
		middleware.Recovery,
		middleware.Logging,
	))

	query := handlers.NewQueryHandler(s, s.manager, s.loop, s, s.store)
	query.Register(mux, middleware.Recovery, middleware.Logging)

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         s.cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// forecastLoop runs the periodic forecast + alert evaluation cycle.
func (s *Service) forecastLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Forecast.Interval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runForecastCycle()
		}
	}
}

// runForecastCycle evaluates every tracked device, at most one in-flight
// evaluation per device at a time.
func (s *Service) runForecastCycle() {
	for _, deviceID := range s.windows.Devices() {
		if !s.beginForecast(deviceID) {
			continue
		}
		go func(id string) {
			defer s.endForecast(id)
			s.forecastDevice(id)
		}(deviceID)
	}
}

func (s *Service) forecastDevice(deviceID string) {
	log := logger.WithDevice("forecast", deviceID)
	start := time.Now()

	pipelineID, window := s.windows.Window(deviceID)
	result, err := s.engine.Forecast(deviceID, pipelineID, window)
	metrics.ForecastCycleDuration.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, forecast.ErrInsufficientHistory):
		metrics.ForecastCyclesTotal.WithLabelValues("insufficient_history").Inc()
		log.Debug().Err(err).Msg("skipping forecast cycle")
		return
	case errors.Is(err, forecast.ErrInvalidWindow):
		metrics.ForecastCyclesTotal.WithLabelValues("invalid_window").Inc()
		log.Warn().Err(err).Msg("reading window out of order")
		return
	case err != nil:
		metrics.ForecastCyclesTotal.WithLabelValues("error").Inc()
		log.Warn().Err(err).Msg("forecast evaluation failed")
		return
	}

	metrics.ForecastCyclesTotal.WithLabelValues("ok").Inc()
	s.cache.Put(result)
	s.evaluateForecastAlerts(result)
}

// evaluateForecastAlerts feeds the worst forecast point per measurement
// into the alert manager, one evaluation per measurement per cycle.
func (s *Service) evaluateForecastAlerts(result *forecast.Result) {
	worst := make(map[models.MeasurementType]forecast.Point)
	for _, p := range result.Points {
		cur, ok := worst[p.Measurement]
		if !ok || p.Tier > cur.Tier || (p.Tier == cur.Tier && p.Value > cur.Value) {
			worst[p.Measurement] = p
		}
	}

	for m, p := range worst {
		cfg, err := s.classifier.Thresholds(m, result.PipelineID)
		if err != nil {
			continue
		}
		s.manager.Evaluate(result.DeviceID, result.PipelineID,
			models.KindForMeasurement(m), p.Tier, p.Value, risk.CrossedThreshold(cfg, p.Tier))
	}
}

func (s *Service) beginForecast(deviceID string) bool {
	s.forecastMu.Lock()
	defer s.forecastMu.Unlock()
	if s.inFlight[deviceID] {
		return false
	}
	s.inFlight[deviceID] = true
	return true
}

func (s *Service) endForecast(deviceID string) {
	s.forecastMu.Lock()
	delete(s.inFlight, deviceID)
	s.forecastMu.Unlock()
}

// shutdown performs graceful shutdown
func (s *Service) shutdown() error {
	log := logger.WithComponent("service")
	log.Info().Msg("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("stopping control loop")
	s.loop.Stop()

	if s.consumer != nil {
		log.Info().Msg("closing reading consumer")
		if err := s.consumer.Close(); err != nil {
			log.Error().Err(err).Msg("consumer close error")
		}
	}

	log.Info().Msg("stopping notification workers")
	s.emitter.Stop()

	if s.publisher != nil {
		log.Info().Msg("closing alert publisher")
		if err := s.publisher.Close(); err != nil {
			log.Error().Err(err).Msg("publisher close error")
		}
	}

	s.wg.Wait()
	log.Info().Msg("service stopped gracefully")
	return nil
}

// reportStats periodically logs statistics
func (s *Service) reportStats(ctx context.Context) {
	log := logger.WithComponent("service")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evt := log.Info().
				Int("devices_tracked", len(s.windows.Devices())).
				Int("active_alerts", len(s.manager.Active("")))
			if s.publisher != nil {
				stats := s.publisher.Stats()
				evt = evt.
					Uint64("alerts_published", stats.MessagesSent).
					Uint64("alerts_publish_failed", stats.MessagesFailed)
			}
			evt.Msg("stats")
		}
	}
}

// healthHandler handles health check requests
func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.publisher != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.publisher.HealthCheck(ctx); err != nil {
			http.Error(w, fmt.Sprintf("unhealthy: %v", err), http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// statsHandler returns current statistics
func (s *Service) statsHandler(w http.ResponseWriter, r *http.Request) {
	var sent, failed uint64
	if s.publisher != nil {
		stats := s.publisher.Stats()
		sent, failed = stats.MessagesSent, stats.MessagesFailed
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
		"devices_tracked": %d,
		"active_alerts": %d,
		"alerts_published": %d,
		"alerts_publish_failed": %d
	}`,
		len(s.windows.Devices()),
		len(s.manager.Active("")),
		sent,
		failed,
	)
}
