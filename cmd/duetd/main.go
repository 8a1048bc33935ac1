package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"duetrec/internal/core/ports"
	"duetrec/internal/core/services"
	httphandlers "duetrec/internal/handlers/http"
	"duetrec/internal/infrastructure/devices"
	"duetrec/internal/infrastructure/encoder"
	"duetrec/internal/infrastructure/middleware"
	"duetrec/internal/infrastructure/monitoring"
	"duetrec/internal/infrastructure/notify"
	"duetrec/internal/infrastructure/playback"
	repositories "duetrec/internal/infrastructure/repositories"
	"duetrec/internal/infrastructure/storage"
	webrtcinfra "duetrec/internal/infrastructure/webrtc"
	"duetrec/pkg/logger"
	"duetrec/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()
	cfg, configPath := loadConfig()

	// Initialize logger
	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()
	if configPath == "" {
		log.Warn("No config file loaded, using defaults")
	} else {
		log.Infow("Loaded config", "path", configPath)
	}

	tp, err := tracing.Init(cfg.Tracing)
	if err != nil {
		log.Fatalw("Failed to initialize tracing", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewPrometheusCollector(registry)

	// Published duets
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("Failed to create repository factory", "error", err)
	}
	duetRepo := repoFactory.CreateDuetRepository()

	store, err := storage.New(ctx, cfg.Storage, log)
	if err != nil {
		log.Fatalw("Failed to create artifact store", "error", err)
	}

	// Capture devices
	var (
		gateway ports.DeviceGateway
		offers  httphandlers.OfferHandler
	)
	switch cfg.Devices.Driver {
	case "webrtc":
		g := webrtcinfra.NewGateway(webrtcinfra.ConfigFrom(cfg.Devices), log)
		defer g.Close()
		gateway, offers = g, g
	default:
		gateway = devices.NewSyntheticGateway(cfg.Devices, log)
	}

	encoders, err := encoder.NewFactory(cfg.Encoder, log)
	if err != nil {
		log.Fatalw("Failed to create encoder factory", "error", err)
	}

	// Notices: websocket hub locally, Redis relay across instances
	hub := notify.NewHub(cfg.Notify, log)
	notifier := notify.Multi{hub, notify.NewLogNotifier(log)}
	if client := repoFactory.RedisClient(); client != nil {
		bus := notify.NewRedisBus(client, cfg.Notify.RedisChannel, uuid.New().String(), log)
		defer bus.Close()
		notifier = append(notifier, bus)
		go func() {
			if err := bus.Subscribe(ctx, hub.Relay); err != nil && ctx.Err() == nil {
				log.Errorw("Notice relay stopped", "error", err)
			}
		}()
	}

	publisher := services.NewPublishService(store, duetRepo, publishConfig(cfg), metrics, log)
	duetService := services.NewDuetService(recorderConfig(cfg), cfg.Server.MaxOpenDuets, services.DuetServiceDeps{
		Devices:   gateway,
		Players:   playback.NewFactory(cfg.Playback, log),
		Encoders:  encoders,
		Publisher: publisher,
		Notifier:  notifier,
		Metrics:   metrics,
		Logger:    log,
	})

	// Health
	checker := monitoring.NewHealthChecker()
	checker.AddRepositoryCheck(duetRepo, 30*time.Second, 2*time.Second)
	checker.AddCapacityCheck(duetService.ActiveDuets, cfg.Server.MaxOpenDuets, 30*time.Second, time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		checker.AddRedisCheck(client, 15*time.Second, 2*time.Second)
	}
	if fs, ok := store.(*storage.FileStore); ok {
		checker.AddDirectoryCheck("artifact_store", fs.Dir(), time.Minute, 2*time.Second)
	}
	checker.StartBackgroundChecks(ctx)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.RateLimiting.TrustedProxies); err != nil {
		log.Fatalw("Invalid trusted proxies", "error", err)
	}
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLogMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.MetricsMiddleware(metrics),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	wsLimit := middleware.NewWebSocketLimitMiddleware(cfg)
	httphandlers.NewDuetHandler(duetService, publisher, hub, log).SetupRoutes(router, wsLimit)
	httphandlers.NewDeviceHandler(duetService, offers).SetupRoutes(router, wsLimit)
	httphandlers.NewHealthHandler(checker, startTime).SetupRoutes(router)

	if fs, ok := store.(*storage.FileStore); ok && strings.HasPrefix(cfg.Storage.File.BaseURL, "/") {
		router.Static(cfg.Storage.File.BaseURL, fs.Dir())
	}

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
		log.Info("Prometheus metrics enabled")
	}

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting duetrec server", "address", cfg.Server.Address,
			"devices", cfg.Devices.Driver, "encoder", cfg.Encoder.Kind, "storage", cfg.Storage.Kind)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down duetrec server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}

	// Open duets are closed before their backing stores go away.
	duetService.Shutdown()
	cancel()

	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer", "error", err)
	}

	log.Info("duetrec server stopped")
}
