package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomcast/internal/core/services"
	httphandlers "roomcast/internal/handlers/http"
	"roomcast/internal/infrastructure/engine/pion"
	"roomcast/internal/infrastructure/middleware"
	"roomcast/internal/infrastructure/monitoring"
	"roomcast/internal/infrastructure/registry"
	"roomcast/internal/infrastructure/repositories"
	signalgw "roomcast/internal/infrastructure/signal"
	"roomcast/pkg/config"
	"roomcast/pkg/logger"
	"roomcast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/roomcast/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	// Tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "roomcast",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("tracing init failed", "error", err)
	}

	// Presence backend
	repoFactory, err := repositories.NewFactory(cfg, log)
	if err != nil {
		log.Fatalw("repository factory init failed", "error", err)
	}
	defer repoFactory.Close()
	presence := repoFactory.CreatePresenceRepository()

	// Media engine and worker pool
	engine := pion.NewEngine(log)
	pool, err := services.NewWorkerPool(context.Background(), engine, services.PoolConfig{
		Size:                cfg.WorkerCount(),
		RtcMinPort:          cfg.Media.RtcMinPort,
		RtcMaxPort:          cfg.Media.RtcMaxPort,
		ListenIP:            cfg.Media.ListenIP,
		AnnouncedIP:         cfg.Media.AnnouncedIP,
		FatalGrace:          cfg.Media.WorkerFatalGrace,
		HealthCheckInterval: cfg.Media.HealthCheckInterval,
	}, log)
	if err != nil {
		log.Fatalw("worker pool init failed", "error", err)
	}
	defer pool.Close()

	// Monitoring
	var collector *monitoring.Collector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewDefaultCollector()
	}

	// Session core
	connRegistry := registry.New(log)
	notifier := signalgw.NewNotifier(connRegistry, log)
	var metrics services.Metrics
	if collector != nil {
		metrics = collector
	}
	sessions := services.NewSessionService(pool, notifier, presence, metrics, services.SessionConfig{
		Codecs:                          services.DefaultCodecs(),
		MaxIncomingBitrate:              cfg.Media.MaxIncomingBitrate,
		InitialAvailableOutgoingBitrate: cfg.Media.InitialAvailableOutgoingBitrate,
	}, log)

	// Signaling gateway
	var observer signalgw.MessageObserver
	if collector != nil {
		observer = collector
	}
	gateway := signalgw.NewGateway(sessions, connRegistry, signalgw.Options{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		MaxMessageSize:    cfg.Signal.MaxMessageSize,
		AuthEnabled:       cfg.Auth.Enabled,
		JWTSecret:         cfg.Auth.JWTSecret,
		AllowedOrigins:    cfg.Auth.AllowedOrigins,
		RateLimitEnabled:  cfg.RateLimiting.Enabled,
		MessagesPerSecond: cfg.RateLimiting.WebSocket.MessagesPerSecond,
		MessageBurst:      cfg.RateLimiting.WebSocket.Burst,
	}, observer, log)

	signalMux := http.NewServeMux()
	signalMux.HandleFunc("/ws", gateway.HandleWebSocket)
	signalSrv := &http.Server{
		Addr:    cfg.Signal.Address,
		Handler: signalMux,
	}

	// Management API
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	roomHandler := httphandlers.NewRoomHandler(sessions, presence)
	roomHandler.SetupRoutes(router)

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := repoFactory.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "uptime": time.Since(startTime).String()})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	apiSrv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 2)
	go func() {
		log.Infow("starting signaling server", "address", cfg.Signal.Address)
		if err := signalSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	go func() {
		log.Infow("starting management API", "address", cfg.Server.Address)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := signalSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("signaling server shutdown failed", "error", err)
		signalSrv.Close()
	}
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("API server shutdown failed", "error", err)
		apiSrv.Close()
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("tracer shutdown failed", "error", err)
	}

	log.Info("server stopped")
}
