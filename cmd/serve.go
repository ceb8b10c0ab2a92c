package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/me-niyas-ali/stream/internal/config"
	"github.com/me-niyas-ali/stream/internal/grpcserver"
	"github.com/me-niyas-ali/stream/internal/handler"
	"github.com/me-niyas-ali/stream/internal/hub"
	"github.com/me-niyas-ali/stream/internal/lifecycle"
	"github.com/me-niyas-ali/stream/internal/liveness"
	"github.com/me-niyas-ali/stream/internal/registry"
	"github.com/me-niyas-ali/stream/internal/service"
	pkglog "github.com/me-niyas-ali/stream/pkg/log"
	"github.com/me-niyas-ali/stream/pkg/pubsub"
)

func runServe(dir string) error {
	// Load configuration
	cfg, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	instanceID := instanceID()
	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str(pkglog.FieldInstance, instanceID).
		Msg("starting stream")

	// Initialize PubSub
	ps, err := pubsub.NewPubSub(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("failed to initialize pubsub: %w", err)
	}
	defer ps.Close()
	logger.Info().Str("driver", cfg.PubSub.Driver).Msg("lifecycle bus ready")

	events := lifecycle.NewPublisher(ps, instanceID)
	defer events.Close()

	// Initialize registry
	policy, err := registry.ParseHostPolicy(cfg.Room.HostPolicy)
	if err != nil {
		return err
	}
	reg := registry.New(
		registry.WithHostPolicy(policy),
		registry.WithReadyThreshold(cfg.Room.ReadyThreshold),
	)
	logger.Info().
		Str("host_policy", reg.Policy().String()).
		Float64("ready_threshold", cfg.Room.ReadyThreshold).
		Msg("room registry ready")

	// Initialize hub and service
	wsHub := hub.NewHub(cfg.WebSocket)
	relaySvc := service.NewRelayService(reg, events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor := liveness.NewMonitor(wsHub, cfg.WebSocket.PingInterval)
	go monitor.Run(ctx)

	// Setup HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(pkglog.GinMiddleware(logger, "/health", "/metrics"))

	handler.NewWSHandler(wsHub, relaySvc, cfg.CORS.AllowedOrigins).RegisterRoutes(router)
	handler.NewHandler(reg, wsHub, cfg.WebRTC.ICEServers).RegisterRoutes(router)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	})

	server := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: corsHandler.Handler(router),
		// No read/write timeouts: they would outlive the upgrade and cut
		// long-lived WebSocket connections.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var grpcSrv *grpcserver.Server
	if cfg.GRPC.Enabled {
		grpcSrv = grpcserver.New(logger)
		if err := grpcSrv.Start(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.GRPC.Port)); err != nil {
			return err
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("stream listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	if grpcSrv != nil {
		grpcSrv.SetServing(true)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.Error().Err(err).Msg("server error")
	}

	logger.Info().Msg("shutting down stream")
	if grpcSrv != nil {
		grpcSrv.SetServing(false)
	}
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	// Hijacked WebSocket connections are not tracked by Shutdown.
	wsHub.CloseAll()
	if grpcSrv != nil {
		grpcSrv.Stop()
	}

	logger.Info().Msg("stream stopped")
	return nil
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "stream"
	}
	return host + "-" + uuid.New().String()[:8]
}
