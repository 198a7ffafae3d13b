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

	"github.com/SherClockHolmes/webpush-go"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"parking-gate-backend/config"
	"parking-gate-backend/internal/actuator"
	"parking-gate-backend/internal/api"
	"parking-gate-backend/internal/bus"
	"parking-gate-backend/internal/clock"
	"parking-gate-backend/internal/db"
	"parking-gate-backend/internal/dispatch"
	"parking-gate-backend/internal/logging"
	"parking-gate-backend/internal/notification"
	"parking-gate-backend/internal/reconcile"
	"parking-gate-backend/internal/retention"
	"parking-gate-backend/internal/store"
)

const busBuffer = 256

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("configuration loaded", zap.String("path", configPath))

	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	appStore := store.NewGormStore(gormDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Gate controller
	var gateway actuator.Gateway = actuator.NewLogGateway(logger)
	var bridgeSub bus.Subscriber
	if cfg.Redis.Enabled {
		client, err := actuator.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		defer client.Close()
		gateway = actuator.NewBreakerGateway(
			actuator.NewRedisGateway(client, cfg.Redis.Secret),
			actuator.DefaultBreakerSettings(),
			logger,
		)
		bridgeSub = client
		logger.Info("gate controller broker connected", zap.String("addr", cfg.Redis.Addr))
	} else {
		logger.Warn("redis disabled, controller commands are only logged")
	}

	// Dashboard notices
	var webpushOptions *webpush.Options
	var sink notification.Sink
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		sink = notification.NewPushSink(gormDB, webpushOptions, logger)
	} else {
		logger.Warn("VAPID keys are not configured, web push is disabled")
	}

	pool := dispatch.NewPool(
		cfg.WorkerPool.Size,
		cfg.WorkerPool.QueueSize,
		time.Duration(cfg.WorkerPool.TimeoutSeconds)*time.Second,
		gateway,
		sink,
		logger,
	)
	pool.Start(ctx)

	engine := reconcile.New(appStore, pool, clock.Real(), reconcile.OptionsFromConfig(cfg), logger)

	// Event bus
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: busBuffer}, bus.NewZapLogger(logger))
	defer pubsub.Close()
	ingest := bus.NewIngest(pubsub)

	router, err := bus.NewRouter(pubsub, engine, logger)
	if err != nil {
		logger.Fatal("failed to build event router", zap.Error(err))
	}
	go func() {
		if err := router.Run(ctx); err != nil {
			logger.Error("event router stopped", zap.Error(err))
		}
	}()
	<-router.Running()

	if bridgeSub != nil {
		bridge := bus.NewBridge(bridgeSub, ingest, logger)
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("controller bridge stopped", zap.Error(err))
			}
		}()
	}

	go retention.NewService(cfg.Retention, appStore, clock.Real(), logger).Run(ctx)

	if err := engine.SyncDisplay(ctx); err != nil {
		logger.Warn("initial controller sync failed", zap.Error(err))
	}

	handler := api.NewHandler(engine, ingest, appStore, webpushOptions, logger)
	httpRouter, limiter := api.NewRouter(handler, cfg.Server)
	go limiter.Run(ctx, time.Minute)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: httpRouter,
	}

	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", zap.Error(err))
	}
	cancel()
	if err := router.Close(); err != nil {
		logger.Warn("event router close", zap.Error(err))
	}

	logger.Info("server gracefully stopped")
}
