package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Mansoor88-6/escort-alerts/internal/config"
	"Mansoor88-6/escort-alerts/internal/database"
	"Mansoor88-6/escort-alerts/internal/handler"
	"Mansoor88-6/escort-alerts/internal/logger"
	"Mansoor88-6/escort-alerts/internal/metrics"
	"Mansoor88-6/escort-alerts/internal/push"
	"Mansoor88-6/escort-alerts/internal/realtime"
	"Mansoor88-6/escort-alerts/internal/repository"
	"Mansoor88-6/escort-alerts/internal/router"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "alert-server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting alert server",
		zap.String("env", cfg.Env),
		zap.String("config_path", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Backing store
	db, err := database.NewPostgres(ctx, database.PostgresConfig{
		DSN:             cfg.Postgres.DSN,
		MaxConns:        cfg.Postgres.MaxConns,
		MaxIdle:         cfg.Postgres.MaxIdle,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	}, log.Logger)
	if err != nil {
		log.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	if err := database.MigratePostgres(ctx, db); err != nil {
		log.Fatal("Failed to migrate postgres", zap.Error(err))
	}

	// Realtime channel: inserts are announced when redis is configured
	var publisher realtime.EventPublisher
	if cfg.Realtime.RedisAddr != "" {
		redisClient, err := realtime.NewRedisClient(ctx, realtime.RedisConfig{
			Addr:     cfg.Realtime.RedisAddr,
			Password: cfg.Realtime.RedisPassword,
			DB:       cfg.Realtime.RedisDB,
		})
		if err != nil {
			log.Warn("Realtime channel unavailable, agents will poll", zap.Error(err))
		} else {
			defer redisClient.Close()
			publisher = realtime.NewPublisher(redisClient, cfg.Realtime.Channel, log.Logger)
		}
	}

	// Background relay mirror
	var mirror push.Mirror
	if cfg.Relay.BrokerURL != "" {
		clientID := cfg.Relay.ClientID
		if clientID == "" {
			clientID = "alert-server"
		}
		mqttClient, err := realtime.NewMQTTClient(realtime.MQTTConfig{
			BrokerURL: cfg.Relay.BrokerURL,
			ClientID:  clientID,
			Username:  cfg.Relay.Username,
			Password:  cfg.Relay.Password,
		}, log.Logger)
		if err != nil {
			log.Warn("Background relay unavailable", zap.Error(err))
		} else {
			defer mqttClient.Disconnect()
			mirror = realtime.NewMirror(mqttClient, cfg.Relay.Topic)
		}
	}

	// Push delivery; missing VAPID keys leave dispatch as a logged no-op
	var sender push.Sender
	webPush, err := push.NewWebPushSender(push.VAPIDConfig{
		PublicKey:  cfg.Push.VAPIDPublicKey,
		PrivateKey: cfg.Push.VAPIDPrivateKey,
		Subject:    cfg.Push.Subject,
		TTL:        cfg.Push.TTL,
	})
	switch {
	case err == nil:
		sender = webPush
	case errors.Is(err, push.ErrPushNotConfigured):
		log.Warn("VAPID keys not configured, push delivery disabled")
	default:
		log.Fatal("Failed to initialize push sender", zap.Error(err))
	}

	eventRepo := repository.NewEventRepository(db, log.Logger)
	subscriptionRepo := repository.NewSubscriptionRepository(db, log.Logger)
	events := realtime.NewPublishingStore(eventRepo, publisher, log.Logger)

	dispatcher := push.NewDispatcher(subscriptionRepo, sender, mirror, metrics.Push(), push.Config{
		Defaults: push.MessageDefaults{
			Icon:    cfg.Push.Icon,
			Badge:   cfg.Push.Badge,
			BaseURL: cfg.Push.BaseURL,
		},
		TTL:         cfg.Push.TTL,
		Concurrency: cfg.Push.Concurrency,
	}, log.Logger)

	h := router.New(
		handler.NewEventHandler(events, log.Logger),
		handler.NewPushHandler(subscriptionRepo, dispatcher, cfg.Push.VAPIDPublicKey, log.Logger),
		router.Options{
			APIKey:         cfg.HTTP.APIKey,
			ColoredLogs:    cfg.Env == "local",
			AllowedOrigins: cfg.HTTP.CORS.AllowedOrigins,
			AllowedMethods: cfg.HTTP.CORS.AllowedMethods,
			AllowedHeaders: cfg.HTTP.CORS.AllowedHeaders,
			Credentials:    cfg.HTTP.CORS.AllowCredentials,
			CORSDebug:      cfg.HTTP.CORS.Debug,
		},
		log.Logger,
	)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      h,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.String("address", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("HTTP server error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("Alert server stopped")
}
