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

	"Mansoor88-6/escort-alerts/internal/client"
	"Mansoor88-6/escort-alerts/internal/clock"
	"Mansoor88-6/escort-alerts/internal/config"
	"Mansoor88-6/escort-alerts/internal/database"
	"Mansoor88-6/escort-alerts/internal/logger"
	"Mansoor88-6/escort-alerts/internal/metrics"
	"Mansoor88-6/escort-alerts/internal/push"
	"Mansoor88-6/escort-alerts/internal/realtime"
	"Mansoor88-6/escort-alerts/internal/repository"
	"Mansoor88-6/escort-alerts/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	once := flag.Bool("once", false, "Run a single check and exit")
	metricsAddr := flag.String("metrics-addr", "", "Serve /metrics on this address while running")
	flag.Parse()

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "checkin-scheduler")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// Reminders are announced to agents when redis is configured
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

	events := realtime.NewPublishingStore(repository.NewEventRepository(db, log.Logger), publisher, log.Logger)
	services := repository.NewServiceRepository(db, cfg.Scheduler.ActiveStatus, log.Logger)

	// Pushes go through the alert server when one is configured, otherwise in-process
	var dispatcher scheduler.Dispatcher
	if cfg.Scheduler.DispatchURL != "" {
		dispatcher = client.NewAPIClient(cfg.Scheduler.DispatchURL, cfg.Scheduler.APIKey, 30*time.Second, log.Logger)
		log.Info("Dispatching through alert server", zap.String("url", cfg.Scheduler.DispatchURL))
	} else {
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
			log.Warn("VAPID keys not configured, reminders are recorded without push")
		default:
			log.Fatal("Failed to initialize push sender", zap.Error(err))
		}

		dispatcher = push.NewDispatcher(repository.NewSubscriptionRepository(db, log.Logger), sender, nil, metrics.Push(), push.Config{
			Defaults: push.MessageDefaults{
				Icon:    cfg.Push.Icon,
				Badge:   cfg.Push.Badge,
				BaseURL: cfg.Push.BaseURL,
			},
			TTL:         cfg.Push.TTL,
			Concurrency: cfg.Push.Concurrency,
		}, log.Logger)
	}

	s, err := scheduler.New(services, events, dispatcher, metrics.Checkin(), clock.Real{}, scheduler.Config{
		StaleThreshold: cfg.Scheduler.StaleThreshold,
		RetryDelay:     cfg.Scheduler.RetryDelay,
		MaxAttempts:    cfg.Scheduler.MaxAttempts,
		JobTimeout:     cfg.Scheduler.JobTimeout,
	}, log.Logger)
	if err != nil {
		log.Fatal("Failed to create scheduler", zap.Error(err))
	}

	if *once {
		if err := s.RunOnce(ctx); err != nil {
			log.Error("Check-in run finished with errors", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: *metricsAddr, Handler: mux, ReadTimeout: 10 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server error", zap.Error(err))
			}
		}()
		defer metricsServer.Close()
	}

	log.Info("Starting check-in scheduler", zap.String("cron", cfg.Scheduler.Cron))
	if err := s.Run(ctx, cfg.Scheduler.Cron); err != nil {
		log.Fatal("Scheduler stopped with error", zap.Error(err))
	}
	log.Info("Check-in scheduler stopped")
}
