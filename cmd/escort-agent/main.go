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

	"Mansoor88-6/escort-alerts/internal/alarm"
	"Mansoor88-6/escort-alerts/internal/checkin"
	"Mansoor88-6/escort-alerts/internal/client"
	"Mansoor88-6/escort-alerts/internal/clock"
	"Mansoor88-6/escort-alerts/internal/config"
	"Mansoor88-6/escort-alerts/internal/database"
	"Mansoor88-6/escort-alerts/internal/device"
	"Mansoor88-6/escort-alerts/internal/ledger"
	"Mansoor88-6/escort-alerts/internal/logger"
	"Mansoor88-6/escort-alerts/internal/models"
	"Mansoor88-6/escort-alerts/internal/notify"
	"Mansoor88-6/escort-alerts/internal/platform"
	"Mansoor88-6/escort-alerts/internal/queue"
	"Mansoor88-6/escort-alerts/internal/realtime"
	"Mansoor88-6/escort-alerts/internal/server"
	"Mansoor88-6/escort-alerts/internal/service"
	"Mansoor88-6/escort-alerts/internal/tracker"
	"Mansoor88-6/escort-alerts/internal/tray"

	"go.uber.org/zap"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/agent.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAgentConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "escort-agent")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting escort agent",
		zap.String("env", cfg.Env),
		zap.String("config_path", *configPath),
	)

	// Initialize database
	db, err := database.New(cfg.StoragePath, log.Logger)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()

	// Initialize platform
	platformInstance, err := platform.NewPlatform()
	if err != nil {
		log.Fatal("Failed to initialize platform", zap.Error(err))
	}
	if info, err := platformInstance.GetSystemInfo(); err == nil {
		log.Info("Platform detected",
			zap.String("os", info.OS),
			zap.String("arch", info.Arch),
			zap.String("hostname", info.Hostname),
		)
	}

	session := models.Session{
		Role:      models.Role(cfg.Session.Role),
		Company:   cfg.Session.Company,
		ServiceID: cfg.Session.ServiceID,
		DeviceID:  device.ResolveDeviceID(cfg.Session.DeviceID, platformInstance),
	}
	if !session.Role.Valid() {
		log.Fatal("Invalid session role", zap.String("role", cfg.Session.Role))
	}

	// Initialize API client
	apiClient := client.NewAPIClient(
		cfg.Backend.BaseURL,
		cfg.Backend.APIKey,
		time.Duration(cfg.Backend.Timeout)*time.Second,
		log.Logger,
	)
	if err := apiClient.HealthCheck(context.Background()); err != nil {
		log.Warn("Backend not reachable, events will be queued", zap.Error(err))
	}

	dedup, err := ledger.New(db.DB, log.Logger)
	if err != nil {
		log.Fatal("Failed to initialize dedup ledger", zap.Error(err))
	}
	outbox := queue.NewOutbox(db.DB, log.Logger)
	hub := notify.NewHub(log.Logger)

	emitter := service.NewEmitter(apiClient, apiClient, outbox, hub, session, clock.Real{}, log.Logger)

	var recognizer alarm.Recognizer
	if len(cfg.Alarm.SpeechCommand) > 0 {
		recognizer = alarm.NewCommandRecognizer(cfg.Alarm.SpeechCommand, cfg.Alarm.ListenTimeout)
	}

	siren := alarm.NewSiren(platformInstance, cfg.Alarm.SirenInterval, cfg.Alarm.SirenLowHz, cfg.Alarm.SirenHighHz, log.Logger)
	machine := alarm.NewMachine(siren, recognizer, dedup, hub, cfg.Alarm.UnlockPhrase, log.Logger)

	locationTracker := tracker.NewLocationTracker(cfg.Agent.HeartbeatInterval, session.ServiceID, log.Logger)
	panel := checkin.NewPanel(emitter, locationTracker, recognizer, hub, clock.Real{}, log.Logger)

	var alarmArmer service.AlarmArmer
	if session.ReceivesPanics() {
		alarmArmer = machine
	}
	bridge := service.NewBridge(dedup, alarmArmer, panel, hub, session, log.Logger)

	agent := service.NewAgent(emitter, locationTracker, machine, session, cfg.Agent.FlushInterval, log.Logger)

	// Intake: polling always runs, realtime and relay when configured
	poller := service.NewPoller(apiClient, bridge.Intake, session.Company, cfg.Agent.PollInterval, log.Logger)
	agent.Go("poller", poller.Run)

	if cfg.Realtime.RedisAddr != "" {
		redisClient, err := realtime.NewRedisClient(context.Background(), realtime.RedisConfig{
			Addr:     cfg.Realtime.RedisAddr,
			Password: cfg.Realtime.RedisPassword,
			DB:       cfg.Realtime.RedisDB,
		})
		if err != nil {
			log.Warn("Realtime channel unavailable, relying on polling", zap.Error(err))
		} else {
			defer redisClient.Close()
			subscriber := realtime.NewSubscriber(redisClient, cfg.Realtime.Channel, bridge.Intake, emitter.RequestFlush, log.Logger)
			agent.Go("realtime", subscriber.Run)
		}
	}

	if cfg.Relay.BrokerURL != "" {
		clientID := cfg.Relay.ClientID
		if clientID == "" {
			clientID = device.NewSessionID(session.DeviceID)
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
			listener := realtime.NewRelayListener(mqttClient, cfg.Relay.Topic, bridge.Intake, log.Logger)
			if err := listener.Start(); err != nil {
				log.Warn("Failed to subscribe to relay", zap.Error(err))
			}
		}
	}

	// Local control API
	var controlHTTPServer *http.Server
	statusURL := ""
	if cfg.Server.Enabled {
		controlServer := server.NewControlServer(emitter, machine, panel, locationTracker, hub, session, log.Logger)

		addr := fmt.Sprintf("localhost:%d", cfg.Server.Port)
		statusURL = "http://" + addr + "/api/v1/status"
		// no write timeout: the event stream and dictation hold the response open
		controlHTTPServer = &http.Server{
			Addr:        addr,
			Handler:     controlServer,
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		}

		go func() {
			log.Info("Starting local control server", zap.String("address", addr))
			if err := controlHTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Local control server error", zap.Error(err))
			}
		}()
	} else {
		log.Info("Local control server disabled in configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	agent.Start(ctx)

	log.Info("Escort agent started successfully",
		zap.String("device_id", session.DeviceID),
		zap.String("backend_url", cfg.Backend.BaseURL),
	)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Agent.Tray {
		t := tray.New(machine, hub, platformInstance, statusURL, nil, log.Logger)
		go func() {
			sig := <-quit
			log.Info("Received shutdown signal", zap.String("signal", sig.String()))
			t.Quit()
		}()
		// systray needs the main goroutine
		t.Run()
	} else {
		sig := <-quit
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	log.Info("Shutting down escort agent...")

	if controlHTTPServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		if err := controlHTTPServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("Local control server shutdown error", zap.Error(err))
		} else {
			log.Info("Local control server stopped")
		}
	}

	agent.Stop()
	hub.Close()

	log.Info("Escort agent stopped")
}
