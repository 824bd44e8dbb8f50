package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"

	"carguard-backend/config"
	"carguard-backend/internal/alert"
	"carguard-backend/internal/api"
	"carguard-backend/internal/db"
	"carguard-backend/internal/ledger"
	"carguard-backend/internal/mqtt"
	"carguard-backend/internal/push"
	"carguard-backend/internal/realtime"
	"carguard-backend/internal/store"
)

const alertWorkers = 4

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "carguard-backend ", log.LstdFlags)

	// Optional .env for local development; config values may reference the
	// environment through the DSN and secrets.
	_ = godotenv.Load()

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	if cfg.Auth.JWTSecret == "" {
		logger.Fatalf("auth.jwt_secret must be configured")
	}

	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Println("VAPID keys are not configured; push notifications will be skipped")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	// Real-time fan-out hub; also receives the ledger's lifecycle events.
	hub := realtime.NewHub()

	appLedger := ledger.New(gormDB, hub, cfg.Ledger.RequestTTL)

	// Alert pipeline: cooldown-gated evaluation feeding the push sink.
	sink := push.NewWebPushSink(appStore, &webpushOptions)
	evaluator := alert.NewEvaluator(alertWorkers, appStore, sink, alert.NewCooldown())
	evaluator.Start(ctx)

	// Device channel: broker ingestion plus outbound commands. A broker
	// outage must not stop HTTP serving; the client keeps reconnecting.
	var commands api.VehicleCommander
	mqttClient := mqtt.NewClient(cfg.MQTT)
	if cfg.MQTT.BrokerURL == "" {
		logger.Println("mqtt.broker_url is not configured; device channel disabled")
	} else if err := mqttClient.Start(ctx); err != nil {
		logger.Printf("failed to start MQTT client: %v; device channel disabled", err)
	} else {
		awaitCtx, awaitCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := mqttClient.AwaitConnection(awaitCtx); err != nil {
			logger.Printf("MQTT broker not reachable yet, reconnecting in background: %v", err)
		}
		awaitCancel()

		publisher := mqtt.NewCommandPublisher(mqttClient, appStore)
		ingestor := mqtt.NewIngestor(mqttClient, appStore, appLedger, evaluator, hub, publisher)
		if err := ingestor.Start(ctx); err != nil {
			logger.Printf("failed to subscribe device topics: %v", err)
		}
		commands = publisher
	}

	// Initialize router
	router := api.NewRouter(cfg, appStore, appLedger, hub, commands, &webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	mqttClient.Disconnect(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
