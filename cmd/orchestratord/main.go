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

	"laundry-orchestrator/config"
	"laundry-orchestrator/internal/api"
	"laundry-orchestrator/internal/balancer"
	"laundry-orchestrator/internal/command"
	"laundry-orchestrator/internal/db"
	"laundry-orchestrator/internal/monitor"
	"laundry-orchestrator/internal/nettest"
	"laundry-orchestrator/internal/notify"
	"laundry-orchestrator/internal/payment"
	"laundry-orchestrator/internal/store"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "orchestratord ", log.LstdFlags)

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

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	// Offline alerts are optional: without VAPID keys the monitor still runs,
	// it just has nobody to notify.
	var webpushOptions *webpush.Options
	var alertPool *notify.WorkerPool
	var notifier monitor.Notifier
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		alertPool = notify.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions)
		alertPool.Start(ctx)
		notifier = alertPool
		logger.Println("offline alert worker pool started")
	} else {
		logger.Println("VAPID keys not configured; offline push alerts disabled")
	}

	// Health monitor in the background
	monitorSvc := monitor.NewService(cfg, appStore, notifier)
	go monitorSvc.Run(ctx)

	// Payment backends
	backends := []payment.Backend{
		payment.NewTerminalBackend(payment.MethodTerminalLocal, &cfg.Payment.LocalTerminal),
		payment.NewTerminalBackend(payment.MethodTerminalRemote, &cfg.Payment.RemoteTerminal),
		payment.NewPinpadBackend(&payment.SimulatedBridge{Present: true}),
	}
	pixClient := payment.NewPixClient(&cfg.Payment.LocalTerminal, &cfg.Payment.Pix)
	arbitrator := payment.NewArbitrator(backends, pixClient, cfg.Payment.Pix.PollInterval, cfg.Payment.Pix.Window)

	// Initialize router
	handler := api.NewHandler(
		cfg,
		appStore,
		monitorSvc,
		balancer.New(appStore, cfg.Balancer.NotifyTimeout),
		nettest.New(&cfg.NetworkTest, appStore),
		command.New(appStore, 10*time.Second),
		arbitrator,
		webpushOptions,
	)
	router := api.NewRouter(handler)
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

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
