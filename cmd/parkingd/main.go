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

	"parking-status-backend/config"
	"parking-status-backend/internal/analysis"
	"parking-status-backend/internal/api"
	"parking-status-backend/internal/broadcast"
	"parking-status-backend/internal/db"
	"parking-status-backend/internal/engine"
	"parking-status-backend/internal/notification"
	"parking-status-backend/internal/predict"
	"parking-status-backend/internal/queue"
	"parking-status-backend/internal/store"
	"parking-status-backend/internal/tracker"

	"github.com/SherClockHolmes/webpush-go"
)

func main() {
	logger := log.New(os.Stdout, "parking-backend ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	broadcaster := broadcast.New(64)

	// Push notifications are optional; without VAPID keys the engine simply
	// skips vacancy dispatches.
	var notifier engine.VacancyNotifier
	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.Push.PoolSize, gormDB, webpushOptions)
		pool.Start(ctx)
		notifier = pool
	} else {
		logger.Println("VAPID keys are not configured; push notifications disabled")
	}

	transitionEngine := engine.New(appStore, broadcaster, notifier)

	estimator := predict.NewProfileEstimator()

	worker := analysis.NewHTTPWorker(&cfg.Analysis)
	jobQueue := queue.New(&cfg.Analysis, appStore, transitionEngine, worker, estimator)
	jobQueue.Start(ctx)

	trk := tracker.New(&cfg.Tracker, appStore, broadcaster, estimator)
	go trk.Run(ctx)

	router := api.NewRouter(appStore, transitionEngine, jobQueue, broadcaster, webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

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
