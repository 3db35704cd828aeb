package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wzdavid/mineru-api/internal/api"
	"github.com/wzdavid/mineru-api/internal/config"
	"github.com/wzdavid/mineru-api/internal/logger"
	"github.com/wzdavid/mineru-api/internal/queue"
	"github.com/wzdavid/mineru-api/internal/repository"
	"github.com/wzdavid/mineru-api/internal/service"
	"github.com/wzdavid/mineru-api/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := logger.DefaultConfig()
	logCfg.ServiceName = "mineru-api"
	appLog := logger.New(logCfg)
	logger.SetDefault(appLog)

	ctx := context.Background()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize database")
	}

	jobRepo := repository.NewJobRepository(db)
	workerRepo := repository.NewWorkerRepository(db)

	// Initialize queue
	q := queue.NewRedisQueue(&cfg.Redis)
	if err := q.Ping(ctx); err != nil {
		appLog.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer q.Close()

	// Initialize storage
	store, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize storage")
	}

	taskService := service.NewTaskService(cfg, jobRepo, workerRepo, q, store)

	// Setup router
	router := api.SetupRouter(taskService, &cfg.Server)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLog.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.WithError(err).Fatal("Server forced to shutdown")
	}

	appLog.Info("Server exited")
}
