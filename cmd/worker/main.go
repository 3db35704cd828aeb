package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/wzdavid/mineru-api/internal/config"
	"github.com/wzdavid/mineru-api/internal/logger"
	"github.com/wzdavid/mineru-api/internal/parser"
	"github.com/wzdavid/mineru-api/internal/queue"
	"github.com/wzdavid/mineru-api/internal/repository"
	"github.com/wzdavid/mineru-api/internal/service"
	"github.com/wzdavid/mineru-api/internal/storage"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.ServiceName = "mineru-worker"
	appLog := logger.New(logCfg)
	logger.SetDefault(appLog)

	// Cancelled on SIGINT/SIGTERM; the pool drains its slots and exits.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize database")
	}

	jobRepo := repository.NewJobRepository(db)
	workerRepo := repository.NewWorkerRepository(db)

	q := queue.NewRedisQueue(&cfg.Redis)
	if err := q.Ping(ctx); err != nil {
		appLog.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer q.Close()

	store, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize storage")
	}

	p := parser.NewCommandParser(cfg.Worker.ParserCommand)
	notifier := service.NewNotifier(&cfg.Webhook)

	executor := service.NewExecutor(cfg, jobRepo, workerRepo, q, store, p, notifier)
	executor.Run(ctx)

	appLog.Info("Worker exited")
}
