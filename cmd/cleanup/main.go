package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/wzdavid/mineru-api/internal/config"
	"github.com/wzdavid/mineru-api/internal/logger"
	"github.com/wzdavid/mineru-api/internal/repository"
	"github.com/wzdavid/mineru-api/internal/service"
	"github.com/wzdavid/mineru-api/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	dryRun := flag.Bool("dry-run", false, "log what would be deleted without deleting")
	flag.Parse()

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dryRun {
		cfg.Cleanup.DryRun = true
	}

	logCfg := logger.DefaultConfig()
	logCfg.ServiceName = "mineru-cleanup"
	appLog := logger.New(logCfg)
	logger.SetDefault(appLog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize database")
	}

	store, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize storage")
	}

	cleaner := service.NewCleaner(&cfg.Cleanup, repository.NewJobRepository(db), store)

	if *once {
		cleaner.Sweep(ctx)
		return
	}
	cleaner.Run(ctx)
}
