package storage

import (
	"context"
	"fmt"

	"github.com/wzdavid/mineru-api/internal/config"
	"github.com/wzdavid/mineru-api/internal/logger"
)

// New creates the Adapter selected by configuration. Backend selection happens
// once at process start; every component receives the resulting value by
// injection and stays backend-agnostic.
func New(ctx context.Context, cfg *config.StorageConfig) (Adapter, error) {
	// Temp objects under object backends expire via bucket lifecycle rules,
	// not the in-process sweep.
	if (cfg.Backend == "minio" || cfg.Backend == "s3") && !cfg.TempLifecycleConfirmed {
		logger.Default().WithField(logger.FieldBackend, cfg.Backend).
			Warn("Object storage selected without temp_lifecycle_confirmed; configure bucket expiry for the temp bucket")
	}

	switch cfg.Backend {
	case "local", "":
		return NewLocalStorage(cfg.TempDir, cfg.OutputDir)
	case "minio":
		return NewMinIOStorage(ctx, &MinIOConfig{
			Endpoint:     cfg.Endpoint,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			UseSSL:       cfg.UseSSL,
			Region:       cfg.Region,
			TempBucket:   cfg.TempBucket,
			OutputBucket: cfg.OutputBucket,
		})
	case "s3":
		return NewS3Storage(ctx, &S3Config{
			Endpoint:     cfg.Endpoint,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			UseSSL:       cfg.UseSSL,
			Region:       cfg.Region,
			TempBucket:   cfg.TempBucket,
			OutputBucket: cfg.OutputBucket,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend: %q", cfg.Backend)
	}
}
