package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wzdavid/mineru-api/internal/config"
	"github.com/wzdavid/mineru-api/internal/domain"
	"github.com/wzdavid/mineru-api/internal/parser"
	"github.com/wzdavid/mineru-api/internal/queue"
	"github.com/wzdavid/mineru-api/internal/repository"
	"github.com/wzdavid/mineru-api/internal/storage"
)

// testEnv assembles the orchestration core on a throwaway sqlite database,
// the in-process queue and local storage.
type testEnv struct {
	cfg     *config.Config
	jobs    *repository.JobRepository
	workers *repository.WorkerRepository
	queue   *queue.MemoryQueue
	store   storage.Adapter
	tasks   *TaskService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	base := t.TempDir()

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver:       "sqlite",
			Path:         filepath.Join(base, "test.db"),
			MaxIdleConns: 2,
			MaxOpenConns: 5,
			AutoMigrate:  true,
		},
		Storage: config.StorageConfig{
			Backend:   "local",
			TempDir:   filepath.Join(base, "temp"),
			OutputDir: filepath.Join(base, "output"),
		},
		Submit: config.SubmitConfig{
			MaxFileSize:    1 << 20,
			AllowedExts:    []string{".pdf", ".png"},
			DefaultBackend: "pipeline",
			DefaultLang:    "ch",
			DefaultMethod:  "auto",
			FormulaEnable:  true,
			TableEnable:    true,
			EmbedImages:    true,
		},
		Worker: config.WorkerConfig{
			Concurrency:       1,
			DequeueTimeout:    50 * time.Millisecond,
			HardTimeout:       5 * time.Second,
			MaxRetries:        0,
			HeartbeatInterval: time.Minute,
		},
		Cleanup: config.CleanupConfig{
			Interval:        time.Hour,
			ResultRetention: time.Hour,
			TempRetention:   time.Hour,
		},
	}

	db, err := repository.InitDB(&cfg.Database)
	require.NoError(t, err)

	store, err := storage.NewLocalStorage(cfg.Storage.TempDir, cfg.Storage.OutputDir)
	require.NoError(t, err)

	env := &testEnv{
		cfg:     cfg,
		jobs:    repository.NewJobRepository(db),
		workers: repository.NewWorkerRepository(db),
		queue:   queue.NewMemoryQueue(),
		store:   store,
	}
	env.tasks = NewTaskService(cfg, env.jobs, env.workers, env.queue, env.store)
	t.Cleanup(func() { env.queue.Close() })
	return env
}

func (e *testEnv) newExecutor(p parser.Parser) *Executor {
	return NewExecutor(e.cfg, e.jobs, e.workers, e.queue, e.store, p, nil)
}

// submitPDF pushes a minimal valid PDF through the submission path.
func (e *testEnv) submitPDF(t *testing.T, name string) *domain.Job {
	t.Helper()
	job, err := e.tasks.Submit(context.Background(), &SubmitRequest{
		FileName: name,
		Content:  []byte("%PDF-1.4 test document"),
	})
	require.NoError(t, err)
	return job
}

// stubParser runs a test-provided function in place of the external tool.
type stubParser struct {
	fn func(ctx context.Context, inputPath, fileName string, opts domain.ParseOptions, outputDir string) (*parser.Result, error)
}

func (s *stubParser) Parse(ctx context.Context, inputPath, fileName string, opts domain.ParseOptions, outputDir string) (*parser.Result, error) {
	return s.fn(ctx, inputPath, fileName, opts, outputDir)
}
