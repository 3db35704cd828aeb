package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wzdavid/mineru-api/internal/config"
	"github.com/wzdavid/mineru-api/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxIdleConns: 2,
		MaxOpenConns: 5,
		AutoMigrate:  true,
	})
	require.NoError(t, err)
	return db
}

func newTestJob(id string) *domain.Job {
	return &domain.Job{
		ID:       id,
		FileName: "doc.pdf",
		TempKey:  id + "/doc.pdf",
		Backend:  "pipeline",
		Lang:     "ch",
		Method:   "auto",
		Status:   domain.JobStatusPending,
	}
}

func TestJobRepositoryCreateAndGet(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()

	job := newTestJob("job-1")
	require.NoError(t, repo.Create(ctx, job))

	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "doc.pdf", got.FileName)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepositoryDuplicateID(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestJob("job-1")))
	err := repo.Create(ctx, newTestJob("job-1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
}

func TestJobRepositoryClaimExactlyOnce(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newTestJob("job-1")))

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Claim(ctx, "job-1")
			if err == nil {
				results <- ok
			}
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for ok := range results {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
	require.NotNil(t, got.StartedAt)
}

func TestJobRepositoryClaimOnlyPending(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newTestJob("job-1")))

	ok, err := repo.CancelPending(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Claim(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJobRepositoryCancelPending(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newTestJob("job-1")))

	ok, err := repo.CancelPending(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	// A claimed job cannot be withdrawn.
	require.NoError(t, repo.Create(ctx, newTestJob("job-2")))
	claimed, err := repo.Claim(ctx, "job-2")
	require.NoError(t, err)
	require.True(t, claimed)

	ok, err = repo.CancelPending(ctx, "job-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJobRepositorySetTerminal(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newTestJob("job-1")))
	claimed, err := repo.Claim(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, claimed)

	expires := time.Now().Add(time.Hour)
	result := &TerminalResult{
		ResultPrefix: "job-1/",
		MarkdownKey:  "job-1/doc.md",
	}
	require.NoError(t, repo.SetTerminal(ctx, "job-1", domain.JobStatusCompleted, "", result, &expires))

	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, "job-1/doc.md", got.MarkdownKey)
	require.NotNil(t, got.ExpiresAt)

	// Same terminal status again is a no-op.
	require.NoError(t, repo.SetTerminal(ctx, "job-1", domain.JobStatusCompleted, "", result, nil))

	// A different terminal status loses to the first write.
	err = repo.SetTerminal(ctx, "job-1", domain.JobStatusFailed, "boom", nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err = repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage)
}

func TestJobRepositorySetTerminalRejectsNonTerminal(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	err := repo.SetTerminal(context.Background(), "job-1", domain.JobStatusProcessing, "", nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestJobRepositoryReturnToPending(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newTestJob("job-1")))
	claimed, err := repo.Claim(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, claimed)

	ok, err := repo.ReturnToPending(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Nil(t, got.StartedAt)

	// Only legal from processing.
	ok, err = repo.ReturnToPending(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJobRepositoryListExpired(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()

	finish := func(id string, completedAgo time.Duration, expiresAt *time.Time) {
		require.NoError(t, repo.Create(ctx, newTestJob(id)))
		claimed, err := repo.Claim(ctx, id)
		require.NoError(t, err)
		require.True(t, claimed)
		require.NoError(t, repo.SetTerminal(ctx, id, domain.JobStatusCompleted, "", nil, expiresAt))
		// Backdate completion directly; SetTerminal always stamps now.
		completed := time.Now().Add(-completedAgo)
		require.NoError(t, repo.db.Model(&domain.Job{}).
			Where("id = ?", id).Update("completed_at", completed).Error)
	}

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	finish("old", 48*time.Hour, nil)
	finish("expired", time.Minute, &past)
	finish("fresh", time.Minute, &future)
	require.NoError(t, repo.Create(ctx, newTestJob("pending")))

	expired, err := repo.ListExpired(ctx, time.Now().Add(-24*time.Hour), 0)
	require.NoError(t, err)

	ids := make([]string, 0, len(expired))
	for _, j := range expired {
		ids = append(ids, j.ID)
	}
	assert.ElementsMatch(t, []string{"old", "expired"}, ids)
}

func TestJobRepositoryCountByStatus(t *testing.T) {
	repo := NewJobRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestJob("a")))
	require.NoError(t, repo.Create(ctx, newTestJob("b")))
	require.NoError(t, repo.Create(ctx, newTestJob("c")))
	claimed, err := repo.Claim(ctx, "c")
	require.NoError(t, err)
	require.True(t, claimed)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[domain.JobStatusPending])
	assert.Equal(t, int64(1), counts[domain.JobStatusProcessing])
}

func TestWorkerRepositoryHeartbeat(t *testing.T) {
	db := newTestDB(t)
	repo := NewWorkerRepository(db)
	ctx := context.Background()

	info := &domain.WorkerInfo{
		ID:          "host-1",
		Hostname:    "host",
		Concurrency: 4,
		ActiveJobs:  2,
		StartedAt:   time.Now(),
	}
	require.NoError(t, repo.Heartbeat(ctx, info))

	info.ActiveJobs = 3
	require.NoError(t, repo.Heartbeat(ctx, info))

	workers, active, err := repo.CountActive(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), workers)
	assert.Equal(t, int64(3), active)

	workers, _, err = repo.CountActive(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, workers)
}
