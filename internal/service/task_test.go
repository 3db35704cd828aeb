package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wzdavid/mineru-api/internal/domain"
	"github.com/wzdavid/mineru-api/internal/queue"
	"github.com/wzdavid/mineru-api/internal/storage"
)

func TestSubmitCreatesRecordAndSchedules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job := env.submitPDF(t, "report.pdf")
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "pipeline", job.Backend)
	assert.Equal(t, "ch", job.Lang)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	// The input is staged under the job's key.
	ok, err := env.store.Exists(ctx, storage.NamespaceTemp, job.TempKey)
	require.NoError(t, err)
	assert.True(t, ok)

	// The record exists and the queue holds exactly one reference.
	got, err := env.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)

	// The record is born with its own expiry, independent of the scheduler.
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.After(time.Now()))

	n, err := env.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSubmitOptionOverrides(t *testing.T) {
	env := newTestEnv(t)
	no := false

	job, err := env.tasks.Submit(context.Background(), &SubmitRequest{
		FileName:    "scan.pdf",
		Content:     []byte("%PDF-1.4"),
		Backend:     "vlm-transformers",
		Lang:        "en",
		TableEnable: &no,
		Priority:    7,
	})
	require.NoError(t, err)
	assert.Equal(t, "vlm-transformers", job.Backend)
	assert.Equal(t, "en", job.Lang)
	assert.Equal(t, "auto", job.Method)
	assert.False(t, job.TableEnable)
	assert.True(t, job.FormulaEnable)
	assert.Equal(t, 7, job.Priority)
}

func TestSubmitRejectsBadUploads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		fileName string
		content  []byte
	}{
		{"unsupported extension", "notes.docx", []byte("%PDF-1.4")},
		{"no extension", "README", []byte("%PDF-1.4")},
		{"empty file", "doc.pdf", nil},
		{"not a pdf", "doc.pdf", []byte("hello")},
		{"not an image", "pic.png", []byte("hello")},
		{"oversize", "big.pdf", append([]byte("%PDF-1.4"), make([]byte, 2<<20)...)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.tasks.Submit(ctx, &SubmitRequest{FileName: tc.fileName, Content: tc.content})
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	// Nothing reached storage or the queue.
	n, err := env.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmitAcceptsRealImage(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1))))

	job, err := env.tasks.Submit(context.Background(), &SubmitRequest{
		FileName: "page.png",
		Content:  buf.Bytes(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
}

// brokenQueue fails every enqueue.
type brokenQueue struct {
	*queue.MemoryQueue
}

func (b *brokenQueue) Enqueue(ctx context.Context, jobID string, priority int) error {
	return domain.ErrQueueUnavailable
}

func TestSubmitEnqueueFailureRollsForward(t *testing.T) {
	env := newTestEnv(t)
	env.tasks = NewTaskService(env.cfg, env.jobs, env.workers, &brokenQueue{env.queue}, env.store)
	ctx := context.Background()

	_, err := env.tasks.Submit(ctx, &SubmitRequest{
		FileName: "doc.pdf",
		Content:  []byte("%PDF-1.4"),
	})
	require.ErrorIs(t, err, domain.ErrQueueUnavailable)

	// The record was rolled forward to failed, not left pending forever.
	jobs, err := env.jobs.List(ctx, domain.JobStatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Contains(t, jobs[0].ErrorMessage, "scheduling failed")
}

func TestCancelPendingJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.submitPDF(t, "doc.pdf")

	require.NoError(t, env.tasks.Cancel(ctx, job.ID))

	got, err := env.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)

	// Queue reference and staged input are gone.
	n, err := env.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	ok, err := env.store.Exists(ctx, storage.NamespaceTemp, job.TempKey)
	require.NoError(t, err)
	assert.False(t, ok)

	// Repeat cancellation is a no-op.
	require.NoError(t, env.tasks.Cancel(ctx, job.ID))
}

func TestCancelClaimedJobFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.submitPDF(t, "doc.pdf")

	claimed, err := env.jobs.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	err = env.tasks.Cancel(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCancelUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	err := env.tasks.Cancel(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.submitPDF(t, "a.pdf")
	b := env.submitPDF(t, "b.pdf")
	claimed, err := env.jobs.Claim(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, env.workers.Heartbeat(ctx, &domain.WorkerInfo{
		ID: "w1", Hostname: "host", Concurrency: 2, ActiveJobs: 1, StartedAt: time.Now(),
	}))

	stats, err := env.tasks.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Processing)
	assert.Equal(t, int64(2), stats.QueueDepth)
	assert.Equal(t, int64(1), stats.Workers)
	assert.Equal(t, int64(1), stats.ActiveJobs)
}

func TestListTasks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.submitPDF(t, "a.pdf")
	env.submitPDF(t, "b.pdf")

	jobs, err := env.tasks.ListTasks(ctx, "pending", 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = env.tasks.ListTasks(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = env.tasks.ListTasks(ctx, "bogus", 10)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestResultBeforeCompletion(t *testing.T) {
	env := newTestEnv(t)
	job := env.submitPDF(t, "doc.pdf")

	res, err := env.tasks.Result(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, res.Job.Status)
	assert.Empty(t, res.MarkdownContent)
}

func TestTransientClassification(t *testing.T) {
	assert.True(t, domain.Transient(domain.ErrQueueUnavailable))
	assert.True(t, domain.Transient(domain.ErrStorageUnavailable))
	assert.False(t, domain.Transient(domain.ErrParseFailure))
	assert.False(t, domain.Transient(domain.ErrTimeout))
	assert.False(t, domain.Transient(errors.New("random")))
}
