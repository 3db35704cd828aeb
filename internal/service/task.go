package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wzdavid/mineru-api/internal/config"
	"github.com/wzdavid/mineru-api/internal/domain"
	"github.com/wzdavid/mineru-api/internal/logger"
	"github.com/wzdavid/mineru-api/internal/queue"
	"github.com/wzdavid/mineru-api/internal/repository"
	"github.com/wzdavid/mineru-api/internal/storage"
)

// TaskService is the submission and introspection boundary: it owns the
// record-then-enqueue ordering on the way in and the read paths on the way
// out. It never executes jobs itself.
type TaskService struct {
	cfg     *config.Config
	jobs    *repository.JobRepository
	workers *repository.WorkerRepository
	queue   queue.Queue
	store   storage.Adapter
}

// NewTaskService wires the submission boundary.
func NewTaskService(cfg *config.Config, jobs *repository.JobRepository, workers *repository.WorkerRepository, q queue.Queue, store storage.Adapter) *TaskService {
	return &TaskService{
		cfg:     cfg,
		jobs:    jobs,
		workers: workers,
		queue:   q,
		store:   store,
	}
}

// SubmitRequest carries one upload plus its parse options. Zero-valued
// option fields fall back to the configured defaults.
type SubmitRequest struct {
	FileName string
	Content  []byte

	Backend       string
	Lang          string
	Method        string
	FormulaEnable *bool
	TableEnable   *bool
	EmbedImages   *bool
	Priority      int
}

// Submit validates the upload, persists the input to temp storage, creates
// the job record and schedules it. The record is written before the queue
// entry so a dequeued reference always resolves; if scheduling fails the
// record is rolled forward to failed rather than left pending forever.
func (s *TaskService) Submit(ctx context.Context, req *SubmitRequest) (*domain.Job, error) {
	if err := validateUpload(req.FileName, req.Content, &s.cfg.Submit); err != nil {
		return nil, err
	}

	job := s.buildJob(req)
	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldJobID: job.ID,
		"file_name":       job.FileName,
		logger.FieldSize:  len(req.Content),
	})

	if err := s.store.Save(ctx, storage.NamespaceTemp, job.TempKey, bytes.NewReader(req.Content), int64(len(req.Content))); err != nil {
		log.WithError(err).Error("Failed to stage upload")
		return nil, err
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		// The staged input is unreachable without a record; remove it.
		if derr := s.store.Delete(ctx, storage.NamespaceTemp, job.TempKey); derr != nil {
			log.WithError(derr).Warn("Failed to remove staged upload after record failure")
		}
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, job.ID, job.Priority); err != nil {
		log.WithError(err).Error("Failed to schedule job, marking failed")
		msg := fmt.Sprintf("scheduling failed: %v", err)
		if terr := s.jobs.SetTerminal(ctx, job.ID, domain.JobStatusFailed, msg, nil, nil); terr != nil {
			log.WithError(terr).Error("Failed to mark unscheduled job failed")
		}
		return nil, err
	}

	log.WithField("priority", job.Priority).Info("Task submitted")
	return job, nil
}

func (s *TaskService) buildJob(req *SubmitRequest) *domain.Job {
	sub := s.cfg.Submit
	job := &domain.Job{
		ID:            uuid.NewString(),
		FileName:      req.FileName,
		Backend:       req.Backend,
		Lang:          req.Lang,
		Method:        req.Method,
		FormulaEnable: sub.FormulaEnable,
		TableEnable:   sub.TableEnable,
		EmbedImages:   sub.EmbedImages,
		Priority:      req.Priority,
		Status:        domain.JobStatusPending,
	}
	if job.Backend == "" {
		job.Backend = sub.DefaultBackend
	}
	if job.Lang == "" {
		job.Lang = sub.DefaultLang
	}
	if job.Method == "" {
		job.Method = sub.DefaultMethod
	}
	if req.FormulaEnable != nil {
		job.FormulaEnable = *req.FormulaEnable
	}
	if req.TableEnable != nil {
		job.TableEnable = *req.TableEnable
	}
	if req.EmbedImages != nil {
		job.EmbedImages = *req.EmbedImages
	}
	job.TempKey = path.Join(job.ID, req.FileName)
	// Self-describing expiry from the start, so store-native GC also covers
	// records that never reach a terminal state. Completion refreshes it
	// relative to completed_at.
	if ttl := s.cfg.Cleanup.ResultRetention; ttl > 0 {
		expires := time.Now().Add(ttl)
		job.ExpiresAt = &expires
	}
	return job
}

// Get returns the current job record.
func (s *TaskService) Get(ctx context.Context, id string) (*domain.Job, error) {
	return s.jobs.Get(ctx, id)
}

// TaskResult bundles the job record with the retrieved result content.
type TaskResult struct {
	Job             *domain.Job
	MarkdownContent string
	ContentList     string
	ImageKeys       []string
}

// Result loads the job and, for completed jobs, its result artifacts from
// output storage.
func (s *TaskService) Result(ctx context.Context, id string) (*TaskResult, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &TaskResult{Job: job}
	if job.Status != domain.JobStatusCompleted {
		return res, nil
	}

	md, err := s.store.Read(ctx, storage.NamespaceOutput, job.MarkdownKey)
	if err != nil {
		return nil, fmt.Errorf("result for job %s: %w", id, err)
	}
	res.MarkdownContent = string(md)

	if job.ContentListKey != "" {
		cl, err := s.store.Read(ctx, storage.NamespaceOutput, job.ContentListKey)
		if err == nil {
			res.ContentList = string(cl)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("result for job %s: %w", id, err)
		}
	}

	objs, err := s.store.List(ctx, storage.NamespaceOutput, path.Join(job.ID, "images")+"/")
	if err == nil {
		for _, o := range objs {
			res.ImageKeys = append(res.ImageKeys, o.Key)
		}
	}
	return res, nil
}

// Cancel withdraws a pending job: the record moves to cancelled, the queue
// reference is removed best-effort and the staged input is deleted. Jobs
// already claimed by a worker cannot be cancelled.
func (s *TaskService) Cancel(ctx context.Context, id string) error {
	log := logger.FromContext(ctx).WithField(logger.FieldJobID, id)

	ok, err := s.jobs.CancelPending(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		job, err := s.jobs.Get(ctx, id)
		if err != nil {
			return err
		}
		if job.Status == domain.JobStatusCancelled {
			return nil
		}
		return fmt.Errorf("job %s is %s: %w", id, job.Status, domain.ErrInvalidTransition)
	}

	// The dangling queue entry would be discarded by the worker anyway once
	// it sees the cancelled record; removing it here just saves the dequeue.
	if _, err := s.queue.Remove(ctx, id); err != nil {
		log.WithError(err).Warn("Failed to remove cancelled job from queue")
	}

	job, err := s.jobs.Get(ctx, id)
	if err == nil && job.TempKey != "" {
		if err := s.store.Delete(ctx, storage.NamespaceTemp, job.TempKey); err != nil {
			log.WithError(err).Warn("Failed to delete staged input of cancelled job")
		}
	}

	log.Info("Task cancelled")
	return nil
}

// QueueStats is the aggregate view served by the introspection boundary.
// Counts come from the record store, depth from the queue and liveness from
// worker heartbeats; they are sampled independently and only approximately
// consistent with each other.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
	QueueDepth int64 `json:"queue_depth"`
	Workers    int64 `json:"workers"`
	ActiveJobs int64 `json:"active_jobs"`
}

// Stats assembles queue statistics.
func (s *TaskService) Stats(ctx context.Context) (*QueueStats, error) {
	counts, err := s.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &QueueStats{
		Pending:    counts[domain.JobStatusPending],
		Processing: counts[domain.JobStatusProcessing],
		Completed:  counts[domain.JobStatusCompleted],
		Failed:     counts[domain.JobStatusFailed],
		Cancelled:  counts[domain.JobStatusCancelled],
	}

	depth, err := s.queue.Len(ctx)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to read queue depth")
	} else {
		stats.QueueDepth = depth
	}

	liveSince := time.Now().Add(-3 * s.cfg.Worker.HeartbeatInterval)
	workers, active, err := s.workers.CountActive(ctx, liveSince)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to count active workers")
	} else {
		stats.Workers = workers
		stats.ActiveJobs = active
	}
	return stats, nil
}

// ListTasks returns recent jobs, optionally filtered by status.
func (s *TaskService) ListTasks(ctx context.Context, status string, limit int) ([]domain.Job, error) {
	st := domain.JobStatus(strings.ToLower(strings.TrimSpace(status)))
	if st != "" {
		switch st {
		case domain.JobStatusPending, domain.JobStatusProcessing,
			domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled:
		default:
			return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
		}
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.jobs.List(ctx, st, limit)
}
