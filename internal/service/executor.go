package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wzdavid/mineru-api/internal/config"
	"github.com/wzdavid/mineru-api/internal/domain"
	"github.com/wzdavid/mineru-api/internal/logger"
	"github.com/wzdavid/mineru-api/internal/parser"
	"github.com/wzdavid/mineru-api/internal/queue"
	"github.com/wzdavid/mineru-api/internal/repository"
	"github.com/wzdavid/mineru-api/internal/storage"
)

// Executor is the worker pool: a fixed number of execution slots that pull
// job references off the queue, claim the record, run the parse operation
// and persist the outcome. Each slot runs one job at a time; the parse tool
// itself runs as a child process and may use further parallelism internally.
type Executor struct {
	cfg      *config.Config
	jobs     *repository.JobRepository
	workers  *repository.WorkerRepository
	queue    queue.Queue
	store    storage.Adapter
	parser   parser.Parser
	notifier *Notifier

	workerID  string
	hostname  string
	startedAt time.Time
	active    atomic.Int64
}

// NewExecutor wires a worker pool. notifier may be nil.
func NewExecutor(cfg *config.Config, jobs *repository.JobRepository, workers *repository.WorkerRepository, q queue.Queue, store storage.Adapter, p parser.Parser, notifier *Notifier) *Executor {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Executor{
		cfg:       cfg,
		jobs:      jobs,
		workers:   workers,
		queue:     q,
		store:     store,
		parser:    p,
		notifier:  notifier,
		workerID:  fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		hostname:  hostname,
		startedAt: time.Now(),
	}
}

// Run starts the execution slots and the heartbeat loop and blocks until ctx
// is cancelled. In-flight jobs are abandoned at their next context check;
// their records stay processing until an operator or retry intervenes.
func (e *Executor) Run(ctx context.Context) {
	log := logger.Default().WithFields(logger.Fields{
		logger.FieldWorkerID: e.workerID,
		"concurrency":        e.cfg.Worker.Concurrency,
	})
	log.Info("Worker pool starting")

	e.heartbeat(ctx)
	e.recoverPending(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.heartbeatLoop(ctx)
	}()

	for i := 0; i < e.cfg.Worker.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			e.runLoop(ctx, slot)
		}(i)
	}

	wg.Wait()
	log.Info("Worker pool stopped")
}

func (e *Executor) runLoop(ctx context.Context, slot int) {
	log := logger.Default().WithFields(logger.Fields{
		logger.FieldWorkerID: e.workerID,
		"slot":               slot,
	})
	for {
		if ctx.Err() != nil {
			return
		}
		jobID, err := e.queue.Dequeue(ctx, e.cfg.Worker.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("Dequeue failed, backing off")
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if jobID == "" {
			continue
		}
		e.process(logger.WithField(ctx, logger.FieldWorkerID, e.workerID), jobID)
	}
}

// process runs one dequeued reference end to end. Every exit path leaves the
// record in a deterministic state: skipped (terminal already), pending again
// (transient retry) or terminal.
func (e *Executor) process(ctx context.Context, jobID string) {
	log := logger.FromContext(ctx).WithField(logger.FieldJobID, jobID)

	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("Dequeued reference has no record, discarding")
			return
		}
		log.WithError(err).Error("Failed to load job record")
		return
	}
	if job.Status.Terminal() {
		log.WithField(logger.FieldStatus, job.Status).Info("Job already terminal, discarding")
		return
	}

	claimed, err := e.jobs.Claim(ctx, jobID)
	if err != nil {
		log.WithError(err).Error("Claim failed")
		return
	}
	if !claimed {
		log.Info("Job claimed elsewhere, discarding")
		return
	}

	e.active.Add(1)
	defer e.active.Add(-1)

	start := time.Now()
	log.WithField("file_name", job.FileName).Info("Job claimed, starting parse")

	err = e.execute(ctx, job)
	elapsed := time.Since(start)

	if err == nil {
		log.WithField(logger.FieldDurationMs, elapsed.Milliseconds()).Info("Job completed")
		return
	}

	if ctx.Err() != nil {
		// Worker shutdown mid-job: no terminal write, the record stays
		// processing until an operator or retry intervenes.
		log.WithError(err).Warn("Abandoning job on shutdown")
		return
	}

	if domain.Transient(err) && job.RetryCount < e.cfg.Worker.MaxRetries {
		e.retry(ctx, job, err)
		return
	}

	log.WithError(err).WithField(logger.FieldDurationMs, elapsed.Milliseconds()).Error("Job failed")
	e.finish(ctx, job, domain.JobStatusFailed, err.Error(), nil)
}

// execute performs download, parse, result persistence and temp cleanup for
// a claimed job.
func (e *Executor) execute(ctx context.Context, job *domain.Job) error {
	log := logger.FromContext(ctx).WithField(logger.FieldJobID, job.ID)

	workDir, err := os.MkdirTemp("", "mineru-work-")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	defer os.RemoveAll(workDir)

	inputPath, err := e.store.DownloadToLocal(ctx, storage.NamespaceTemp, job.TempKey, workDir)
	if err != nil {
		return fmt.Errorf("download input: %w", err)
	}

	outputDir := filepath.Join(workDir, "output")

	parseCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.Worker.HardTimeout > 0 {
		parseCtx, cancel = context.WithTimeout(ctx, e.cfg.Worker.HardTimeout)
		defer cancel()
	}
	if e.cfg.Worker.SoftTimeout > 0 {
		warn := time.AfterFunc(e.cfg.Worker.SoftTimeout, func() {
			log.WithField("soft_timeout", e.cfg.Worker.SoftTimeout.String()).
				Warn("Parse exceeded soft timeout, still running")
		})
		defer warn.Stop()
	}

	// The hard deadline is supervisory: the record must reach failed when it
	// fires even if the parse call never observes the kill, so the call runs
	// in its own goroutine and is abandoned on expiry.
	type parseReply struct {
		result *parser.Result
		err    error
	}
	replyCh := make(chan parseReply, 1)
	go func() {
		r, perr := e.parser.Parse(parseCtx, inputPath, job.FileName, job.Options(), outputDir)
		replyCh <- parseReply{result: r, err: perr}
	}()

	var result *parser.Result
	select {
	case reply := <-replyCh:
		if reply.err != nil {
			return reply.err
		}
		result = reply.result
	case <-parseCtx.Done():
		if errors.Is(parseCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: parse exceeded hard timeout %s",
				domain.ErrTimeout, e.cfg.Worker.HardTimeout)
		}
		return ctx.Err()
	}

	res, err := e.persistResult(ctx, job, result)
	if err != nil {
		return err
	}

	now := time.Now()
	var expiresAt *time.Time
	if e.cfg.Cleanup.ResultRetention > 0 {
		t := now.Add(e.cfg.Cleanup.ResultRetention)
		expiresAt = &t
	}
	e.finish(ctx, job, domain.JobStatusCompleted, "", &finishExtra{result: res, expiresAt: expiresAt})

	// The input has served its purpose once results are durable.
	if err := e.store.Delete(ctx, storage.NamespaceTemp, job.TempKey); err != nil {
		log.WithError(err).Warn("Failed to delete staged input")
	}
	return nil
}

// persistResult uploads the parse artifacts into the output namespace under
// the job's prefix and returns the recorded keys.
func (e *Executor) persistResult(ctx context.Context, job *domain.Job, result *parser.Result) (*repository.TerminalResult, error) {
	log := logger.FromContext(ctx).WithField(logger.FieldJobID, job.ID)

	md, err := os.ReadFile(result.MarkdownPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read markdown: %v", domain.ErrParseFailure, err)
	}
	content := string(md)
	if job.EmbedImages && result.ImageDir != "" {
		content = parser.EmbedImages(content, result.ImageDir, log)
	}

	res := &repository.TerminalResult{
		ResultPrefix: job.ID + "/",
		MarkdownKey:  path.Join(job.ID, filepath.Base(result.MarkdownPath)),
	}
	if err := e.store.Save(ctx, storage.NamespaceOutput, res.MarkdownKey,
		strings.NewReader(content), int64(len(content))); err != nil {
		return nil, fmt.Errorf("upload markdown: %w", err)
	}

	if result.ContentListPath != "" {
		res.ContentListKey = path.Join(job.ID, filepath.Base(result.ContentListPath))
		if err := e.store.UploadFromLocal(ctx, result.ContentListPath, storage.NamespaceOutput, res.ContentListKey); err != nil {
			return nil, fmt.Errorf("upload content list: %w", err)
		}
	}

	// Embedded markdown is self-contained; only ship raw images when the
	// caller asked for links instead.
	if !job.EmbedImages && result.ImageDir != "" {
		entries, err := os.ReadDir(result.ImageDir)
		if err != nil {
			return nil, fmt.Errorf("%w: list images: %v", domain.ErrParseFailure, err)
		}
		keys := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			key := path.Join(job.ID, "images", entry.Name())
			local := filepath.Join(result.ImageDir, entry.Name())
			if err := e.store.UploadFromLocal(ctx, local, storage.NamespaceOutput, key); err != nil {
				return nil, fmt.Errorf("upload image %s: %w", entry.Name(), err)
			}
			keys = append(keys, key)
		}
		if len(keys) > 0 {
			manifest, err := json.Marshal(keys)
			if err != nil {
				return nil, fmt.Errorf("%w: encode image manifest: %v", domain.ErrParseFailure, err)
			}
			manifestKey := path.Join(job.ID, "images.json")
			if err := e.store.Save(ctx, storage.NamespaceOutput, manifestKey,
				strings.NewReader(string(manifest)), int64(len(manifest))); err != nil {
				return nil, fmt.Errorf("upload image manifest: %w", err)
			}
		}
	}
	return res, nil
}

type finishExtra struct {
	result    *repository.TerminalResult
	expiresAt *time.Time
}

// finish writes the terminal state and fires the webhook. A lost race against
// another writer is surfaced by the record store and logged there; the first
// terminal write wins.
func (e *Executor) finish(ctx context.Context, job *domain.Job, status domain.JobStatus, errMsg string, extra *finishExtra) {
	log := logger.FromContext(ctx).WithField(logger.FieldJobID, job.ID)

	var result *repository.TerminalResult
	var expiresAt *time.Time
	if extra != nil {
		result = extra.result
		expiresAt = extra.expiresAt
	}
	if err := e.jobs.SetTerminal(ctx, job.ID, status, errMsg, result, expiresAt); err != nil {
		if !errors.Is(err, domain.ErrInvalidTransition) {
			log.WithError(err).Error("Failed to record terminal status")
		}
		return
	}

	if e.notifier != nil {
		finished, err := e.jobs.Get(ctx, job.ID)
		if err != nil {
			log.WithError(err).Warn("Failed to reload job for webhook")
			return
		}
		e.notifier.JobFinished(ctx, finished)
	}
}

// retry returns a transiently failed job to the queue after the configured
// delay. Content errors never reach here.
func (e *Executor) retry(ctx context.Context, job *domain.Job, cause error) {
	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldJobID: job.ID,
		"retry_count":     job.RetryCount + 1,
		"max_retries":     e.cfg.Worker.MaxRetries,
	})

	ok, err := e.jobs.ReturnToPending(ctx, job.ID)
	if err != nil {
		log.WithError(err).Error("Failed to return job to pending")
		return
	}
	if !ok {
		log.Warn("Job no longer processing, skipping retry")
		return
	}
	log.WithError(cause).Warn("Transient failure, job returned to pending")

	delay := e.cfg.Worker.RetryDelay
	go func() {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				// The pending record survives shutdown; recoverPending on the
				// next start re-enqueues it.
				return
			}
		}
		if err := e.queue.Enqueue(context.WithoutCancel(ctx), job.ID, job.Priority); err != nil {
			log.WithError(err).Error("Failed to re-enqueue retried job")
		}
	}()
}

// recoverPending re-enqueues pending records at startup. A record can exist
// without a queue entry when a retry timer or the queue itself was lost;
// enqueueing is keyed by job id, so references already queued are unaffected
// and any double delivery is absorbed by the claim.
func (e *Executor) recoverPending(ctx context.Context) {
	pending, err := e.jobs.List(ctx, domain.JobStatusPending, 0)
	if err != nil {
		logger.Default().WithError(err).Warn("Failed to list pending jobs for recovery")
		return
	}
	recovered := 0
	for _, job := range pending {
		if err := e.queue.Enqueue(ctx, job.ID, job.Priority); err != nil {
			logger.Default().WithError(err).WithField(logger.FieldJobID, job.ID).
				Warn("Failed to recover pending job")
			continue
		}
		recovered++
	}
	if recovered > 0 {
		logger.Default().WithField(logger.FieldCount, recovered).Info("Re-enqueued pending jobs")
	}
}

// heartbeatLoop refreshes this worker's liveness record until ctx ends.
func (e *Executor) heartbeatLoop(ctx context.Context) {
	interval := e.cfg.Worker.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.heartbeat(ctx)
		}
	}
}

func (e *Executor) heartbeat(ctx context.Context) {
	info := &domain.WorkerInfo{
		ID:          e.workerID,
		Hostname:    e.hostname,
		Concurrency: e.cfg.Worker.Concurrency,
		ActiveJobs:  int(e.active.Load()),
		StartedAt:   e.startedAt,
	}
	if err := e.workers.Heartbeat(ctx, info); err != nil {
		logger.Default().WithError(err).WithField(logger.FieldWorkerID, e.workerID).
			Warn("Heartbeat failed")
	}
}
