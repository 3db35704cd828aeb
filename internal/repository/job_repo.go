package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/wzdavid/mineru-api/internal/domain"
	"github.com/wzdavid/mineru-api/internal/logger"
)

// JobRepository is the durable record store for parse jobs. All status
// mutation goes through the conditional-update helpers here; no other
// component writes job status directly.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job record. A primary-key collision is reported as
// ErrDuplicateID; ids are generated UUIDs, so this indicates an invariant
// violation rather than a recoverable condition.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	err := r.db.WithContext(ctx).Create(job).Error
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("job %s: %w", job.ID, domain.ErrDuplicateID)
		}
		return err
	}
	return nil
}

// Get loads a job record by id.
func (r *JobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	return &job, nil
}

// Claim atomically transitions a job from pending to processing. Exactly one
// of N racing workers observes true; the rest get false and must discard the
// job. This is the compare-and-set that guarantees at-most-once execution.
func (r *JobRepository) Claim(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     domain.JobStatusProcessing,
			"started_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CancelPending attempts the pending -> cancelled transition. Returns false
// when the job was already claimed or terminal; cancellation of a processing
// job is advisory only and not performed here.
func (r *JobRepository) CancelPending(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobStatusPending).
		Updates(map[string]interface{}{
			"status":       domain.JobStatusCancelled,
			"completed_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// TerminalResult carries the artifact keys recorded on successful completion.
type TerminalResult struct {
	ResultPrefix   string
	MarkdownKey    string
	ContentListKey string
}

// SetTerminal moves a job into a terminal state. It is idempotent for repeat
// calls with the same terminal status; a call with a different terminal status
// after the first is logged and rejected with ErrInvalidTransition, so the
// first write wins.
func (r *JobRepository) SetTerminal(ctx context.Context, id string, status domain.JobStatus, errMsg string, result *TerminalResult, expiresAt *time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s: %w", status, domain.ErrInvalidTransition)
	}

	now := time.Now()
	fields := map[string]interface{}{
		"status":        status,
		"error_message": errMsg,
		"completed_at":  now,
	}
	if result != nil {
		fields["result_prefix"] = result.ResultPrefix
		fields["markdown_key"] = result.MarkdownKey
		fields["content_list_key"] = result.ContentListKey
	}
	if expiresAt != nil {
		fields["expires_at"] = expiresAt
	}

	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status IN ?", id, []domain.JobStatus{
			domain.JobStatusPending,
			domain.JobStatusProcessing,
		}).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	// No row moved: either the job is unknown or already terminal.
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == status {
		return nil
	}
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldJobID: id,
		"current_status":  current.Status,
		"wanted_status":   status,
	}).Warn("Refusing to overwrite terminal status")
	return fmt.Errorf("job %s is %s: %w", id, current.Status, domain.ErrInvalidTransition)
}

// ReturnToPending re-queues a transiently failed job for another attempt,
// incrementing its retry counter. Only legal from processing.
func (r *JobRepository) ReturnToPending(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":      domain.JobStatusPending,
			"started_at":  nil,
			"retry_count": gorm.Expr("retry_count + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListExpired returns terminal jobs whose retention has elapsed: either the
// record's own expiry passed, or it completed before the cutoff.
func (r *JobRepository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	q := r.db.WithContext(ctx).
		Where("status IN ?", []domain.JobStatus{
			domain.JobStatusCompleted,
			domain.JobStatusFailed,
			domain.JobStatusCancelled,
		}).
		Where("(expires_at IS NOT NULL AND expires_at < ?) OR (completed_at IS NOT NULL AND completed_at < ?)",
			time.Now(), cutoff).
		Order("completed_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// List returns jobs, optionally filtered by status, newest first.
func (r *JobRepository) List(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	q := r.db.WithContext(ctx).Order("created_at desc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// CountByStatus aggregates job counts per status for the introspection boundary.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[domain.JobStatus]int64, error) {
	type row struct {
		Status domain.JobStatus
		N      int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.JobStatus]int64, len(rows))
	for _, rw := range rows {
		counts[rw.Status] = rw.N
	}
	return counts, nil
}

// Delete removes a job record. Used by the cleanup scheduler only after the
// job's storage artifacts are gone.
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&domain.Job{}, "id = ?", id).Error
}

// isDuplicateKey detects primary-key violations across sqlite and postgres.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
