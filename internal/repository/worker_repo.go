package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wzdavid/mineru-api/internal/domain"
)

// WorkerRepository persists worker heartbeats so the API process can report
// worker liveness without any direct RPC to workers.
type WorkerRepository struct {
	db *gorm.DB
}

// NewWorkerRepository creates a new WorkerRepository bound to db.
func NewWorkerRepository(db *gorm.DB) *WorkerRepository {
	return &WorkerRepository{db: db}
}

// Heartbeat creates or refreshes a worker record keyed by worker id.
func (r *WorkerRepository) Heartbeat(ctx context.Context, info *domain.WorkerInfo) error {
	info.LastSeenAt = time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(info).Error
}

// CountActive returns the number of workers seen since the given time and the
// total of their in-flight jobs.
func (r *WorkerRepository) CountActive(ctx context.Context, since time.Time) (workers int64, activeJobs int64, err error) {
	err = r.db.WithContext(ctx).Model(&domain.WorkerInfo{}).
		Where("last_seen_at >= ?", since).
		Count(&workers).Error
	if err != nil {
		return 0, 0, err
	}
	var sum struct{ Total int64 }
	err = r.db.WithContext(ctx).Model(&domain.WorkerInfo{}).
		Select("coalesce(sum(active_jobs), 0) as total").
		Where("last_seen_at >= ?", since).
		Scan(&sum).Error
	if err != nil {
		return 0, 0, err
	}
	return workers, sum.Total, nil
}

// PruneStale removes worker records not seen since the given time.
func (r *WorkerRepository) PruneStale(ctx context.Context, olderThan time.Time) error {
	return r.db.WithContext(ctx).
		Where("last_seen_at < ?", olderThan).
		Delete(&domain.WorkerInfo{}).Error
}
