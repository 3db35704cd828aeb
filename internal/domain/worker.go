package domain

import "time"

// WorkerInfo is the heartbeat record a worker process maintains so the queue
// introspection boundary can report liveness without talking to workers.
type WorkerInfo struct {
	ID          string    `gorm:"type:text;primaryKey" json:"worker_id"`
	Hostname    string    `json:"hostname"`
	Concurrency int       `json:"concurrency"`
	ActiveJobs  int       `json:"active_jobs"`
	StartedAt   time.Time `json:"started_at"`
	LastSeenAt  time.Time `gorm:"index" json:"last_seen_at"`
}

// TableName returns the database table name for WorkerInfo.
func (WorkerInfo) TableName() string {
	return "workers"
}
