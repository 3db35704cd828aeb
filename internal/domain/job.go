package domain

import "time"

// JobStatus represents the lifecycle state of a parse job.
// Values: JobStatusPending, JobStatusProcessing, JobStatusCompleted,
// JobStatusFailed, JobStatusCancelled.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job represents one submitted document-parsing request, tracked end-to-end.
//
// The record is created by the submission path, mutated by the worker that
// claims it (processing and terminal transitions) or by the cancellation path
// (pending -> cancelled), and deleted by the cleanup scheduler once the
// retention window after CompletedAt has elapsed.
type Job struct {
	ID       string `gorm:"type:text;primaryKey" json:"task_id"`
	FileName string `gorm:"not null" json:"file_name"`
	// TempKey is the input object key in the temp namespace ({id}/{filename}).
	TempKey string `json:"-"`

	Backend       string `gorm:"default:pipeline" json:"backend"`
	Lang          string `gorm:"default:ch" json:"lang"`
	Method        string `gorm:"default:auto" json:"method"`
	FormulaEnable bool   `gorm:"default:true" json:"formula_enable"`
	TableEnable   bool   `gorm:"default:true" json:"table_enable"`
	EmbedImages   bool   `gorm:"default:true" json:"embed_images"`

	Priority int       `gorm:"default:0;index" json:"priority"`
	Status   JobStatus `gorm:"default:pending;index" json:"status"`

	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `gorm:"default:0" json:"retry_count"`

	// ResultPrefix is the output-namespace prefix ({id}/) holding the full
	// result tree; MarkdownKey and ContentListKey point at the primary
	// artifacts inside it. All are empty until the job completes.
	ResultPrefix   string `json:"result_path,omitempty"`
	MarkdownKey    string `json:"markdown_key,omitempty"`
	ContentListKey string `json:"content_list_key,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"index" json:"completed_at,omitempty"`
	// ExpiresAt is the self-describing expiry written at submission and
	// refreshed at completion so the record can be garbage-collected even if
	// the cleanup scheduler is down. The scheduler remains authoritative for
	// artifact deletion.
	ExpiresAt *time.Time `gorm:"index" json:"-"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string {
	return "parse_jobs"
}

// ParseOptions carries the per-job knobs handed to the parse operation.
type ParseOptions struct {
	Backend       string `json:"backend"`
	Lang          string `json:"lang"`
	Method        string `json:"method"`
	FormulaEnable bool   `json:"formula_enable"`
	TableEnable   bool   `json:"table_enable"`
}

// Options assembles the parse options recorded on the job.
func (j *Job) Options() ParseOptions {
	return ParseOptions{
		Backend:       j.Backend,
		Lang:          j.Lang,
		Method:        j.Method,
		FormulaEnable: j.FormulaEnable,
		TableEnable:   j.TableEnable,
	}
}
